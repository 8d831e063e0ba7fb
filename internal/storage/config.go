package storage

// EnvConfig defines fields parsed from environment variables.
type EnvConfig struct {
	Path string `env:"DB_PATH" envDefault:"database.db"`
}
