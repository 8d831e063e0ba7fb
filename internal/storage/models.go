package storage

// Mirrors of the on-disk schema. Raw times are Unix seconds sampled from the
// server wall clock and serve both message ordering and watermark
// comparison.

type User struct {
	ID       int64  `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex"`
	Password string // bcrypt hash, never the plaintext
}

type Chat struct {
	ID              int64  `gorm:"primaryKey"`
	Name            string `gorm:"uniqueIndex"`
	AdminID         int64
	CreationRawTime int64
}

// Membership grants one user visibility into one chat from AllowedRawTime
// on. Rows are append-only and deliberately carry no primary key: inviting a
// user twice produces two rows.
type Membership struct {
	ChatID         int64
	UserID         int64
	AllowedRawTime int64
}

func (Membership) TableName() string { return "chats_info" }

type Message struct {
	ID          int64 `gorm:"primaryKey"`
	ChatID      int64
	SenderID    int64
	RawTime     int64
	DisplayTime string
	Text        string
}

// ChatMessage is the read-side projection handed to sessions: sender
// resolved to a username, raw time to its display form.
type ChatMessage struct {
	Datetime string
	Username string
	Text     string
}
