package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"dialback-chat/internal/storage"
)

// defaultSessionTimeout is the server-side per-operation deadline on
// rendezvous channels.
const defaultSessionTimeout = 10 * time.Second

// Server owns the notification channel and spawns one session worker per
// announced client endpoint. All workers share the store and the in-memory
// user index.
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	h             *handler
	afterShutdown []func()
}

// NewServer loads the user index from the store once and assembles the
// notification listener with provided options applied on top of defaults.
func NewServer(logger *zap.SugaredLogger, store *storage.Store, opts ...Option) (*Server, error) {
	index, err := loadUserIndex(context.Background(), store)
	if err != nil {
		return nil, fmt.Errorf("loading user index: %w", err)
	}

	h := &handler{
		logger: logger,
		store:  store,
		index:  index,
		auth: &authGate{
			logger: logger,
			store:  store,
			index:  index,
		},
	}

	c := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:4506"},
		handlers: map[string]http.Handler{
			"/notify": http.HandlerFunc(h.notify),
		},
		sessionTimeout: defaultSessionTimeout,
	}

	opts = append(opts, applyEnforcePostJson(), applyLog(logger.Desugar()), registerHandlers())
	for _, opt := range opts {
		opt.apply(c)
	}

	h.timeout = c.sessionTimeout

	return &Server{
		logger:        logger,
		httpServer:    c.httpServer,
		h:             h,
		afterShutdown: c.afterShutdown,
	}, nil
}

// Start binds the notification channel and blocks until shutdown. When the
// listener goes down, already-spawned session workers keep running; only new
// connections stop being accepted.
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down notification listener")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("Notification listener is stopped, new connections won't be maintained")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting notification listener on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
