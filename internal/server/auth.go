package server

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"dialback-chat/internal/protocol"
	"dialback-chat/internal/storage"
)

// authGate validates the first exchange of every session against the
// in-memory user index and the store. Auth failures are normal handshake
// results, not errors; a non-nil error means a storage fault.
type authGate struct {
	logger *zap.SugaredLogger
	store  *storage.Store
	index  *userIndex
}

// signIn resolves the user and compares the password against the stored
// bcrypt hash.
func (g *authGate) signIn(ctx context.Context, username, password string) (protocol.AuthStatus, int64, error) {
	if _, ok := g.index.lookup(username); !ok {
		return protocol.AuthNotExists, 0, nil
	}

	user, err := g.store.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return protocol.AuthNotExists, 0, nil
		}
		return 0, 0, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return protocol.AuthInvalidPassword, 0, nil
	}

	return protocol.AuthSuccess, user.ID, nil
}

// signUp creates the user with a fresh salted hash and registers it in the
// index.
func (g *authGate) signUp(ctx context.Context, username, password string) (protocol.AuthStatus, int64, error) {
	if _, ok := g.index.lookup(username); ok {
		return protocol.AuthExists, 0, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, 0, err
	}

	id, err := g.store.CreateUser(ctx, username, string(hash))
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return protocol.AuthExists, 0, nil
		}
		return 0, 0, err
	}

	g.index.add(username, id)
	g.logger.Infof("Signed up user (%s) with id %d", username, id)

	return protocol.AuthSuccess, id, nil
}
