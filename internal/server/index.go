package server

import (
	"context"
	"sync"

	"dialback-chat/internal/storage"
)

// userIndex mirrors the users table for fast username resolution. It is
// loaded once at startup and appended on successful sign-up; sessions never
// re-read it from the store.
type userIndex struct {
	mu     sync.RWMutex
	byName map[string]int64
}

func loadUserIndex(ctx context.Context, store *storage.Store) (*userIndex, error) {
	users, err := store.AllUsers(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]int64, len(users))
	for _, u := range users {
		byName[u.Username] = u.ID
	}

	return &userIndex{byName: byName}, nil
}

func (ix *userIndex) lookup(username string) (int64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	id, ok := ix.byName[username]
	return id, ok
}

func (ix *userIndex) add(username string, id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.byName[username] = id
}
