package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"dialback-chat/internal/storage/zapgorm"
)

var (
	ErrUserExists    = errors.New("user already exists")
	ErrUserNotExist  = errors.New("user does not exist")
	ErrChatExists    = errors.New("chat already exists")
	ErrChatBadAdmin  = errors.New("bad admin id")
	ErrChatNotExist  = errors.New("chat does not exist")
	ErrNotChatMember = errors.New("user is not a chat member")
)

// displayTimeLayout is the human-readable form stored alongside each
// message's raw time.
const displayTimeLayout = "2006-01-02 15:04:05"

// Store owns all durable state. One mutex serializes every public operation
// for its whole duration; network I/O never happens under it.
type Store struct {
	logger *zap.SugaredLogger
	mu     sync.Mutex
	db     *gorm.DB
}

// New opens (creating if necessary) the sqlite database at path and migrates
// the schema. The connection pool is pinned to a single connection: the
// coarse lock is the concurrency model, not the pool.
func New(logger *zap.SugaredLogger, path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         zapgorm.New(logger.Desugar()),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&User{}, &Chat{}, &Membership{}, &Message{}); err != nil {
		return nil, err
	}

	return &Store{logger: logger, db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AllUsers returns every user's id and username for the server's in-memory
// index. Password hashes are not included.
func (s *Store) AllUsers(ctx context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []User
	err := s.db.WithContext(ctx).Select("id", "username").Find(&users).Error
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d users", len(users))

	return users, nil
}

// CreateUser inserts a user with an already-hashed password and returns the
// new id.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	s.logger.Debugf("Creating user (%s)", username)

	s.mu.Lock()
	defer s.mu.Unlock()

	user := User{Username: username, Password: passwordHash}
	err := s.db.WithContext(ctx).Create(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrUserExists
		}
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, user.ID)

	return user.ID, nil
}

// UserByUsername returns the full user row, password hash included, for the
// auth gate.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	return user, nil
}

// CreateChat inserts the chat and one membership row per member in a single
// transaction, so a fault can never leave a chat with partial membership.
// Every member's watermark starts at the creation time.
func (s *Store) CreateChat(ctx context.Context, name string, adminID int64, memberIDs []int64) (int64, error) {
	s.logger.Debugf("Creating chat (%s) with members (%v)", name, memberIDs)

	if adminID < 1 {
		return 0, ErrChatBadAdmin
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	chat := Chat{Name: name, AdminID: adminID, CreationRawTime: now}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrChatExists
			}
			return err
		}

		if len(memberIDs) == 0 {
			return nil
		}

		memberships := make([]Membership, 0, len(memberIDs))
		for _, userID := range memberIDs {
			memberships = append(memberships, Membership{
				ChatID:         chat.ID,
				UserID:         userID,
				AllowedRawTime: now,
			})
		}
		return tx.Create(&memberships).Error
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debugf("Created chat (%s) with id %d", name, chat.ID)

	return chat.ID, nil
}

// CreateMessage appends a message to the named chat and returns its id. The
// caller supplies the wall-clock sample so raw and display time always
// agree.
func (s *Store) CreateMessage(ctx context.Context, chatName string, senderID int64, now time.Time, text string) (int64, error) {
	s.logger.Debugf("Creating message from user (id: %d) in chat (%s)", senderID, chatName)

	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chatByName(ctx, chatName)
	if err != nil {
		return 0, err
	}

	msg := Message{
		ChatID:      chat.ID,
		SenderID:    senderID,
		RawTime:     now.Unix(),
		DisplayTime: now.Format(displayTimeLayout),
		Text:        text,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return 0, err
	}

	return msg.ID, nil
}

// ChatsChangedSince returns names of chats the user gained visibility into
// strictly after since.
func (s *Store) ChatsChangedSince(ctx context.Context, userID, since int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Joins("join chats on chats.id = chats_info.chat_id").
		Where("chats_info.user_id = ? and chats_info.allowed_raw_time > ?", userID, since).
		Pluck("chats.name", &names).Error
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d changed chats for user (id: %d)", len(names), userID)

	return names, nil
}

// MessagesVisibleTo returns the chat's messages from the user's watermark
// on, oldest first, with sender ids resolved to usernames.
func (s *Store) MessagesVisibleTo(ctx context.Context, chatName string, userID int64) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chatByName(ctx, chatName)
	if err != nil {
		return nil, err
	}

	allowedFrom, err := s.watermark(ctx, chat.ID, userID)
	if err != nil {
		return nil, err
	}

	var messages []ChatMessage
	err = s.db.WithContext(ctx).
		Model(&Message{}).
		Select("messages.display_time as datetime, users.username as username, messages.text as text").
		Joins("join users on users.id = messages.sender_id").
		Where("messages.chat_id = ? and messages.raw_time >= ?", chat.ID, allowedFrom).
		Order("messages.raw_time asc").
		Scan(&messages).Error
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d messages from chat (%s)", len(messages), chatName)

	return messages, nil
}

// Invite grants the invitee visibility into the chat. With history sharing
// the invitee inherits the inviter's watermark, otherwise history starts at
// the invite moment.
func (s *Store) Invite(ctx context.Context, chatName string, inviterID, inviteeID int64, shareHistory bool) error {
	s.logger.Debugf("Inviting user (id: %d) to chat (%s), shareHistory=%v", inviteeID, chatName, shareHistory)

	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chatByName(ctx, chatName)
	if err != nil {
		return err
	}

	allowedFrom := time.Now().Unix()
	if shareHistory {
		allowedFrom, err = s.watermark(ctx, chat.ID, inviterID)
		if err != nil {
			return err
		}
	}

	m := Membership{ChatID: chat.ID, UserID: inviteeID, AllowedRawTime: allowedFrom}
	return s.db.WithContext(ctx).Create(&m).Error
}

// chatByName runs under the caller's lock.
func (s *Store) chatByName(ctx context.Context, name string) (Chat, error) {
	var chat Chat
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Chat{}, ErrChatNotExist
		}
		return Chat{}, err
	}
	return chat, nil
}

// watermark runs under the caller's lock. Duplicate membership rows are
// possible; the most permissive one wins.
func (s *Store) watermark(ctx context.Context, chatID, userID int64) (int64, error) {
	var rows []Membership
	err := s.db.WithContext(ctx).
		Where("chat_id = ? and user_id = ?", chatID, userID).
		Order("allowed_raw_time asc").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ErrNotChatMember
	}
	return rows[0].AllowedRawTime, nil
}
