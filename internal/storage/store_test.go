package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mytesting "dialback-chat/internal/testing"
)

func bootstrap(t *testing.T) *Store {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s, err := New(logger.Sugar(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func createUser(t *testing.T, s *Store) (int64, string) {
	username := mytesting.RandString()
	id, err := s.CreateUser(context.Background(), username, "hash-"+username)
	require.NoError(t, err)
	return id, username
}

func TestCreateUser(t *testing.T) {
	s := bootstrap(t)

	id, username := createUser(t, s)

	user, err := s.UserByUsername(context.Background(), username)
	require.NoError(t, err)
	require.Equal(t, id, user.ID)
	require.Equal(t, username, user.Username)
	require.Equal(t, "hash-"+username, user.Password)
}

func TestCreateUserExists(t *testing.T) {
	s := bootstrap(t)

	username := mytesting.RandString()
	_, err := s.CreateUser(context.Background(), username, "h")
	require.NoError(t, err)
	_, err = s.CreateUser(context.Background(), username, "h")
	require.ErrorIs(t, err, ErrUserExists)
}

func TestUserByUsernameNotExist(t *testing.T) {
	s := bootstrap(t)

	_, err := s.UserByUsername(context.Background(), mytesting.RandString())
	require.ErrorIs(t, err, ErrUserNotExist)
}

func TestAllUsers(t *testing.T) {
	s := bootstrap(t)

	id1, name1 := createUser(t, s)
	id2, name2 := createUser(t, s)

	users, err := s.AllUsers(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []User{
		{ID: id1, Username: name1},
		{ID: id2, Username: name2},
	}, users)
}

func TestCreateChatExists(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)
	_, err = s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.ErrorIs(t, err, ErrChatExists)
}

func TestCreateChatBadAdmin(t *testing.T) {
	s := bootstrap(t)

	_, err := s.CreateChat(context.Background(), mytesting.RandString(), 0, nil)
	require.ErrorIs(t, err, ErrChatBadAdmin)
}

func TestFreshChatReadableByAllMembers(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)
	memberID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID, memberID})
	require.NoError(t, err)

	for _, userID := range []int64{adminID, memberID} {
		messages, err := s.MessagesVisibleTo(context.Background(), name, userID)
		require.NoError(t, err)
		require.Empty(t, messages)
	}
}

func TestCreateMessageBadChat(t *testing.T) {
	s := bootstrap(t)

	senderID, _ := createUser(t, s)

	_, err := s.CreateMessage(context.Background(), mytesting.RandString(), senderID, time.Now(), "Hi There!")
	require.ErrorIs(t, err, ErrChatNotExist)
}

func TestMessagesVisibleToNotMember(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)
	strangerID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)

	_, err = s.MessagesVisibleTo(context.Background(), name, strangerID)
	require.ErrorIs(t, err, ErrNotChatMember)
}

func TestVisibilityWindow(t *testing.T) {
	s := bootstrap(t)

	adminID, adminName := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)

	// predates the admin's watermark, must stay invisible
	_, err = s.CreateMessage(context.Background(), name, adminID, time.Now().Add(-time.Hour), "old")
	require.NoError(t, err)

	_, err = s.CreateMessage(context.Background(), name, adminID, time.Now().Add(time.Second), "new")
	require.NoError(t, err)

	messages, err := s.MessagesVisibleTo(context.Background(), name, adminID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "new", messages[0].Text)
	require.Equal(t, adminName, messages[0].Username)
}

func TestMessagesOrderedByRawTime(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)

	base := time.Now()
	for _, offset := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		_, err = s.CreateMessage(context.Background(), name, adminID, base.Add(offset), offset.String())
		require.NoError(t, err)
	}

	messages, err := s.MessagesVisibleTo(context.Background(), name, adminID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "1h0m0s", messages[0].Text)
	require.Equal(t, "2h0m0s", messages[1].Text)
	require.Equal(t, "3h0m0s", messages[2].Text)
}

func TestInviteShareHistory(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)
	inviteeID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)

	_, err = s.CreateMessage(context.Background(), name, adminID, time.Now().Add(time.Second), "hi")
	require.NoError(t, err)

	err = s.Invite(context.Background(), name, adminID, inviteeID, true)
	require.NoError(t, err)

	// inherited watermark equals the admin's, so pre-invite history is open
	messages, err := s.MessagesVisibleTo(context.Background(), name, inviteeID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hi", messages[0].Text)
}

func TestInviteWithoutHistory(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)
	inviteeID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)

	// well before the invite moment
	_, err = s.CreateMessage(context.Background(), name, adminID, time.Now().Add(-time.Hour), "hi")
	require.NoError(t, err)

	err = s.Invite(context.Background(), name, adminID, inviteeID, false)
	require.NoError(t, err)

	messages, err := s.MessagesVisibleTo(context.Background(), name, inviteeID)
	require.NoError(t, err)
	require.Empty(t, messages)

	// the admin still sees nothing older than the chat itself, but the
	// invitee's watermark must not be older than the admin's
	adminMessages, err := s.MessagesVisibleTo(context.Background(), name, adminID)
	require.NoError(t, err)
	require.Empty(t, adminMessages)
}

func TestInviteBadChat(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)
	inviteeID, _ := createUser(t, s)

	err := s.Invite(context.Background(), mytesting.RandString(), adminID, inviteeID, false)
	require.ErrorIs(t, err, ErrChatNotExist)
}

func TestInviteShareHistoryInviterNotMember(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)
	strangerID, _ := createUser(t, s)
	inviteeID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)

	err = s.Invite(context.Background(), name, strangerID, inviteeID, true)
	require.ErrorIs(t, err, ErrNotChatMember)
}

func TestChatsChangedSince(t *testing.T) {
	s := bootstrap(t)

	adminID, _ := createUser(t, s)
	inviteeID, _ := createUser(t, s)

	name := mytesting.RandString()
	_, err := s.CreateChat(context.Background(), name, adminID, []int64{adminID})
	require.NoError(t, err)

	err = s.Invite(context.Background(), name, adminID, inviteeID, false)
	require.NoError(t, err)

	names, err := s.ChatsChangedSince(context.Background(), inviteeID, 0)
	require.NoError(t, err)
	require.Equal(t, []string{name}, names)

	// a second poll with the post-invite server time reports nothing new
	names, err = s.ChatsChangedSince(context.Background(), inviteeID, time.Now().Unix())
	require.NoError(t, err)
	require.Empty(t, names)
}
