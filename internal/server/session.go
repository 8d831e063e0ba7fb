package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"dialback-chat/internal/protocol"
	"dialback-chat/internal/storage"
)

// session is one worker goroutine bound to one rendezvous channel. The
// server dials out to the endpoint the client announced; after a single
// sign-in/sign-up exchange the channel carries strictly alternating
// request/reply envelopes until the first protocol or transport fault.
type session struct {
	logger   *zap.SugaredLogger
	store    *storage.Store
	index    *userIndex
	auth     *authGate
	endpoint string
	timeout  time.Duration

	conn     *websocket.Conn
	userID   int64
	username string
}

func newSession(h *handler, endpoint string) *session {
	return &session{
		logger:   h.logger.With("session", xid.New().String(), "endpoint", endpoint),
		store:    h.store,
		index:    h.index,
		auth:     h.auth,
		endpoint: endpoint,
		timeout:  h.timeout,
	}
}

func (s *session) run() {
	s.logger.Info("session starting")

	dialer := websocket.Dialer{HandshakeTimeout: s.timeout}
	conn, _, err := dialer.Dial(s.endpoint, nil)
	if err != nil {
		s.logger.Errorf("dialing back client endpoint: %v", err)
		return
	}
	s.conn = conn
	defer conn.Close()

	if err := s.authenticate(); err != nil {
		s.logger.Infof("session ended before authentication: %v", err)
		return
	}

	s.logger.Infof("user (%s) authenticated", s.username)

	if err := s.serve(); err != nil {
		s.logger.Infof("session ended: %v", err)
	}
}

// receive reads one envelope under the per-operation deadline. Transport and
// decode failures are fatal to the session.
func (s *session) receive() (protocol.Envelope, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return protocol.Envelope{}, err
	}

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}

	return protocol.Decode(data)
}

func (s *session) send(e protocol.Envelope) error {
	data, err := protocol.Encode(e)
	if err != nil {
		return err
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// authenticate performs the single sign-in/sign-up exchange opening the
// session. A failed status is still replied before the session ends; the
// status itself is the terminal signal.
func (s *session) authenticate() error {
	req, err := s.receive()
	if err != nil {
		return err
	}

	ctx := context.Background()

	var status protocol.AuthStatus
	var id int64
	switch req.Kind {
	case protocol.KindSignIn:
		status, id, err = s.auth.signIn(ctx, req.Payload.Name, req.Payload.Text)
	case protocol.KindSignUp:
		status, id, err = s.auth.signUp(ctx, req.Payload.Name, req.Payload.Text)
	default:
		sendErr := s.send(protocol.NewClientError("authentication required"))
		if sendErr != nil {
			return sendErr
		}
		return errors.New("invalid envelope kind during handshake")
	}
	if err != nil {
		_ = s.send(protocol.NewServerError())
		return err
	}

	if err := s.send(protocol.Envelope{Kind: req.Kind, AuthStatus: status}); err != nil {
		return err
	}
	if status != protocol.AuthSuccess {
		return fmt.Errorf("authentication failed with status %d", status)
	}

	s.userID = id
	s.username = req.Payload.Name

	return nil
}

// serve is the authenticated request/reply loop: one request, exactly one
// reply, no pipelining.
func (s *session) serve() error {
	for {
		req, err := s.receive()
		if err != nil {
			return err
		}

		if err := s.send(s.dispatch(context.Background(), req)); err != nil {
			return err
		}
	}
}

// dispatch maps one request to its reply. Business-rule violations come back
// as ClientError data, storage faults as opaque ServerError; neither ends
// the session.
func (s *session) dispatch(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	switch req.Kind {
	case protocol.KindCreateMessage:
		return s.createMessage(ctx, req)
	case protocol.KindPoll:
		return req
	case protocol.KindUpdateChats:
		return s.updateChats(ctx, req)
	case protocol.KindCreateChat:
		return s.createChat(ctx, req)
	case protocol.KindGetAllMessagesFromChat:
		return s.chatMessages(ctx, req)
	case protocol.KindInviteUserToChat:
		return s.invite(ctx, req)
	default:
		return protocol.NewClientError("unsupported request")
	}
}

func (s *session) createMessage(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	_, err := s.store.CreateMessage(ctx, req.Payload.Name, s.userID, time.Now(), req.Payload.Text)
	if err != nil {
		if errors.Is(err, storage.ErrChatNotExist) {
			return protocol.NewClientError("Chat " + req.Payload.Name + " doesn't exist")
		}
		s.logger.Errorf("creating message: %v", err)
		return protocol.NewServerError()
	}

	return req
}

func (s *session) updateChats(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	id, ok := s.index.lookup(req.Payload.Name)
	if !ok {
		return protocol.NewClientError("User " + req.Payload.Name + " doesn't exist")
	}

	names, err := s.store.ChatsChangedSince(ctx, id, req.Payload.Time)
	if err != nil {
		s.logger.Errorf("retrieving changed chats: %v", err)
		return protocol.NewServerError()
	}

	reply := req
	reply.Payload.StringList = names
	reply.Payload.Time = time.Now().Unix()

	return reply
}

func (s *session) createChat(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	memberIDs := make([]int64, 0, len(req.Payload.StringList))
	for _, username := range req.Payload.StringList {
		id, ok := s.index.lookup(username)
		if !ok {
			return protocol.NewClientError("User " + username + " doesn't exist")
		}
		memberIDs = append(memberIDs, id)
	}

	if _, err := s.store.CreateChat(ctx, req.Payload.Text, s.userID, memberIDs); err != nil {
		if errors.Is(err, storage.ErrChatExists) {
			return protocol.NewClientError("Chat exists")
		}
		s.logger.Errorf("creating chat: %v", err)
		return protocol.NewServerError()
	}

	return req
}

func (s *session) chatMessages(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	messages, err := s.store.MessagesVisibleTo(ctx, req.Payload.Name, s.userID)
	if err != nil {
		if errors.Is(err, storage.ErrChatNotExist) || errors.Is(err, storage.ErrNotChatMember) {
			return protocol.NewClientError("Chat " + req.Payload.Name + " doesn't exist")
		}
		s.logger.Errorf("retrieving messages: %v", err)
		return protocol.NewServerError()
	}

	reply := req
	reply.Payload.ChatMessages = make([]protocol.ChatMessage, 0, len(messages))
	for _, m := range messages {
		reply.Payload.ChatMessages = append(reply.Payload.ChatMessages, protocol.ChatMessage{
			Datetime: m.Datetime,
			Username: m.Username,
			Text:     m.Text,
		})
	}

	return reply
}

func (s *session) invite(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	inviteeID, ok := s.index.lookup(req.Payload.Text)
	if !ok {
		return protocol.NewClientError("User " + req.Payload.Text + " doesn't exist")
	}

	err := s.store.Invite(ctx, req.Payload.Name, s.userID, inviteeID, req.Payload.Flag)
	if err != nil {
		if errors.Is(err, storage.ErrChatNotExist) || errors.Is(err, storage.ErrNotChatMember) {
			return protocol.NewClientError("Chat " + req.Payload.Name + " doesn't exist")
		}
		s.logger.Errorf("inviting user: %v", err)
		return protocol.NewServerError()
	}

	return req
}
