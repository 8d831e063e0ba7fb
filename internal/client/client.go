// Package client implements the service side of the interactive CLI: the
// connection-bootstrap handshake, the shared rendezvous channel and the
// background chat-list updater.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dialback-chat/internal/protocol"
)

const (
	requestTimeout = 3 * time.Second
	updateInterval = 2 * time.Second

	portRangeLow  = 4000
	portRangeHigh = 9999
	bindAttempts  = 5
)

// EnvConfig defines fields parsed from environment variables.
type EnvConfig struct {
	NotifyURL    string `env:"NOTIFY_URL" envDefault:"http://127.0.0.1:4506/notify"`
	CallbackHost string `env:"CALLBACK_HOST" envDefault:"127.0.0.1"`
}

// RequestError is a rejection reported by the server as reply data; the
// session stays usable after one. Transport failures come back as ordinary
// errors instead and are fatal.
type RequestError struct {
	msg string
}

func (e *RequestError) Error() string { return e.msg }

// Client owns the rendezvous channel shared by the interactive loop and the
// background updater. One mutex serializes each full send+receive round
// trip; it is never held across the updater's sleep.
type Client struct {
	logger *zap.SugaredLogger

	mu   sync.Mutex // guards conn for the whole request/reply exchange
	conn *websocket.Conn

	username string

	chatsMu   sync.Mutex
	chats     []string
	watermark int64

	done chan struct{}
}

// Connect performs the bootstrap handshake: bind a private rendezvous
// endpoint on a random local port, announce its address on the server's
// notification channel, and wait for the server to dial back.
func Connect(logger *zap.SugaredLogger, cfg EnvConfig) (*Client, error) {
	ln, port, err := bindCallbackListener(cfg.CallbackHost)
	if err != nil {
		return nil, err
	}

	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Errorf("upgrading dial-back connection: %v", err)
			return
		}
		select {
		case conns <- conn:
		default:
			conn.Close()
		}
	})}
	go srv.Serve(ln)

	endpoint := fmt.Sprintf("ws://%s/", net.JoinHostPort(cfg.CallbackHost, strconv.Itoa(port)))
	logger.Infof("Announcing callback endpoint %s", endpoint)

	if err := announce(cfg.NotifyURL, endpoint); err != nil {
		srv.Close()
		return nil, err
	}

	select {
	case conn := <-conns:
		// the rendezvous channel is hijacked from the listener; dropping the
		// listener keeps the endpoint single-use
		srv.Close()
		return &Client{logger: logger, conn: conn, done: make(chan struct{})}, nil
	case <-time.After(requestTimeout):
		srv.Close()
		return nil, errors.New("server did not dial back in time")
	}
}

// bindCallbackListener probes random ports in the rendezvous range, giving
// up after a fixed number of attempts.
func bindCallbackListener(host string) (net.Listener, int, error) {
	for i := 0; i < bindAttempts; i++ {
		port := portRangeLow + rand.Intn(portRangeHigh-portRangeLow+1)
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, errors.New("can't find appropriate port")
}

// announce sends the one-way bootstrap notification carrying the callback
// endpoint address.
func announce(notifyURL, endpoint string) error {
	body, err := json.Marshal(map[string]string{"endpoint": endpoint})
	if err != nil {
		return err
	}

	resp, err := http.Post(notifyURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}

	return nil
}

// Close stops the updater and tears down the rendezvous channel.
func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// roundTrip sends one envelope and waits for its reply. The lock covers the
// whole exchange so the updater and the interactive loop never interleave
// frames on the shared channel.
func (c *Client) roundTrip(req protocol.Envelope) (protocol.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := protocol.Encode(req)
	if err != nil {
		return protocol.Envelope{}, err
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(requestTimeout)); err != nil {
		return protocol.Envelope{}, err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return protocol.Envelope{}, err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
		return protocol.Envelope{}, err
	}
	_, reply, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}

	return protocol.Decode(reply)
}

// replyErr converts error replies into RequestError values for the CLI to
// render.
func replyErr(reply protocol.Envelope) error {
	switch reply.Kind {
	case protocol.KindClientError:
		return &RequestError{msg: reply.Payload.Text}
	case protocol.KindServerError:
		return &RequestError{msg: "Server error"}
	}
	return nil
}

// SignIn performs the opening handshake exchange for an existing user.
func (c *Client) SignIn(username, password string) (protocol.AuthStatus, error) {
	return c.authenticate(protocol.KindSignIn, username, password)
}

// SignUp performs the opening handshake exchange creating a new user.
func (c *Client) SignUp(username, password string) (protocol.AuthStatus, error) {
	return c.authenticate(protocol.KindSignUp, username, password)
}

func (c *Client) authenticate(kind protocol.Kind, username, password string) (protocol.AuthStatus, error) {
	reply, err := c.roundTrip(protocol.Envelope{
		Kind:    kind,
		Payload: protocol.Payload{Name: username, Text: password},
	})
	if err != nil {
		return 0, err
	}

	if reply.AuthStatus == protocol.AuthSuccess {
		c.username = username
	}

	return reply.AuthStatus, nil
}

// CreateChat asks the server to create a chat with the given members. The
// calling user is always included.
func (c *Client) CreateChat(name string, usernames []string) error {
	members := append([]string{c.username}, usernames...)

	reply, err := c.roundTrip(protocol.Envelope{
		Kind: protocol.KindCreateChat,
		Payload: protocol.Payload{
			Name:       c.username,
			Text:       name,
			StringList: members,
		},
	})
	if err != nil {
		return err
	}

	return replyErr(reply)
}

// SendMessage posts one message to the named chat.
func (c *Client) SendMessage(chat, text string) error {
	reply, err := c.roundTrip(protocol.Envelope{
		Kind:    protocol.KindCreateMessage,
		Payload: protocol.Payload{Name: chat, Text: text},
	})
	if err != nil {
		return err
	}

	return replyErr(reply)
}

// Messages returns the chat's history visible to this user, oldest first.
func (c *Client) Messages(chat string) ([]protocol.ChatMessage, error) {
	reply, err := c.roundTrip(protocol.Envelope{
		Kind:    protocol.KindGetAllMessagesFromChat,
		Payload: protocol.Payload{Name: chat},
	})
	if err != nil {
		return nil, err
	}
	if err := replyErr(reply); err != nil {
		return nil, err
	}

	return reply.Payload.ChatMessages, nil
}

// Invite adds a user to the named chat, optionally sharing the inviter's
// view of its history.
func (c *Client) Invite(chat, username string, shareHistory bool) error {
	reply, err := c.roundTrip(protocol.Envelope{
		Kind:    protocol.KindInviteUserToChat,
		Payload: protocol.Payload{Name: chat, Text: username, Flag: shareHistory},
	})
	if err != nil {
		return err
	}

	return replyErr(reply)
}
