// Package protocol defines the envelope exchanged over rendezvous channels
// and its wire form: JSON with every payload field present, enums as
// integers. A receiver ignores payload fields irrelevant to the envelope's
// kind instead of treating them as errors.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fastjson"
)

// Kind tags an Envelope with the request it carries. The numeric values are
// part of the wire protocol and must not be reordered.
type Kind int

const (
	KindCreateMessage Kind = iota
	KindPoll
	KindSignIn
	KindSignUp
	KindCreateChat
	KindUpdateChats
	KindGetAllMessagesFromChat
	KindInviteUserToChat
	KindClientError
	KindServerError
)

// AuthStatus is the result of the sign-in/sign-up exchange opening every
// session.
type AuthStatus int

const (
	AuthExists AuthStatus = iota
	AuthNotExists
	AuthInvalidPassword
	AuthSuccess
)

// ChatMessage is the projection of a stored message returned to clients: the
// sender id is already resolved to a username, the raw time to its display
// form.
type ChatMessage struct {
	Datetime string `json:"datetime"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Payload carries the superset of fields used across all request kinds.
// Fields irrelevant to a kind stay at their zero values.
type Payload struct {
	Time         int64         `json:"time"`
	Name         string        `json:"name"`
	Text         string        `json:"text"`
	Flag         bool          `json:"flag"`
	StringList   []string      `json:"stringList"`
	ChatMessages []ChatMessage `json:"chatMessages"`
}

// Envelope is the single structured record exchanged over a rendezvous
// channel, one request and exactly one reply per exchange.
type Envelope struct {
	Kind       Kind       `json:"kind"`
	AuthStatus AuthStatus `json:"authStatus"`
	Payload    Payload    `json:"payload"`
}

// ErrMalformedEnvelope reports an undecodable frame. Callers treat it as
// fatal to the session; malformed frames are never retried.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// NewClientError builds the reply used for business-rule violations. The
// session stays usable after sending it.
func NewClientError(text string) Envelope {
	return Envelope{Kind: KindClientError, Payload: Payload{Text: text}}
}

// NewServerError builds the opaque reply used for storage faults.
func NewServerError() Envelope {
	return Envelope{Kind: KindServerError}
}

// Encode serializes an Envelope to its wire form.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

var decodeParsers fastjson.ParserPool

// Decode parses the wire form of an Envelope.
func Decode(data []byte) (Envelope, error) {
	parser := decodeParsers.Get()
	defer decodeParsers.Put(parser)

	v, err := parser.ParseBytes(data)
	if err != nil || v.Type() != fastjson.TypeObject {
		return Envelope{}, ErrMalformedEnvelope
	}

	e := Envelope{
		Kind:       Kind(v.GetInt("kind")),
		AuthStatus: AuthStatus(v.GetInt("authStatus")),
	}

	pl := v.Get("payload")
	if pl == nil {
		return e, nil
	}
	if pl.Type() != fastjson.TypeObject && pl.Type() != fastjson.TypeNull {
		return Envelope{}, ErrMalformedEnvelope
	}

	e.Payload.Time = pl.GetInt64("time")
	e.Payload.Name = string(pl.GetStringBytes("name"))
	e.Payload.Text = string(pl.GetStringBytes("text"))
	e.Payload.Flag = pl.GetBool("flag")

	for _, item := range pl.GetArray("stringList") {
		e.Payload.StringList = append(e.Payload.StringList, string(item.GetStringBytes()))
	}

	for _, item := range pl.GetArray("chatMessages") {
		e.Payload.ChatMessages = append(e.Payload.ChatMessages, ChatMessage{
			Datetime: string(item.GetStringBytes("datetime")),
			Username: string(item.GetStringBytes("username")),
			Text:     string(item.GetStringBytes("text")),
		})
	}

	return e, nil
}
