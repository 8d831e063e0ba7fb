package server

import (
	"io"
	"net/http"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"dialback-chat/internal/storage"
)

type handler struct {
	logger     *zap.SugaredLogger
	store      *storage.Store
	index      *userIndex
	auth       *authGate
	timeout    time.Duration
	notifyPool fastjson.ParserPool
}

// notify handles the connection-bootstrap announcement: a POST whose body
// carries the client's callback endpoint as its sole payload. The HTTP reply
// has no protocol meaning; the dial-back happens from a fresh session
// goroutine, one per announcement, without admission control.
func (h *handler) notify(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.notifyPool.Get()
	defer h.notifyPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if !v.Exists("endpoint") {
		http.Error(w, "Missing Field \"endpoint\"", http.StatusBadRequest)
		return
	}

	endpoint := string(v.GetStringBytes("endpoint"))
	if len(endpoint) == 0 {
		http.Error(w, "Field \"endpoint\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	go newSession(h, endpoint).run()

	w.WriteHeader(http.StatusAccepted)
}
