package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dialback-chat/internal/storage"
)

func bootstrapHandler(t *testing.T) *handler {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	sugar := logger.Sugar()

	store, err := storage.New(sugar, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	index, err := loadUserIndex(context.Background(), store)
	require.NoError(t, err)

	return &handler{
		logger:  sugar,
		store:   store,
		index:   index,
		auth:    &authGate{logger: sugar, store: store, index: index},
		timeout: defaultSessionTimeout,
	}
}

func postNotify(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	req, err := http.NewRequest(http.MethodPost, "/notify", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	return rr
}

func TestNotifyAccepted(t *testing.T) {
	h := bootstrapHandler(t)
	wrapped := enforcePostJson(http.HandlerFunc(h.notify))

	// the endpoint is bogus; the dial-back fails later in its own goroutine
	// without affecting the notification reply
	rr := postNotify(t, wrapped, `{"endpoint":"ws://127.0.0.1:1/"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
}

func TestNotifyMissingEndpoint(t *testing.T) {
	h := bootstrapHandler(t)
	wrapped := enforcePostJson(http.HandlerFunc(h.notify))

	rr := postNotify(t, wrapped, `{"address":"ws://127.0.0.1:1/"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotifyEmptyEndpoint(t *testing.T) {
	h := bootstrapHandler(t)
	wrapped := enforcePostJson(http.HandlerFunc(h.notify))

	rr := postNotify(t, wrapped, `{"endpoint":""}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotifyMalformedJSON(t *testing.T) {
	h := bootstrapHandler(t)
	wrapped := enforcePostJson(http.HandlerFunc(h.notify))

	rr := postNotify(t, wrapped, `{"endpoint":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotifyRejectsGET(t *testing.T) {
	h := bootstrapHandler(t)
	wrapped := enforcePostJson(http.HandlerFunc(h.notify))

	req, err := http.NewRequest(http.MethodGet, "/notify", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "POST", rr.Header().Get("Allow"))
}

func TestNotifyRejectsWrongContentType(t *testing.T) {
	h := bootstrapHandler(t)
	wrapped := enforcePostJson(http.HandlerFunc(h.notify))

	req, err := http.NewRequest(http.MethodPost, "/notify", bytes.NewBufferString("endpoint=x"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestNotifyNoBody(t *testing.T) {
	h := bootstrapHandler(t)
	wrapped := enforcePostJson(http.HandlerFunc(h.notify))

	rr := postNotify(t, wrapped, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
