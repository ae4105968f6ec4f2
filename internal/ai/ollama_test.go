package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"pong"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	reply, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "ping"}}, DefaultChatOptions())
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestOllamaChat_EmptyAndError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":""}}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "llama3").Chat(context.Background(), nil, ChatOptions{})
	assert.ErrorIs(t, err, ErrEmptyResult)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	_, err = NewOllamaProvider(down.URL, "llama3").Chat(context.Background(), nil, ChatOptions{})
	assert.ErrorIs(t, err, ErrProviderNetwork)
}
