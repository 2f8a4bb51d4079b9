package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Notify(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := NewNotifier("bot-token", "chat-42")
	n.SetBaseURL(ts.URL)

	err := n.Notify(context.Background(), "document failed")
	assert.NoError(t, err)
	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-42", gotBody["chat_id"])
	assert.Equal(t, "document failed", gotBody["text"])
}

func TestNotifier_Notify_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	n := NewNotifier("bad-token", "chat-42")
	n.SetBaseURL(ts.URL)

	err := n.Notify(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNotifier_DisabledWithoutConfig(t *testing.T) {
	n := NewNotifier("", "")
	assert.False(t, n.Enabled())

	// Notify on a disabled notifier is a no-op, not an error.
	assert.NoError(t, n.Notify(context.Background(), "ignored"))
}
