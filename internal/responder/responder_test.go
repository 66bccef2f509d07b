package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/meshchat/internal/domain"
)

func TestHTTPRespond(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt  string               `json:"prompt"`
			History []domain.ChatMessage `json:"history"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "@bot hello", req.Prompt)
		assert.Len(t, req.History, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "hello back"})
	}))
	defer ts.Close()

	h := NewHTTP(ts.URL)
	history := []domain.ChatMessage{{ID: "m1", Body: "earlier", CreatedAt: time.Now(), Kind: domain.KindText}}
	reply, err := h.Respond(context.Background(), "@bot hello", history)
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)
}

func TestHTTPRespondTrimsHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			History []domain.ChatMessage `json:"history"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.History, 50)
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	}))
	defer ts.Close()

	var history []domain.ChatMessage
	for i := 0; i < 80; i++ {
		history = append(history, domain.ChatMessage{ID: domain.MessageID(string(rune('a' + i%26)))})
	}
	_, err := NewHTTP(ts.URL).Respond(context.Background(), "p", history)
	require.NoError(t, err)
}

func TestHTTPRespondStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewHTTP(ts.URL).Respond(context.Background(), "p", nil)
	assert.ErrorContains(t, err, "responder status 502")
}

func TestStatic(t *testing.T) {
	reply, err := Static{Reply: "canned"}.Respond(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "canned", reply)
}
