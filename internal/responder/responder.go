// Package responder adapts external reply services to core.Responder.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meshchat/meshchat/internal/domain"
)

// HTTP posts the prompt and recent history to a reply endpoint and
// returns the text it answers with. The relay never blocks on a call;
// cancellation comes through ctx.
type HTTP struct {
	URL    string
	Client *http.Client
}

func NewHTTP(url string) *HTTP {
	return &HTTP{URL: url, Client: http.DefaultClient}
}

type request struct {
	Prompt  string               `json:"prompt"`
	History []domain.ChatMessage `json:"history"`
}

type response struct {
	Reply string `json:"reply"`
}

func (h *HTTP) Respond(ctx context.Context, prompt string, history []domain.ChatMessage) (string, error) {
	// Recent context only; the endpoint does not need the whole log.
	if len(history) > 50 {
		history = history[len(history)-50:]
	}
	body, err := json.Marshal(request{Prompt: prompt, History: history})
	if err != nil {
		return "", fmt.Errorf("encode responder request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("responder call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("responder status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read responder reply: %w", err)
	}
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return "", fmt.Errorf("parse responder reply: %w", err)
	}
	return r.Reply, nil
}

// Static answers every prompt with a canned line. Used when no
// endpoint is configured.
type Static struct {
	Reply string
}

func (s Static) Respond(ctx context.Context, prompt string, history []domain.ChatMessage) (string, error) {
	return s.Reply, nil
}
