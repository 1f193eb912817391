package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/rmaffei/crmlink/internal/api"
)

// Client talks to the daemon's control API over its Unix domain socket.
type Client struct {
	http *http.Client
}

// New creates a client for the daemon listening on socketPath.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Status fetches the daemon connection status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations fetches the cached conversation list, hydrating it on
// first access.
func (c *Client) Conversations(ctx context.Context) (*api.ConversationListResponse, error) {
	var out api.ConversationListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenConversation opens a conversation: hydrates its thread and
// subscribes to its push events.
func (c *Client) OpenConversation(ctx context.Context, id string) (*api.ThreadResponse, error) {
	var out api.ThreadResponse
	if err := c.do(ctx, http.MethodPost, "/v1/conversations/"+id+"/open", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches the open thread for a conversation, opening it first
// if needed.
func (c *Client) Messages(ctx context.Context, id string) (*api.ThreadResponse, error) {
	var out api.ThreadResponse
	if err := c.do(ctx, http.MethodGet, "/v1/conversations/"+id+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send queues an outgoing message and returns its client id.
func (c *Client) Send(ctx context.Context, conversationID, text string) (*api.SendResponse, error) {
	var out api.SendResponse
	req := api.SendRequest{ConversationID: conversationID, Text: text}
	if err := c.do(ctx, http.MethodPost, "/v1/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Suggestions fetches cached suggestions for a conversation.
func (c *Client) Suggestions(ctx context.Context, id string) (*api.SuggestionsResponse, error) {
	var out api.SuggestionsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/conversations/"+id+"/suggestions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateSuggestions asks for fresh suggestions for a conversation.
func (c *Client) GenerateSuggestions(ctx context.Context, id string) (*api.SuggestionsResponse, error) {
	var out api.SuggestionsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/conversations/"+id+"/suggestions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout tears down the daemon session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/logout", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	// Host is ignored; the transport dials the Unix socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://crmlink"+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s", e.Error)
		}
		return fmt.Errorf("daemon: HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
