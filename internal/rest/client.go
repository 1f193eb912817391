package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rmaffei/crmlink/internal/model"
)

// TokenSource supplies the current auth credential. The daemon wires it to
// the session token file so a rotated token is picked up without restart.
type TokenSource func() (string, error)

// Client is a typed HTTP client for the CRM REST API. The reconciliation
// layer uses it to hydrate entities referenced by push events; the outbox
// uses it to send messages.
type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string, token TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SendMessageRequest is the body of POST /conversations/send.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id,omitempty"`
	Text           string `json:"text,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
}

// SendMessageResponse is the response of POST /conversations/send.
type SendMessageResponse struct {
	Message         model.Message `json:"message"`
	RemoteMessageID string        `json:"remote_message_id,omitempty"`
}

// ListConversations fetches a page of conversations.
func (c *Client) ListConversations(ctx context.Context, limit, offset int) (*model.ConversationList, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out model.ConversationList
	if err := c.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConversation fetches a single conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches the message history of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts an outgoing message.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	var out SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/conversations/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSuggestions fetches stored reply suggestions for a conversation.
func (c *Client) ListSuggestions(ctx context.Context, conversationID string) ([]model.Suggestion, error) {
	var out []model.Suggestion
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/suggestions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateSuggestions asks the API to produce fresh reply suggestions.
func (c *Client) GenerateSuggestions(ctx context.Context, conversationID string) ([]model.Suggestion, error) {
	var out []model.Suggestion
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/suggestions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
