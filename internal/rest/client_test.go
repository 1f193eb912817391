package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rmaffei/crmlink/internal/model"
)

func staticToken(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q", got)
		}
		_ = json.NewEncoder(w).Encode(model.ConversationList{
			Items: []model.Conversation{{ID: "1", Status: model.ConversationOpen}},
			Total: 1,
			Limit: 50,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"))
	list, err := c.ListConversations(context.Background(), 50, 0)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != "1" {
		t.Errorf("list = %+v", list)
	}
}

func TestGetConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/abc" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(model.Conversation{ID: "abc", Status: model.ConversationClosed})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"))
	conv, err := c.GetConversation(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.ID != "abc" || conv.Status != model.ConversationClosed {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/conversations/send" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.ConversationID != "1" || req.Text != "hi" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(SendMessageResponse{
			Message: model.Message{ID: "m1", ConversationID: req.ConversationID, Text: req.Text, CreatedAt: time.Now()},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"))
	resp, err := c.SendMessage(context.Background(), SendMessageRequest{ConversationID: "1", ClientMsgID: "c1", Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.Message.ID != "m1" {
		t.Errorf("message = %+v", resp.Message)
	}
}

func TestAPIErrorParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"token expired"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"))
	_, err := c.ListConversations(context.Background(), 50, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Message != "token expired" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestTokenSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func() (string, error) {
		return "", errors.New("token file missing")
	})
	if _, err := c.ListConversations(context.Background(), 50, 0); err == nil {
		t.Error("expected token error")
	}
}

func TestGenerateSuggestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/conversations/1/suggestions" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]model.Suggestion{
			{ID: "s1", ConversationID: "1", Text: "Sure, happy to help!"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"))
	sugs, err := c.GenerateSuggestions(context.Background(), "1")
	if err != nil {
		t.Fatalf("GenerateSuggestions() error = %v", err)
	}
	if len(sugs) != 1 || sugs[0].ID != "s1" {
		t.Errorf("suggestions = %+v", sugs)
	}
}
