package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rmaffei/crmlink/internal/cache"
	"github.com/rmaffei/crmlink/internal/model"
	"github.com/rmaffei/crmlink/internal/outbox"
	"github.com/rmaffei/crmlink/internal/realtime"
	"github.com/rmaffei/crmlink/internal/status"
)

type fakeAPI struct {
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
	suggestions   []model.Suggestion
	generateErr   error
}

func (f *fakeAPI) ListConversations(ctx context.Context, limit, offset int) (*model.ConversationList, error) {
	items := make([]model.Conversation, 0, len(f.conversations))
	for _, c := range f.conversations {
		items = append(items, c)
	}
	return &model.ConversationList{Items: items, Total: len(items), Limit: limit, Offset: offset}, nil
}

func (f *fakeAPI) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c, ok := f.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return &c, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return append([]model.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakeAPI) GenerateSuggestions(ctx context.Context, conversationID string) ([]model.Suggestion, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.suggestions, nil
}

func idleRealtime() *realtime.Client {
	return realtime.NewClient(realtime.Options{
		URL:            "ws://127.0.0.1:1",
		Token:          func() (string, error) { return "", errors.New("no token") },
		EmitRetryDelay: 10 * time.Millisecond,
	}, nil, status.NewMachine(nil), nil)
}

func serve(t *testing.T, register func(mux *http.ServeMux)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	rt := idleRealtime()
	svc := NewSessionService("work", rt, nil)
	srv := serve(t, svc.Register)

	var resp StatusResponse
	if code := getJSON(t, srv.URL+"/v1/status", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.Session != "work" {
		t.Errorf("session = %q, want work", resp.Session)
	}
	if resp.State != string(status.Idle) {
		t.Errorf("state = %q, want IDLE", resp.State)
	}
	if resp.Connected {
		t.Error("connected = true while idle")
	}
}

func TestLogoutEndpoint(t *testing.T) {
	rt := idleRealtime()
	called := false
	svc := NewSessionService("work", rt, func() { called = true })
	srv := serve(t, svc.Register)

	if code := postJSON(t, srv.URL+"/v1/logout", nil, nil); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !called {
		t.Error("onLogout was not invoked")
	}
}

func TestConversationListHydratesOnFirstAccess(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	f := &fakeAPI{conversations: map[string]model.Conversation{
		"1": {ID: "1", Status: model.ConversationOpen, LastMessageAt: base},
	}}
	convs := cache.NewConversationCache(f, nil, nil, 50)
	thread := cache.NewThreadCache(f, nil, nil)
	svc := NewConversationService(convs, thread, idleRealtime(), nil)
	srv := serve(t, svc.Register)

	var resp ConversationListResponse
	if code := getJSON(t, srv.URL+"/v1/conversations", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "1" {
		t.Errorf("items = %+v", resp.Items)
	}
	if resp.Error != "" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestOpenConversation(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	f := &fakeAPI{
		conversations: map[string]model.Conversation{
			"1": {ID: "1", Status: model.ConversationOpen, LastMessageAt: base},
		},
		messages: map[string][]model.Message{
			"1": {{ID: "m1", ConversationID: "1", Text: "hello", CreatedAt: base}},
		},
	}
	convs := cache.NewConversationCache(f, nil, nil, 50)
	thread := cache.NewThreadCache(f, nil, nil)
	svc := NewConversationService(convs, thread, idleRealtime(), nil)
	srv := serve(t, svc.Register)

	var resp ThreadResponse
	if code := postJSON(t, srv.URL+"/v1/conversations/1/open", nil, &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.Conversation == nil || resp.Conversation.ID != "1" {
		t.Errorf("conversation = %+v", resp.Conversation)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "m1" {
		t.Errorf("messages = %+v", resp.Messages)
	}
	if thread.ConversationID() != "1" {
		t.Errorf("thread conversation = %q", thread.ConversationID())
	}
}

func TestOpenConversationNotFound(t *testing.T) {
	f := &fakeAPI{conversations: map[string]model.Conversation{}}
	convs := cache.NewConversationCache(f, nil, nil, 50)
	thread := cache.NewThreadCache(f, nil, nil)
	svc := NewConversationService(convs, thread, idleRealtime(), nil)
	srv := serve(t, svc.Register)

	var resp ThreadResponse
	if code := postJSON(t, srv.URL+"/v1/conversations/9/open", nil, &resp); code != http.StatusBadGateway {
		t.Fatalf("status code = %d, want 502", code)
	}
	if resp.Error == "" {
		t.Error("error missing in response")
	}
}

func TestMessagesAutoOpens(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	f := &fakeAPI{
		conversations: map[string]model.Conversation{
			"1": {ID: "1", Status: model.ConversationOpen, LastMessageAt: base},
		},
		messages: map[string][]model.Message{
			"1": {{ID: "m1", ConversationID: "1", CreatedAt: base}},
		},
	}
	convs := cache.NewConversationCache(f, nil, nil, 50)
	thread := cache.NewThreadCache(f, nil, nil)
	svc := NewConversationService(convs, thread, idleRealtime(), nil)
	srv := serve(t, svc.Register)

	var resp ThreadResponse
	if code := getJSON(t, srv.URL+"/v1/conversations/1/messages", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(resp.Messages) != 1 {
		t.Errorf("messages = %+v", resp.Messages)
	}
}

func TestSendEndpoint(t *testing.T) {
	// Sender is never started here; the endpoint only enqueues.
	sender := outbox.NewSender(nil, nil, nil, nil)
	svc := NewMessageService(sender)
	srv := serve(t, svc.Register)

	var resp SendResponse
	code := postJSON(t, srv.URL+"/v1/send", SendRequest{ConversationID: "1", Text: "hi"}, &resp)
	if code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202", code)
	}
	if resp.ClientMsgID == "" {
		t.Error("client_msg_id missing")
	}
}

func TestSendValidation(t *testing.T) {
	sender := outbox.NewSender(nil, nil, nil, nil)
	svc := NewMessageService(sender)
	srv := serve(t, svc.Register)

	if code := postJSON(t, srv.URL+"/v1/send", SendRequest{Text: "hi"}, nil); code != http.StatusBadRequest {
		t.Errorf("missing conversation_id: status = %d, want 400", code)
	}
	if code := postJSON(t, srv.URL+"/v1/send", SendRequest{ConversationID: "1"}, nil); code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d, want 400", code)
	}
}

func TestGenerateSuggestions(t *testing.T) {
	f := &fakeAPI{suggestions: []model.Suggestion{
		{ID: "s1", ConversationID: "1", Text: "Thanks for reaching out!"},
	}}
	sugs := cache.NewSuggestionCache(nil, 10)
	svc := NewSuggestionService(f, sugs)
	srv := serve(t, svc.Register)

	var resp SuggestionsResponse
	if code := postJSON(t, srv.URL+"/v1/conversations/1/suggestions", nil, &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].ID != "s1" {
		t.Errorf("suggestions = %+v", resp.Suggestions)
	}

	// Generated entries are served from the cache afterwards.
	var cached SuggestionsResponse
	if code := getJSON(t, srv.URL+"/v1/conversations/1/suggestions", &cached); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(cached.Suggestions) != 1 {
		t.Errorf("cached suggestions = %+v", cached.Suggestions)
	}
}

func TestGenerateSuggestionsFailure(t *testing.T) {
	f := &fakeAPI{generateErr: errors.New("model overloaded")}
	sugs := cache.NewSuggestionCache(nil, 10)
	svc := NewSuggestionService(f, sugs)
	srv := serve(t, svc.Register)

	var resp SuggestionsResponse
	if code := postJSON(t, srv.URL+"/v1/conversations/1/suggestions", nil, &resp); code != http.StatusBadGateway {
		t.Fatalf("status code = %d, want 502", code)
	}
	if resp.Error == "" {
		t.Error("error missing in response")
	}
}

func TestSuggestionListFiltersByConversation(t *testing.T) {
	sugs := cache.NewSuggestionCache(nil, 10)
	sugs.Add([]model.Suggestion{
		{ID: "s1", ConversationID: "1", Text: "a"},
		{ID: "s2", ConversationID: "2", Text: "b"},
	})
	svc := NewSuggestionService(&fakeAPI{}, sugs)
	srv := serve(t, svc.Register)

	var resp SuggestionsResponse
	if code := getJSON(t, srv.URL+"/v1/conversations/1/suggestions", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].ID != "s1" {
		t.Errorf("suggestions = %+v", resp.Suggestions)
	}
}
