package api

import (
	"context"
	"net/http"

	"github.com/rmaffei/crmlink/internal/cache"
	"github.com/rmaffei/crmlink/internal/model"
)

// SuggestionGenerator produces fresh reply suggestions via the CRM API.
// Implemented by rest.Client.
type SuggestionGenerator interface {
	GenerateSuggestions(ctx context.Context, conversationID string) ([]model.Suggestion, error)
}

// SuggestionsResponse is the body of the suggestion endpoints.
type SuggestionsResponse struct {
	Suggestions []model.Suggestion `json:"suggestions"`
	Error       string             `json:"error,omitempty"`
}

// SuggestionService exposes the bounded suggestion cache and triggers
// generation of new suggestions.
type SuggestionService struct {
	generator SuggestionGenerator
	sugs      *cache.SuggestionCache
}

// NewSuggestionService creates the suggestion service.
func NewSuggestionService(generator SuggestionGenerator, sugs *cache.SuggestionCache) *SuggestionService {
	return &SuggestionService{
		generator: generator,
		sugs:      sugs,
	}
}

// Register mounts the service routes.
func (s *SuggestionService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/conversations/{id}/suggestions", s.handleList)
	mux.HandleFunc("POST /v1/conversations/{id}/suggestions", s.handleGenerate)
}

func (s *SuggestionService) handleList(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	all, errStr := s.sugs.All()
	matched := make([]model.Suggestion, 0, len(all))
	for _, sug := range all {
		if sug.ConversationID == id {
			matched = append(matched, sug)
		}
	}
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: matched, Error: errStr})
}

func (s *SuggestionService) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	fresh, err := s.generator.GenerateSuggestions(r.Context(), id)
	if err != nil {
		s.sugs.SetError(err)
		writeJSON(w, http.StatusBadGateway, SuggestionsResponse{Error: err.Error()})
		return
	}
	s.sugs.Add(fresh)
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: fresh})
}
