package cache

import (
	"sync"
	"time"

	"github.com/rmaffei/crmlink/internal/bus"
	"github.com/rmaffei/crmlink/internal/model"
)

// SuggestionCache is a bounded cache of the most recent AI reply
// suggestions. New entries go to the front; when the cap is exceeded the
// oldest (tail) entries are evicted.
type SuggestionCache struct {
	bus *bus.Bus
	cap int

	mu    sync.Mutex
	items []model.Suggestion
	err   string
}

// NewSuggestionCache creates a suggestion cache bounded to cap entries.
func NewSuggestionCache(b *bus.Bus, capacity int) *SuggestionCache {
	if capacity <= 0 {
		capacity = 10
	}
	return &SuggestionCache{
		bus: b,
		cap: capacity,
	}
}

// Add prepends newly generated suggestions and truncates to the cap.
func (s *SuggestionCache) Add(sugs []model.Suggestion) {
	if len(sugs) == 0 {
		return
	}
	s.mu.Lock()
	s.items = append(append([]model.Suggestion(nil), sugs...), s.items...)
	if len(s.items) > s.cap {
		s.items = s.items[:s.cap]
	}
	s.err = ""
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindChatSuggestionsUpdated, Timestamp: time.Now()})
	}
}

// All returns a copy of the cached suggestions, newest first, and the
// current error string.
func (s *SuggestionCache) All() ([]model.Suggestion, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Suggestion(nil), s.items...), s.err
}

// SetError records a generation/fetch failure without touching the
// cached entries.
func (s *SuggestionCache) SetError(err error) {
	s.mu.Lock()
	s.err = err.Error()
	s.mu.Unlock()
}

// Clear drops all cached suggestions.
func (s *SuggestionCache) Clear() {
	s.mu.Lock()
	s.items = nil
	s.err = ""
	s.mu.Unlock()
}
