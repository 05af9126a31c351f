// Package selection finalizes what the user picked or typed and hands the
// resolved location to a sink.
package selection

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/session"
)

// DefaultMapsURL prefixes the derived URL of a selection
const DefaultMapsURL = "https://www.google.com/maps/search/?api=1&query="

// ErrNoSuggestion is returned by AcceptIndex for an index outside the last list
var ErrNoSuggestion = errors.New("no suggestion at that index")

// Selection is the settled value of an input
type Selection struct {
	DisplayName string                `json:"display_name" msgpack:"display_name"`
	Input       string                `json:"input" msgpack:"input"`
	Coordinates *provider.Coordinates `json:"coordinates,omitempty" msgpack:"coordinates,omitempty"`
	DerivedURL  string                `json:"derived_url,omitempty" msgpack:"derived_url,omitempty"`
}

// Resolved reports whether the selection carries coordinates
func (s Selection) Resolved() bool {
	return s.Coordinates != nil
}

// Sink receives every settled selection
type Sink interface {
	OnSelection(sel Selection)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(sel Selection)

// OnSelection calls f
func (f SinkFunc) OnSelection(sel Selection) {
	f(sel)
}

// Scheduler is the part of the request scheduler the handler drives
type Scheduler interface {
	Accept(displayText string) error
	Commit(text string) (bool, error)
	LastSuggestions() []provider.Suggestion
}

// Handler accepts suggestions and commits free text for one input
type Handler struct {
	scheduler Scheduler
	sink      Sink
	mapsURL   string

	mu       sync.Mutex
	accepted *provider.Suggestion
}

// NewHandler creates a handler. An empty mapsURL uses DefaultMapsURL.
func NewHandler(scheduler Scheduler, sink Sink, mapsURL string) *Handler {
	if mapsURL == "" {
		mapsURL = DefaultMapsURL
	}
	if sink == nil {
		sink = SinkFunc(func(Selection) {})
	}
	return &Handler{scheduler: scheduler, sink: sink, mapsURL: mapsURL}
}

// Accept marks suggestion as chosen, suppresses the scheduler and forwards
// the resolved location
func (h *Handler) Accept(suggestion provider.Suggestion) (Selection, error) {
	if err := h.scheduler.Accept(suggestion.DisplayText); err != nil {
		return Selection{}, fmt.Errorf("failed to accept suggestion: %w", err)
	}

	h.mu.Lock()
	chosen := suggestion
	h.accepted = &chosen
	h.mu.Unlock()

	sel := Selection{
		DisplayName: suggestion.DisplayText,
		Input:       suggestion.DisplayText,
		Coordinates: suggestion.Coordinates,
		DerivedURL:  DerivedURL(h.mapsURL, suggestion.DisplayText),
	}
	h.sink.OnSelection(sel)
	return sel, nil
}

// AcceptIndex accepts the i-th suggestion of the last applied list
func (h *Handler) AcceptIndex(i int) (Selection, error) {
	suggestions := h.scheduler.LastSuggestions()
	if i < 0 || i >= len(suggestions) {
		return Selection{}, fmt.Errorf("%w: %d of %d", ErrNoSuggestion, i, len(suggestions))
	}
	return h.Accept(suggestions[i])
}

// Commit settles free text without a pick. Coordinates survive only when the
// text still equals the accepted value, ignoring surrounding whitespace.
func (h *Handler) Commit(text string) (Selection, error) {
	preserved, err := h.scheduler.Commit(text)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to commit text: %w", err)
	}

	trimmed := session.Normalize(text)
	sel := Selection{
		DisplayName: trimmed,
		Input:       text,
		DerivedURL:  DerivedURL(h.mapsURL, trimmed),
	}

	h.mu.Lock()
	if preserved && h.accepted != nil {
		sel.DisplayName = h.accepted.DisplayText
		sel.Coordinates = h.accepted.Coordinates
	} else {
		h.accepted = nil
	}
	h.mu.Unlock()

	h.sink.OnSelection(sel)
	return sel, nil
}

// DerivedURL builds the maps search URL for text; empty text has no URL
func DerivedURL(prefix, text string) string {
	text = session.Normalize(text)
	if text == "" {
		return ""
	}
	return prefix + url.QueryEscape(text)
}
