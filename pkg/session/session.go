// Package session holds the per-input state the scheduler reasons about.
// Nothing here performs I/O or touches timers.
package session

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinLength is the shortest trimmed text that may be queried
const DefaultMinLength = 3

// Mode is the scheduler mode of a session
type Mode int

const (
	Idle Mode = iota
	AwaitingInitial
	Recurring
	Suppressed
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case AwaitingInitial:
		return "awaiting-initial"
	case Recurring:
		return "recurring"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Scheduling reports whether timers may be armed in this mode
func (m Mode) Scheduling() bool {
	return m == AwaitingInitial || m == Recurring
}

// Session tracks the text of one input.
//
// AcceptedText is empty or the display text of a suggestion the user chose.
// LastRequestedText is the trimmed query of the most recent request.
type Session struct {
	RawText           string
	LastRequestedText string
	AcceptedText      string
	Mode              Mode

	minLength int
}

// New creates an idle session
func New(minLength int) *Session {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Session{minLength: minLength}
}

// MinLength returns the minimum query length
func (s *Session) MinLength() int {
	return s.minLength
}

// Normalize trims surrounding whitespace from text
func Normalize(text string) string {
	return strings.TrimSpace(text)
}

// Queryable reports whether text is long enough to be sent to the provider
func (s *Session) Queryable(text string) bool {
	return utf8.RuneCountInString(Normalize(text)) >= s.minLength
}

// Query returns the query that would be sent for the current text
func (s *Session) Query() string {
	return Normalize(s.RawText)
}

// SetText records new raw text
func (s *Session) SetText(text string) {
	s.RawText = text
}

// Settled reports whether the raw text equals a non-empty accepted value
func (s *Session) Settled() bool {
	return s.AcceptedText != "" && s.RawText == s.AcceptedText
}

// Matches reports whether text equals the accepted value
func (s *Session) Matches(text string) bool {
	return s.AcceptedText != "" && text == s.AcceptedText
}

// NeedsRequest reports whether the current text is queryable and differs
// from what was last requested
func (s *Session) NeedsRequest() bool {
	return s.Queryable(s.RawText) && s.Query() != s.LastRequestedText
}

// MarkRequested records that query was sent
func (s *Session) MarkRequested(query string) {
	s.LastRequestedText = query
}

// Accept records text as the accepted value and as the current raw text
func (s *Session) Accept(text string) {
	s.AcceptedText = text
	s.RawText = text
}

// ClearAccepted drops the accepted marker
func (s *Session) ClearAccepted() {
	s.AcceptedText = ""
}

// Reset returns the session to idle without touching the raw text
func (s *Session) Reset() {
	s.LastRequestedText = ""
	s.Mode = Idle
}

// Snapshot returns a copy safe to hand to observers
func (s *Session) Snapshot() Session {
	return *s
}
