package ipc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shaneisley/placeahead/pkg/executor"
	"github.com/shaneisley/placeahead/pkg/logging"
	"github.com/shaneisley/placeahead/pkg/selection"
	"github.com/shaneisley/placeahead/pkg/session"
	"github.com/vmihailenco/msgpack/v5"
)

// Input is the scheduler side of a session
type Input interface {
	OnTextChanged(text string) error
	Close() error
}

// Picker settles the input
type Picker interface {
	AcceptIndex(i int) (selection.Selection, error)
	Commit(text string) (selection.Selection, error)
}

// Server runs one input session over a msgpack stream. It is the session's
// scheduler.Observer and selection.Sink, so it must be bound before Serve.
type Server struct {
	dec    *msgpack.Decoder
	logger *logging.Logger

	mu  sync.Mutex
	enc *msgpack.Encoder

	input  Input
	picker Picker
}

// NewServer creates a server reading requests from r and writing events to w
func NewServer(r io.Reader, w io.Writer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		dec:    msgpack.NewDecoder(r),
		enc:    msgpack.NewEncoder(w),
		logger: logger,
	}
}

// Bind attaches the session the server drives
func (s *Server) Bind(input Input, picker Picker) {
	s.input = input
	s.picker = picker
}

// Serve processes requests until "close" or end of input, then closes the
// session. A malformed stream ends Serve with an error.
func (s *Server) Serve() error {
	if s.input == nil || s.picker == nil {
		return errors.New("ipc server has no session bound")
	}
	defer s.input.Close()

	s.logger.Debug("serving session")
	s.send(Event{Type: EventReady})

	for {
		var req Request
		if err := s.dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.sendError("", fmt.Sprintf("malformed request: %v", err), 400)
			return fmt.Errorf("failed to decode request: %w", err)
		}

		if done := s.handle(req); done {
			return nil
		}
	}
}

func (s *Server) handle(req Request) bool {
	switch req.Type {
	case TypeText:
		if err := s.input.OnTextChanged(req.Value); err != nil {
			s.sendError(req.ID, err.Error(), 409)
		}

	case TypeAccept:
		if req.Index == nil {
			s.sendError(req.ID, "missing 'i' parameter", 400)
			return false
		}
		if _, err := s.picker.AcceptIndex(*req.Index); err != nil {
			code := 409
			if errors.Is(err, selection.ErrNoSuggestion) {
				code = 404
			}
			s.sendError(req.ID, err.Error(), code)
		}

	case TypeCommit:
		if _, err := s.picker.Commit(req.Value); err != nil {
			s.sendError(req.ID, err.Error(), 409)
		}

	case TypePing:
		s.send(Event{Type: EventPong, ID: req.ID})

	case TypeClose:
		return true

	default:
		s.sendError(req.ID, fmt.Sprintf("unknown message type: %q", req.Type), 400)
	}
	return false
}

// OnStateChange implements scheduler.Observer
func (s *Server) OnStateChange(from, to session.Mode) {
	s.send(Event{Type: EventState, From: from.String(), To: to.String()})
}

// OnRequest implements scheduler.Observer
func (s *Server) OnRequest(query string, token executor.Token) {
	s.send(Event{Type: EventRequest, Query: query, Token: token.Seq})
}

// OnSuggestions implements scheduler.Observer
func (s *Server) OnSuggestions(result executor.Result) {
	s.send(Event{
		Type:        EventSuggestions,
		Query:       result.Query,
		Token:       result.Token.Seq,
		Suggestions: result.Suggestions,
		Count:       len(result.Suggestions),
		TimeTaken:   result.Duration.Milliseconds(),
		Failed:      result.Failed(),
	})
}

// OnSelection implements selection.Sink
func (s *Server) OnSelection(sel selection.Selection) {
	s.send(Event{Type: EventSelection, Selection: &sel})
}

func (s *Server) sendError(id, message string, code int) {
	s.send(Event{Type: EventError, ID: id, Error: message, Code: code})
}

func (s *Server) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(&event); err != nil {
		s.logger.LogError("send", err, "event", event.Type)
	}
}
