package ipc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/scheduler"
	"github.com/shaneisley/placeahead/pkg/selection"
	"github.com/shaneisley/placeahead/pkg/session"
	"github.com/shaneisley/placeahead/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Events(t *testing.T) []Event {
	t.Helper()
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()

	var events []Event
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func ofType(events []Event, typ string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func encodeRequests(t *testing.T, reqs ...Request) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for _, r := range reqs {
		require.NoError(t, enc.Encode(&r))
	}
	return buf.Bytes()
}

type harness struct {
	server *Server
	sched  *scheduler.Scheduler
	clock  *timer.VirtualClock
	out    *syncBuffer
}

func newHarness(in io.Reader) *harness {
	out := &syncBuffer{}
	srv := NewServer(in, out, nil)
	clock := timer.NewVirtualClock(time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC))
	sched := scheduler.New(scheduler.Options{
		Provider: provider.Func(func(ctx context.Context, q string) ([]provider.Suggestion, error) {
			return []provider.Suggestion{
				{ID: "p1", DisplayText: "Lisbon, Portugal", Coordinates: &provider.Coordinates{Lon: -9.1393, Lat: 38.7223}},
			}, nil
		}),
		Clock:    clock,
		Observer: srv,
	})
	handler := selection.NewHandler(sched, srv, "")
	srv.Bind(sched, handler)
	return &harness{server: srv, sched: sched, clock: clock, out: out}
}

func TestServer_FullSession(t *testing.T) {
	// Given a server fed through a pipe
	pr, pw := io.Pipe()
	h := newHarness(pr)
	enc := msgpack.NewEncoder(pw)

	done := make(chan error, 1)
	go func() { done <- h.server.Serve() }()

	// When the host types "Lis" and the quiet period passes
	require.NoError(t, enc.Encode(&Request{Type: TypeText, Value: "Lis"}))
	require.Eventually(t, func() bool { return h.sched.Mode() == session.AwaitingInitial }, 2*time.Second, 5*time.Millisecond)
	h.clock.Advance(500 * time.Millisecond)

	// Then a request and its suggestions are streamed back
	require.Eventually(t, func() bool {
		return len(ofType(h.out.Events(t), EventSuggestions)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// When the host accepts the first suggestion and closes
	require.NoError(t, enc.Encode(&Request{Type: TypeAccept, Index: IntPtr(0)}))
	require.NoError(t, enc.Encode(&Request{Type: TypeClose}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	// Then the full event stream is visible
	events := h.out.Events(t)
	require.NotEmpty(t, events)
	assert.Equal(t, EventReady, events[0].Type)

	requests := ofType(events, EventRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, "Lis", requests[0].Query)

	suggestions := ofType(events, EventSuggestions)
	require.Len(t, suggestions, 1)
	assert.Equal(t, 1, suggestions[0].Count)
	assert.Equal(t, "Lisbon, Portugal", suggestions[0].Suggestions[0].DisplayText)

	selections := ofType(events, EventSelection)
	require.Len(t, selections, 1)
	assert.Equal(t, "Lisbon, Portugal", selections[0].Selection.DisplayName)
	require.NotNil(t, selections[0].Selection.Coordinates)
	assert.InDelta(t, 38.7223, selections[0].Selection.Coordinates.Lat, 1e-9)

	var modes []string
	for _, ev := range ofType(events, EventState) {
		modes = append(modes, ev.To)
	}
	assert.Equal(t, []string{"awaiting-initial", "recurring", "suppressed", "idle"}, modes)
}

func TestServer_ErrorsAreEvents(t *testing.T) {
	// Given a stream of bad requests
	input := encodeRequests(t,
		Request{ID: "a", Type: "dance"},
		Request{ID: "b", Type: TypeAccept},
		Request{ID: "c", Type: TypeAccept, Index: IntPtr(3)},
		Request{ID: "d", Type: TypePing},
		Request{ID: "e", Type: TypeCommit, Value: "Lisboa"},
	)
	h := newHarness(bytes.NewReader(input))

	// When it is served to the end
	require.NoError(t, h.server.Serve())

	// Then each problem is reported without ending the session
	events := h.out.Events(t)
	errs := ofType(events, EventError)
	require.Len(t, errs, 3)
	assert.Equal(t, "a", errs[0].ID)
	assert.Equal(t, 400, errs[0].Code)
	assert.Equal(t, "b", errs[1].ID)
	assert.Equal(t, "c", errs[2].ID)
	assert.Equal(t, 404, errs[2].Code)

	pongs := ofType(events, EventPong)
	require.Len(t, pongs, 1)
	assert.Equal(t, "d", pongs[0].ID)

	selections := ofType(events, EventSelection)
	require.Len(t, selections, 1)
	assert.Equal(t, "Lisboa", selections[0].Selection.DisplayName)
	assert.Nil(t, selections[0].Selection.Coordinates)
	assert.NotEmpty(t, selections[0].Selection.DerivedURL)
}

func TestServer_EndOfInputClosesSession(t *testing.T) {
	h := newHarness(bytes.NewReader(encodeRequests(t, Request{Type: TypeText, Value: "Porto"})))

	require.NoError(t, h.server.Serve())

	assert.Equal(t, session.Idle, h.sched.Mode())
	assert.ErrorIs(t, h.sched.OnTextChanged("Porto!"), scheduler.ErrClosed)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestServer_MalformedStream(t *testing.T) {
	h := newHarness(bytes.NewReader([]byte{0xc1}))

	err := h.server.Serve()

	require.Error(t, err)
	errs := ofType(h.out.Events(t), EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "malformed request")
}

func TestServer_Unbound(t *testing.T) {
	srv := NewServer(bytes.NewReader(nil), io.Discard, nil)
	assert.Error(t, srv.Serve())
}
