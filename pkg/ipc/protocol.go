/*
Package ipc exposes one input session over a msgpack stream, so an editor or
UI process can drive the scheduler through stdin/stdout.

The host sends the full text of the input after every change:

	{"t": "text", "v": "Lisb"}

and receives events as they happen:

	{"t": "state", "from": "awaiting-initial", "to": "recurring"}
	{"t": "request", "q": "Lisb", "tok": 1}
	{"t": "suggestions", "q": "Lisb", "s": [{"id": "…", "d": "Lisbon, Portugal", "c": {"lon": -9.1, "lat": 38.7}, "m": "boundary/administrative"}], "c": 1, "ms": 212}

Picking a suggestion or committing free text settles the input:

	{"t": "accept", "i": 0}
	{"t": "commit", "v": "Lisboa"}
	{"t": "selection", "sel": {"display_name": "Lisboa", "input": "Lisboa", "derived_url": "…"}}

A "close" message or end of input tears the session down.
*/
package ipc

import (
	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/selection"
)

// Inbound message types
const (
	TypeText   = "text"
	TypeAccept = "accept"
	TypeCommit = "commit"
	TypeClose  = "close"
	TypePing   = "ping"
)

// Outbound event types
const (
	EventReady       = "ready"
	EventState       = "state"
	EventRequest     = "request"
	EventSuggestions = "suggestions"
	EventSelection   = "selection"
	EventError       = "error"
	EventPong        = "pong"
)

// Request is one inbound message
type Request struct {
	ID    string `msgpack:"id,omitempty"`
	Type  string `msgpack:"t"`
	Value string `msgpack:"v,omitempty"`
	Index *int   `msgpack:"i,omitempty"`
}

// Event is one outbound message
type Event struct {
	Type        string                `msgpack:"t"`
	ID          string                `msgpack:"id,omitempty"`
	From        string                `msgpack:"from,omitempty"`
	To          string                `msgpack:"to,omitempty"`
	Query       string                `msgpack:"q,omitempty"`
	Token       uint64                `msgpack:"tok,omitempty"`
	Suggestions []provider.Suggestion `msgpack:"s,omitempty"`
	Count       int                   `msgpack:"c"`
	TimeTaken   int64                 `msgpack:"ms,omitempty"`
	Failed      bool                  `msgpack:"failed,omitempty"`
	Selection   *selection.Selection  `msgpack:"sel,omitempty"`
	Error       string                `msgpack:"e,omitempty"`
	Code        int                   `msgpack:"code,omitempty"`
}

// IntPtr is a helper for building accept requests
func IntPtr(i int) *int {
	return &i
}
