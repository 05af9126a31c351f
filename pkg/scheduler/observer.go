package scheduler

import (
	"github.com/shaneisley/placeahead/pkg/executor"
	"github.com/shaneisley/placeahead/pkg/session"
)

// Observer receives scheduler output. Methods are called synchronously with
// the scheduler lock held, in the order the events happen; they must not
// call back into the Scheduler.
type Observer interface {
	OnStateChange(from, to session.Mode)
	OnRequest(query string, token executor.Token)
	OnSuggestions(result executor.Result)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) OnStateChange(from, to session.Mode)          {}
func (NopObserver) OnRequest(query string, token executor.Token) {}
func (NopObserver) OnSuggestions(result executor.Result)         {}

// Observers fans events out to several observers in order
type Observers []Observer

func (o Observers) OnStateChange(from, to session.Mode) {
	for _, obs := range o {
		if obs != nil {
			obs.OnStateChange(from, to)
		}
	}
}

func (o Observers) OnRequest(query string, token executor.Token) {
	for _, obs := range o {
		if obs != nil {
			obs.OnRequest(query, token)
		}
	}
}

func (o Observers) OnSuggestions(result executor.Result) {
	for _, obs := range o {
		if obs != nil {
			obs.OnSuggestions(result)
		}
	}
}
