// Package executor issues provider queries with at most one call in flight.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shaneisley/placeahead/pkg/logging"
	"github.com/shaneisley/placeahead/pkg/metrics"
	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/session"
)

var (
	// ErrQueryTooShort is returned when a query is below the minimum length
	ErrQueryTooShort = errors.New("query below minimum length")
	// ErrCancelled is returned by Query when its call was cancelled or superseded
	ErrCancelled = errors.New("request cancelled")
)

// Token identifies one outstanding provider call. The zero Token is never issued.
type Token struct {
	Seq uint64
	ID  string
}

// IsZero reports whether t is the zero Token
func (t Token) IsZero() bool {
	return t.Seq == 0
}

func (t Token) String() string {
	return fmt.Sprintf("#%d/%s", t.Seq, t.ID)
}

// Result is delivered for a call that completed while its token was current.
// Failed calls deliver an empty Suggestions list; Err is informational.
type Result struct {
	Token       Token
	Query       string
	Suggestions []provider.Suggestion
	Duration    time.Duration
	Err         error
	RetryAfter  time.Duration
}

// Failed reports whether the call ended in a transport, status or parse failure
func (r Result) Failed() bool {
	return r.Err != nil
}

// Executor holds at most one outstanding call. Issuing a new call cancels the
// held one first.
type Executor struct {
	Provider  provider.Provider
	Timeout   time.Duration
	MinLength int
	Recorder  metrics.Recorder
	Logger    *logging.Logger

	mu      sync.Mutex
	seq     uint64
	current Token
	cancel  context.CancelFunc
}

// NewExecutor creates an Executor with the default timeout
func NewExecutor(p provider.Provider) *Executor {
	return NewExecutorWithTimeout(p, DefaultTimeout)
}

// NewExecutorWithTimeout creates an Executor with the given per-call timeout
func NewExecutorWithTimeout(p provider.Provider, timeout time.Duration) *Executor {
	return &Executor{
		Provider:  p,
		Timeout:   timeout,
		MinLength: DefaultMinLength,
		Logger:    logging.Nop(),
	}
}

// Execute cancels any held call and issues query in the background.
// deliver runs on the call's goroutine, only if the call finished (success or
// failure) while its token was still current. Cancelled calls deliver nothing.
func (e *Executor) Execute(ctx context.Context, query string, deliver func(Result)) (Token, error) {
	tok, _, err := e.start(ctx, query, deliver)
	return tok, err
}

// Do is a blocking form of Execute for one-shot lookups. It returns the
// Result, failed or not, or ErrCancelled when the call ends without one.
func (e *Executor) Do(ctx context.Context, query string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan Result, 1)
	tok, ended, err := e.start(ctx, query, func(r Result) { done <- r })
	if err != nil {
		return Result{}, err
	}

	select {
	case r := <-done:
		return r, nil
	case <-ended:
		// deliver runs before ended closes
		select {
		case r := <-done:
			return r, nil
		default:
			return Result{}, ErrCancelled
		}
	case <-ctx.Done():
		e.CancelToken(tok)
		return Result{}, ErrCancelled
	}
}

// Query is Do reduced to the suggestion list. Failed calls return an empty list.
func (e *Executor) Query(ctx context.Context, query string) ([]provider.Suggestion, error) {
	r, err := e.Do(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.Suggestions, nil
}

// start issues the call; ended is closed once the call's goroutine is done
func (e *Executor) start(ctx context.Context, query string, deliver func(Result)) (Token, <-chan struct{}, error) {
	query = session.Normalize(query)
	if utf8.RuneCountInString(query) < e.minLength() {
		return Token{}, nil, ErrQueryTooShort
	}

	e.mu.Lock()
	e.cancelLocked()

	e.seq++
	tok := Token{Seq: e.seq, ID: uuid.NewString()}

	callCtx, cancel := e.callContext(ctx)
	e.current = tok
	e.cancel = cancel
	e.mu.Unlock()

	ended := make(chan struct{})
	e.logger().Debug("request issued", "token", tok.String(), "query", query)
	go func() {
		defer close(ended)
		e.run(callCtx, cancel, tok, query, deliver)
	}()

	return tok, ended, nil
}

// Cancel drops the held call, if any. Its result will never be delivered.
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
}

// CancelToken cancels the held call only if it is tok
func (e *Executor) CancelToken(tok Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == tok {
		e.cancelLocked()
	}
}

// Current returns the held token
func (e *Executor) Current() (Token, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, !e.current.IsZero()
}

// IsCurrent reports whether tok is the held token
func (e *Executor) IsCurrent(tok Token) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !tok.IsZero() && e.current == tok
}

func (e *Executor) cancelLocked() {
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = nil
	e.current = Token{}
}

func (e *Executor) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if e.Timeout > 0 {
		return context.WithTimeout(parent, e.Timeout)
	}
	return context.WithCancel(parent)
}

func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, tok Token, query string, deliver func(Result)) {
	defer cancel()
	logger := e.logger().WithRequest(tok.ID)

	start := time.Now()
	suggestions, err := e.search(ctx, query)
	elapsed := time.Since(start)

	e.mu.Lock()
	current := e.current == tok
	if current {
		e.current = Token{}
		e.cancel = nil
	}
	e.mu.Unlock()

	metric := metrics.RequestMetric{
		Token:     tok.ID,
		Query:     query,
		QueryHash: metrics.QueryHash(query),
		Duration:  elapsed,
		Timestamp: start,
	}

	// Superseded, cancelled by Cancel, or the caller's context went away.
	if !current || errors.Is(ctx.Err(), context.Canceled) {
		logger.Debug("dropping cancelled response", "query", query)
		metric.Outcome = metrics.OutcomeCancelled
		e.record(metric)
		return
	}

	result := Result{Token: tok, Query: query, Duration: elapsed}
	if err != nil {
		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) {
			metric.StatusCode = statusErr.Code
			result.RetryAfter = statusErr.RetryAfter
		}
		logger.Warn("search failed, showing no suggestions", "query", query, "error", err)
		result.Err = err
		result.Suggestions = []provider.Suggestion{}
		metric.Outcome = metrics.OutcomeFailed
	} else {
		if suggestions == nil {
			suggestions = []provider.Suggestion{}
		}
		result.Suggestions = suggestions
		metric.Outcome = metrics.OutcomeDelivered
		metric.Results = len(suggestions)
	}
	e.record(metric)

	if deliver != nil {
		deliver(result)
	}
}

// search shields callers from provider panics; they surface as failures
func (e *Executor) search(ctx context.Context, query string) (suggestions []provider.Suggestion, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	if e.Provider == nil {
		return nil, errors.New("no provider configured")
	}
	return e.Provider.Search(ctx, query)
}

func (e *Executor) record(metric metrics.RequestMetric) {
	if e.Recorder != nil {
		e.Recorder.RecordRequest(metric)
	}
}

func (e *Executor) minLength() int {
	if e.MinLength <= 0 {
		return DefaultMinLength
	}
	return e.MinLength
}

func (e *Executor) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.Nop()
	}
	return e.Logger
}
