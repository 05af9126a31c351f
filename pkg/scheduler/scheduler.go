// Package scheduler decides when a partially typed search is sent to the
// provider.
//
// A session starts Idle. Queryable text arms a one-shot initial timer
// (AwaitingInitial); each keystroke restarts it, so the first request goes
// out one quiet period after the last keystroke of a burst. After that the
// session is Recurring: every interval tick sends the current text if it
// changed since the last request. Accepting a suggestion moves to Suppressed,
// where nothing is sent until the text diverges from the accepted value.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shaneisley/placeahead/pkg/backoff"
	"github.com/shaneisley/placeahead/pkg/executor"
	"github.com/shaneisley/placeahead/pkg/logging"
	"github.com/shaneisley/placeahead/pkg/metrics"
	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/session"
	"github.com/shaneisley/placeahead/pkg/timer"
)

const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultInterval     = 1200 * time.Millisecond
)

// ErrClosed is returned for events sent after Close
var ErrClosed = errors.New("scheduler closed")

// Options configures a Scheduler
type Options struct {
	Provider     provider.Provider
	Clock        timer.Clock
	InitialDelay time.Duration
	Interval     time.Duration
	MinLength    int
	Timeout      time.Duration

	// Cooldown spaces requests after provider failures; nil disables it.
	Cooldown    backoff.Strategy
	MaxCooldown time.Duration

	Observer Observer
	Metrics  *metrics.SessionMetrics
	Recorder metrics.Recorder
	Logger   *logging.Logger
}

// Scheduler is the request state machine of one input. It owns one timer
// engine and one executor.
type Scheduler struct {
	mu sync.Mutex

	session  *session.Session
	engine   *timer.Engine
	exec     *executor.Executor
	observer Observer
	metrics  *metrics.SessionMetrics
	logger   *logging.Logger

	initialDelay time.Duration
	interval     time.Duration

	cooldown  *backoff.HTTPAware
	failures  int
	coolUntil time.Time

	// epoch changes on every mode change and initial-timer restart; timer
	// callbacks from an older epoch are ignored
	epoch       uint64
	inflight    executor.Token
	suggestions []provider.Suggestion

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates an idle Scheduler
func New(opts Options) *Scheduler {
	if opts.Provider == nil {
		opts.Provider = provider.Empty
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = executor.DefaultTimeout
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	sess := session.New(opts.MinLength)

	exec := executor.NewExecutorWithTimeout(opts.Provider, opts.Timeout)
	exec.MinLength = sess.MinLength()
	exec.Logger = opts.Logger.WithComponent("executor")
	var recorders metrics.MultiRecorder
	if opts.Metrics != nil {
		recorders = append(recorders, opts.Metrics)
	}
	if opts.Recorder != nil {
		recorders = append(recorders, opts.Recorder)
	}
	exec.Recorder = recorders

	s := &Scheduler{
		session:      sess,
		engine:       timer.NewEngine(opts.Clock),
		exec:         exec,
		observer:     opts.Observer,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		initialDelay: opts.InitialDelay,
		interval:     opts.Interval,
	}
	if opts.Cooldown != nil {
		s.cooldown = backoff.NewHTTPAware(opts.Cooldown, opts.MaxCooldown)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// OnTextChanged feeds the full current text of the input
func (s *Scheduler) OnTextChanged(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.session.SetText(text)
	queryable := s.session.Queryable(text)

	switch s.session.Mode {
	case session.Suppressed:
		if s.session.Matches(text) {
			return nil
		}
		s.session.ClearAccepted()
		if queryable {
			s.enterAwaiting("diverged from accepted value")
		} else {
			s.enterIdle("diverged below minimum length")
		}

	case session.Idle:
		switch {
		case !queryable:
		case s.session.Matches(text):
			s.setMode(session.Suppressed, "matches accepted value")
		default:
			s.enterAwaiting("queryable text")
		}

	case session.AwaitingInitial:
		switch {
		case !queryable:
			s.enterIdle("below minimum length")
		case s.session.Matches(text):
			s.enterSuppressed("matches accepted value")
		default:
			// restart so the burst is timed from the last keystroke
			s.armInitial()
		}

	case session.Recurring:
		switch {
		case !queryable:
			s.enterIdle("below minimum length")
		case s.session.Matches(text):
			s.enterSuppressed("matches accepted value")
		}
	}
	return nil
}

// Accept marks displayText as the accepted value and suppresses requests
// until the text diverges from it
func (s *Scheduler) Accept(displayText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.session.Accept(displayText)
	s.enterSuppressed("suggestion accepted")
	return nil
}

// Commit finalizes free text (blur, Enter, Escape). It reports whether the
// accepted value survived, which holds only when the trimmed text equals the
// trimmed accepted value.
func (s *Scheduler) Commit(text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	accepted := s.session.AcceptedText
	if accepted != "" && session.Normalize(text) == session.Normalize(accepted) {
		s.session.Accept(accepted)
		s.enterSuppressed("committed accepted value")
		return true, nil
	}

	s.session.SetText(text)
	s.session.ClearAccepted()
	s.enterIdle("committed free text")
	return false, nil
}

// Close stops all timers and cancels the in-flight request. Later events
// return ErrClosed. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.enterIdle("closed")
	s.closed = true
	s.engine.StopAll()
	s.cancel()
	return nil
}

// Snapshot returns a copy of the session
func (s *Scheduler) Snapshot() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Snapshot()
}

// Mode returns the current scheduler mode
func (s *Scheduler) Mode() session.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Mode
}

// LastSuggestions returns the most recently applied suggestion list
func (s *Scheduler) LastSuggestions() []provider.Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]provider.Suggestion, len(s.suggestions))
	copy(out, s.suggestions)
	return out
}

// InFlight reports whether a request is still waiting for its response
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inflight.IsZero()
}

// CooldownRemaining returns how long requests are still held after failures
func (s *Scheduler) CooldownRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coolUntil.IsZero() {
		return 0
	}
	if d := s.coolUntil.Sub(s.engine.Clock().Now()); d > 0 {
		return d
	}
	return 0
}

func (s *Scheduler) enterAwaiting(reason string) {
	// a new burst owes its first request even for text sent before
	s.session.LastRequestedText = ""
	s.setMode(session.AwaitingInitial, reason)
	s.armInitial()
}

func (s *Scheduler) armInitial() {
	s.epoch++
	epoch := s.epoch
	s.engine.StartInitial(s.initialDelay, func() { s.onInitialFire(epoch) })
}

func (s *Scheduler) enterIdle(reason string) {
	s.dropInflight()
	s.suggestions = nil
	s.setMode(session.Idle, reason)
	s.session.Reset()
}

func (s *Scheduler) enterSuppressed(reason string) {
	s.dropInflight()
	s.suggestions = nil
	s.setMode(session.Suppressed, reason)
}

func (s *Scheduler) dropInflight() {
	s.exec.Cancel()
	s.inflight = executor.Token{}
}

// setMode is the only place the mode changes. Leaving a timer-driven mode
// always stops the timer engine.
func (s *Scheduler) setMode(to session.Mode, reason string) {
	from := s.session.Mode
	if from == to {
		return
	}
	if from.Scheduling() {
		s.engine.StopAll()
	}
	s.session.Mode = to
	s.epoch++
	s.logger.LogTransition(from.String(), to.String(), reason)
	s.observer.OnStateChange(from, to)
}

func (s *Scheduler) onInitialFire(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || epoch != s.epoch || s.session.Mode != session.AwaitingInitial {
		return
	}
	if !s.session.Queryable(s.session.RawText) {
		s.enterIdle("below minimum length")
		return
	}

	s.setMode(session.Recurring, "initial delay elapsed")
	recurring := s.epoch
	s.engine.StartRecurring(s.interval, func() bool { return s.onTick(recurring) })

	if s.coolingDown() {
		s.recordSuppressedTick()
		return
	}
	s.fire()
}

func (s *Scheduler) onTick(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || epoch != s.epoch || s.session.Mode != session.Recurring {
		return false
	}
	if session.Normalize(s.session.RawText) == "" {
		return false
	}
	if !s.session.NeedsRequest() {
		return true
	}
	if s.coolingDown() {
		s.recordSuppressedTick()
		return true
	}
	s.fire()
	return true
}

func (s *Scheduler) fire() {
	query := s.session.Query()
	epoch := s.epoch

	tok, err := s.exec.Execute(s.ctx, query, func(r executor.Result) { s.onResult(epoch, r) })
	if err != nil {
		s.logger.Debug("request not issued", "query", query, "error", err)
		return
	}

	s.session.MarkRequested(query)
	s.inflight = tok
	if s.metrics != nil {
		s.metrics.RecordIssued()
	}
	s.observer.OnRequest(query, tok)
}

func (s *Scheduler) onResult(epoch uint64, r executor.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || epoch != s.epoch || r.Token != s.inflight {
		s.logger.Debug("discarding stale response", "query", r.Query, "token", r.Token.String())
		if s.metrics != nil {
			s.metrics.RecordStale()
		}
		return
	}
	s.inflight = executor.Token{}
	s.suggestions = r.Suggestions
	s.observeOutcome(r)

	if s.metrics != nil {
		s.metrics.RecordApplied()
	}
	s.observer.OnSuggestions(r)
}

func (s *Scheduler) observeOutcome(r executor.Result) {
	if s.cooldown == nil {
		return
	}
	if !r.Failed() {
		s.failures = 0
		s.coolUntil = time.Time{}
		s.cooldown.ObserveRetryAfter(0)
		return
	}

	s.failures++
	s.cooldown.ObserveRetryAfter(r.RetryAfter)
	delay := s.cooldown.Delay(s.failures)
	if delay <= 0 {
		return
	}
	s.coolUntil = s.engine.Clock().Now().Add(delay)
	s.logger.Info("provider failing, holding requests",
		"failures", s.failures, "cooldown", delay, "error", r.Err)
}

func (s *Scheduler) coolingDown() bool {
	return !s.coolUntil.IsZero() && s.engine.Clock().Now().Before(s.coolUntil)
}

func (s *Scheduler) recordSuppressedTick() {
	if s.metrics != nil {
		s.metrics.RecordSuppressedTick()
	}
}
