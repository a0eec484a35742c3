package sendresult

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const queryTimeout = 5 * time.Second

// Reasons passed to Metrics.ChangeIgnored.
const (
	IgnoredNoRecord    = "no_record"
	IgnoredQueryFailed = "query_failed"
	IgnoredIrrelevant  = "irrelevant"
)

type observerState int

const (
	stateIdle observerState = iota
	stateArmed
	stateCompleted
)

func (s observerState) String() string {
	switch s {
	case stateArmed:
		return "armed"
	case stateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Deps are the collaborators an Observer needs.
type Deps struct {
	Store    Store
	Executor Executor
	Sink     ResultSink
}

type Option func(*Observer)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *Observer) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(o *Observer) {
		if now != nil {
			o.now = now
		}
	}
}

// Observer waits for the store to record the result of a just-sent message
// and reports it to the sink once. It is single use: after the first outcome,
// or after Stop, it never arms again.
//
// State moves Idle -> Armed -> Completed. Only the first relevant change or
// timeout moves an Armed observer to Completed; every later trigger is dropped.
type Observer struct {
	opts    Options
	success SuccessSet
	store   Store
	exec    Executor
	sink    ResultSink
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time

	mu         sync.Mutex
	state      observerState
	subID      SubscriptionID
	subscribed bool
	timer      Cancelable
	startedAt  time.Time
	outcome    Outcome
}

// NewObserver validates the options. A missing or unknown success type is
// reported as ErrConfiguration and nothing is started.
func NewObserver(opts Options, deps Deps, options ...Option) (*Observer, error) {
	success, err := NewSuccessSet(opts.SuccessTypes)
	if err != nil {
		return nil, err
	}
	if deps.Executor == nil || deps.Sink == nil {
		return nil, fmt.Errorf("%w: executor and result sink are required", ErrConfiguration)
	}
	o := &Observer{
		opts:    opts,
		success: success,
		store:   deps.Store,
		exec:    deps.Executor,
		sink:    deps.Sink,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: noopMetrics{},
		now:     time.Now,
	}
	o.opts.SuccessTypes = success.Names()
	for _, apply := range options {
		apply(o)
	}
	return o, nil
}

// Start subscribes to the store and arms the deadline. An unauthorized
// observer never arms and never reports. Calling Start on an observer that is
// not idle does nothing.
func (o *Observer) Start() error {
	if !o.opts.Authorized {
		o.logger.Debug("send result watch not authorized, not arming")
		return nil
	}
	if o.store == nil {
		return ErrStoreUnavailable
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateIdle {
		return nil
	}
	id, err := o.store.Subscribe(o.opts.Filter, o.notifyChange)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	o.subID = id
	o.subscribed = true
	if d, ok := o.opts.Timeout.Duration(); ok {
		o.timer = o.exec.PostDelayed(d, o.onTimeout)
	}
	o.state = stateArmed
	o.startedAt = o.now()
	o.metrics.WatchStarted()
	o.logger.Debug("send result watch armed", "subscription_id", string(id), "timeout", o.opts.Timeout.String())
	return nil
}

// Stop releases the store subscription and the pending deadline. It never
// fails and may be called any number of times. Stopping an armed observer
// disarms it without reporting anything.
func (o *Observer) Stop() {
	o.mu.Lock()
	subID, subscribed := o.subID, o.subscribed
	timer := o.timer
	o.subscribed = false
	o.timer = nil
	aborted := o.state == stateArmed
	o.state = stateCompleted
	startedAt := o.startedAt
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if subscribed {
		if err := o.store.Unsubscribe(subID); err != nil {
			o.logger.Warn("send result unsubscribe failed", "subscription_id", string(subID), "error", err)
		}
	}
	if aborted {
		o.metrics.WatchFinished(OutcomeNone, o.now().Sub(startedAt))
	}
	o.logger.Debug("send flow stopped")
}

// State is one of idle, armed or completed.
func (o *Observer) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.String()
}

// Outcome is OutcomeNone until a result has been delivered.
func (o *Observer) Outcome() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

func (o *Observer) Options() Options {
	return o.opts
}

func (o *Observer) notifyChange() {
	o.exec.Post(o.onChange)
}

func (o *Observer) onChange() {
	o.mu.Lock()
	if o.state != stateArmed {
		o.mu.Unlock()
		return
	}
	if !o.opts.Authorized {
		o.completeLocked(OutcomeGeneric)
		return
	}
	o.mu.Unlock()

	// the query runs unlocked so Stop never waits on the store
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	rec, found, err := o.store.QueryLatest(ctx, o.opts.Filter)
	cancel()
	switch {
	case err != nil:
		o.metrics.ChangeIgnored(IgnoredQueryFailed)
		o.logger.Warn("send result query failed", "error", err)
		return
	case !found:
		o.metrics.ChangeIgnored(IgnoredNoRecord)
		return
	}

	category := CategoryOf(rec.Type)
	if category.IsIrrelevant() {
		o.metrics.ChangeIgnored(IgnoredIrrelevant)
		o.logger.Debug("send result change ignored", "record_id", rec.ID, "category", category.String())
		return
	}
	outcome := OutcomeError
	if o.success.Contains(category) {
		outcome = OutcomeSuccess
	}

	o.mu.Lock()
	if o.state != stateArmed {
		// stopped or timed out while the query was in flight
		o.mu.Unlock()
		return
	}
	o.completeLocked(outcome)
}

func (o *Observer) onTimeout() {
	o.mu.Lock()
	if o.state != stateArmed {
		o.mu.Unlock()
		return
	}
	o.completeLocked(OutcomeCancelled)
}

// completeLocked is called with o.mu held and releases it. The state flip
// happens under the lock so only one trigger reaches the sink.
func (o *Observer) completeLocked(outcome Outcome) {
	o.state = stateCompleted
	o.outcome = outcome
	var elapsed time.Duration
	if !o.startedAt.IsZero() {
		elapsed = o.now().Sub(o.startedAt)
	}
	o.mu.Unlock()

	success, cancelled, failed := outcome.Flags()
	o.logger.Info("send result delivered", "outcome", outcome.String(), "elapsed_ms", elapsed.Milliseconds())
	o.sink.Deliver(success, cancelled, failed)
	o.metrics.WatchFinished(outcome, elapsed)
	o.Stop()
}
