package sendresult

import (
	"context"
	"time"

	"sendwatch/go-backend/pkg/models"
)

// SubscriptionID identifies one store registration.
type SubscriptionID string

// Store is the device message store as seen by an Observer. Notifications
// carry no payload; observers re-query on every change.
type Store interface {
	Subscribe(filter models.MessageFilter, onChange func()) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	QueryLatest(ctx context.Context, filter models.MessageFilter) (models.SMSRecord, bool, error)
}

// Cancelable is a pending delayed callback.
type Cancelable interface {
	Stop() bool
}

// Executor runs callbacks in order on a single execution context and doubles
// as the timer facility.
type Executor interface {
	Post(fn func())
	PostDelayed(d time.Duration, fn func()) Cancelable
}

// ResultSink receives the outcome of a watch. Exactly one of the flags is set,
// or none for a generic result.
type ResultSink interface {
	Deliver(success, cancelled, failed bool)
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(success, cancelled, failed bool)

func (f SinkFunc) Deliver(success, cancelled, failed bool) {
	f(success, cancelled, failed)
}

// Metrics is optional instrumentation for observers.
type Metrics interface {
	WatchStarted()
	WatchFinished(outcome Outcome, elapsed time.Duration)
	ChangeIgnored(reason string)
}

type noopMetrics struct{}

func (noopMetrics) WatchStarted() {}

func (noopMetrics) WatchFinished(Outcome, time.Duration) {}

func (noopMetrics) ChangeIgnored(string) {}
