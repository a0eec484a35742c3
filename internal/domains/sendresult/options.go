package sendresult

import (
	"fmt"
	"math"
	"time"

	"sendwatch/go-backend/pkg/models"
)

// Timeout is an optional deadline. The zero value means no deadline.
type Timeout struct {
	d   time.Duration
	set bool
}

var NoTimeout = Timeout{}

func TimeoutAfter(d time.Duration) Timeout {
	if d < 0 {
		d = 0
	}
	return Timeout{d: d, set: true}
}

// TimeoutFromMillis treats nil or a negative value as no deadline.
func TimeoutFromMillis(ms *int64) Timeout {
	if ms == nil || *ms < 0 {
		return NoTimeout
	}
	return TimeoutAfter(MillisToDuration(*ms))
}

// MillisToDuration converts a non-negative millisecond count, saturating at the
// largest Duration instead of wrapping negative.
func MillisToDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	if ms > math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

func (t Timeout) Duration() (time.Duration, bool) {
	return t.d, t.set
}

func (t Timeout) String() string {
	if !t.set {
		return "none"
	}
	return t.d.String()
}

// Options are fixed for the life of an Observer.
type Options struct {
	Authorized   bool
	SuccessTypes []string
	Timeout      Timeout
	Filter       models.MessageFilter
}

// OptionsFromRequest converts a host request. A missing success list is left
// for NewObserver to reject.
func OptionsFromRequest(req models.WatchRequest) Options {
	return Options{
		Authorized:   req.Authorized,
		SuccessTypes: append([]string(nil), req.SuccessTypes...),
		Timeout:      TimeoutFromMillis(req.TimeoutMillis),
		Filter:       req.Filter,
	}
}

func (o Options) String() string {
	return fmt.Sprintf("authorized=%t success=%v timeout=%s", o.Authorized, o.SuccessTypes, o.Timeout)
}
