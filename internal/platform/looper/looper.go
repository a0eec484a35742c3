package looper

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"sendwatch/go-backend/internal/domains/sendresult"
)

// Looper runs posted callbacks one at a time, in posting order, on a single
// goroutine. Delayed callbacks are scheduled on the configured clock and then
// queued like any other callback.
type Looper struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

var _ sendresult.Executor = (*Looper)(nil)

// New starts a looper. A nil clock means wall time.
func New(c clock.Clock, logger *slog.Logger) *Looper {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Looper{
		clock:   c,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. Posts after Close are dropped.
func (l *Looper) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostDelayed queues fn after d. The returned handle cancels it as long as
// fn has not started running.
func (l *Looper) PostDelayed(d time.Duration, fn func()) sendresult.Cancelable {
	t := &Timer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

// Flush blocks until every callback queued before the call has run.
func (l *Looper) Flush() {
	ch := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, func() { close(ch) })
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	select {
	case <-ch:
	case <-l.stopped:
	}
}

// Close drains queued callbacks and stops the loop.
func (l *Looper) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return
	}
	l.closed = true
	l.mu.Unlock()
	close(l.done)
	<-l.stopped
}

func (l *Looper) Clock() clock.Clock {
	return l.clock
}

func (l *Looper) run() {
	defer close(l.stopped)
	for {
		batch := l.take()
		for _, fn := range batch {
			l.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-l.done:
			for _, fn := range l.take() {
				l.invoke(fn)
			}
			return
		}
	}
}

func (l *Looper) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Looper) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("looper callback panicked", "panic", r)
		}
	}()
	fn()
}

// Timer is a pending PostDelayed callback.
type Timer struct {
	timer *clock.Timer
	fired atomic.Bool
}

// Stop reports whether the callback was prevented from running.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.timer.Stop()
	return t.fired.CompareAndSwap(false, true)
}
