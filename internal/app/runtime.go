package app

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/internal/platform/privacylog"
	"sendwatch/go-backend/pkg/models"
)

const outcomeSubscriberBuffer = 128

func nowUTC() time.Time {
	return time.Now().UTC()
}

// OutcomeHub keeps a bounded history of finished watches and fans each new
// outcome out to live subscribers. A subscriber that falls behind is dropped.
type OutcomeHub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []models.OutcomeEvent
	subs    map[int]chan models.OutcomeEvent
	nextSub int
}

func NewOutcomeHub(limit int) *OutcomeHub {
	if limit < 1 {
		limit = 1
	}
	return &OutcomeHub{
		limit: limit,
		subs:  make(map[int]chan models.OutcomeEvent),
	}
}

func (h *OutcomeHub) Publish(watchID string, outcome sendresult.Outcome) models.OutcomeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := models.OutcomeEvent{
		Seq:       h.nextSeq,
		WatchID:   watchID,
		Outcome:   outcome.String(),
		Result:    outcome.Result(),
		Timestamp: nowUTC(),
	}
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]models.OutcomeEvent(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}

	return event
}

// Subscribe returns the retained events after fromSeq and a channel for new
// ones. The cancel func closes the channel and is safe to call twice.
func (h *OutcomeHub) Subscribe(fromSeq int64) ([]models.OutcomeEvent, <-chan models.OutcomeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]models.OutcomeEvent, 0)
	for _, event := range h.history {
		if event.Seq > fromSeq {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan models.OutcomeEvent, outcomeSubscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *OutcomeHub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}

func (h *OutcomeHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func DefaultLogger() *slog.Logger {
	return privacylog.NewLogger(os.Stdout, "info", "json")
}
