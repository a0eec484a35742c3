package storage

import (
	"errors"
	"sync"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/internal/platform/ids"
	"sendwatch/go-backend/pkg/models"
)

var ErrUnknownSubscription = errors.New("unknown store subscription")

type changeSubscriber struct {
	filter   models.MessageFilter
	onChange func()
}

// changeHub hands out one handle per subscriber and fans store writes out to
// every subscriber whose filter matches the written record.
type changeHub struct {
	mu   sync.Mutex
	subs map[sendresult.SubscriptionID]changeSubscriber
}

func newChangeHub() *changeHub {
	return &changeHub{subs: make(map[sendresult.SubscriptionID]changeSubscriber)}
}

func (h *changeHub) subscribe(filter models.MessageFilter, onChange func()) (sendresult.SubscriptionID, error) {
	if onChange == nil {
		return "", errors.New("change callback is required")
	}
	raw, err := ids.GeneratePrefixedID("sub")
	if err != nil {
		return "", err
	}
	id := sendresult.SubscriptionID(raw)
	h.mu.Lock()
	h.subs[id] = changeSubscriber{filter: filter, onChange: onChange}
	h.mu.Unlock()
	return id, nil
}

func (h *changeHub) unsubscribe(id sendresult.SubscriptionID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return ErrUnknownSubscription
	}
	delete(h.subs, id)
	return nil
}

// notify must be called without any store lock held; callbacks may query the store.
func (h *changeHub) notify(rec models.SMSRecord) {
	h.mu.Lock()
	targets := make([]func(), 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.filter.Matches(rec) {
			targets = append(targets, sub.onChange)
		}
	}
	h.mu.Unlock()
	for _, fn := range targets {
		fn()
	}
}

func (h *changeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
