package models

import (
	"strings"
	"time"
)

// SMSRecord is one row of the device message store. Only the fields the
// send-result flow reads are modelled; message bodies are never parsed.
type SMSRecord struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Type      int       `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageFilter narrows store queries and subscriptions. The zero value matches every record.
type MessageFilter struct {
	Address string `json:"address,omitempty"`
}

func (f MessageFilter) Matches(rec SMSRecord) bool {
	addr := NormalizeAddress(f.Address)
	if addr == "" {
		return true
	}
	return strings.EqualFold(addr, NormalizeAddress(rec.Address))
}

// WatchRequest mirrors the options a host application passes when it starts
// waiting for a send result.
type WatchRequest struct {
	Authorized    bool          `json:"authorized"`
	SuccessTypes  []string      `json:"success_types"`
	TimeoutMillis *int64        `json:"timeout_ms,omitempty"`
	Filter        MessageFilter `json:"filter"`
}

// SendResult is the three-flag callback shape host applications expect.
type SendResult struct {
	Success   bool `json:"success"`
	Cancelled bool `json:"cancelled"`
	Error     bool `json:"error"`
}

type WatchStatus struct {
	WatchID     string      `json:"watch_id"`
	State       string      `json:"state"`
	Outcome     string      `json:"outcome,omitempty"`
	Result      *SendResult `json:"result,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

type OutcomeEvent struct {
	Seq       int64      `json:"seq"`
	WatchID   string     `json:"watch_id"`
	Outcome   string     `json:"outcome"`
	Result    SendResult `json:"result"`
	Timestamp time.Time  `json:"timestamp"`
}
