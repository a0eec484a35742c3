package app

import (
	"context"
	"log/slog"
	"time"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/pkg/models"
)

// MessageRepository is the device message store as the service sees it.
type MessageRepository interface {
	sendresult.Store
	PutRecord(ctx context.Context, rec models.SMSRecord) (models.SMSRecord, error)
	UpdateType(ctx context.Context, id string, typeCode int) (bool, error)
}

type OutcomeBus interface {
	Subscribe(fromSeq int64) ([]models.OutcomeEvent, <-chan models.OutcomeEvent, func())
	Publish(watchID string, outcome sendresult.Outcome) models.OutcomeEvent
	BacklogSize() int
}

// WatchDefaults fill in what a host request leaves out.
type WatchDefaults struct {
	Timeout      time.Duration
	SuccessTypes []string
}

type ServiceOptions struct {
	Store    MessageRepository
	Executor sendresult.Executor
	Outcomes OutcomeBus
	Metrics  sendresult.Metrics
	Logger   *slog.Logger
	Now      func() time.Time

	Defaults        WatchDefaults
	MaxActive       int
	RetainCompleted time.Duration
}

const (
	DefaultOutcomeBacklog  = 512
	DefaultRetainCompleted = 5 * time.Minute
	StoreWriteTimeout      = 5 * time.Second
)
