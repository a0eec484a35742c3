package app

import (
	"context"

	"sendwatch/go-backend/pkg/models"
)

type WatchAPI interface {
	StartWatch(req models.WatchRequest) (models.WatchStatus, error)
	AwaitWatch(ctx context.Context, watchID string) (models.WatchStatus, error)
	StopWatch(watchID string) (models.WatchStatus, error)
	WatchStatus(watchID string) (models.WatchStatus, error)

	PutRecord(ctx context.Context, rec models.SMSRecord) (models.SMSRecord, error)
	UpdateRecordType(ctx context.Context, recordID string, typeCode int) (bool, error)
	LatestRecord(ctx context.Context, filter models.MessageFilter) (models.SMSRecord, bool, error)

	ActiveWatches() int
}
