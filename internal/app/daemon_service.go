package app

import "sendwatch/go-backend/pkg/models"

type DaemonService interface {
	WatchAPI
	SubscribeOutcomes(cursor int64) ([]models.OutcomeEvent, <-chan models.OutcomeEvent, func())
	Close()
}
