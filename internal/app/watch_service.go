package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/internal/platform/ids"
	"sendwatch/go-backend/pkg/models"
)

type watchEntry struct {
	observer *sendresult.Observer
	done     chan struct{}
	finished bool
	status   models.WatchStatus
}

// WatchService owns one observer per started watch. Finished watches are kept
// for RetainCompleted so late AwaitWatch and WatchStatus calls still see them.
type WatchService struct {
	store    MessageRepository
	exec     sendresult.Executor
	outcomes OutcomeBus
	metrics  sendresult.Metrics
	logger   *slog.Logger
	now      func() time.Time

	defaults  WatchDefaults
	maxActive int
	retain    time.Duration

	mu      sync.Mutex
	watches map[string]*watchEntry
	active  int
	closed  bool
}

var _ DaemonService = (*WatchService)(nil)

func NewWatchService(opts ServiceOptions) (*WatchService, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: message store is required", sendresult.ErrStoreUnavailable)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("%w: executor is required", sendresult.ErrConfiguration)
	}
	if len(opts.Defaults.SuccessTypes) > 0 {
		if _, err := sendresult.NewSuccessSet(opts.Defaults.SuccessTypes); err != nil {
			return nil, err
		}
	}
	s := &WatchService{
		store:     opts.Store,
		exec:      opts.Executor,
		outcomes:  opts.Outcomes,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		defaults:  opts.Defaults,
		maxActive: opts.MaxActive,
		retain:    opts.RetainCompleted,
		watches:   make(map[string]*watchEntry),
	}
	if s.outcomes == nil {
		s.outcomes = NewOutcomeHub(DefaultOutcomeBacklog)
	}
	if s.logger == nil {
		s.logger = DefaultLogger()
	}
	if s.now == nil {
		s.now = nowUTC
	}
	if s.retain <= 0 {
		s.retain = DefaultRetainCompleted
	}
	return s, nil
}

// StartWatch builds and arms an observer for req. An unauthorized request is
// accepted but never arms; its status stays idle.
func (s *WatchService) StartWatch(req models.WatchRequest) (models.WatchStatus, error) {
	req = s.applyDefaults(req)

	watchID, err := ids.GeneratePrefixedID("watch")
	if err != nil {
		return models.WatchStatus{}, err
	}
	logger := s.logger.With("watch_id", watchID)

	sink := sendresult.SinkFunc(func(success, cancelled, failed bool) {
		s.finish(watchID, sendresult.OutcomeFromFlags(success, cancelled, failed))
	})
	options := []sendresult.Option{
		sendresult.WithLogger(logger),
		sendresult.WithNow(s.now),
	}
	if s.metrics != nil {
		options = append(options, sendresult.WithMetrics(s.metrics))
	}
	obs, err := sendresult.NewObserver(sendresult.OptionsFromRequest(req), sendresult.Deps{
		Store:    s.store,
		Executor: s.exec,
		Sink:     sink,
	}, options...)
	if err != nil {
		return models.WatchStatus{}, categorize(CategoryAPI, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	entry := &watchEntry{
		observer: obs,
		done:     make(chan struct{}),
		status: models.WatchStatus{
			WatchID:   watchID,
			State:     "armed",
			StartedAt: s.now(),
		},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.WatchStatus{}, ErrServiceClosed
	}
	s.pruneLocked()
	if s.maxActive > 0 && s.active >= s.maxActive {
		s.mu.Unlock()
		return models.WatchStatus{}, categorize(CategoryLimit, ErrTooManyWatches)
	}
	s.watches[watchID] = entry
	s.active++
	s.mu.Unlock()

	if err := obs.Start(); err != nil {
		s.mu.Lock()
		delete(s.watches, watchID)
		s.active--
		s.mu.Unlock()
		return models.WatchStatus{}, categorize(CategoryStorage, err)
	}

	if obs.State() == "idle" {
		s.mu.Lock()
		s.markFinishedLocked(entry, "idle", sendresult.OutcomeNone)
		status := entry.status
		s.mu.Unlock()
		logger.Info("send result watch not armed", "reason", "unauthorized")
		return status, nil
	}

	logger.Info("send result watch started", "options", obs.Options().String())
	return s.WatchStatus(watchID)
}

// AwaitWatch blocks until the watch finishes or ctx is done.
func (s *WatchService) AwaitWatch(ctx context.Context, watchID string) (models.WatchStatus, error) {
	s.mu.Lock()
	entry, ok := s.watches[watchID]
	s.mu.Unlock()
	if !ok {
		return models.WatchStatus{}, categorize(CategoryAPI, ErrWatchNotFound)
	}
	select {
	case <-entry.done:
	case <-ctx.Done():
		return models.WatchStatus{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return entry.status, nil
}

// StopWatch disarms the observer. A watch that already has an outcome keeps it.
func (s *WatchService) StopWatch(watchID string) (models.WatchStatus, error) {
	s.mu.Lock()
	entry, ok := s.watches[watchID]
	s.mu.Unlock()
	if !ok {
		return models.WatchStatus{}, categorize(CategoryAPI, ErrWatchNotFound)
	}

	entry.observer.Stop()
	// the sink may still be on its way; finish is idempotent either way
	s.finish(watchID, entry.observer.Outcome())

	s.mu.Lock()
	defer s.mu.Unlock()
	return entry.status, nil
}

func (s *WatchService) WatchStatus(watchID string) (models.WatchStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	entry, ok := s.watches[watchID]
	if !ok {
		return models.WatchStatus{}, categorize(CategoryAPI, ErrWatchNotFound)
	}
	status := entry.status
	if !entry.finished {
		status.State = entry.observer.State()
	}
	return status, nil
}

func (s *WatchService) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *WatchService) SubscribeOutcomes(cursor int64) ([]models.OutcomeEvent, <-chan models.OutcomeEvent, func()) {
	return s.outcomes.Subscribe(cursor)
}

func (s *WatchService) PutRecord(ctx context.Context, rec models.SMSRecord) (models.SMSRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, StoreWriteTimeout)
	defer cancel()
	saved, err := s.store.PutRecord(ctx, rec)
	if err != nil {
		return models.SMSRecord{}, categorize(CategoryStorage, err)
	}
	return saved, nil
}

func (s *WatchService) UpdateRecordType(ctx context.Context, recordID string, typeCode int) (bool, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return false, categorize(CategoryAPI, errors.New("record id is required"))
	}
	ctx, cancel := context.WithTimeout(ctx, StoreWriteTimeout)
	defer cancel()
	ok, err := s.store.UpdateType(ctx, recordID, typeCode)
	if err != nil {
		return false, categorize(CategoryStorage, err)
	}
	return ok, nil
}

func (s *WatchService) LatestRecord(ctx context.Context, filter models.MessageFilter) (models.SMSRecord, bool, error) {
	rec, ok, err := s.store.QueryLatest(ctx, filter)
	if err != nil {
		return models.SMSRecord{}, false, categorize(CategoryStorage, err)
	}
	return rec, ok, nil
}

// Close stops every running watch. Later StartWatch calls fail.
func (s *WatchService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	running := make([]string, 0, s.active)
	for id, entry := range s.watches {
		if !entry.finished {
			running = append(running, id)
		}
	}
	s.mu.Unlock()

	for _, id := range running {
		_, _ = s.StopWatch(id)
	}
}

func (s *WatchService) applyDefaults(req models.WatchRequest) models.WatchRequest {
	if len(req.SuccessTypes) == 0 && len(s.defaults.SuccessTypes) > 0 {
		req.SuccessTypes = append([]string(nil), s.defaults.SuccessTypes...)
	}
	if req.TimeoutMillis == nil && s.defaults.Timeout > 0 {
		ms := s.defaults.Timeout.Milliseconds()
		req.TimeoutMillis = &ms
	}
	return req
}

// finish records the outcome of a watch once and publishes it. A stop without
// an outcome is recorded but not published.
func (s *WatchService) finish(watchID string, outcome sendresult.Outcome) {
	s.mu.Lock()
	entry, ok := s.watches[watchID]
	if !ok || entry.finished {
		s.mu.Unlock()
		return
	}
	s.markFinishedLocked(entry, "completed", outcome)
	s.mu.Unlock()

	if outcome != sendresult.OutcomeNone {
		s.outcomes.Publish(watchID, outcome)
	}
}

func (s *WatchService) markFinishedLocked(entry *watchEntry, state string, outcome sendresult.Outcome) {
	entry.finished = true
	entry.status.State = state
	entry.status.Outcome = outcome.String()
	if outcome != sendresult.OutcomeNone {
		result := outcome.Result()
		entry.status.Result = &result
	}
	entry.status.CompletedAt = s.now()
	s.active--
	close(entry.done)
}

func (s *WatchService) pruneLocked() {
	cutoff := s.now().Add(-s.retain)
	for id, entry := range s.watches {
		if entry.finished && entry.status.CompletedAt.Before(cutoff) {
			delete(s.watches, id)
		}
	}
}
