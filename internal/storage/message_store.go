package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/internal/securestore"
	"sendwatch/go-backend/pkg/models"
)

var ErrRecordNotFound = errors.New("message record not found")

type storedRecord struct {
	Record models.SMSRecord `json:"record"`
	Seq    int64            `json:"seq"`
}

// MessageStore is an in-memory device message store with an optional
// encrypted snapshot on disk. Every successful write notifies subscribers.
type MessageStore struct {
	mu      sync.RWMutex
	records map[string]storedRecord
	nextSeq int64
	path    string
	secret  string
	hub     *changeHub
	now     func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		records: make(map[string]storedRecord),
		hub:     newChangeHub(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func NewPersistentMessageStore(path string) (*MessageStore, error) {
	return NewEncryptedPersistentMessageStore(path, "")
}

func NewEncryptedPersistentMessageStore(path, passphrase string) (*MessageStore, error) {
	s := NewMessageStore()
	s.path, s.secret = securestore.NormalizeStorageConfig(path, passphrase)
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// PutRecord inserts or replaces a record. A missing ID or timestamp is filled in.
func (s *MessageStore) PutRecord(ctx context.Context, rec models.SMSRecord) (models.SMSRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.SMSRecord{}, err
	}
	rec = models.NormalizeRecord(rec)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	s.mu.Lock()
	next := cloneRecordsMap(s.records)
	seq := s.nextSeq + 1
	next[rec.ID] = storedRecord{Record: rec, Seq: seq}
	if err := s.persistSnapshotLocked(next, seq); err != nil {
		s.mu.Unlock()
		return models.SMSRecord{}, err
	}
	s.records = next
	s.nextSeq = seq
	s.mu.Unlock()

	s.hub.notify(rec)
	return rec, nil
}

// UpdateType changes the type code of an existing record. It reports false
// when the record does not exist.
func (s *MessageStore) UpdateType(ctx context.Context, id string, typeCode int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	stored, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	stored.Record.Type = typeCode
	next := cloneRecordsMap(s.records)
	next[id] = stored
	if err := s.persistSnapshotLocked(next, s.nextSeq); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.records = next
	s.mu.Unlock()

	s.hub.notify(stored.Record)
	return true, nil
}

func (s *MessageStore) DeleteRecord(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	stored, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	next := cloneRecordsMap(s.records)
	delete(next, id)
	if err := s.persistSnapshotLocked(next, s.nextSeq); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.records = next
	s.mu.Unlock()

	s.hub.notify(stored.Record)
	return true, nil
}

func (s *MessageStore) GetRecord(ctx context.Context, id string) (models.SMSRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.SMSRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.records[id]
	if !ok {
		return models.SMSRecord{}, false, nil
	}
	return stored.Record, true, nil
}

// QueryLatest returns the newest matching record by timestamp, falling back
// to write order for equal timestamps.
func (s *MessageStore) QueryLatest(ctx context.Context, filter models.MessageFilter) (models.SMSRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.SMSRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  storedRecord
		found bool
	)
	for _, stored := range s.records {
		if !filter.Matches(stored.Record) {
			continue
		}
		if !found || newerThan(stored, best) {
			best = stored
			found = true
		}
	}
	return best.Record, found, nil
}

func (s *MessageStore) Subscribe(filter models.MessageFilter, onChange func()) (sendresult.SubscriptionID, error) {
	return s.hub.subscribe(filter, onChange)
}

func (s *MessageStore) Unsubscribe(id sendresult.SubscriptionID) error {
	return s.hub.unsubscribe(id)
}

func (s *MessageStore) SubscriberCount() int {
	return s.hub.count()
}

func (s *MessageStore) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MessageStore) Close() error {
	return nil
}

type messageSnapshot struct {
	Records map[string]storedRecord `json:"records"`
	NextSeq int64                   `json:"next_seq"`
}

func (s *MessageStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded := data
	if s.secret != "" {
		decoded, err = securestore.Decrypt(s.secret, data)
		if err != nil {
			if !errors.Is(err, securestore.ErrLegacyData) {
				return err
			}
			decoded = data
		}
	}

	var snapshot messageSnapshot
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return err
	}
	if snapshot.Records != nil {
		s.records = snapshot.Records
	}
	s.nextSeq = snapshot.NextSeq
	return nil
}

func (s *MessageStore) persistSnapshotLocked(records map[string]storedRecord, nextSeq int64) error {
	if s.path == "" {
		return nil
	}
	snapshot := messageSnapshot{Records: records, NextSeq: nextSeq}
	if s.secret != "" {
		return securestore.WriteEncryptedJSON(s.path, s.secret, snapshot)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func cloneRecordsMap(in map[string]storedRecord) map[string]storedRecord {
	out := make(map[string]storedRecord, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newerThan(a, b storedRecord) bool {
	if !a.Record.Timestamp.Equal(b.Record.Timestamp) {
		return a.Record.Timestamp.After(b.Record.Timestamp)
	}
	return a.Seq > b.Seq
}
