package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sms (
	id      TEXT PRIMARY KEY,
	address TEXT NOT NULL DEFAULT '',
	type    INTEGER NOT NULL,
	date    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sms_date_idx ON sms(date);
`

// SQLiteMessageStore keeps records in an sms table with dates in unix
// milliseconds. Change notifications cover writes made through this store only.
type SQLiteMessageStore struct {
	db  *sql.DB
	hub *changeHub
	now func() time.Time
}

func OpenSQLiteMessageStore(path string) (*SQLiteMessageStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sms table: %w", err)
	}
	return &SQLiteMessageStore{
		db:  db,
		hub: newChangeHub(),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteMessageStore) PutRecord(ctx context.Context, rec models.SMSRecord) (models.SMSRecord, error) {
	rec = models.NormalizeRecord(rec)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = time.UnixMilli(rec.Timestamp.UnixMilli()).UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sms (id, address, type, date) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET address = excluded.address, type = excluded.type, date = excluded.date`,
		rec.ID, rec.Address, rec.Type, rec.Timestamp.UnixMilli())
	if err != nil {
		return models.SMSRecord{}, err
	}
	s.hub.notify(rec)
	return rec, nil
}

func (s *SQLiteMessageStore) UpdateType(ctx context.Context, id string, typeCode int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sms SET type = ? WHERE id = ?`, typeCode, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	rec, ok, err := s.GetRecord(ctx, id)
	if err != nil {
		return true, err
	}
	if ok {
		s.hub.notify(rec)
	}
	return true, nil
}

func (s *SQLiteMessageStore) DeleteRecord(ctx context.Context, id string) (bool, error) {
	rec, ok, err := s.GetRecord(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sms WHERE id = ?`, id); err != nil {
		return false, err
	}
	s.hub.notify(rec)
	return true, nil
}

func (s *SQLiteMessageStore) GetRecord(ctx context.Context, id string) (models.SMSRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, address, type, date FROM sms WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteMessageStore) QueryLatest(ctx context.Context, filter models.MessageFilter) (models.SMSRecord, bool, error) {
	addr := models.NormalizeAddress(filter.Address)
	var row *sql.Row
	if addr == "" {
		row = s.db.QueryRowContext(ctx, `SELECT id, address, type, date FROM sms ORDER BY date DESC, rowid DESC LIMIT 1`)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT id, address, type, date FROM sms WHERE address = ? COLLATE NOCASE ORDER BY date DESC, rowid DESC LIMIT 1`, addr)
	}
	return scanRecord(row)
}

func (s *SQLiteMessageStore) Subscribe(filter models.MessageFilter, onChange func()) (sendresult.SubscriptionID, error) {
	return s.hub.subscribe(filter, onChange)
}

func (s *SQLiteMessageStore) Unsubscribe(id sendresult.SubscriptionID) error {
	return s.hub.unsubscribe(id)
}

func (s *SQLiteMessageStore) SubscriberCount() int {
	return s.hub.count()
}

func (s *SQLiteMessageStore) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row) (models.SMSRecord, bool, error) {
	var (
		rec    models.SMSRecord
		millis int64
	)
	if err := row.Scan(&rec.ID, &rec.Address, &rec.Type, &millis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SMSRecord{}, false, nil
		}
		return models.SMSRecord{}, false, err
	}
	rec.Timestamp = time.UnixMilli(millis).UTC()
	return rec, true, nil
}
