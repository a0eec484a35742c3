package storage

import (
	"context"
	"fmt"
	"strings"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/pkg/models"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// DeviceStore is the full device message store: the read/subscribe side the
// observers consume plus the write side that produces change notifications.
type DeviceStore interface {
	sendresult.Store
	PutRecord(ctx context.Context, rec models.SMSRecord) (models.SMSRecord, error)
	UpdateType(ctx context.Context, id string, typeCode int) (bool, error)
	DeleteRecord(ctx context.Context, id string) (bool, error)
	GetRecord(ctx context.Context, id string) (models.SMSRecord, bool, error)
	SubscriberCount() int
	Close() error
}

var (
	_ DeviceStore = (*MessageStore)(nil)
	_ DeviceStore = (*SQLiteMessageStore)(nil)
)

// Open builds the configured store. The memory driver persists an encrypted
// snapshot when both path and passphrase are set, a plain one with only a path.
func Open(driver, path, passphrase string) (DeviceStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		if strings.TrimSpace(path) == "" {
			return NewMessageStore(), nil
		}
		return NewEncryptedPersistentMessageStore(path, passphrase)
	case DriverSQLite:
		return OpenSQLiteMessageStore(path)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
