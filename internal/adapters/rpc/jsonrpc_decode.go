package rpc

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"sendwatch/go-backend/internal/domains/sendresult"
	"sendwatch/go-backend/pkg/models"
)

const (
	defaultAwaitTimeout = 30 * time.Second
	maxAwaitTimeout     = 5 * time.Minute
)

// unwrapParams accepts both {"...": ...} and [{"...": ...}] shapes.
func unwrapParams(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '[' {
		return trimmed
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err != nil || len(arr) != 1 {
		return trimmed
	}
	return bytes.TrimSpace(arr[0])
}

func decodeWatchRequest(raw json.RawMessage) (models.WatchRequest, error) {
	params := unwrapParams(raw)
	if params == nil || params[0] != '{' {
		return models.WatchRequest{}, errInvalidParams
	}
	var req models.WatchRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return models.WatchRequest{}, errInvalidParams
	}
	return req, nil
}

// decodeWatchIDParam accepts ["watch_id"] or {"watch_id": "..."}.
func decodeWatchIDParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 1 && strings.TrimSpace(arr[0]) != "" {
			return strings.TrimSpace(arr[0]), nil
		}
		return "", errInvalidParams
	}
	var obj struct {
		WatchID string `json:"watch_id"`
	}
	if err := json.Unmarshal(unwrapParams(raw), &obj); err != nil || strings.TrimSpace(obj.WatchID) == "" {
		return "", errInvalidParams
	}
	return strings.TrimSpace(obj.WatchID), nil
}

func decodeAwaitParams(raw json.RawMessage) (string, time.Duration, error) {
	watchID, err := decodeWatchIDParam(raw)
	if err != nil {
		return "", 0, err
	}
	wait := defaultAwaitTimeout
	var obj struct {
		TimeoutMillis *int64 `json:"timeout_ms"`
	}
	if params := unwrapParams(raw); params != nil && params[0] == '{' {
		if err := json.Unmarshal(params, &obj); err != nil {
			return "", 0, errInvalidParams
		}
	}
	if obj.TimeoutMillis != nil {
		if *obj.TimeoutMillis <= 0 {
			return "", 0, errInvalidParams
		}
		wait = sendresult.MillisToDuration(*obj.TimeoutMillis)
	}
	if wait > maxAwaitTimeout {
		wait = maxAwaitTimeout
	}
	return watchID, wait, nil
}

func decodeRecordParam(raw json.RawMessage) (models.SMSRecord, error) {
	params := unwrapParams(raw)
	if params == nil || params[0] != '{' {
		return models.SMSRecord{}, errInvalidParams
	}
	var rec struct {
		ID        string     `json:"id"`
		Address   string     `json:"address"`
		Type      *int       `json:"type"`
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(params, &rec); err != nil || rec.Type == nil {
		return models.SMSRecord{}, errInvalidParams
	}
	out := models.SMSRecord{ID: rec.ID, Address: rec.Address, Type: *rec.Type}
	if rec.Timestamp != nil {
		out.Timestamp = rec.Timestamp.UTC()
	}
	return out, nil
}

func decodeUpdateTypeParams(raw json.RawMessage) (string, int, error) {
	params := unwrapParams(raw)
	if params == nil || params[0] != '{' {
		return "", 0, errInvalidParams
	}
	var obj struct {
		ID   string `json:"id"`
		Type *int   `json:"type"`
	}
	if err := json.Unmarshal(params, &obj); err != nil || strings.TrimSpace(obj.ID) == "" || obj.Type == nil {
		return "", 0, errInvalidParams
	}
	return strings.TrimSpace(obj.ID), *obj.Type, nil
}

// decodeFilterParam treats missing params as the match-everything filter.
func decodeFilterParam(raw json.RawMessage) (models.MessageFilter, error) {
	params := unwrapParams(raw)
	if params == nil {
		return models.MessageFilter{}, nil
	}
	if params[0] != '{' {
		return models.MessageFilter{}, errInvalidParams
	}
	var obj struct {
		Filter  *models.MessageFilter `json:"filter"`
		Address string                `json:"address"`
	}
	if err := json.Unmarshal(params, &obj); err != nil {
		return models.MessageFilter{}, errInvalidParams
	}
	if obj.Filter != nil {
		return *obj.Filter, nil
	}
	return models.MessageFilter{Address: obj.Address}, nil
}
