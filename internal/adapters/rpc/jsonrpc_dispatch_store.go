package rpc

import (
	"encoding/json"
	"net/http"

	"sendwatch/go-backend/pkg/models"
)

type latestRecordResult struct {
	Found  bool              `json:"found"`
	Record *models.SMSRecord `json:"record,omitempty"`
}

func (s *Server) dispatchStoreRPC(r *http.Request, method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	ctx := r.Context()
	switch method {
	case "store.put":
		rec, err := decodeRecordParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		saved, err := s.service.PutRecord(ctx, rec)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return saved, nil, true
	case "store.update_type":
		id, typeCode, err := decodeUpdateTypeParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		updated, err := s.service.UpdateRecordType(ctx, id, typeCode)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return map[string]bool{"updated": updated}, nil, true
	case "store.latest":
		filter, err := decodeFilterParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		rec, found, err := s.service.LatestRecord(ctx, filter)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		result := latestRecordResult{Found: found}
		if found {
			result.Record = &rec
		}
		return result, nil, true
	default:
		return nil, nil, false
	}
}
