package rpc

import (
	"context"
	"encoding/json"
	"net/http"
)

func (s *Server) dispatchWatchRPC(r *http.Request, method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "watch.start":
		req, err := decodeWatchRequest(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		status, err := s.service.StartWatch(req)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return status, nil, true
	case "watch.await":
		watchID, wait, err := decodeAwaitParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		status, err := s.service.AwaitWatch(ctx, watchID)
		if err != nil {
			return nil, mapServiceError(err), true
		}
		return status, nil, true
	case "watch.stop":
		return callWithWatchID(rawParams, s.service.StopWatch)
	case "watch.status":
		return callWithWatchID(rawParams, s.service.WatchStatus)
	default:
		return nil, nil, false
	}
}

func callWithWatchID[T any](rawParams json.RawMessage, call func(string) (T, error)) (any, *rpcError, bool) {
	watchID, err := decodeWatchIDParam(rawParams)
	if err != nil {
		return nil, rpcInvalidParams(), true
	}
	result, err := call(watchID)
	if err != nil {
		return nil, mapServiceError(err), true
	}
	return result, nil, true
}
