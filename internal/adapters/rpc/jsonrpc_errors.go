package rpc

import (
	"context"
	"errors"

	"sendwatch/go-backend/internal/app"
	"sendwatch/go-backend/internal/domains/sendresult"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602

	codeServiceUnavailable  = -32099
	codeWatchNotFound       = -32010
	codeTooManyWatches      = -32011
	codeStoreUnavailable    = -32012
	codeAwaitTimeout        = -32013
	codeIdempotencyConflict = -32014
	codeServiceError        = -32000

	codeAPIVersionTooNew   = -32080
	codeAPIVersionRetired  = -32081
	codeMethodNotInVersion = -32082
)

var errInvalidParams = errors.New("invalid params")

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: "invalid params"}
}

func rpcServiceError(code int, err error) *rpcError {
	return &rpcError{Code: code, Message: err.Error()}
}

// mapServiceError picks a code from the error chain; categories decide the
// fallback when no sentinel matches.
func mapServiceError(err error) *rpcError {
	switch {
	case errors.Is(err, app.ErrWatchNotFound):
		return rpcServiceError(codeWatchNotFound, err)
	case errors.Is(err, app.ErrTooManyWatches):
		return rpcServiceError(codeTooManyWatches, err)
	case errors.Is(err, app.ErrInvalidRequest), errors.Is(err, sendresult.ErrConfiguration):
		return rpcServiceError(codeInvalidParams, err)
	case errors.Is(err, sendresult.ErrStoreUnavailable):
		return rpcServiceError(codeStoreUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return rpcServiceError(codeAwaitTimeout, err)
	case errors.Is(err, app.ErrServiceClosed):
		return rpcServiceError(codeServiceUnavailable, err)
	}
	var categorized *app.CategorizedError
	if errors.As(err, &categorized) && categorized.Category == app.CategoryStorage {
		return rpcServiceError(codeStoreUnavailable, err)
	}
	return rpcServiceError(codeServiceError, err)
}
