package app

import "errors"

var (
	ErrWatchNotFound  = errors.New("watch not found")
	ErrTooManyWatches = errors.New("too many active watches")
	ErrInvalidRequest = errors.New("invalid watch request")
	ErrServiceClosed  = errors.New("watch service closed")
)

// Error categories used by transports to pick a response code.
const (
	CategoryAPI     = "api"
	CategoryStorage = "storage"
	CategoryLimit   = "limit"
)

type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func categorize(category string, err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Category: category, Err: err}
}
