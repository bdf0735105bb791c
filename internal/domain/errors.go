package domain

import (
	"errors"
	"net/http"
)

var (
	ErrClientInput   = errors.New("invalid client input")
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	ErrStaging       = errors.New("staging failed")
	ErrEngineSpawn   = errors.New("engine could not be started")
	ErrEngineRun     = errors.New("engine run failed")
	ErrOutputMissing = errors.New("output missing")
	ErrDelivery      = errors.New("delivery failed")
	ErrCleanup       = errors.New("cleanup failed")
)

// Error tags a failure with one of the sentinels above and carries the detail
// text reported to the caller.
type Error struct {
	Kind   error
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewError builds an error of the given kind with a caller-facing detail.
func NewError(kind error, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap is NewError that also keeps the underlying cause in the chain.
func Wrap(kind error, detail string, cause error) error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Detail returns the caller-facing text for err.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// Cause returns the underlying error kept by Wrap, or err itself. Use it for
// logs; Detail is what callers see.
func Cause(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Cause != nil {
		return e.Cause
	}
	return err
}

// HTTPStatus maps a processing error to the response status the API returns.
// Delivery and cleanup errors never reach a response, so they fall through to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrClientInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
