package domain

import "errors"

// Sentinel errors returned by ports. Adapters must wrap the underlying
// cause with fmt.Errorf("...: %w", Err...) so callers can still
// errors.Is against these while keeping the original error in the chain.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("upstream unavailable")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrInternal        = errors.New("internal error")
)
