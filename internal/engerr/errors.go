// Package engerr defines the sentinel-comparable error taxonomy used across
// the engine so callers can errors.Is/errors.As instead of string matching.
package engerr

import "errors"

var (
	// ErrBlockedSecret is returned when a caller attempts to store content
	// classified as secret. Terminal: no side effect is performed.
	ErrBlockedSecret = errors.New("engerr: content classified secret, store blocked")

	// ErrDuplicate is returned when a store call resolves to an existing cell
	// without a merge (different memory type).
	ErrDuplicate = errors.New("engerr: duplicate content")

	// ErrConflict marks a contradiction between a new and existing cell; the
	// caller still persists, this is informational.
	ErrConflict = errors.New("engerr: conflicting content detected")

	// ErrConfig wraps configuration validation failures at startup.
	ErrConfig = errors.New("engerr: invalid configuration")

	// ErrTransport wraps external-service failures (timeout, non-2xx,
	// malformed response) from any adapter.
	ErrTransport = errors.New("engerr: transport failure")

	// ErrBudgetExhausted is returned by background jobs that stop at a phase
	// boundary because their wall-clock budget ran out.
	ErrBudgetExhausted = errors.New("engerr: budget exhausted")
)

// Transport wraps err with ErrTransport so callers can errors.Is(err, ErrTransport).
// errors.Unwrap yields ErrTransport; the underlying cause is kept and returned
// by the wrapper's Cause method.
func Transport(adapter string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrTransport, op: adapter, cause: err}
}

// Config wraps err with ErrConfig, naming the offending field.
func Config(field string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrConfig, op: field, cause: err}
}

type wrapped struct {
	kind  error
	op    string
	cause error
}

func (w *wrapped) Error() string {
	if w.cause == nil {
		return w.op + ": " + w.kind.Error()
	}
	return w.op + ": " + w.kind.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() error { return w.kind }

func (w *wrapped) Cause() error { return w.cause }
