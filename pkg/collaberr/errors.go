// Package collaberr defines the error taxonomy shared by every layer of the
// collab runtime (spec §7): sentinel kinds that callers can test with
// errors.Is, plus wrapping helpers that preserve the underlying cause the
// way the rest of this codebase wraps with fmt.Errorf("...: %w", err).
package collaberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation/retry policy purposes.
type Kind string

const (
	// KindInvalidObject: an overlay is missing required data.
	KindInvalidObject Kind = "invalid_object"
	// KindNotFound: row/view/field/block/doc not found.
	KindNotFound Kind = "not_found"
	// KindAlreadyExists: duplicate create.
	KindAlreadyExists Kind = "already_exists"
	// KindLockAcquisition: a read/write transaction could not be acquired.
	KindLockAcquisition Kind = "lock_acquisition"
	// KindEncoding: update bytes or JSON failed to parse.
	KindEncoding Kind = "encoding"
	// KindTransport: network/TLS/broken frame.
	KindTransport Kind = "transport"
	// KindStorage: KV store failure (see StorageSubkind for the subkind).
	KindStorage Kind = "storage"
	// KindCancelled: explicit abort.
	KindCancelled Kind = "cancelled"
	// KindInternal: programmer-error catch-all.
	KindInternal Kind = "internal"
)

// StorageSubkind refines KindStorage errors per spec §4.1.
type StorageSubkind string

const (
	StorageCorruption StorageSubkind = "corruption" // fatal
	StorageBusy       StorageSubkind = "busy"        // retriable
	StorageIO         StorageSubkind = "io"           // retriable with backoff
)

// Error is the concrete error type produced by this module.
type Error struct {
	Kind    Kind
	Subkind StorageSubkind // only meaningful when Kind == KindStorage
	Field   string         // missing-field name for KindInvalidObject
	Msg     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, collaberr.NotFound) style sentinel checks by
// comparing Kind, ignoring message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Subkind != "" && t.Subkind != e.Subkind {
		return false
	}
	return true
}

// Sentinels for errors.Is comparisons. Messages are irrelevant for Is; they
// only matter when an *Error is printed directly.
var (
	NotFound         = &Error{Kind: KindNotFound, Msg: "not found"}
	AlreadyExists    = &Error{Kind: KindAlreadyExists, Msg: "already exists"}
	LockAcquisition  = &Error{Kind: KindLockAcquisition, Msg: "lock acquisition failed"}
	Cancelled        = &Error{Kind: KindCancelled, Msg: "cancelled"}
	StorageCorrupted = &Error{Kind: KindStorage, Subkind: StorageCorruption, Msg: "storage corrupted"}
	StorageIsBusy    = &Error{Kind: KindStorage, Subkind: StorageBusy, Msg: "storage busy"}
)

// NoRequiredData builds a KindInvalidObject error naming the missing field.
func NoRequiredData(field string) *Error {
	return &Error{Kind: KindInvalidObject, Field: field, Msg: fmt.Sprintf("missing required data: %s", field)}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func WrapStorage(subkind StorageSubkind, msg string, cause error) *Error {
	return &Error{Kind: KindStorage, Subkind: subkind, Msg: msg, Cause: cause}
}

func WrapNotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func WrapAlreadyExists(msg string) *Error {
	return &Error{Kind: KindAlreadyExists, Msg: msg}
}

// Retriable reports whether a given error's kind/subkind is safe to retry
// per the propagation policy in spec §7.
func Retriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransport, KindLockAcquisition:
		return true
	case KindStorage:
		return e.Subkind == StorageBusy || e.Subkind == StorageIO
	default:
		return false
	}
}

// Fatal reports whether a given error's kind/subkind must not be retried.
func Fatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindStorage && e.Subkind == StorageCorruption
}
