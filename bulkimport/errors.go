package bulkimport

import (
	"errors"
	"fmt"
)

// errImportAborted is the sentinel wrapped into a cancellation error when
// a worker observes a poison buffer pulled from the free pool (spec
// §4.G: "on poison pulled from free pool ... surface the error and
// exit").
var errImportAborted = errors.New("import aborted")

// errKeyLargerThanBuffer signals a single key (plus its slot overhead)
// that doesn't fit in an empty sort buffer — a misconfiguration (buffer
// size smaller than the largest possible key) rather than a transient
// condition.
var errKeyLargerThanBuffer = errors.New("index key does not fit in an empty sort buffer")

// Kind tags an error with the taxonomy from spec §7. Only Resource and
// Store kinds (plus Cancellation) are ever returned from Orchestrator.Run;
// Configuration errors surface before Phase 1 starts, and Parse/Semantic
// errors never leave the package as errors at all — they are converted to
// rejection counts by the caller (see RejectReason).
type Kind int

const (
	KindConfiguration Kind = iota
	KindResource
	KindStore
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindStore:
		return "store"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// engineError wraps an underlying cause with the taxonomy kind, so callers
// can branch on errors.As without string matching.
type engineError struct {
	kind  Kind
	cause error
}

func (e *engineError) Error() string {
	return fmt.Sprintf("%s error: %v", e.kind, e.cause)
}

func (e *engineError) Unwrap() error {
	return e.cause
}

func newConfigError(format string, args ...interface{}) error {
	return &engineError{kind: KindConfiguration, cause: fmt.Errorf(format, args...)}
}

func newResourceError(cause error) error {
	return &engineError{kind: KindResource, cause: cause}
}

func newStoreError(cause error) error {
	return &engineError{kind: KindStore, cause: cause}
}

func newCancellationError(cause error) error {
	return &engineError{kind: KindCancellation, cause: cause}
}

// KindOf unwraps err looking for an *engineError and returns its Kind; ok
// is false for errors the engine never tagged (e.g. a bare io error from a
// collaborator that hasn't been wrapped yet).
func KindOf(err error) (Kind, bool) {
	var ee *engineError
	if errors.As(err, &ee) {
		return ee.kind, true
	}
	return 0, false
}

// RejectReason explains why a single entry was rejected (spec §7
// Parse/Semantic kinds). Rejections are values, not errors — the
// "exception-based rejection flow" redesign flag in §9.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectMalformed
	RejectDuplicateName
	RejectMissingParent
)

func (r RejectReason) String() string {
	switch r {
	case RejectMalformed:
		return "malformed entry"
	case RejectDuplicateName:
		return "duplicate name"
	case RejectMissingParent:
		return "missing parent"
	default:
		return "none"
	}
}
