package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAdmissionDenied indicates that an operation was rejected before
	// any side effect: wrong global state, stale upgrade package, or a
	// deployment already in flight. It is a client fault and is never
	// retried by the system.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrIngestionFailed indicates that a write into the asset store failed
	// or reported a non-success result. The enclosing unit of work has been
	// rolled back when this is returned.
	ErrIngestionFailed = errors.New("ingestion failed")

	// ErrConflict indicates that a resource is not in a state that allows
	// the requested transition.
	ErrConflict = errors.New("conflict")
)

// AdmissionError carries the reason an operation was denied. It matches
// [ErrAdmissionDenied] under [errors.Is].
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string {
	return "admission denied: " + e.Reason
}

func (e *AdmissionError) Is(target error) bool {
	return target == ErrAdmissionDenied
}

// Deny returns an [*AdmissionError] with the given reason.
func Deny(reason string) error {
	return &AdmissionError{Reason: reason}
}

var failureClasses = []struct {
	name string
	err  error
}{
	{"admission-denied", ErrAdmissionDenied},
	{"not-found", ErrNotFound},
	{"already-exists", ErrAlreadyExists},
	{"invalid-argument", ErrInvalidArgument},
	{"ingestion-failed", ErrIngestionFailed},
	{"conflict", ErrConflict},
}

// Failure is an error stored as data. Durable engines persist step and
// workflow results by value, so the sentinel an error matched is kept in
// Class and restored by [Failure.Err].
type Failure struct {
	Class   string `json:"class,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// NewFailure records err. It returns nil for a nil error.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Message: err.Error()}
	for _, c := range failureClasses {
		if errors.Is(err, c.err) {
			f.Class = c.name
			break
		}
	}
	var denied *AdmissionError
	if errors.As(err, &denied) {
		f.Reason = denied.Reason
	}
	return f
}

// Err rebuilds the recorded error. The result has the recorded message
// and matches the recorded class under [errors.Is]; an admission denial
// also matches [*AdmissionError] under [errors.As].
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}
	return &restoredError{f: *f}
}

type restoredError struct {
	f Failure
}

func (e *restoredError) Error() string { return e.f.Message }

func (e *restoredError) Unwrap() []error {
	for _, c := range failureClasses {
		if c.name != e.f.Class {
			continue
		}
		if c.err == ErrAdmissionDenied {
			return []error{&AdmissionError{Reason: e.f.Reason}}
		}
		return []error{c.err}
	}
	return nil
}
