package jobs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind int

const (
	KindUpload ErrorKind = iota
	KindSubmitRejected
	KindStreamInterrupted
	KindPollFailure
	KindStorage
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindUpload:
		return "UploadError"
	case KindSubmitRejected:
		return "SubmitRejected"
	case KindStreamInterrupted:
		return "StreamInterrupted"
	case KindPollFailure:
		return "PollFailure"
	case KindStorage:
		return "StorageError"
	case KindNotFound:
		return "NotFoundError"
	default:
		return "Unknown"
	}
}

// ErrNotFound is the sentinel stores wrap when a record id does not exist.
var ErrNotFound = errors.New("job record not found")

type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, kind ErrorKind, message string) *Error {
	e := NewError(kind, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsKind reports whether err carries a *Error of the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Kind == kind
	}
	return false
}

// NotFoundError builds the error stores return for a missing id.
func NotFoundError(id int64) *Error {
	return WrapError(ErrNotFound, KindNotFound, fmt.Sprintf("job %d does not exist", id)).
		WithContext("id", id)
}

// StorageError wraps a database failure.
func StorageError(op string, err error) *Error {
	return WrapError(err, KindStorage, op)
}
