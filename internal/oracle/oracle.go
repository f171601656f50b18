// Package oracle defines the page-rendering contract used by the crawler and
// extractor, along with the closed error taxonomy every implementation maps
// its failures onto.
package oracle

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout means the page did not reach the expected state in time.
	ErrTimeout = errors.New("oracle timeout")
	// ErrStaleReference means a handle was invalidated by a DOM mutation.
	ErrStaleReference = errors.New("stale element reference")
	// ErrNotFound means the requested element is absent.
	ErrNotFound = errors.New("element not found")
)

// Handle is an opaque reference to a rendered DOM element. Handles are only
// meaningful to the Page that produced them.
type Handle interface{}

// Browser owns the rendering process. It is acquired once per run and must be
// closed on every exit path.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single rendering context (one tab). A Page is not safe for
// concurrent use; callers that parallelize open one Page per worker.
type Page interface {
	// Navigate loads url in this rendering context.
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector matches an element or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Handle, error)
	// QueryAll returns every element matching selector without waiting.
	QueryAll(ctx context.Context, selector string) ([]Handle, error)
	// QueryOne returns the first element matching selector under parent, or
	// under the document when parent is nil. Absence yields ErrNotFound.
	QueryOne(ctx context.Context, parent Handle, selector string) (Handle, error)
	// Text returns the rendered text of the element.
	Text(ctx context.Context, h Handle) (string, error)
	// Attr returns the named property or attribute; ok is false when unset.
	Attr(ctx context.Context, h Handle, name string) (value string, ok bool, err error)
	// Displayed reports whether the element is rendered visibly.
	Displayed(ctx context.Context, h Handle) (bool, error)
	Close() error
}

// Class is the closed set of outcomes an oracle call can have.
type Class int

// Oracle error classes.
const (
	ClassNone Class = iota
	ClassTimeout
	ClassStale
	ClassNotFound
	ClassCanceled
	ClassUnexpected
)

// String implements fmt.Stringer for log fields.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTimeout:
		return "timeout"
	case ClassStale:
		return "stale_reference"
	case ClassNotFound:
		return "not_found"
	case ClassCanceled:
		return "canceled"
	default:
		return "unexpected"
	}
}

// Classify maps err onto the closed taxonomy. A bare deadline expiry counts as
// a timeout; cancellation of the caller's context is reported separately so
// it is never mistaken for a page failure.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrStaleReference):
		return ClassStale
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	default:
		return ClassUnexpected
	}
}
