package alloc

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates the region cannot satisfy the request, either because
	// the cursors would cross or because a headroom policy refused it.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrInvalidParameter indicates a malformed request: a non-contiguous extension,
	// a page alignment that is not a power-of-two multiple of the page size, or a
	// bad constructor argument.
	ErrInvalidParameter = errors.New("alloc: invalid parameter")

	// ErrUnsupported indicates an operation the allocator deliberately does not provide.
	ErrUnsupported = errors.New("alloc: unsupported operation")
)

// InvariantError is the panic value raised when a caller breaks the allocator
// contract badly enough that the cursors can no longer be trusted.
type InvariantError struct {
	Op      string
	Reason  string
	Cursors Cursors
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("alloc: %s: invariant violated: %s (%s)", e.Op, e.Reason, e.Cursors)
}

// Unwrap lets errors.Is(err, ErrUnsupported) match unsupported-operation panics.
func (e *InvariantError) Unwrap() error {
	if e.Reason == unsupportedReason {
		return ErrUnsupported
	}
	return nil
}

const unsupportedReason = "operation not supported"

func violate(op, reason string, c Cursors) {
	panic(&InvariantError{Op: op, Reason: reason, Cursors: c})
}
