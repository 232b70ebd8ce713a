package alloc

import (
	"fmt"

	"github.com/joshuapare/bootalloc/internal/buf"
	"github.com/joshuapare/bootalloc/internal/format"
)

// span is the managed region [start, end).
type span struct {
	start Addr
	end   Addr
}

// newSpan validates [base, base+size). Init has no error return, so a region
// that wraps the address space is a contract violation.
func newSpan(op string, base Addr, size uintptr) span {
	end, err := buf.CheckRange(uintptr(base), size)
	if err != nil {
		violate(op, err.Error(), Cursors{Start: base, Low: base})
	}
	return span{start: base, end: Addr(end)}
}

// extend validates an AddMemory request and returns the new end.
// top is the cursor that grows down from end; the region can only be pushed
// out while nothing has been granted from the top.
func (s span) extend(base Addr, size uintptr, top Addr) (Addr, error) {
	if base != s.end {
		return 0, fmt.Errorf("add memory at %s, region ends at %s: %w", base, s.end, ErrInvalidParameter)
	}
	end, err := buf.CheckRange(uintptr(base), size)
	if err != nil {
		return 0, fmt.Errorf("add memory: %v: %w", err, ErrInvalidParameter)
	}
	if top != s.end {
		return 0, fmt.Errorf("add memory with %d bytes granted below the end: %w", s.end.Sub(top), ErrUnsupported)
	}
	return Addr(end), nil
}

// carvePages computes the new top cursor for a grant of count pages taken
// downward from top. The result is aligned down to alignBytes and never
// crosses floor.
func carvePages(top, floor Addr, count, alignBytes, pageSize uintptr) (Addr, error) {
	if alignBytes%pageSize != 0 {
		return 0, fmt.Errorf("page alignment %#x is not a multiple of page size %#x: %w",
			alignBytes, pageSize, ErrInvalidParameter)
	}
	if !format.IsPowerOfTwo(alignBytes / pageSize) {
		return 0, fmt.Errorf("page alignment %#x is not a power-of-two page count: %w",
			alignBytes, ErrInvalidParameter)
	}

	total, ok := buf.MulOverflowSafe(count, pageSize)
	if !ok {
		return 0, fmt.Errorf("%d pages overflow the address space: %w", count, ErrOutOfMemory)
	}
	next, ok := buf.SubUnderflowSafe(uintptr(top), total)
	if !ok {
		return 0, fmt.Errorf("%d pages below %s: %w", count, top, ErrOutOfMemory)
	}
	next = format.AlignDown(next, alignBytes)

	if Addr(next) < floor {
		return 0, fmt.Errorf("%d pages need %#x bytes, %#x free: %w",
			count, total, top.Sub(floor), ErrOutOfMemory)
	}
	return Addr(next), nil
}

func validPageSize(pageSize uintptr) error {
	if !format.IsPowerOfTwo(pageSize) {
		return fmt.Errorf("page size %#x is not a power of two: %w", pageSize, ErrInvalidParameter)
	}
	return nil
}
