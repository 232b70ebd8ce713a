package alloc

import (
	"fmt"

	"github.com/joshuapare/bootalloc/internal/buf"
	"github.com/joshuapare/bootalloc/internal/format"
)

// EarlyAllocator is the allocator used before the general byte and page
// allocators exist. It manages one double-ended region:
//
//	[ bytes used | available | pages used ]
//	|            | -->   <-- |            |
//	start       bytePos    pagePos      end
//
// Bytes are bumped forward from start; pages are carved backward from end.
// Byte allocations are reclaimed in bulk: a live counter tracks outstanding
// grants and when it drops to zero the byte cursor returns to start.
// Pages are never freed.
//
// EarlyAllocator is not safe for concurrent use.
type EarlyAllocator struct {
	pageSize uintptr

	region  span
	bytePos Addr
	pagePos Addr
	live    uintptr
}

// NewEarly creates an EarlyAllocator with the given page size, which must be a
// power of two. Call Init before allocating.
func NewEarly(pageSize uintptr) (*EarlyAllocator, error) {
	if err := validPageSize(pageSize); err != nil {
		return nil, err
	}
	return &EarlyAllocator{pageSize: pageSize}, nil
}

// Init sets the region to [base, base+size) and resets both cursors.
func (ea *EarlyAllocator) Init(base Addr, size uintptr) {
	ea.region = newSpan("init", base, size)
	ea.bytePos = ea.region.start
	ea.pagePos = ea.region.end
	ea.live = 0
}

// AddMemory appends [base, base+size) to the region. base must equal the
// current end, and no pages may have been granted yet.
func (ea *EarlyAllocator) AddMemory(base Addr, size uintptr) error {
	end, err := ea.region.extend(base, size, ea.pagePos)
	if err != nil {
		return err
	}
	ea.region.end = end
	ea.pagePos = end
	return nil
}

// Alloc bumps the byte cursor forward. align must be a power of two; zero is
// treated as one.
func (ea *EarlyAllocator) Alloc(size, align uintptr) (Addr, error) {
	if align == 0 {
		align = 1
	}
	if !format.IsPowerOfTwo(align) {
		return 0, fmt.Errorf("byte alignment %d is not a power of two: %w", align, ErrInvalidParameter)
	}

	aligned, ok := format.AlignUp(uintptr(ea.bytePos), align)
	if !ok {
		return 0, fmt.Errorf("align %s to %d: %w", ea.bytePos, align, ErrOutOfMemory)
	}
	next, ok := buf.AddOverflowSafe(aligned, size)
	if !ok || Addr(next) > ea.pagePos {
		return 0, fmt.Errorf("%d bytes at %#x, %#x free: %w", size, aligned, ea.AvailableBytes(), ErrOutOfMemory)
	}

	ea.bytePos = Addr(next)
	ea.live++
	return Addr(aligned), nil
}

// Dealloc drops one outstanding byte allocation. The address is not
// inspected; once the last allocation is released the whole byte area is
// reclaimed. Releasing with no outstanding allocations is a no-op.
func (ea *EarlyAllocator) Dealloc(addr Addr, size, align uintptr) {
	if ea.live == 0 {
		return
	}
	ea.live--
	if ea.live == 0 {
		ea.bytePos = ea.region.start
	}
}

// TotalBytes is the span the byte cursor may still grow into plus what it has used.
func (ea *EarlyAllocator) TotalBytes() uintptr { return ea.pagePos.Sub(ea.region.start) }

func (ea *EarlyAllocator) UsedBytes() uintptr { return ea.bytePos.Sub(ea.region.start) }

func (ea *EarlyAllocator) AvailableBytes() uintptr { return ea.pagePos.Sub(ea.bytePos) }

// PageSize returns the page granule.
func (ea *EarlyAllocator) PageSize() uintptr { return ea.pageSize }

// AllocPages carves count pages downward from the page cursor, aligned to
// alignBytes. alignBytes must be a power-of-two multiple of the page size.
func (ea *EarlyAllocator) AllocPages(count, alignBytes uintptr) (Addr, error) {
	next, err := carvePages(ea.pagePos, ea.bytePos, count, alignBytes, ea.pageSize)
	if err != nil {
		return 0, err
	}
	ea.pagePos = next
	return next, nil
}

// DeallocPages panics: pages granted by an EarlyAllocator are permanent.
func (ea *EarlyAllocator) DeallocPages(addr Addr, count uintptr) {
	violate("dealloc pages", unsupportedReason, ea.Snapshot())
}

func (ea *EarlyAllocator) TotalPages() uintptr {
	return ea.region.end.Sub(ea.bytePos) / ea.pageSize
}

func (ea *EarlyAllocator) UsedPages() uintptr {
	return ea.region.end.Sub(ea.pagePos) / ea.pageSize
}

func (ea *EarlyAllocator) AvailablePages() uintptr {
	return ea.pagePos.Sub(ea.bytePos) / ea.pageSize
}

// Live returns the number of outstanding byte allocations.
func (ea *EarlyAllocator) Live() uintptr { return ea.live }

// Snapshot returns a copy of the region bounds and cursors.
func (ea *EarlyAllocator) Snapshot() Cursors {
	return Cursors{
		Start: ea.region.start,
		Low:   ea.bytePos,
		High:  ea.pagePos,
		End:   ea.region.end,
		Live:  ea.live,
	}
}

// Compile-time interface check
var _ Allocator = (*EarlyAllocator)(nil)
