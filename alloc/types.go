package alloc

import "fmt"

// Addr is an address token handed out by an allocator. It is a plain integer;
// it is only meaningful between the grant that produced it and the matching
// Dealloc, and only within the region the allocator was initialized with
// (or, for lab size classes, within the allocator's own class arena).
type Addr uintptr

// Add returns a + n.
func (a Addr) Add(n uintptr) Addr { return a + Addr(n) }

// Sub returns the distance from b to a. The caller guarantees a >= b.
func (a Addr) Sub(b Addr) uintptr { return uintptr(a - b) }

func (a Addr) String() string { return fmt.Sprintf("%#x", uintptr(a)) }

// Region is the lifecycle contract shared by all allocators.
type Region interface {
	// Init hands the allocator the region [base, base+size). It must be called
	// once before any allocation; calling it again discards all bookkeeping.
	Init(base Addr, size uintptr)

	// AddMemory extends the region. Only a strict append at the current end is accepted.
	AddMemory(base Addr, size uintptr) error
}

// ByteAllocator serves arbitrary-size allocations.
type ByteAllocator interface {
	Region

	// Alloc returns size bytes aligned to align (a power of two).
	Alloc(size, align uintptr) (Addr, error)

	// Dealloc releases an allocation. size and align must match the original request.
	Dealloc(addr Addr, size, align uintptr)

	TotalBytes() uintptr
	UsedBytes() uintptr
	AvailableBytes() uintptr
}

// PageAllocator serves page-granular allocations.
type PageAllocator interface {
	Region

	// PageSize returns the page granule fixed at construction.
	PageSize() uintptr

	// AllocPages returns count contiguous pages aligned to alignBytes, which
	// must be a power-of-two multiple of PageSize.
	AllocPages(count, alignBytes uintptr) (Addr, error)

	// DeallocPages is part of the contract but early allocators never give
	// pages back; implementations panic.
	DeallocPages(addr Addr, count uintptr)

	TotalPages() uintptr
	UsedPages() uintptr
	AvailablePages() uintptr
}

// Allocator serves both bytes and pages from a single region.
type Allocator interface {
	ByteAllocator
	PageAllocator

	// Snapshot returns a copy of the region bounds and cursors.
	Snapshot() Cursors
}

// Cursors is a read-only view of an allocator's bookkeeping.
//
//	[ low-side used | gap | high-side used ]
//	start          low   high             end
//
// For EarlyAllocator, Low is the byte cursor and High the page cursor.
type Cursors struct {
	Start Addr
	Low   Addr
	High  Addr
	End   Addr

	// Live is the outstanding byte allocation count (EarlyAllocator) or the
	// alternation counter (LabAllocator).
	Live uintptr
}

func (c Cursors) String() string {
	return fmt.Sprintf("start=%s low=%s high=%s end=%s live=%d", c.Start, c.Low, c.High, c.End, c.Live)
}

// Gap returns the free space between the cursors.
func (c Cursors) Gap() uintptr {
	if c.High < c.Low {
		return 0
	}
	return c.High.Sub(c.Low)
}
