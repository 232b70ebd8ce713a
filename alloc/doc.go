// Package alloc provides the early-boot region allocators.
//
// # Overview
//
// Before a general-purpose heap exists, a single contiguous region has to
// serve both arbitrary byte allocations and page-granular allocations. The
// allocators here hand both out from opposite ends of the same region, so
// bootstrap never needs a second reservation.
//
// # Allocator Interface
//
// Three contracts describe what an allocator offers:
//
//   - Region: Init(base, size) and AddMemory(base, size)
//   - ByteAllocator: Alloc, Dealloc and byte capacity counters
//   - PageAllocator: AllocPages, DeallocPages and page capacity counters
//
// Failures are reported with ErrOutOfMemory, ErrInvalidParameter or
// ErrUnsupported (match with errors.Is). Contract violations that leave the
// cursors untrustworthy panic with an *InvariantError.
//
// # Implementations
//
// EarlyAllocator: bytes grow up, pages grow down
//
//   - Byte grants are bulk-reclaimed when the live counter reaches zero
//   - Pages are permanent
//
// LabAllocator: lab variant with size classes
//
//   - align == 1 alternates between the two ends on every grant
//   - align > 1 returns one of four static class buffers chosen by exact size
//   - Pages are carved from the high cursor and are permanent
//
// # Usage Example
//
//	ea, err := alloc.NewEarly(4096)
//	if err != nil {
//	    return err
//	}
//	ea.Init(0x8000_0000, 16<<20)
//
//	addr, err := ea.Alloc(128, 8)
//	if err != nil {
//	    return err
//	}
//	pages, err := ea.AllocPages(4, 4096)
//
// # Address Tokens
//
// Addresses are Addr values, plain integers. The allocators never dereference
// them; the caller decides what memory they name. Lab class buffers are the
// exception: they live inside the allocator itself and ClassBytes exposes them.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers must serialize access
// externally, typically with a single lock around every call, or rely on
// there being only one owner during early boot.
package alloc
