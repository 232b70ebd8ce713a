package alloc

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/bootalloc/internal/buf"
	"github.com/joshuapare/bootalloc/internal/format"
)

// LabConfig configures a LabAllocator.
type LabConfig struct {
	// Name for this configuration (for logs and benchmarks)
	Name string

	// PageSize is the page granule; must be a power of two.
	PageSize uintptr

	// SafetyMargin is the minimum cursor gap required for an unaligned
	// allocation while the high cursor still sits at the region end.
	SafetyMargin uintptr

	// FixedTotalBytes, when non-zero, is returned by TotalBytes instead of the
	// region size. The lab harness reports format.LabTotalBytes regardless of
	// the region; zero switches to size-accurate reporting.
	FixedTotalBytes uintptr
}

// Predefined configurations.
var (
	// DefaultLabConfig matches the lab harness: 4 KiB pages, the headroom
	// policy, and a TotalBytes that always reports format.LabTotalBytes.
	DefaultLabConfig = LabConfig{
		Name:            "Default",
		PageSize:        format.DefaultPageSize,
		SafetyMargin:    format.LabSafetyMargin,
		FixedTotalBytes: format.LabTotalBytes,
	}

	// AccurateLabConfig reports the managed region size from TotalBytes.
	AccurateLabConfig = LabConfig{
		Name:         "Accurate",
		PageSize:     format.DefaultPageSize,
		SafetyMargin: format.LabSafetyMargin,
	}
)

// LabAllocator is the lab variant of the early allocator. It splits requests
// by alignment:
//
//   - align == 1: double-ended bump. The direction alternates on the parity of
//     a request counter: even grants move the high cursor down, odd grants
//     move the low cursor up. The alternation is a fixed stress pattern and
//     must not be changed.
//   - align > 1: routed by exact size to one of four static class buffers
//     (96, 192, 384, and a fallback for any other size). See SizeClass.
//     Buffers start on 32-byte boundaries. A request larger than the
//     fallback capacity fails with ErrOutOfMemory rather than receiving a
//     buffer it would overrun; the lab harness this mirrors did not check.
//
// Pages are carved downward from the high cursor and are never returned.
//
// LabAllocator embeds its class buffers and must not be copied after NewLab.
// It is not safe for concurrent use.
type LabAllocator struct {
	cfg LabConfig

	region span
	low    Addr
	high   Addr

	// ceiling is the top of the high-side byte stack: the region end, or the
	// lowest granted page once pages exist.
	ceiling Addr

	turn      uintptr
	pageBytes uintptr

	// arena holds the class buffers, padded so the buffers can start on a
	// labClassAlign boundary wherever the allocator itself lands.
	arena [format.LabClassArenaSize + labClassAlign - 1]byte
}

// NewLab creates a LabAllocator. Call Init before allocating.
func NewLab(cfg LabConfig) (*LabAllocator, error) {
	if err := validPageSize(cfg.PageSize); err != nil {
		return nil, err
	}
	return &LabAllocator{cfg: cfg}, nil
}

// Config returns the configuration the allocator was built with.
func (la *LabAllocator) Config() LabConfig { return la.cfg }

// Init sets the region to [base, base+size) and resets the cursors and the
// alternation counter.
func (la *LabAllocator) Init(base Addr, size uintptr) {
	la.region = newSpan("init", base, size)
	la.low = la.region.start
	la.high = la.region.end
	la.ceiling = la.region.end
	la.turn = 0
	la.pageBytes = 0
}

// AddMemory appends [base, base+size) to the region. base must equal the
// current end and the high cursor must not have moved.
func (la *LabAllocator) AddMemory(base Addr, size uintptr) error {
	end, err := la.region.extend(base, size, la.high)
	if err != nil {
		return err
	}
	la.region.end = end
	la.high = end
	la.ceiling = end
	return nil
}

// Alloc serves an allocation; see the type documentation for the routing rules.
func (la *LabAllocator) Alloc(size, align uintptr) (Addr, error) {
	if align > 1 {
		return la.allocClass(size)
	}

	if la.high == la.region.end && la.high.Sub(la.low) < la.cfg.SafetyMargin {
		return 0, fmt.Errorf("gap %#x below safety margin %#x: %w",
			la.high.Sub(la.low), la.cfg.SafetyMargin, ErrOutOfMemory)
	}

	var res Addr
	if la.turn%2 == 1 {
		next, ok := buf.AddOverflowSafe(uintptr(la.low), size)
		if !ok || Addr(next) >= la.high {
			violate("alloc", fmt.Sprintf("low cursor bumped by %d crosses high cursor", size), la.Snapshot())
		}
		res = la.low
		la.low = Addr(next)
	} else {
		next, ok := buf.SubUnderflowSafe(uintptr(la.high), size)
		if !ok || la.low >= Addr(next) {
			violate("alloc", fmt.Sprintf("high cursor lowered by %d crosses low cursor", size), la.Snapshot())
		}
		la.high = Addr(next)
		res = la.high
	}

	la.turn++
	return res, nil
}

func (la *LabAllocator) allocClass(size uintptr) (Addr, error) {
	slot := labClasses[classFor(size)]
	// Only the fallback can be smaller than the request. Handing out its base
	// anyway would let the caller write past the arena.
	if size > slot.capacity {
		return 0, fmt.Errorf("%d bytes exceed size class capacity %d: %w", size, slot.capacity, ErrOutOfMemory)
	}
	return la.arenaBase().Add(slot.offset), nil
}

// Dealloc releases an allocation.
//
// For unaligned grants only the innermost grant on either side can be
// reclaimed: an address equal to the high cursor pushes it back out (and
// resets the alternation counter), an address exactly size bytes below the
// low cursor pulls it back. Any other address is ignored. Class grants
// (align > 1) are statically owned and releasing them is a no-op.
func (la *LabAllocator) Dealloc(addr Addr, size, align uintptr) {
	if align > 1 {
		return
	}

	switch {
	case addr == la.high:
		next, ok := buf.AddOverflowSafe(uintptr(la.high), size)
		if !ok || Addr(next) > la.ceiling {
			violate("dealloc", fmt.Sprintf("releasing %d bytes at %s overruns %s", size, addr, la.ceiling), la.Snapshot())
		}
		la.high = Addr(next)
		la.turn = 0
	case la.low.Sub(la.region.start) >= size && addr == la.low-Addr(size):
		la.low = addr
	}
}

// TotalBytes returns the configured fixed constant, which is unrelated to the
// region and therefore not used in any capacity arithmetic. With
// FixedTotalBytes zero it returns the region size.
func (la *LabAllocator) TotalBytes() uintptr {
	if la.cfg.FixedTotalBytes != 0 {
		return la.cfg.FixedTotalBytes
	}
	return la.region.end.Sub(la.region.start)
}

// UsedBytes counts both cursor advances, including granted pages.
func (la *LabAllocator) UsedBytes() uintptr {
	return la.low.Sub(la.region.start) + la.region.end.Sub(la.high)
}

func (la *LabAllocator) AvailableBytes() uintptr { return la.high.Sub(la.low) }

// PageSize returns the page granule.
func (la *LabAllocator) PageSize() uintptr { return la.cfg.PageSize }

// AllocPages carves count pages downward from the high cursor, aligned to
// alignBytes. Any alignment slack is charged to the page grant.
func (la *LabAllocator) AllocPages(count, alignBytes uintptr) (Addr, error) {
	next, err := carvePages(la.high, la.low, count, alignBytes, la.cfg.PageSize)
	if err != nil {
		return 0, err
	}
	la.pageBytes += la.high.Sub(next)
	la.high = next
	la.ceiling = next
	return next, nil
}

// DeallocPages panics: pages are permanent.
func (la *LabAllocator) DeallocPages(addr Addr, count uintptr) {
	violate("dealloc pages", unsupportedReason, la.Snapshot())
}

func (la *LabAllocator) TotalPages() uintptr { return la.UsedPages() + la.AvailablePages() }

func (la *LabAllocator) UsedPages() uintptr { return la.pageBytes / la.cfg.PageSize }

func (la *LabAllocator) AvailablePages() uintptr { return la.high.Sub(la.low) / la.cfg.PageSize }

// Turn returns the alternation counter. Even means the next unaligned grant
// comes from the high side.
func (la *LabAllocator) Turn() uintptr { return la.turn }

// SizeClasses describes the class buffers in lookup order; the fallback class is last.
func (la *LabAllocator) SizeClasses() []SizeClass {
	base := la.arenaBase()
	out := make([]SizeClass, 0, len(labClasses))
	for _, s := range labClasses {
		out = append(out, SizeClass{Size: s.size, Capacity: s.capacity, Base: base.Add(s.offset)})
	}
	return out
}

// ClassBytes returns the memory behind a class grant of size bytes at addr.
// ok is false when the range is not inside a class buffer.
func (la *LabAllocator) ClassBytes(addr Addr, size uintptr) ([]byte, bool) {
	base := la.arenaBase()
	if addr < base {
		return nil, false
	}
	off := addr.Sub(base)
	pad := base.Sub(la.arenaStart())
	for _, s := range labClasses {
		if buf.Within(s.offset, s.offset+s.capacity, off, size) {
			return la.arena[pad+off : pad+off+size : pad+s.offset+s.capacity], true
		}
	}
	return nil, false
}

// arenaBase is the first labClassAlign boundary inside the arena.
func (la *LabAllocator) arenaBase() Addr {
	// An object address cannot sit within labClassAlign of the top of memory.
	base, _ := format.AlignUp(uintptr(la.arenaStart()), labClassAlign)
	return Addr(base)
}

func (la *LabAllocator) arenaStart() Addr {
	return Addr(uintptr(unsafe.Pointer(&la.arena[0])))
}

// Snapshot returns a copy of the region bounds and cursors. Live carries the
// alternation counter.
func (la *LabAllocator) Snapshot() Cursors {
	return Cursors{
		Start: la.region.start,
		Low:   la.low,
		High:  la.high,
		End:   la.region.end,
		Live:  la.turn,
	}
}

// Compile-time interface check
var _ Allocator = (*LabAllocator)(nil)
