package alloc

import "github.com/joshuapare/bootalloc/internal/format"

// SizeClass describes one lab size-class buffer.
//
// A class is a single buffer with no sub-allocation: every request routed to
// it receives the same Base address. Only one grant per class can be live at a
// time; a second concurrent grant aliases the first.
type SizeClass struct {
	// Size is the exact request size that selects this class. Zero marks the
	// fallback class, which serves every size no other class matches.
	Size uintptr

	// Capacity is the buffer length in bytes.
	Capacity uintptr

	// Base is the buffer's address token.
	Base Addr
}

// Fallback reports whether this is the catch-all class.
func (c SizeClass) Fallback() bool { return c.Size == 0 }

// classSlot locates a class buffer inside the lab arena.
type classSlot struct {
	size     uintptr
	capacity uintptr
	offset   uintptr
}

// labClassAlign is the alignment of the arena base. Class offsets are
// multiples of it, so every class buffer starts on a labClassAlign boundary.
// Requests for stricter alignment are still served but not honored.
const labClassAlign = 32

// labClasses is the fixed class table.
var labClasses = [...]classSlot{
	{size: format.LabClassSmall, capacity: format.LabClassSmall, offset: 0},
	{size: format.LabClassMedium, capacity: format.LabClassMedium, offset: format.LabClassSmall},
	{size: format.LabClassLarge, capacity: format.LabClassLarge, offset: format.LabClassSmall + format.LabClassMedium},
	{size: 0, capacity: format.LabClassFallback, offset: format.LabClassSmall + format.LabClassMedium + format.LabClassLarge},
}

// fallbackClass is the index of the catch-all slot.
const fallbackClass = len(labClasses) - 1

// classFor returns the slot index serving a request of size bytes.
// Exact matches win; everything else, larger or smaller, goes to the fallback.
func classFor(size uintptr) int {
	for i := 0; i < fallbackClass; i++ {
		if labClasses[i].size == size {
			return i
		}
	}
	return fallbackClass
}
