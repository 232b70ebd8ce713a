// Package format holds the address arithmetic and the layout constants shared
// by the region allocators. It has no state and no dependencies so the
// allocators can stay free of indirection.
package format

const (
	// DefaultPageSize is the page granule used when none is configured.
	DefaultPageSize = 0x1000

	// LabSafetyMargin is the minimum gap the lab allocator keeps between its
	// cursors while no page or high-side grant has been made.
	LabSafetyMargin = 0x102000

	// LabTotalBytes is the constant the lab allocator reports from TotalBytes,
	// independent of the managed region.
	LabTotalBytes = 0x1000
)

// Lab size classes. The first three are exact-match classes; the fallback
// class serves every other size up to its capacity.
const (
	LabClassSmall    = 96
	LabClassMedium   = 192
	LabClassLarge    = 384
	LabClassFallback = 86016 // 21 pages of 4 KiB

	// LabClassArenaSize is the combined footprint of all lab class buffers.
	LabClassArenaSize = LabClassSmall + LabClassMedium + LabClassLarge + LabClassFallback
)
