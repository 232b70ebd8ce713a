package format

// Alignment utilities for region allocators.
// Every alignment handled here must be a power of two; the helpers use mask
// arithmetic and give meaningless results otherwise.

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// AlignUp returns n rounded up to the next multiple of align.
// The second result is false when rounding would wrap the address space.
//
// Example:
//
//	AlignUp(0x1001, 8)    = 0x1008
//	AlignUp(0x1008, 8)    = 0x1008
//	AlignUp(0x1001, 4096) = 0x2000
func AlignUp(n, align uintptr) (uintptr, bool) {
	mask := align - 1
	if n+mask < n {
		return 0, false
	}
	return (n + mask) &^ mask, true
}

// AlignDown returns n rounded down to the previous multiple of align.
//
// Example:
//
//	AlignDown(0x1fff, 4096) = 0x1000
//	AlignDown(0x2000, 4096) = 0x2000
func AlignDown(n, align uintptr) uintptr {
	return n &^ (align - 1)
}

// IsAligned reports whether n is a multiple of align.
func IsAligned(n, align uintptr) bool {
	return n&(align-1) == 0
}
