package buf

import "fmt"

// AddOverflowSafe adds a and b, returning ok = false when the result would wrap uintptr.
func AddOverflowSafe(a, b uintptr) (uintptr, bool) {
	if a > ^uintptr(0)-b {
		return 0, false
	}
	return a + b, true
}

// SubUnderflowSafe subtracts b from a, returning ok = false when b > a.
func SubUnderflowSafe(a, b uintptr) (uintptr, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result would wrap uintptr.
// This is essential for count * pageSize calculations.
func MulOverflowSafe(a, b uintptr) (uintptr, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > ^uintptr(0)/b {
		return 0, false
	}
	return a * b, true
}

// CheckRange validates that [start, start+size) does not wrap the address space.
// Returns the exclusive end address if valid.
//
//	end, err := buf.CheckRange(base, size)
//	if err != nil {
//	    return fmt.Errorf("region: %w", err)
//	}
func CheckRange(start, size uintptr) (uintptr, error) {
	end, ok := AddOverflowSafe(start, size)
	if !ok {
		return 0, fmt.Errorf("overflow: start=%#x + size=%#x", start, size)
	}
	return end, nil
}

// Within reports whether [off, off+n) lies inside [lo, hi).
func Within(lo, hi, off, n uintptr) bool {
	if off < lo || off > hi {
		return false
	}
	end, ok := AddOverflowSafe(off, n)
	return ok && end <= hi
}
