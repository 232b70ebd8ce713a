//go:build !unix

// Package backing provides real memory for allocator regions.
package backing

import "fmt"

// Map returns a heap buffer when anonymous mappings are not available.
func Map(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("backing: invalid size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}
