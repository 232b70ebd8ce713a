package backing

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/bootalloc/internal/buf"
)

// Region is a block of backing memory addressed by integer address tokens.
// Base is the address of the first byte; a token t names Bytes()[t-Base].
type Region struct {
	data    []byte
	base    uintptr
	cleanup func() error
}

// NewRegion maps size bytes of backing memory.
func NewRegion(size int) (*Region, error) {
	data, cleanup, err := Map(size)
	if err != nil {
		return nil, err
	}
	return &Region{
		data:    data,
		base:    uintptr(unsafe.Pointer(&data[0])),
		cleanup: cleanup,
	}, nil
}

// Base returns the address of the first byte.
func (r *Region) Base() uintptr { return r.base }

// Size returns the region length in bytes.
func (r *Region) Size() uintptr { return uintptr(len(r.data)) }

// Bytes returns the whole region.
func (r *Region) Bytes() []byte { return r.data }

// View returns the n bytes named by the address token addr.
func (r *Region) View(addr, n uintptr) ([]byte, error) {
	if !buf.Within(r.base, r.base+r.Size(), addr, n) {
		return nil, fmt.Errorf("backing: [%#x,+%d) outside region [%#x,%#x)", addr, n, r.base, r.base+r.Size())
	}
	off := addr - r.base
	return r.data[off : off+n : off+n], nil
}

// Close releases the backing memory. The region must not be used afterwards.
func (r *Region) Close() error {
	if r.cleanup == nil {
		return nil
	}
	err := r.cleanup()
	r.cleanup = nil
	r.data = nil
	return err
}
