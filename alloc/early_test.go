package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = 0x100

func newTestEarly(t testing.TB, base Addr, size uintptr) *EarlyAllocator {
	t.Helper()
	ea, err := NewEarly(testPage)
	require.NoError(t, err)
	ea.Init(base, size)
	return ea
}

func TestNewEarly_RejectsBadPageSize(t *testing.T) {
	for _, ps := range []uintptr{0, 3, 1000, 4097} {
		_, err := NewEarly(ps)
		require.ErrorIs(t, err, ErrInvalidParameter, "page size %d", ps)
	}
}

// TestEarlyAllocator_Init tests that counters are consistent right after Init.
func TestEarlyAllocator_Init(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	c := ea.Snapshot()
	assert.Equal(t, Addr(0x1000), c.Start)
	assert.Equal(t, Addr(0x1000), c.Low)
	assert.Equal(t, Addr(0x2000), c.High)
	assert.Equal(t, Addr(0x2000), c.End)
	assert.Zero(t, ea.Live())

	assert.Equal(t, uintptr(0x1000), ea.TotalBytes())
	assert.Zero(t, ea.UsedBytes())
	assert.Equal(t, ea.TotalBytes(), ea.AvailableBytes()+ea.UsedBytes())

	assert.Equal(t, uintptr(0x10), ea.TotalPages())
	assert.Zero(t, ea.UsedPages())
	assert.Equal(t, uintptr(0x10), ea.AvailablePages())
}

// TestEarlyAllocator_AllocAligned tests that byte grants honour alignment.
func TestEarlyAllocator_AllocAligned(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	a, err := ea.Alloc(3, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1000), a)

	b, err := ea.Alloc(16, 8)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1008), b, "should skip to the next 8-byte boundary")

	c, err := ea.Alloc(1, 0)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1018), c, "align 0 behaves like align 1")

	assert.Equal(t, uintptr(0x19), ea.UsedBytes())
	assert.Equal(t, uintptr(3), ea.Live())
}

func TestEarlyAllocator_AllocRejectsBadAlign(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	_, err := ea.Alloc(8, 12)
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Zero(t, ea.UsedBytes())
}

// TestEarlyAllocator_AllocExhaustion tests that bytes never cross the page cursor.
func TestEarlyAllocator_AllocExhaustion(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	_, err := ea.Alloc(0x1000, 1)
	require.NoError(t, err, "exact fit should succeed")

	before := ea.Snapshot()
	_, err = ea.Alloc(1, 1)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, before, ea.Snapshot(), "failed alloc must not move cursors")
}

func TestEarlyAllocator_AllocOverflow(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	_, err := ea.Alloc(^uintptr(0), 1)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

// TestEarlyAllocator_BulkReclaim tests that freeing every grant rewinds the byte cursor.
func TestEarlyAllocator_BulkReclaim(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	sizes := []uintptr{24, 100, 8, 512}
	addrs := make([]Addr, 0, len(sizes))
	for _, sz := range sizes {
		a, err := ea.Alloc(sz, 8)
		require.NoError(t, err)
		addrs = append(addrs, a)
	}
	require.Equal(t, uintptr(len(sizes)), ea.Live())

	for i := range addrs[:len(addrs)-1] {
		ea.Dealloc(addrs[i], sizes[i], 8)
		assert.NotZero(t, ea.UsedBytes(), "byte area is kept while grants are live")
	}

	last := len(addrs) - 1
	ea.Dealloc(addrs[last], sizes[last], 8)
	assert.Zero(t, ea.Live())
	assert.Zero(t, ea.UsedBytes())
	assert.Equal(t, Addr(0x1000), ea.Snapshot().Low)

	again, err := ea.Alloc(8, 8)
	require.NoError(t, err)
	assert.Equal(t, addrs[0], again, "reclaimed space is reused from the start")
}

func TestEarlyAllocator_DeallocWithoutLiveIsNoop(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	before := ea.Snapshot()
	ea.Dealloc(0x1000, 16, 1)
	assert.Equal(t, before, ea.Snapshot())
}

// TestEarlyAllocator_AllocPages tests downward page carving and alignment.
func TestEarlyAllocator_AllocPages(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	p, err := ea.AllocPages(1, testPage)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1f00), p)

	// Aligned to 4 pages: 0x1f00-0x100 = 0x1e00, aligned down to 0x1c00.
	q, err := ea.AllocPages(1, 4*testPage)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1c00), q)

	assert.Equal(t, uintptr(4), ea.UsedPages())
	assert.Equal(t, uintptr(0xc), ea.AvailablePages())
	assert.Equal(t, ea.TotalPages(), ea.UsedPages()+ea.AvailablePages())
	assert.Equal(t, uintptr(0xc00), ea.TotalBytes(), "page grants shrink the byte total")
}

func TestEarlyAllocator_AllocPagesBounds(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	_, err := ea.Alloc(0x180, 1)
	require.NoError(t, err)
	byteCursor := ea.Snapshot().Low

	prev := ea.Snapshot().High
	for {
		p, err := ea.AllocPages(1, testPage)
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfMemory)
			break
		}
		assert.GreaterOrEqual(t, p, byteCursor, "page below byte cursor")
		assert.Less(t, p, prev, "page above previous page cursor")
		prev = p
	}
	assert.Equal(t, Addr(0x1200), prev, "last page sits above the byte area")
}

func TestEarlyAllocator_AllocPagesInvalidAlign(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)
	before := ea.Snapshot()

	for _, align := range []uintptr{0, 1, testPage + 1, 3 * testPage} {
		_, err := ea.AllocPages(1, align)
		require.ErrorIs(t, err, ErrInvalidParameter, "align %#x", align)
	}
	assert.Equal(t, before, ea.Snapshot())
}

func TestEarlyAllocator_AllocPagesOverflow(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	_, err := ea.AllocPages(^uintptr(0), testPage)
	require.ErrorIs(t, err, ErrOutOfMemory)

	_, err = ea.AllocPages(0x21, testPage)
	require.ErrorIs(t, err, ErrOutOfMemory, "more pages than the region holds")
}

func TestEarlyAllocator_DeallocPagesPanics(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)
	p, err := ea.AllocPages(1, testPage)
	require.NoError(t, err)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		ie, ok := r.(*InvariantError)
		require.True(t, ok, "panic value should be *InvariantError, got %T", r)
		assert.ErrorIs(t, ie, ErrUnsupported)
	}()
	ea.DeallocPages(p, 1)
}

// TestEarlyAllocator_AddMemory tests contiguous extension.
func TestEarlyAllocator_AddMemory(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	require.NoError(t, ea.AddMemory(0x2000, 0x1000))
	c := ea.Snapshot()
	assert.Equal(t, Addr(0x3000), c.End)
	assert.Equal(t, Addr(0x3000), c.High)
	assert.Equal(t, uintptr(0x2000), ea.AvailableBytes())
}

func TestEarlyAllocator_AddMemoryNonContiguous(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)
	before := ea.Snapshot()

	for _, base := range []Addr{0x1000, 0x1fff, 0x2001, 0x4000} {
		err := ea.AddMemory(base, 0x1000)
		require.ErrorIs(t, err, ErrInvalidParameter, "base %s", base)
		assert.Equal(t, before, ea.Snapshot())
	}
}

func TestEarlyAllocator_AddMemoryAfterPages(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)
	_, err := ea.AllocPages(1, testPage)
	require.NoError(t, err)
	before := ea.Snapshot()

	err = ea.AddMemory(0x2000, 0x1000)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, before, ea.Snapshot())
}

func TestEarlyAllocator_InitWrapPanics(t *testing.T) {
	ea, err := NewEarly(testPage)
	require.NoError(t, err)

	require.Panics(t, func() { ea.Init(Addr(^uintptr(0)-0xff), 0x1000) })
}

// TestEarlyAllocator_PagesReduceAvailableBytes checks that one page grant costs
// exactly one page of byte capacity.
func TestEarlyAllocator_PagesReduceAvailableBytes(t *testing.T) {
	ea := newTestEarly(t, 0x1000, 0x1000)

	before := ea.AvailableBytes()
	_, err := ea.AllocPages(1, testPage)
	require.NoError(t, err)
	assert.Equal(t, before-testPage, ea.AvailableBytes())
}
