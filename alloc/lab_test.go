package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/bootalloc/internal/format"
)

// unguardedLab has no safety margin so small regions can be exercised, and
// reports the region size from TotalBytes.
var unguardedLab = LabConfig{Name: "Unguarded", PageSize: testPage}

func newTestLab(t testing.TB, cfg LabConfig, base Addr, size uintptr) *LabAllocator {
	t.Helper()
	la, err := NewLab(cfg)
	require.NoError(t, err)
	la.Init(base, size)
	return la
}

func TestNewLab_RejectsBadPageSize(t *testing.T) {
	_, err := NewLab(LabConfig{PageSize: 1000})
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestLabAllocator_Init(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	assert.Equal(t, uintptr(0x1000), la.TotalBytes())
	assert.Zero(t, la.UsedBytes())
	assert.Equal(t, la.TotalBytes(), la.UsedBytes()+la.AvailableBytes())
	assert.Equal(t, uintptr(0x10), la.TotalPages())
	assert.Zero(t, la.Turn())

	def := newTestLab(t, DefaultLabConfig, 0x1000, 0x2000)
	assert.Equal(t, uintptr(format.LabTotalBytes), def.TotalBytes(), "default reports the fixed constant")
	assert.Equal(t, uintptr(0x2000), def.AvailableBytes())
}

// TestLabAllocator_Alternation tests that unaligned grants switch ends on every call.
func TestLabAllocator_Alternation(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	first, err := la.Alloc(64, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x2000-64), first, "even turn takes the high side")

	second, err := la.Alloc(64, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1000), second, "odd turn takes the low side")

	third, err := la.Alloc(64, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x2000-128), third, "third grant returns to the high side, below the first")

	fourth, err := la.Alloc(64, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1040), fourth)

	assert.Equal(t, uintptr(4), la.Turn())
	assert.Equal(t, uintptr(256), la.UsedBytes())
	assert.Equal(t, la.TotalBytes(), la.UsedBytes()+la.AvailableBytes())
}

// TestLabAllocator_PagesThenAlternation follows the boot sequence of one page
// grant followed by two unaligned byte grants.
func TestLabAllocator_PagesThenAlternation(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	before := la.AvailableBytes()
	p, err := la.AllocPages(1, testPage)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x1f00), p)
	assert.Equal(t, before-testPage, la.AvailableBytes())

	hi, err := la.Alloc(64, 1)
	require.NoError(t, err)
	lo, err := la.Alloc(64, 1)
	require.NoError(t, err)

	assert.Equal(t, Addr(0x1f00-64), hi)
	assert.Equal(t, Addr(0x1000), lo)
	assert.Equal(t, uintptr(1), la.UsedPages())
}

// TestLabAllocator_SafetyMargin tests the headroom policy.
func TestLabAllocator_SafetyMargin(t *testing.T) {
	la := newTestLab(t, DefaultLabConfig, 0x10_0000, format.LabSafetyMargin-1)

	_, err := la.Alloc(8, 1)
	require.ErrorIs(t, err, ErrOutOfMemory, "gap below margin with untouched high cursor")

	la.Init(0x10_0000, format.LabSafetyMargin)
	a, err := la.Alloc(8, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x10_0000+format.LabSafetyMargin-8), a)

	// The high cursor has moved, so the margin no longer applies.
	b, err := la.Alloc(8, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x10_0000), b)
}

func TestLabAllocator_CrossoverPanics(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x100)

	_, err := la.Alloc(0x80, 1)
	require.NoError(t, err)
	before := la.Snapshot()

	defer func() {
		r := recover()
		require.NotNil(t, r, "crossing cursors must panic")
		_, ok := r.(*InvariantError)
		require.True(t, ok)
		assert.Equal(t, before, la.Snapshot(), "cursors are untouched by the failed grant")
	}()
	_, _ = la.Alloc(0x80, 1) // low side would meet the high cursor
}

func TestLabAllocator_CrossoverHighSidePanics(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x100)

	require.Panics(t, func() { _, _ = la.Alloc(0x100, 1) })
}

// TestLabAllocator_SizeClasses tests exact-size dispatch.
func TestLabAllocator_SizeClasses(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)
	classes := la.SizeClasses()
	require.Len(t, classes, 4)

	for i, size := range []uintptr{96, 192, 384} {
		a, err := la.Alloc(size, 8)
		require.NoError(t, err)
		assert.Equal(t, classes[i].Base, a, "size %d", size)
		assert.Equal(t, size, classes[i].Capacity)
	}

	fallback := classes[3]
	assert.True(t, fallback.Fallback())
	for _, size := range []uintptr{1, 95, 97, 200, 4096, format.LabClassFallback} {
		a, err := la.Alloc(size, 16)
		require.NoError(t, err)
		assert.Equal(t, fallback.Base, a, "size %d goes to the fallback class", size)
	}

	assert.Zero(t, la.UsedBytes(), "class grants do not touch the cursors")
}

// TestLabAllocator_SizeClassAliasing documents that a class has one buffer.
func TestLabAllocator_SizeClassAliasing(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	first, err := la.Alloc(96, 8)
	require.NoError(t, err)
	snap := la.Snapshot()

	for range 5 {
		again, err := la.Alloc(96, 8)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, snap, la.Snapshot())
	}
}

// TestLabAllocator_SizeClassTooLarge tests that a request past the fallback
// capacity is refused instead of handed a buffer it would overrun.
func TestLabAllocator_SizeClassTooLarge(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	_, err := la.Alloc(format.LabClassFallback+1, 8)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Contains(t, err.Error(), "exceed size class capacity 86016")

	_, err = la.Alloc(format.LabClassFallback, 8)
	require.NoError(t, err, "the full fallback capacity is still served")
}

// TestLabAllocator_SizeClassAlignment tests that every class buffer starts on
// a 32-byte boundary and that the boundary is real memory inside the arena.
func TestLabAllocator_SizeClassAlignment(t *testing.T) {
	for i := range 8 {
		la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

		for _, c := range la.SizeClasses() {
			assert.True(t, format.IsAligned(uintptr(c.Base), 32), "allocator %d: class %d base %s", i, c.Capacity, c.Base)

			b, ok := la.ClassBytes(c.Base, c.Capacity)
			require.True(t, ok)
			require.Len(t, b, int(c.Capacity))
			assert.Equal(t, uintptr(c.Base), uintptr(unsafe.Pointer(&b[0])), "view starts at the granted address")
		}

		a, err := la.Alloc(96, 32)
		require.NoError(t, err)
		assert.True(t, format.IsAligned(uintptr(a), 32))
	}
}

func TestLabAllocator_ClassBytes(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	a, err := la.Alloc(192, 8)
	require.NoError(t, err)

	b, ok := la.ClassBytes(a, 192)
	require.True(t, ok)
	require.Len(t, b, 192)
	b[0], b[191] = 0xaa, 0xbb

	view, ok := la.ClassBytes(a, 192)
	require.True(t, ok)
	assert.Equal(t, byte(0xaa), view[0])
	assert.Equal(t, byte(0xbb), view[191])

	_, ok = la.ClassBytes(a, 193)
	assert.False(t, ok, "range past the class buffer")
	_, ok = la.ClassBytes(0x1000, 8)
	assert.False(t, ok, "region address is not a class buffer")
}

// TestLabAllocator_DeallocHighSide tests that freeing the high grant resets the turn.
func TestLabAllocator_DeallocHighSide(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	hi, err := la.Alloc(64, 1)
	require.NoError(t, err)
	_, err = la.Alloc(32, 1)
	require.NoError(t, err)
	require.Equal(t, uintptr(2), la.Turn())

	la.Dealloc(hi, 64, 1)
	assert.Equal(t, Addr(0x2000), la.Snapshot().High)
	assert.Zero(t, la.Turn())

	again, err := la.Alloc(16, 1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x2000-16), again, "reset turn favours the high side")
}

func TestLabAllocator_DeallocLowSide(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	_, err := la.Alloc(64, 1)
	require.NoError(t, err)
	lo, err := la.Alloc(48, 1)
	require.NoError(t, err)
	require.Equal(t, Addr(0x1000), lo)

	la.Dealloc(lo, 48, 1)
	assert.Equal(t, Addr(0x1000), la.Snapshot().Low)
	assert.Equal(t, uintptr(2), la.Turn(), "low-side release keeps the turn")
}

func TestLabAllocator_DeallocIgnoresOtherAddresses(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	_, err := la.Alloc(64, 1)
	require.NoError(t, err)
	_, err = la.Alloc(64, 1)
	require.NoError(t, err)
	_, err = la.Alloc(64, 1)
	require.NoError(t, err)
	before := la.Snapshot()

	la.Dealloc(0x1800, 64, 1)
	la.Dealloc(0x2000-64, 64, 1) // not the innermost high grant
	la.Dealloc(0x1000, 32, 1)    // wrong size for the low grant
	assert.Equal(t, before, la.Snapshot())
}

func TestLabAllocator_DeallocClassIsNoop(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	hi, err := la.Alloc(64, 1)
	require.NoError(t, err)
	before := la.Snapshot()

	a, err := la.Alloc(384, 8)
	require.NoError(t, err)
	la.Dealloc(a, 384, 8)
	la.Dealloc(hi, 64, 8) // aligned release never touches the cursors
	assert.Equal(t, before, la.Snapshot())
}

func TestLabAllocator_DeallocIntoPagesPanics(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	p, err := la.AllocPages(1, testPage)
	require.NoError(t, err)

	require.Panics(t, func() { la.Dealloc(p, 64, 1) })
}

func TestLabAllocator_AddMemory(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	require.NoError(t, la.AddMemory(0x2000, 0x1000))
	assert.Equal(t, uintptr(0x2000), la.TotalBytes())
	assert.Equal(t, Addr(0x3000), la.Snapshot().High)

	before := la.Snapshot()
	err := la.AddMemory(0x2000, 0x1000)
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, before, la.Snapshot())

	_, err = la.Alloc(8, 1) // high side
	require.NoError(t, err)
	err = la.AddMemory(0x3000, 0x1000)
	require.ErrorIs(t, err, ErrUnsupported)
}

// TestLabAllocator_DefaultTotalBytes tests that the default configuration
// reports the fixed constant however large the region is.
func TestLabAllocator_DefaultTotalBytes(t *testing.T) {
	la := newTestLab(t, DefaultLabConfig, 0x10_0000, 0x40_0000)

	assert.Equal(t, uintptr(format.LabTotalBytes), la.TotalBytes())
	assert.Equal(t, uintptr(0x1000), la.TotalBytes())
	assert.Equal(t, uintptr(0x40_0000), la.AvailableBytes())

	require.NoError(t, la.AddMemory(0x50_0000, 0x1000))
	assert.Equal(t, uintptr(0x1000), la.TotalBytes(), "growth does not change the constant")

	_, err := la.Alloc(64, 1)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x1000), la.TotalBytes(), "grants do not change the constant")
}

func TestLabAllocator_AccurateTotalBytes(t *testing.T) {
	la := newTestLab(t, AccurateLabConfig, 0x10_0000, 0x40_0000)

	assert.Equal(t, uintptr(0x40_0000), la.TotalBytes())
	assert.Equal(t, la.TotalBytes(), la.UsedBytes()+la.AvailableBytes())
}

func TestLabAllocator_PageCounters(t *testing.T) {
	la := newTestLab(t, unguardedLab, 0x1000, 0x1000)

	_, err := la.AllocPages(1, testPage)
	require.NoError(t, err)
	_, err = la.AllocPages(1, 4*testPage) // 0x1e00 aligned down to 0x1c00
	require.NoError(t, err)

	assert.Equal(t, uintptr(4), la.UsedPages(), "alignment slack is charged to pages")
	assert.Equal(t, uintptr(0xc), la.AvailablePages())
	assert.Equal(t, uintptr(0x10), la.TotalPages())

	_, err = la.AllocPages(1, 3*testPage)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = la.AllocPages(0x20, testPage)
	require.ErrorIs(t, err, ErrOutOfMemory)

	require.Panics(t, func() { la.DeallocPages(0x1c00, 1) })
}
