package memregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestFD(t *testing.T, size int) int {
	t.Helper()
	fd, err := unix.MemfdCreate("memregistry-test", 0)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, int64(size)))
	t.Cleanup(func() { _ = unix.Close(fd) })
	return fd
}

func TestAddDuplicateWarnsAndIgnores(t *testing.T) {
	tbl := New(0)
	fd := newTestFD(t, 4096)

	first := tbl.Add(5, fd, 0)
	second := tbl.Add(5, 999999, 0)

	assert.Same(t, first, second)
	assert.Equal(t, fd, first.FD)
	assert.Equal(t, 1, tbl.Len())
}

func TestFindMissing(t *testing.T) {
	tbl := New(0)
	assert.Nil(t, tbl.Find(42))
}

func TestMapIsIdempotent(t *testing.T) {
	tbl := New(0)
	fd := newTestFD(t, 4096)
	r := tbl.Add(1, fd, 0)

	data1, err := tbl.Map(r, 0, 64)
	require.NoError(t, err)
	require.True(t, r.Mapped())

	data2, err := tbl.Map(r, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, &data1[0], &data2[0])
}

func TestMapRespectsPageAlignment(t *testing.T) {
	tbl := New(4096)
	fd := newTestFD(t, 8192)
	r := tbl.Add(2, fd, 0)

	data, err := tbl.Map(r, 100, 50)
	require.NoError(t, err)
	assert.Len(t, data, len(r.data)-int(r.userStart))
	assert.Equal(t, uintptr(0), r.mapStart)
	assert.Equal(t, uintptr(100), r.userStart)
}

func TestUnmapIdempotent(t *testing.T) {
	tbl := New(0)
	fd := newTestFD(t, 4096)
	r := tbl.Add(3, fd, 0)

	_, err := tbl.Map(r, 0, 64)
	require.NoError(t, err)

	tbl.Unmap(r)
	assert.False(t, r.Mapped())

	tbl.Unmap(r) // second call must not panic or double-munmap
	assert.False(t, r.Mapped())
}

// TestClearDedupesSharedFD checks add_mem(5,F1,_);
// add_mem(6,F1,_); clear(5) -> F1 not closed, region 5 unmapped and
// id-invalidated.
func TestClearDedupesSharedFD(t *testing.T) {
	tbl := New(0)
	fd := newTestFD(t, 4096)

	r5 := tbl.Add(5, fd, 0)
	r6 := tbl.Add(6, fd, 0)

	_, err := tbl.Map(r5, 0, 64)
	require.NoError(t, err)

	tbl.Clear(r5)

	assert.False(t, r5.Mapped())
	assert.Equal(t, -1, r5.FD)
	assert.Equal(t, uint32(0), r5.ID)
	assert.Nil(t, tbl.Find(5))

	// fd is still usable: region 6 can still map it.
	_, err = tbl.Map(r6, 0, 64)
	assert.NoError(t, err)
}

func TestClearClosesUnsharedFD(t *testing.T) {
	tbl := New(0)
	fd, err := unix.MemfdCreate("memregistry-test-solo", 0)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, 4096))

	r := tbl.Add(7, fd, 0)
	tbl.Clear(r)

	// fd should now be closed; a second close must fail.
	assert.Error(t, unix.Close(fd))
}

func TestPinUnpin(t *testing.T) {
	tbl := New(0)
	fd := newTestFD(t, 4096)
	r := tbl.Add(8, fd, 0)

	tbl.Pin(r)
	tbl.Pin(r)
	assert.Equal(t, uint32(2), r.ref)

	tbl.Unpin(r)
	assert.Equal(t, uint32(1), r.ref)

	tbl.Unpin(r)
	tbl.Unpin(r) // underflow guard
	assert.Equal(t, uint32(0), r.ref)
}

func TestClearAll(t *testing.T) {
	tbl := New(0)
	tbl.Add(1, newTestFD(t, 4096), 0)
	tbl.Add(2, newTestFD(t, 4096), 0)
	require.Equal(t, 2, tbl.Len())

	tbl.ClearAll()
	assert.Equal(t, 0, tbl.Len())
}
