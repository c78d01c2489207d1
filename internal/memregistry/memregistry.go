// Package memregistry implements the memory-id registry:
// the table of fds the remote server has handed this client, each
// lazily mmap'd on first use and reference-counted by the buffers that
// pin it, so a region is cleared (unmapped, and its fd closed unless
// another region shares it) only once its last pin is dropped.
// Grounded on remote.c's find_mem/mem_map/mem_unmap/clear_memid.
package memregistry

import (
	"sync"

	"github.com/konsulko/pipewire/internal/logging"
	"golang.org/x/sys/unix"
)

// Observer receives mmap/munmap telemetry, structurally compatible
// with pwnode.Observer so a caller can pass its top-level Observer
// straight through without an adapter.
type Observer interface {
	ObserveMmap(op string, sizeBytes uint64)
}

// nopObserver implements Observer with no-ops.
type nopObserver struct{}

func (nopObserver) ObserveMmap(string, uint64) {}

// Region is one registered memory id: an fd the server sent over the
// control channel, plus the lazily-created mapping for it.
type Region struct {
	ID    uint32
	FD    int
	Flags uint32
	ref   uint32

	mapStart  uintptr
	mapSize   int
	userStart uintptr
	data      []byte
}

// Mapped reports whether the region currently has a live mmap.
func (r *Region) Mapped() bool {
	return r.data != nil
}

// Ptr returns the region's user-visible base pointer: the mapping
// start advanced past the page-alignment padding mem_map introduces,
// matching remote.c's SPA_MEMBER(ptr, map.start, void).
func (r *Region) Ptr() []byte {
	if r.data == nil {
		return nil
	}
	return r.data[r.userStart:]
}

// Table is the per-session registry of memory ids.
type Table struct {
	mu       sync.Mutex
	byID     map[uint32]*Region
	pageSize int
	log      *logging.Logger
	obs      Observer
}

// SetObserver installs obs to receive mmap/munmap telemetry for every
// subsequent Map/Unmap call. A nil obs restores the no-op default.
func (t *Table) SetObserver(obs Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if obs == nil {
		obs = nopObserver{}
	}
	t.obs = obs
}

// New creates an empty Table. pageSize defaults to unix.Getpagesize()
// when zero, but is an explicit parameter (not a package global) so
// tests can exercise alignment edge cases deterministically.
func New(pageSize int) *Table {
	if pageSize <= 0 {
		pageSize = unix.Getpagesize()
	}
	return &Table{
		byID:     make(map[uint32]*Region),
		pageSize: pageSize,
		log:      logging.Default(),
		obs:      nopObserver{},
	}
}

// Add registers a new memory id. A duplicate id is a warn-and-ignore:
// the existing registration wins and the new fd is left untouched by
// this call (the caller owns closing it), matching
// client_node_add_mem's documented duplicate policy.
func (t *Table) Add(id uint32, fd int, flags uint32) *Region {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byID[id]; ok {
		t.log.Warn("duplicate mem id, ignoring", "id", id, "fd", fd, "flags", flags)
		return existing
	}

	r := &Region{ID: id, FD: fd, Flags: flags}
	t.byID[id] = r
	t.log.Debug("added mem", "id", id, "fd", fd, "flags", flags)
	return r
}

// Find returns the region registered under id, or nil.
func (t *Table) Find(id uint32) *Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// alignRange computes the page-floored start and page-ceilinged size
// of [offset, offset+size), mirroring pw_map_range_init.
func alignRange(offset uint32, size uint32, pageSize int) (start uintptr, mapSize int, userStart uintptr) {
	p := uintptr(pageSize)
	off := uintptr(offset)
	start = (off / p) * p
	userStart = off - start
	end := off + uintptr(size)
	mapSize = int(((end-start)+p-1)/p) * pageSize
	return start, mapSize, userStart
}

// Map lazily mmaps region's fd at the given offset/size, returning the
// user-visible slice starting at the requested offset. A second call
// for an already-mapped region is a no-op that returns the existing
// mapping, matching mem_map's "if (mid->ptr == NULL)" guard.
func (t *Table) Map(r *Region, offset, size uint32) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.data != nil {
		return r.Ptr(), nil
	}

	start, mapSize, userStart := alignRange(offset, size, t.pageSize)

	data, err := unix.Mmap(r.FD, int64(start), mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.log.Error("mmap failed", "id", r.ID, "fd", r.FD, "size", mapSize, "err", err)
		return nil, err
	}

	if err := unix.Mlock(data); err != nil {
		t.log.Debug("mlock best-effort failed", "id", r.ID, "err", err)
	}

	r.mapStart = start
	r.mapSize = mapSize
	r.userStart = userStart
	r.data = data
	t.obs.ObserveMmap("map", uint64(mapSize))

	return r.Ptr(), nil
}

// Unmap tears down region's mapping if present. Idempotent.
func (t *Table) Unmap(r *Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unmapLocked(r)
}

func (t *Table) unmapLocked(r *Region) {
	if r.data == nil {
		return
	}
	if err := unix.Munmap(r.data); err != nil {
		t.log.Warn("failed to unmap", "id", r.ID, "err", err)
	}
	t.obs.ObserveMmap("unmap", uint64(r.mapSize))
	r.data = nil
}

// Pin increments region's pin count, taken by every BufferEntry that
// references it so Clear can tell whether other buffers still depend
// on the mapping.
func (t *Table) Pin(r *Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.ref++
}

// Unpin decrements region's pin count and returns the count remaining,
// so a caller can tell whether it just dropped the last reference.
func (t *Table) Unpin(r *Region) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.ref > 0 {
		r.ref--
	}
	return r.ref
}

// Clear unmaps and invalidates region's id, closing its fd unless
// another live region shares the same fd — mirroring clear_memid's
// fd-dedup-before-close logic exactly.
func (t *Table) Clear(r *Region) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.FD == -1 {
		return
	}

	fd := r.FD
	r.FD = -1
	delete(t.byID, r.ID)
	r.ID = 0

	hasRef := false
	for _, m := range t.byID {
		if m.FD == fd {
			hasRef = true
			break
		}
	}

	t.unmapLocked(r)
	if !hasRef {
		if err := unix.Close(fd); err != nil {
			t.log.Warn("failed to close mem fd", "fd", fd, "err", err)
		}
	}
}

// ClearAll clears every registered region, used when the transport is
// torn down (remote.c's clean_transport iterating mem_ids).
func (t *Table) ClearAll() {
	t.mu.Lock()
	regions := make([]*Region, 0, len(t.byID))
	for _, r := range t.byID {
		regions = append(regions, r)
	}
	t.mu.Unlock()

	for _, r := range regions {
		t.Clear(r)
	}
}

// Len reports the number of currently registered regions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
