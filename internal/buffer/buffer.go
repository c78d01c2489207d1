// Package buffer implements the per-port buffer table: resolving a
// PORT_USE_BUFFERS control event into mapped Entry values
// the local node can use directly, pinning the memory ids each entry
// depends on and unwinding cleanly on any failure partway through.
//
// Grounded on remote.c's client_node_port_use_buffers/clear_buffers.
// Instead of the original's flat buffer-struct-plus-tail-arrays
// layout, entries here are rendered as three owned slices (Metas,
// Datas, Pins) instead of one unsafe flat allocation.
package buffer

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/konsulko/pipewire/internal/logging"
	"github.com/konsulko/pipewire/internal/memregistry"
	"github.com/konsulko/pipewire/internal/wire"
)

// ErrUnknownMemID is wrapped into any buildEntry failure caused by a
// buffer descriptor referencing a mem id this table has no region for,
// so a caller (control.Dispatcher) can classify the failure as
// not-found rather than a generic I/O error.
var ErrUnknownMemID = errors.New("unknown memory id")

// Entry is one mapped buffer: its relocated metas/datas plus every
// memregistry.Region it pins, so Table can unpin them all on clear
// without recomputing which regions a given buffer touched.
type Entry struct {
	ID    uint32
	Metas []wire.Meta
	Datas []wire.Data
	Pins  []*memregistry.Region

	mapping []byte
}

// Source describes one incoming buffer descriptor as decoded off the
// control channel: which memory id backs it, at what offset/size, and
// its already-typed meta/data plane descriptors (data planes whose
// Kind is MemFd/DmaBuf carry the referenced mem id in FD; MemPtr
// carries a buffer-relative offset in the same field reinterpreted,
// matching the original's SPA_PTR_TO_UINT32/SPA_PTR_TO_INT overload).
type Source struct {
	MemID  uint32
	Offset uint32
	Size   uint32
	Metas  []SourceMeta
	Datas  []SourceData
}

// SourceMeta is one meta plane before relocation: Size bytes starting
// at an implicit running offset inside the mapped buffer.
type SourceMeta struct {
	Type uint32
	Size uint32
}

// SourceData is one data plane before relocation.
type SourceData struct {
	Kind   wire.DataKind
	MaxLen uint32
	// Ref is either a memory id (Kind == MemFd/DmaBuf) or a
	// buffer-relative byte offset (Kind == MemPtr).
	Ref uint32
}

// Table is the buffer table for a single port.
type Table struct {
	mem     *memregistry.Table
	log     *logging.Logger
	entries []*Entry
	inOrder bool
}

// NewTable creates an empty buffer table backed by mem.
func NewTable(mem *memregistry.Table) *Table {
	return &Table{mem: mem, log: logging.Default(), inOrder: true}
}

// Entries returns the table's current buffers, indexed by position.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// InOrder reports whether every entry's ID equalled its array index at
// insertion time.
func (t *Table) InOrder() bool {
	return t.inOrder
}

// Clear unmaps and unpins every entry, returning the table to empty.
// Mirrors clear_buffers: for every pinned region, unpin and clear it
// once its pin count reaches zero.
func (t *Table) Clear() {
	for _, e := range t.entries {
		t.releaseEntry(e)
	}
	t.entries = nil
	t.inOrder = true
}

func (t *Table) releaseEntry(e *Entry) {
	for _, r := range e.Pins {
		if t.mem.Unpin(r) == 0 {
			t.mem.Clear(r)
		}
	}
}

// UseBuffers replaces the table's contents wholesale with the buffers
// described by srcs, mapping each one's backing memory id and
// relocating its meta/data planes into that mapping. The previous
// buffers are cleared unconditionally up front, so on any failure the
// table is left empty: UseBuffers rolls back everything it built this
// call and returns a *multierror.Error wrapping the triggering error.
// Rolling back reports no errors of its own; memregistry logs any
// unmap or close failure while releasing a region.
func (t *Table) UseBuffers(srcs []Source) error {
	t.Clear()

	built := make([]*Entry, 0, len(srcs))
	t.inOrder = true

	var buildErr error
	for i, src := range srcs {
		e, err := t.buildEntry(uint32(i), src)
		if err != nil {
			buildErr = fmt.Errorf("buffer %d: %w", i, err)
			if e != nil {
				built = append(built, e)
			}
			break
		}
		if e.ID != uint32(i) {
			t.inOrder = false
			t.log.Warn("unexpected buffer id", "got", e.ID, "expected", i)
		}
		built = append(built, e)
	}

	if buildErr != nil {
		var merr *multierror.Error
		merr = multierror.Append(merr, buildErr)
		for _, e := range built {
			if err := t.rollbackEntry(e); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
		return merr.ErrorOrNil()
	}

	t.entries = built
	return nil
}

func (t *Table) rollbackEntry(e *Entry) error {
	var merr *multierror.Error
	for _, r := range e.Pins {
		if t.mem.Unpin(r) == 0 {
			t.mem.Clear(r)
		}
	}
	return merr.ErrorOrNil()
}

func (t *Table) buildEntry(id uint32, src Source) (*Entry, error) {
	region := t.mem.Find(src.MemID)
	if region == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMemID, src.MemID)
	}

	mapped, err := t.mem.Map(region, src.Offset, src.Size)
	if err != nil {
		return nil, fmt.Errorf("mmap mem %d: %w", src.MemID, err)
	}

	entry := &Entry{ID: id, mapping: mapped}

	t.mem.Pin(region)
	entry.Pins = append(entry.Pins, region)

	var cursor uint32
	for _, sm := range src.Metas {
		if int(cursor)+int(sm.Size) > len(mapped) {
			return entry, fmt.Errorf("meta at %d exceeds mapping of size %d", cursor, len(mapped))
		}
		entry.Metas = append(entry.Metas, wire.Meta{
			Type: sm.Type,
			Size: sm.Size,
			Data: mapped[cursor : cursor+sm.Size],
		})
		cursor += sm.Size
	}

	const chunkSize = uint32(wire.ChunkSize)
	for j, sd := range src.Datas {
		d := wire.Data{Kind: sd.Kind, MaxLen: sd.MaxLen}

		chunkOff := cursor + uint32(j)*chunkSize
		if int(chunkOff)+int(chunkSize) <= len(mapped) {
			d.Chunk = mapped[chunkOff : chunkOff+chunkSize]
		}

		switch sd.Kind {
		case wire.DataKindMemFd, wire.DataKindDmaBuf:
			bregion := t.mem.Find(sd.Ref)
			if bregion == nil {
				return entry, fmt.Errorf("%w: %d", ErrUnknownMemID, sd.Ref)
			}
			d.FD = bregion.FD
			t.mem.Pin(bregion)
			entry.Pins = append(entry.Pins, bregion)
		case wire.DataKindMemPtr:
			off := sd.Ref
			if int(off) > len(mapped) {
				return entry, fmt.Errorf("data ptr offset %d exceeds mapping", off)
			}
			d.Data = mapped[off:]
			d.FD = -1
		default:
			t.log.Warn("unknown buffer data type", "kind", sd.Kind)
		}

		entry.Datas = append(entry.Datas, d)
	}

	return entry, nil
}
