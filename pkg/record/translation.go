package record

import (
	"go-recdb/pkg/allocator"
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/pager"

	"github.com/pkg/errors"
)

// translation block: type(2) used(2) then (block u64, offset u16) entries
const (
	transUsed   = 2
	transHeader = 4
	transEntry  = 10
)

func notFound(id RecordId) error {
	return errors.Wrapf(customerrors.ErrRecordNotFound, "record %s", id)
}

func (m *Manager) transCap() int {
	return (m.blockSize - transHeader) / transEntry
}

func readEntry(b *pager.Block, off int) PhysicalRowId {
	return PhysicalRowId{Block: b.Uint64(off), Offset: b.Uint16(off + 8)}
}

func writeEntry(b *pager.Block, off int, loc PhysicalRowId) {
	b.PutUint64(off, loc.Block)
	b.PutUint16(off+8, loc.Offset)
}

// issue hands out the next translation entry and points it at loc.
func (m *Manager) issue(h allocator.Header, loc PhysicalRowId) (RecordId, error) {
	var b *pager.Block
	var err error

	if n := h.TransBlock(); n != 0 {
		if b, err = m.pager.Get(n); err != nil {
			return 0, errors.Wrapf(err, "failed to get translation block %d", n)
		}
		if err := allocator.CheckType(b, allocator.TypeTranslation); err != nil {
			_ = m.pager.Release(b, false)
			return 0, err
		}
		if int(b.Uint16(transUsed)) == m.transCap() {
			if err := m.pager.Release(b, false); err != nil {
				return 0, err
			}
			b = nil
		}
	}

	if b == nil {
		if b, err = m.alloc.AllocBlock(allocator.TypeTranslation); err != nil {
			return 0, errors.Wrap(err, "failed to allocate translation block")
		}
		h.SetTransBlock(b.Number())
	}

	used := int(b.Uint16(transUsed))
	off := transHeader + used*transEntry
	writeEntry(b, off, loc)
	b.PutUint16(transUsed, uint16(used+1))

	id := NewRecordId(b.Number(), off)
	return id, m.pager.Release(b, true)
}

// translation pins the translation block holding id and returns the entry
// offset. Ids that were never issued are reported as not found.
func (m *Manager) translation(id RecordId) (*pager.Block, int, error) {
	n, off := id.Block(), id.Offset()
	if n == 0 || off < transHeader || off+transEntry > m.blockSize || (off-transHeader)%transEntry != 0 {
		return nil, 0, notFound(id)
	}

	blocks, err := m.alloc.BlockCount()
	if err != nil {
		return nil, 0, err
	} else if n >= blocks {
		return nil, 0, notFound(id)
	}

	b, err := m.pager.Get(n)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to get translation block %d", n)
	}

	if allocator.TypeOf(b) != allocator.TypeTranslation || (off-transHeader)/transEntry >= int(b.Uint16(transUsed)) {
		_ = m.pager.Release(b, false)
		return nil, 0, notFound(id)
	}
	return b, off, nil
}

// resolve returns the current location of a live record.
func (m *Manager) resolve(id RecordId) (PhysicalRowId, error) {
	b, off, err := m.translation(id)
	if err != nil {
		return PhysicalRowId{}, err
	}

	loc := readEntry(b, off)
	if err := m.pager.Release(b, false); err != nil {
		return PhysicalRowId{}, err
	}
	if loc == tombstone {
		return PhysicalRowId{}, notFound(id)
	}
	return loc, nil
}

// relocate points the translation entry of id at loc.
func (m *Manager) relocate(id RecordId, loc PhysicalRowId) error {
	b, off, err := m.translation(id)
	if err != nil {
		return err
	}
	writeEntry(b, off, loc)
	return m.pager.Release(b, true)
}
