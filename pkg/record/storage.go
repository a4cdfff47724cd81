package record

import (
	"go-recdb/pkg/allocator"
	"go-recdb/pkg/customerrors"
	"go-recdb/util/helpers"

	"github.com/pkg/errors"
)

// continuation block: type(2) used(2) next(8) payload
const (
	contUsed   = 2
	contNext   = 4
	contHeader = 12
)

// overflow head slot payload: first continuation block(8) then the tail
// fragment
const headChain = 8

func (m *Manager) contCap() int {
	return m.blockSize - contHeader
}

// tailLen is how many trailing bytes of an overflow record of the given
// length live in its head slot. The rest is spread over continuation
// blocks, each filled completely except possibly the last.
func (m *Manager) tailLen(total int) int {
	r := total % m.contCap()
	if r > m.alloc.MaxPayload()-headChain {
		return 0
	}
	return r
}

// write stores data in newly allocated space and returns its head slot.
func (m *Manager) write(data []byte) (PhysicalRowId, error) {
	if len(data) <= m.alloc.MaxPayload() {
		s, err := m.alloc.Alloc(len(data))
		if err != nil {
			return PhysicalRowId{}, errors.Wrap(err, "failed to allocate slot")
		}

		b, err := m.pager.Get(s.Block)
		if err != nil {
			return PhysicalRowId{}, err
		}
		allocator.WriteSlotHeader(b, s.Offset, allocator.SlotHeader{
			Capacity: s.Capacity,
			Flags:    allocator.FlagUsed,
			Length:   len(data),
		})
		copy(b.Bytes()[s.Offset+allocator.SlotHeaderSize:], data)
		return PhysicalRowId{Block: s.Block, Offset: uint16(s.Offset)}, m.pager.Release(b, true)
	}

	r := m.tailLen(len(data))
	first, err := m.writeChain(data[:len(data)-r])
	if err != nil {
		return PhysicalRowId{}, err
	}

	s, err := m.alloc.Alloc(headChain + r)
	if err != nil {
		return PhysicalRowId{}, errors.Wrap(err, "failed to allocate overflow head")
	}

	b, err := m.pager.Get(s.Block)
	if err != nil {
		return PhysicalRowId{}, err
	}
	sh := allocator.SlotHeader{Capacity: s.Capacity, Flags: allocator.FlagUsed, Length: len(data)}
	sh.SetOverflow(true)
	allocator.WriteSlotHeader(b, s.Offset, sh)
	off := s.Offset + allocator.SlotHeaderSize
	b.PutUint64(off, first)
	copy(b.Bytes()[off+headChain:], data[len(data)-r:])
	return PhysicalRowId{Block: s.Block, Offset: uint16(s.Offset)}, m.pager.Release(b, true)
}

// writeChain stores data in continuation blocks and returns the first one.
// Blocks are written back to front so each can point at its successor.
func (m *Manager) writeChain(data []byte) (uint64, error) {
	cc := m.contCap()
	next := uint64(0)

	for i := helpers.CeilDiv(len(data), cc) - 1; i >= 0; i-- {
		chunk := data[i*cc : helpers.Min((i+1)*cc, len(data))]

		b, err := m.alloc.AllocBlock(allocator.TypeOverflow)
		if err != nil {
			return 0, errors.Wrap(err, "failed to allocate continuation block")
		}
		b.PutUint16(contUsed, uint16(len(chunk)))
		b.PutUint64(contNext, next)
		copy(b.Bytes()[contHeader:], chunk)

		next = b.Number()
		if err := m.pager.Release(b, true); err != nil {
			return 0, err
		}
	}
	return next, nil
}

// read returns a copy of the record stored at loc.
func (m *Manager) read(loc PhysicalRowId) ([]byte, error) {
	b, err := m.pager.Get(loc.Block)
	if err != nil {
		return nil, err
	}

	off := int(loc.Offset)
	sh, err := m.alloc.CheckSlot(b, off)
	if err != nil {
		_ = m.pager.Release(b, false)
		return nil, err
	}
	payload := b.Bytes()[off+allocator.SlotHeaderSize : off+sh.Capacity]

	if !sh.IsOverflow() {
		if sh.Length > len(payload) {
			_ = m.pager.Release(b, false)
			return nil, errors.Wrapf(customerrors.ErrCorrupt, "slot %d:%d holds %d bytes, length says %d", loc.Block, off, len(payload), sh.Length)
		}
		data := make([]byte, sh.Length)
		copy(data, payload)
		return data, m.pager.Release(b, false)
	}

	r := m.tailLen(sh.Length)
	if headChain+r > len(payload) {
		_ = m.pager.Release(b, false)
		return nil, errors.Wrapf(customerrors.ErrCorrupt, "overflow head %d:%d is too small", loc.Block, off)
	}
	first := bin.Uint64(payload[0:8])
	tail := append([]byte(nil), payload[headChain:headChain+r]...)
	if err := m.pager.Release(b, false); err != nil {
		return nil, err
	}

	data := make([]byte, 0, sh.Length)
	for n := first; len(data) < sh.Length-r; {
		if n == 0 {
			return nil, errors.Wrapf(customerrors.ErrCorrupt, "overflow chain of %d:%d ends early", loc.Block, off)
		}

		cb, err := m.pager.Get(n)
		if err != nil {
			return nil, err
		}
		if err := allocator.CheckType(cb, allocator.TypeOverflow); err != nil {
			_ = m.pager.Release(cb, false)
			return nil, err
		}

		used := int(cb.Uint16(contUsed))
		if used == 0 || used > m.contCap() || len(data)+used > sh.Length-r {
			_ = m.pager.Release(cb, false)
			return nil, errors.Wrapf(customerrors.ErrCorrupt, "continuation block %d holds %d bytes", n, used)
		}
		data = append(data, cb.Bytes()[contHeader:contHeader+used]...)
		n = cb.Uint64(contNext)
		if err := m.pager.Release(cb, false); err != nil {
			return nil, err
		}
	}

	return append(data, tail...), nil
}

// rewrite overwrites the record at loc when data needs a slot of exactly
// the same size. It reports whether it did.
func (m *Manager) rewrite(loc PhysicalRowId, data []byte) (bool, error) {
	if len(data) > m.alloc.MaxPayload() {
		return false, nil
	}

	b, err := m.pager.Get(loc.Block)
	if err != nil {
		return false, err
	}

	off := int(loc.Offset)
	sh, err := m.alloc.CheckSlot(b, off)
	if err != nil {
		_ = m.pager.Release(b, false)
		return false, err
	}
	if sh.IsOverflow() || allocator.SlotCapacity(len(data)) != sh.Capacity {
		return false, m.pager.Release(b, false)
	}

	sh.Length = len(data)
	allocator.WriteSlotHeader(b, off, sh)
	copy(b.Bytes()[off+allocator.SlotHeaderSize:], data)
	return true, m.pager.Release(b, true)
}

// free releases the head slot at loc and every continuation block.
func (m *Manager) free(loc PhysicalRowId) error {
	b, err := m.pager.Get(loc.Block)
	if err != nil {
		return err
	}

	off := int(loc.Offset)
	sh, err := m.alloc.CheckSlot(b, off)
	if err != nil {
		_ = m.pager.Release(b, false)
		return err
	}

	first := uint64(0)
	if sh.IsOverflow() {
		first = b.Uint64(off + allocator.SlotHeaderSize)
	}
	if err := m.pager.Release(b, false); err != nil {
		return err
	}

	for n := first; n != 0; {
		cb, err := m.pager.Get(n)
		if err != nil {
			return err
		}
		if err := allocator.CheckType(cb, allocator.TypeOverflow); err != nil {
			_ = m.pager.Release(cb, false)
			return err
		}
		next := cb.Uint64(contNext)
		if err := m.pager.Release(cb, false); err != nil {
			return err
		}
		if err := m.alloc.FreeBlock(n); err != nil {
			return errors.Wrapf(err, "failed to free continuation block %d", n)
		}
		n = next
	}

	return m.alloc.Free(allocator.Slot{Block: loc.Block, Offset: off, Capacity: sh.Capacity})
}
