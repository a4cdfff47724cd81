package allocator

import (
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/pager"
	"go-recdb/util/helpers"

	"github.com/pkg/errors"
)

// bits of the slot header flags
const (
	bitUsed = iota
	bitOverflow
	bitFree
)

// Slot flags.
const (
	FlagUsed     = uint8(1 << bitUsed)
	FlagOverflow = uint8(1 << bitOverflow)
	FlagFree     = uint8(1 << bitFree)
)

// Slot addresses a slot inside a data block.
type Slot struct {
	Block    uint64
	Offset   int
	Capacity int
}

func (s Slot) class() int { return s.Capacity / Granularity }

// SlotHeader is the decoded header in front of every slot.
type SlotHeader struct {
	Capacity int
	Flags    uint8
	Length   int
}

func (h SlotHeader) IsUsed() bool     { return helpers.GetBit(h.Flags, bitUsed) }
func (h SlotHeader) IsOverflow() bool { return helpers.GetBit(h.Flags, bitOverflow) }

// SetOverflow marks the slot as the head of an overflow record.
func (h *SlotHeader) SetOverflow(v bool) { helpers.SetBit(&h.Flags, bitOverflow, v) }

func ReadSlotHeader(b *pager.Block, off int) SlotHeader {
	d := b.Bytes()[off:]
	return SlotHeader{
		Capacity: int(bin.Uint16(d[0:2])),
		Flags:    d[2],
		Length:   int(bin.Uint32(d[4:8])),
	}
}

func WriteSlotHeader(b *pager.Block, off int, h SlotHeader) {
	d := b.Bytes()[off:]
	bin.PutUint16(d[0:2], uint16(h.Capacity))
	d[2] = h.Flags
	d[3] = 0
	bin.PutUint32(d[4:8], uint32(h.Length))
}

// CheckSlot verifies that off addresses a used slot of a data block.
func (a *Allocator) CheckSlot(b *pager.Block, off int) (SlotHeader, error) {
	if err := CheckType(b, TypeData); err != nil {
		return SlotHeader{}, err
	}
	if off < DataHeaderSize || off+SlotHeaderSize > a.blockSize || (off-DataHeaderSize)%Granularity != 0 {
		return SlotHeader{}, errors.Wrapf(customerrors.ErrCorrupt, "bad slot offset %d in block %d", off, b.Number())
	}

	sh := ReadSlotHeader(b, off)
	if !sh.IsUsed() || sh.Capacity < Granularity || off+sh.Capacity > a.blockSize {
		return SlotHeader{}, errors.Wrapf(customerrors.ErrCorrupt, "slot %d:%d is not in use", b.Number(), off)
	}
	return sh, nil
}

// Alloc reserves a slot for a payload of n bytes and marks it used. The
// slot content is left for the caller to write.
func (a *Allocator) Alloc(n int) (Slot, error) {
	need := SlotCapacity(n)
	if need > a.maxCap {
		panic(errors.Errorf("slot payload %d exceeds %d", n, a.MaxPayload()))
	}

	var s Slot
	err := a.Update(func(h Header) error {
		var err error
		s, err = a.alloc(h, need)
		return err
	})
	return s, err
}

func (a *Allocator) alloc(h Header, need int) (Slot, error) {
	for c := need / Granularity; c <= a.classes; c++ {
		s, ok, err := a.pop(h, c)
		if err != nil {
			return Slot{}, err
		} else if !ok {
			continue
		}

		if s.Capacity-need >= Granularity {
			rest := Slot{Block: s.Block, Offset: s.Offset + need, Capacity: s.Capacity - need}
			if err := a.markFree(rest); err != nil {
				return Slot{}, err
			}
			if err := a.push(h, rest); err != nil {
				return Slot{}, err
			}
			s.Capacity = need
		}
		return s, a.markUsed(s)
	}

	tb, to := h.tail()
	if tb == 0 || a.blockSize-to < need {
		if tb != 0 {
			if left := (a.blockSize - to) / Granularity * Granularity; left >= Granularity {
				rest := Slot{Block: tb, Offset: to, Capacity: left}
				if err := a.markFree(rest); err != nil {
					return Slot{}, err
				}
				if err := a.push(h, rest); err != nil {
					return Slot{}, err
				}
			}
		}

		b, err := a.allocBlock(h, TypeData)
		if err != nil {
			return Slot{}, errors.Wrap(err, "failed to allocate data block")
		}
		tb, to = b.Number(), DataHeaderSize
		if err := a.pager.Release(b, true); err != nil {
			return Slot{}, err
		}
	}

	s := Slot{Block: tb, Offset: to, Capacity: need}
	h.setTail(tb, to+need)
	return s, a.markUsed(s)
}

// Free releases a slot for reuse by later allocations of its size class.
func (a *Allocator) Free(s Slot) error {
	return a.Update(func(h Header) error {
		if err := a.markFree(s); err != nil {
			return err
		}
		return a.push(h, s)
	})
}

func (a *Allocator) markUsed(s Slot) error {
	return a.writeSlotHeader(s, SlotHeader{Capacity: s.Capacity, Flags: FlagUsed})
}

func (a *Allocator) markFree(s Slot) error {
	return a.writeSlotHeader(s, SlotHeader{Capacity: s.Capacity, Flags: FlagFree})
}

func (a *Allocator) writeSlotHeader(s Slot, sh SlotHeader) error {
	b, err := a.pager.Get(s.Block)
	if err != nil {
		return errors.Wrapf(err, "failed to get data block %d", s.Block)
	}
	if err := CheckType(b, TypeData); err != nil {
		_ = a.pager.Release(b, false)
		return err
	}

	WriteSlotHeader(b, s.Offset, sh)
	return a.pager.Release(b, true)
}
