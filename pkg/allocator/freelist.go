package allocator

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var bin = binary.BigEndian

// free list page: type(2) count(2) next(8) then (block u64, offset u16)
// entries
const (
	flCount   = 2
	flNext    = 4
	flEntries = 12
	flEntry   = 10
)

func (a *Allocator) freeListCap() int {
	return (a.blockSize - flEntries) / flEntry
}

func (a *Allocator) push(h Header, s Slot) error {
	c := s.class()
	head := h.classHead(c)

	if head != 0 {
		b, err := a.pager.Get(head)
		if err != nil {
			return errors.Wrapf(err, "failed to get free list page %d", head)
		}
		if err := CheckType(b, TypeFreeList); err != nil {
			_ = a.pager.Release(b, false)
			return err
		}

		if count := int(b.Uint16(flCount)); count < a.freeListCap() {
			putEntry(b.Bytes(), count, s)
			b.PutUint16(flCount, uint16(count+1))
			return a.pager.Release(b, true)
		}
		if err := a.pager.Release(b, false); err != nil {
			return err
		}
	}

	b, err := a.allocBlock(h, TypeFreeList)
	if err != nil {
		return errors.Wrap(err, "failed to allocate free list page")
	}
	b.PutUint64(flNext, head)
	putEntry(b.Bytes(), 0, s)
	b.PutUint16(flCount, 1)
	h.setClassHead(c, b.Number())
	return a.pager.Release(b, true)
}

func (a *Allocator) pop(h Header, c int) (Slot, bool, error) {
	head := h.classHead(c)
	if head == 0 {
		return Slot{}, false, nil
	}

	b, err := a.pager.Get(head)
	if err != nil {
		return Slot{}, false, errors.Wrapf(err, "failed to get free list page %d", head)
	}
	if err := CheckType(b, TypeFreeList); err != nil {
		_ = a.pager.Release(b, false)
		return Slot{}, false, err
	}

	count := int(b.Uint16(flCount)) - 1
	s := getEntry(b.Bytes(), count)
	s.Capacity = c * Granularity
	b.PutUint16(flCount, uint16(count))

	if count > 0 {
		return s, true, a.pager.Release(b, true)
	}

	h.setClassHead(c, b.Uint64(flNext))
	if err := a.pager.Release(b, true); err != nil {
		return Slot{}, false, err
	}
	return s, true, a.freeBlock(h, head)
}

func putEntry(d []byte, i int, s Slot) {
	e := d[flEntries+i*flEntry:]
	bin.PutUint64(e[0:8], s.Block)
	bin.PutUint16(e[8:10], uint16(s.Offset))
}

func getEntry(d []byte, i int) Slot {
	e := d[flEntries+i*flEntry:]
	return Slot{Block: bin.Uint64(e[0:8]), Offset: int(bin.Uint16(e[8:10]))}
}

// FreeSlots counts the free slots over every size class.
func (a *Allocator) FreeSlots() (int, error) {
	total := 0
	err := a.View(func(h Header) error {
		for c := 1; c <= a.classes; c++ {
			for n := h.classHead(c); n != 0; {
				b, err := a.pager.Get(n)
				if err != nil {
					return errors.Wrapf(err, "failed to get free list page %d", n)
				}
				if err := CheckType(b, TypeFreeList); err != nil {
					_ = a.pager.Release(b, false)
					return err
				}
				total += int(b.Uint16(flCount))
				next := b.Uint64(flNext)
				if err := a.pager.Release(b, false); err != nil {
					return err
				}
				n = next
			}
		}
		return nil
	})
	return total, err
}
