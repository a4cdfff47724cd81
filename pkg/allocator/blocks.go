package allocator

import (
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/pager"

	"github.com/pkg/errors"
)

// Block types, stored as the first two bytes of every block except block 0.
const (
	TypeData        = uint16(1)
	TypeTranslation = uint16(2)
	TypeFreeList    = uint16(3)
	TypeOverflow    = uint16(4)
	TypeFree        = uint16(5)
)

// free block: type(2) reserved(2) next(8)
const freeNextOffset = 4

func TypeOf(b *pager.Block) uint16 {
	return b.Uint16(0)
}

// CheckType fails with ErrCorrupt when b is not of the expected type.
func CheckType(b *pager.Block, typ uint16) error {
	if t := TypeOf(b); t != typ {
		return errors.Wrapf(customerrors.ErrCorrupt, "block %d has type %d, expected %d", b.Number(), t, typ)
	}
	return nil
}

// AllocBlock returns a zeroed block of the given type, reusing a freed block
// when there is one. The block is pinned and the caller must release it as
// dirty.
func (a *Allocator) AllocBlock(typ uint16) (*pager.Block, error) {
	var b *pager.Block
	err := a.Update(func(h Header) error {
		var err error
		b, err = a.allocBlock(h, typ)
		return err
	})
	return b, err
}

func (a *Allocator) allocBlock(h Header, typ uint16) (*pager.Block, error) {
	n := h.freeBlocks()
	reused := n != 0
	if !reused {
		n = h.NextBlock()
		h.setNextBlock(n + 1)
	}

	b, err := a.pager.Get(n)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get block %d", n)
	}

	if reused {
		if err := CheckType(b, TypeFree); err != nil {
			_ = a.pager.Release(b, false)
			return nil, err
		}
		h.setFreeBlocks(b.Uint64(freeNextOffset))
	}

	b.Zero()
	b.PutUint16(0, typ)
	return b, nil
}

// FreeBlock puts block n on the free block list.
func (a *Allocator) FreeBlock(n uint64) error {
	return a.Update(func(h Header) error {
		return a.freeBlock(h, n)
	})
}

func (a *Allocator) freeBlock(h Header, n uint64) error {
	if n == 0 {
		panic(errors.New("freeing the header block"))
	}

	b, err := a.pager.Get(n)
	if err != nil {
		return errors.Wrapf(err, "failed to get block %d", n)
	}

	b.Zero()
	b.PutUint16(0, TypeFree)
	b.PutUint64(freeNextOffset, h.freeBlocks())
	h.setFreeBlocks(n)
	return a.pager.Release(b, true)
}
