package allocator

import (
	"go-recdb/pkg/pager"

	"github.com/google/uuid"
)

const (
	Magic         = uint32(0x52444231) // "RDB1"
	FormatVersion = uint16(1)
)

// header field offsets within block 0
const (
	hMagic       = 0
	hVersion     = 4
	hBlockSize   = 8
	hFileID      = pager.IDOffset
	hNextBlock   = 28
	hFreeBlocks  = 36
	hTailBlock   = 44
	hTailOffset  = 52
	hTransBlock  = 54
	hLiveRecords = 62
	hNamedRoot   = 70
	hClassHeads  = 96
)

// Header is a view over the pinned block 0. It is only valid inside the
// function given to Allocator.View or Allocator.Update.
type Header struct {
	b *pager.Block
}

func (h Header) Magic() uint32     { return h.b.Uint32(hMagic) }
func (h Header) Version() uint16   { return h.b.Uint16(hVersion) }
func (h Header) BlockSize() int    { return int(h.b.Uint32(hBlockSize)) }
func (h Header) NextBlock() uint64 { return h.b.Uint64(hNextBlock) }

func (h Header) FileID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], h.b.Bytes()[hFileID:hFileID+16])
	return id
}

// TransBlock is the translation block new record ids are issued from.
func (h Header) TransBlock() uint64     { return h.b.Uint64(hTransBlock) }
func (h Header) SetTransBlock(n uint64) { h.b.PutUint64(hTransBlock, n) }

func (h Header) LiveRecords() uint64     { return h.b.Uint64(hLiveRecords) }
func (h Header) SetLiveRecords(n uint64) { h.b.PutUint64(hLiveRecords, n) }

// NamedRoot is the record id of the name directory, 0 when empty.
func (h Header) NamedRoot() uint64      { return h.b.Uint64(hNamedRoot) }
func (h Header) SetNamedRoot(id uint64) { h.b.PutUint64(hNamedRoot, id) }

func (h Header) setNextBlock(n uint64)  { h.b.PutUint64(hNextBlock, n) }
func (h Header) freeBlocks() uint64     { return h.b.Uint64(hFreeBlocks) }
func (h Header) setFreeBlocks(n uint64) { h.b.PutUint64(hFreeBlocks, n) }

func (h Header) tail() (uint64, int) {
	return h.b.Uint64(hTailBlock), int(h.b.Uint16(hTailOffset))
}

func (h Header) setTail(n uint64, off int) {
	h.b.PutUint64(hTailBlock, n)
	h.b.PutUint16(hTailOffset, uint16(off))
}

func (h Header) classHead(c int) uint64 {
	return h.b.Uint64(hClassHeads + (c-1)*8)
}

func (h Header) setClassHead(c int, n uint64) {
	h.b.PutUint64(hClassHeads+(c-1)*8, n)
}

func (h Header) format(blockSize int, id uuid.UUID) {
	h.b.Zero()
	h.b.PutUint32(hMagic, Magic)
	h.b.PutUint16(hVersion, FormatVersion)
	h.b.PutUint32(hBlockSize, uint32(blockSize))
	copy(h.b.Bytes()[hFileID:hFileID+16], id[:])
	h.setNextBlock(1)
}
