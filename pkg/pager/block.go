package pager

import (
	"container/list"
	"encoding/binary"
)

var bin = binary.BigEndian

// Block is a cached copy of one fixed size block of the data file. It is
// only valid between Pager.Get and the matching Pager.Release.
type Block struct {
	num   uint64
	data  []byte
	dirty bool
	pins  int
	elem  *list.Element
}

func (b *Block) Number() uint64 { return b.num }

// Bytes exposes the block content. Changes must be reported to
// Pager.Release with dirty set.
func (b *Block) Bytes() []byte { return b.data }

func (b *Block) Uint16(off int) uint16 { return bin.Uint16(b.data[off : off+2]) }
func (b *Block) Uint32(off int) uint32 { return bin.Uint32(b.data[off : off+4]) }
func (b *Block) Uint64(off int) uint64 { return bin.Uint64(b.data[off : off+8]) }

func (b *Block) PutUint16(off int, v uint16) { bin.PutUint16(b.data[off:off+2], v) }
func (b *Block) PutUint32(off int, v uint32) { bin.PutUint32(b.data[off:off+4], v) }
func (b *Block) PutUint64(off int, v uint64) { bin.PutUint64(b.data[off:off+8], v) }

// Zero clears the whole block.
func (b *Block) Zero() {
	clear(b.data)
}

func blockLess(a, b *Block) bool {
	return a.num < b.num
}
