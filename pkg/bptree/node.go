package bptree

import (
	"fmt"

	"go-recdb/pkg/codec"
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/record"

	"github.com/pkg/errors"
)

const (
	flagLeafNode     = uint8(0b00000000)
	flagInternalNode = uint8(0b00000001)

	valInline = uint8(0)
	valLazy   = uint8(1)

	// flag(1) count(2) prev(8) next(8)
	leafNodeHeaderSz = 19
	// flag(1) count(2) child0(8)
	internalNodeHeaderSz = 11
)

// value is an encoded value as kept in a leaf. Large values live in their
// own record and the leaf only keeps its id.
type value struct {
	lazy bool
	data []byte
	ref  record.RecordId
}

type entry[K any] struct {
	key K
	raw []byte
	val value
}

// node represents an internal or leaf node in the B+ tree. Each node is
// stored as one record.
type node[K any] struct {
	id record.RecordId

	// leaf siblings
	prev record.RecordId
	next record.RecordId

	entries  []entry[K]
	children []record.RecordId

	cmp codec.Comparator[K]
	kc  codec.Codec[K]
}

// search performs a binary search in the node entries for the given key
// and returns the index where it should be and a flag indicating whether
// key exists. For internal nodes the index is the child to descend into.
func (n *node[K]) search(key K) (idx int, found bool) {
	left, right := 0, len(n.entries)-1

	for left <= right {
		idx = (right + left) / 2

		cmp := n.cmp(key, n.entries[idx].key)
		if cmp == 0 {
			if n.isLeaf() {
				return idx, true
			}
			return idx + 1, true
		} else if cmp > 0 {
			left = idx + 1
		} else {
			right = idx - 1
		}
	}

	return left, false
}

func (n *node[K]) insertChild(idx int, child record.RecordId) {
	n.children = append(n.children, 0)
	copy(n.children[idx+1:], n.children[idx:])
	n.children[idx] = child
}

func (n *node[K]) insertEntry(idx int, e entry[K]) {
	n.entries = append(n.entries, entry[K]{})
	copy(n.entries[idx+1:], n.entries[idx:])
	n.entries[idx] = e
}

func (n *node[K]) appendEntry(e ...entry[K]) {
	n.entries = append(n.entries, e...)
}

func (n *node[K]) appendChild(c ...record.RecordId) {
	n.children = append(n.children, c...)
}

// removeEntries removes entries in [from, to) and returns them.
func (n *node[K]) removeEntries(from, to int) []entry[K] {
	e := append(make([]entry[K], 0, to-from), n.entries[from:to]...)
	n.entries = append(n.entries[:from], n.entries[to:]...)
	return e
}

func (n *node[K]) removeChildren(from, to int) []record.RecordId {
	c := append(make([]record.RecordId, 0, to-from), n.children[from:to]...)
	n.children = append(n.children[:from], n.children[to:]...)
	return c
}

// isLeaf returns true if this node has no children. (i.e., it is
// a leaf node.)
func (n *node[K]) isLeaf() bool { return len(n.children) == 0 }

func (n *node[K]) String() string {
	s := "{"
	for _, e := range n.entries {
		s += fmt.Sprintf("'%v' ", e.key)
	}
	s += "} "
	s += fmt.Sprintf(
		"[id=%s, size=%d, leaf=%t, %s<-n->%s]",
		n.id, len(n.entries), n.isLeaf(), n.prev, n.next,
	)

	return s
}

func (n *node[K]) size() int {
	sz := internalNodeHeaderSz + 8*(len(n.children)-1)
	if n.isLeaf() {
		sz = leafNodeHeaderSz
	}

	for _, e := range n.entries {
		sz += 4 + len(e.raw)
		if !n.isLeaf() {
			continue
		}
		if e.val.lazy {
			sz += 1 + 8
		} else {
			sz += 1 + 4 + len(e.val.data)
		}
	}

	return sz
}

func (n *node[K]) MarshalBinary() ([]byte, error) {
	buf := make([]byte, n.size())
	offset := 0

	if n.isLeaf() {
		buf[offset] = flagLeafNode
		offset++
		bin.PutUint16(buf[offset:offset+2], uint16(len(n.entries)))
		offset += 2
		bin.PutUint64(buf[offset:offset+8], uint64(n.prev))
		offset += 8
		bin.PutUint64(buf[offset:offset+8], uint64(n.next))
		offset += 8

		for _, e := range n.entries {
			bin.PutUint32(buf[offset:offset+4], uint32(len(e.raw)))
			offset += 4
			copy(buf[offset:], e.raw)
			offset += len(e.raw)

			if e.val.lazy {
				buf[offset] = valLazy
				bin.PutUint64(buf[offset+1:offset+9], uint64(e.val.ref))
				offset += 9
				continue
			}

			buf[offset] = valInline
			bin.PutUint32(buf[offset+1:offset+5], uint32(len(e.val.data)))
			offset += 5
			copy(buf[offset:], e.val.data)
			offset += len(e.val.data)
		}
		return buf, nil
	}

	buf[offset] = flagInternalNode
	offset++
	bin.PutUint16(buf[offset:offset+2], uint16(len(n.entries)))
	offset += 2

	// write the 0th child
	bin.PutUint64(buf[offset:offset+8], uint64(n.children[0]))
	offset += 8

	for i, e := range n.entries {
		bin.PutUint64(buf[offset:offset+8], uint64(n.children[i+1]))
		offset += 8
		bin.PutUint32(buf[offset:offset+4], uint32(len(e.raw)))
		offset += 4
		copy(buf[offset:], e.raw)
		offset += len(e.raw)
	}

	return buf, nil
}

// reader walks a node record and turns running out of bytes into
// ErrCorrupt.
type reader struct {
	d   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.d) {
		r.err = errors.Wrapf(customerrors.ErrCorrupt, "node record truncated at %d", r.off)
		return nil
	}
	b := r.d[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return bin.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return bin.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return bin.Uint64(b)
	}
	return 0
}

func (r *reader) bytes() []byte {
	n := int(r.u32())
	return append([]byte(nil), r.take(n)...)
}

func (n *node[K]) UnmarshalBinary(d []byte) error {
	if n == nil {
		return errors.New("cannot unmarshal into nil node")
	}

	r := &reader{d: d}
	flag := r.u8()
	count := int(r.u16())
	n.entries = make([]entry[K], 0, count)
	n.children = nil

	if flag&flagInternalNode == 0 {
		n.prev = record.RecordId(r.u64())
		n.next = record.RecordId(r.u64())

		for i := 0; i < count && r.err == nil; i++ {
			e := entry[K]{raw: r.bytes()}
			switch r.u8() {
			case valLazy:
				e.val = value{lazy: true, ref: record.RecordId(r.u64())}
			case valInline:
				e.val = value{data: r.bytes()}
			default:
				return errors.Wrapf(customerrors.ErrCorrupt, "bad value flag in node %s", n.id)
			}
			n.entries = append(n.entries, e)
		}
	} else {
		n.children = append(n.children, record.RecordId(r.u64()))
		for i := 0; i < count && r.err == nil; i++ {
			n.children = append(n.children, record.RecordId(r.u64()))
			n.entries = append(n.entries, entry[K]{raw: r.bytes()})
		}
	}

	if r.err != nil {
		return r.err
	}

	for i := range n.entries {
		key, err := n.kc.Decode(n.entries[i].raw)
		if err != nil {
			return errors.Wrapf(err, "failed to decode key in node %s", n.id)
		}
		n.entries[i].key = key
	}
	return nil
}
