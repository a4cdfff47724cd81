// Package bptree implements a B+ tree index stored in a record file. Every
// node is one record, the tree itself is identified by the id of its
// header record. Keys and values are turned into bytes by pluggable codecs.
package bptree

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"go-recdb/pkg/codec"
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/record"
	"go-recdb/util/stl"

	"github.com/pkg/errors"
)

// bin is the byte order used for all marshals/unmarshals.
var bin = binary.BigEndian

// BTree is a handle on a tree. Lookups and browsers may run concurrently,
// changes must not overlap with anything else on the same record file.
type BTree[K, V any] struct {
	rm *record.Manager
	id record.RecordId

	kc          codec.Codec[K]
	vc          codec.Codec[V]
	cmp         codec.Comparator[K]
	inlineLimit int

	// bumped by every change made through this handle, browsers compare it
	mod atomic.Uint64
}

// Create builds an empty tree in rm. Store the returned tree's ID to load
// it again.
func Create[K, V any](rm *record.Manager, opts *Options[K, V]) (*BTree[K, V], error) {
	tree, err := newTree(rm, 0, opts)
	if err != nil {
		return nil, err
	}

	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	} else if pageSize < MinPageSize || pageSize > 0xFFFF {
		return nil, errors.Errorf("invalid page size %d", pageSize)
	}

	root, err := tree.alloc()
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate root")
	}

	m := metadata{
		magic:    magic,
		version:  version,
		pageSize: uint16(pageSize),
		height:   1,
		root:     root.id,
	}
	d, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if tree.id, err = rm.Insert(d); err != nil {
		return nil, errors.Wrap(err, "failed to write tree header")
	}
	return tree, nil
}

// Load opens the tree whose header record is id.
func Load[K, V any](rm *record.Manager, id record.RecordId, opts *Options[K, V]) (*BTree[K, V], error) {
	tree, err := newTree(rm, id, opts)
	if err != nil {
		return nil, err
	}
	if _, err := tree.readMeta(); err != nil {
		return nil, errors.Wrap(err, "failed to read tree header")
	}
	return tree, nil
}

func newTree[K, V any](rm *record.Manager, id record.RecordId, opts *Options[K, V]) (*BTree[K, V], error) {
	if opts == nil || opts.KeyCodec == nil || opts.ValueCodec == nil {
		return nil, errors.New("key and value codecs are required")
	}

	tree := &BTree[K, V]{
		rm:          rm,
		id:          id,
		kc:          opts.KeyCodec,
		vc:          opts.ValueCodec,
		cmp:         opts.Comparator,
		inlineLimit: opts.InlineValueLimit,
	}
	if tree.cmp == nil {
		tree.cmp = codec.CompareEncoded(opts.KeyCodec)
	}
	if tree.inlineLimit == 0 {
		tree.inlineLimit = DefaultInlineValueLimit
	}
	return tree, nil
}

// ID is the record id of the tree header.
func (tree *BTree[K, V]) ID() record.RecordId { return tree.id }

// Find returns the value stored under key.
func (tree *BTree[K, V]) Find(key K) (V, error) {
	var zero V

	m, err := tree.readMeta()
	if err != nil {
		return zero, err
	}

	leaf, _, err := tree.descend(m, key)
	if err != nil {
		return zero, err
	}

	idx, found := leaf.search(key)
	if !found {
		return zero, customerrors.ErrKeyNotFound
	}
	return tree.readValue(leaf.entries[idx].val)
}

// Insert puts the key-value pair into the tree. When the key exists and
// replace is set the value is overwritten and the previous one returned;
// without replace the tree is left alone and ErrKeyExists is returned
// together with the existing value.
func (tree *BTree[K, V]) Insert(key K, val V, replace bool) (V, error) {
	var zero V

	raw, err := tree.encodeKey(key)
	if err != nil {
		return zero, err
	}

	m, err := tree.readMeta()
	if err != nil {
		return zero, err
	}

	leaf, path, err := tree.descend(m, key)
	if err != nil {
		return zero, err
	}

	idx, found := leaf.search(key)
	if found {
		old, err := tree.readValue(leaf.entries[idx].val)
		if err != nil {
			return zero, err
		}
		if !replace {
			return old, customerrors.ErrKeyExists
		}

		if leaf.entries[idx].val, err = tree.replaceValue(leaf.entries[idx].val, val); err != nil {
			return zero, err
		}
		tree.mod.Add(1)
		return old, tree.write(leaf)
	}

	v, err := tree.makeValue(val)
	if err != nil {
		return zero, err
	}

	tree.mod.Add(1)
	leaf.insertEntry(idx, entry[K]{key: key, raw: raw, val: v})
	m.size++
	if err := tree.splitUp(&m, leaf, path); err != nil {
		return zero, err
	}
	return zero, tree.writeMeta(m)
}

// Remove deletes key from the tree and returns the value it had.
func (tree *BTree[K, V]) Remove(key K) (V, error) {
	var zero V

	m, err := tree.readMeta()
	if err != nil {
		return zero, err
	}

	leaf, path, err := tree.descend(m, key)
	if err != nil {
		return zero, err
	}

	idx, found := leaf.search(key)
	if !found {
		return zero, customerrors.ErrKeyNotFound
	}

	e := leaf.entries[idx]
	old, err := tree.readValue(e.val)
	if err != nil {
		return zero, err
	}
	if err := tree.dropValue(e.val); err != nil {
		return zero, err
	}

	tree.mod.Add(1)
	leaf.removeEntries(idx, idx+1)
	m.size--
	if err := tree.rebalance(&m, leaf, path); err != nil {
		return zero, err
	}
	return old, tree.writeMeta(m)
}

// Size returns the number of entries in the entire tree
func (tree *BTree[K, V]) Size() (uint64, error) {
	m, err := tree.readMeta()
	return m.size, err
}

// Height is the number of levels, 1 while the root is a leaf.
func (tree *BTree[K, V]) Height() (int, error) {
	m, err := tree.readMeta()
	return int(m.height), err
}

// Drop deletes every node, every out of line value and the tree header.
// The handle is unusable afterwards.
func (tree *BTree[K, V]) Drop() error {
	m, err := tree.readMeta()
	if err != nil {
		return err
	}

	pending := stl.NewStack[record.RecordId](int(m.height))
	pending.Push(m.root)
	for pending.Len() > 0 {
		id, _ := pending.Pop()
		n, err := tree.fetch(id)
		if err != nil {
			return err
		}

		for _, c := range n.children {
			pending.Push(c)
		}
		for _, e := range n.entries {
			if err := tree.dropValue(e.val); err != nil {
				return err
			}
		}
		if err := tree.free(n); err != nil {
			return err
		}
	}

	tree.mod.Add(1)
	return errors.Wrap(tree.rm.Delete(tree.id), "failed to delete tree header")
}

func (tree *BTree[K, V]) String() string {
	m, err := tree.readMeta()
	if err != nil {
		return fmt.Sprintf("BTree{id=%s, err=%v}", tree.id, err)
	}
	return fmt.Sprintf(
		"BTree{id=%s, size=%d, height=%d, page_size=%d}",
		tree.id, m.size, m.height, m.pageSize,
	)
}

// frame is one step of a descent: the node and the child taken from it.
type frame[K any] struct {
	n   *node[K]
	idx int
}

// descend walks from the root to the leaf that holds or would hold key,
// returning the internal nodes passed on the way.
func (tree *BTree[K, V]) descend(m metadata, key K) (*node[K], stl.Stack[frame[K]], error) {
	path := stl.NewStack[frame[K]](int(m.height))

	n, err := tree.fetch(m.root)
	if err != nil {
		return nil, nil, err
	}

	for !n.isLeaf() {
		idx, _ := n.search(key)
		path.Push(frame[K]{n: n, idx: idx})
		if n, err = tree.fetch(n.children[idx]); err != nil {
			return nil, nil, err
		}
	}
	return n, path, nil
}

// splitUp splits n while it is over full, pushing separators into the
// parents on path, and writes whatever it changed.
func (tree *BTree[K, V]) splitUp(m *metadata, n *node[K], path stl.Stack[frame[K]]) error {
	for len(n.entries) > int(m.pageSize) {
		sibling, sep, err := tree.split(n)
		if err != nil {
			return err
		}

		f, err := path.Pop()
		if err == stl.ErrEmptyStack {
			root, err := tree.alloc()
			if err != nil {
				return errors.Wrap(err, "failed to allocate new root")
			}
			root.appendEntry(sep)
			root.appendChild(n.id, sibling.id)

			m.root = root.id
			m.height++
			return tree.write(root)
		}

		f.n.insertEntry(f.idx, sep)
		f.n.insertChild(f.idx+1, sibling.id)
		n = f.n
	}
	return tree.write(n)
}

// split moves the upper half of n into a new right sibling and returns it
// with the separator to insert into the parent. Both nodes are written.
func (tree *BTree[K, V]) split(n *node[K]) (*node[K], entry[K], error) {
	sibling, err := tree.alloc()
	if err != nil {
		return nil, entry[K]{}, errors.Wrap(err, "failed to allocate sibling")
	}

	var sep entry[K]
	mid := len(n.entries) / 2
	if n.isLeaf() {
		sibling.entries = n.removeEntries(mid, len(n.entries))
		sep = keyOnly(sibling.entries[0])

		sibling.prev = n.id
		sibling.next = n.next
		n.next = sibling.id
		if sibling.next != 0 {
			next, err := tree.fetch(sibling.next)
			if err != nil {
				return nil, sep, err
			}
			next.prev = sibling.id
			if err := tree.write(next); err != nil {
				return nil, sep, err
			}
		}
	} else {
		sibling.entries = n.removeEntries(mid+1, len(n.entries))
		sep = n.removeEntries(mid, mid+1)[0]
		sibling.children = n.removeChildren(mid+1, len(n.children))
	}

	if err := tree.write(n); err != nil {
		return nil, sep, err
	}
	return sibling, sep, tree.write(sibling)
}

func keyOnly[K any](e entry[K]) entry[K] {
	return entry[K]{key: e.key, raw: e.raw}
}

func (tree *BTree[K, V]) readMeta() (metadata, error) {
	var m metadata
	d, err := tree.rm.Fetch(tree.id)
	if err != nil {
		return m, errors.Wrapf(err, "failed to read tree %s", tree.id)
	}
	return m, m.UnmarshalBinary(d)
}

func (tree *BTree[K, V]) writeMeta(m metadata) error {
	d, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	return errors.Wrap(tree.rm.Update(tree.id, d), "failed to write tree header")
}

func (tree *BTree[K, V]) newNode(id record.RecordId) *node[K] {
	return &node[K]{
		id:      id,
		entries: make([]entry[K], 0),
		cmp:     tree.cmp,
		kc:      tree.kc,
	}
}

func (tree *BTree[K, V]) fetch(id record.RecordId) (*node[K], error) {
	d, err := tree.rm.Fetch(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read node %s", id)
	}

	n := tree.newNode(id)
	return n, n.UnmarshalBinary(d)
}

func (tree *BTree[K, V]) write(n *node[K]) error {
	d, err := n.MarshalBinary()
	if err != nil {
		return err
	}
	return errors.Wrapf(tree.rm.Update(n.id, d), "failed to write node %s", n.id)
}

// alloc creates an empty node record. Its content is written by the
// caller once the node is filled.
func (tree *BTree[K, V]) alloc() (*node[K], error) {
	n := tree.newNode(0)
	d, err := n.MarshalBinary()
	if err != nil {
		return nil, err
	}
	n.id, err = tree.rm.Insert(d)
	return n, err
}

func (tree *BTree[K, V]) free(n *node[K]) error {
	return errors.Wrapf(tree.rm.Delete(n.id), "failed to free node %s", n.id)
}

func (tree *BTree[K, V]) encodeKey(key K) ([]byte, error) {
	raw, err := tree.kc.Encode(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode key")
	} else if len(raw) == 0 {
		return nil, customerrors.ErrEmptyKey
	}
	return append([]byte(nil), raw...), nil
}

func (tree *BTree[K, V]) makeValue(v V) (value, error) {
	d, err := tree.vc.Encode(v)
	if err != nil {
		return value{}, errors.Wrap(err, "failed to encode value")
	}
	if len(d) <= tree.inlineLimit {
		return value{data: append([]byte(nil), d...)}, nil
	}

	ref, err := tree.rm.Insert(d)
	if err != nil {
		return value{}, errors.Wrap(err, "failed to store value")
	}
	return value{lazy: true, ref: ref}, nil
}

// replaceValue stores v in place of old, reusing the value record when both
// are out of line.
func (tree *BTree[K, V]) replaceValue(old value, v V) (value, error) {
	if !old.lazy {
		return tree.makeValue(v)
	}

	d, err := tree.vc.Encode(v)
	if err != nil {
		return value{}, errors.Wrap(err, "failed to encode value")
	}
	if len(d) > tree.inlineLimit {
		return old, errors.Wrap(tree.rm.Update(old.ref, d), "failed to store value")
	}

	if err := tree.dropValue(old); err != nil {
		return value{}, err
	}
	return value{data: append([]byte(nil), d...)}, nil
}

func (tree *BTree[K, V]) readValue(v value) (V, error) {
	d := v.data
	if v.lazy {
		var err error
		if d, err = tree.rm.Fetch(v.ref); err != nil {
			var zero V
			return zero, errors.Wrap(err, "failed to read value")
		}
	}
	return tree.vc.Decode(d)
}

func (tree *BTree[K, V]) dropValue(v value) error {
	if !v.lazy {
		return nil
	}
	return errors.Wrap(tree.rm.Delete(v.ref), "failed to delete value")
}
