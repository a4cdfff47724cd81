package bptree

import (
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/record"
)

type Tuple[K, V any] struct {
	Key   K
	Value V
}

// Browser walks the leaves of a tree in key order. It sits between two
// entries: Next returns the one after it, Prev the one before. A browser
// fails with ErrConcurrentModification once the tree is changed through
// the handle that opened it.
type Browser[K, V any] struct {
	tree *BTree[K, V]
	mod  uint64
	leaf record.RecordId
	idx  int
}

// Browse positions a browser before the smallest key.
func (tree *BTree[K, V]) Browse() (*Browser[K, V], error) {
	return tree.browseEdge(false)
}

// BrowseLast positions a browser after the largest key.
func (tree *BTree[K, V]) BrowseLast() (*Browser[K, V], error) {
	return tree.browseEdge(true)
}

// BrowseFrom positions a browser right before the first key that is not
// less than key.
func (tree *BTree[K, V]) BrowseFrom(key K) (*Browser[K, V], error) {
	mod := tree.mod.Load()

	m, err := tree.readMeta()
	if err != nil {
		return nil, err
	}

	leaf, _, err := tree.descend(m, key)
	if err != nil {
		return nil, err
	}

	idx, _ := leaf.search(key)
	return &Browser[K, V]{tree: tree, mod: mod, leaf: leaf.id, idx: idx}, nil
}

func (tree *BTree[K, V]) browseEdge(last bool) (*Browser[K, V], error) {
	mod := tree.mod.Load()

	m, err := tree.readMeta()
	if err != nil {
		return nil, err
	}

	n, err := tree.fetch(m.root)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf() {
		child := n.children[0]
		if last {
			child = n.children[len(n.children)-1]
		}
		if n, err = tree.fetch(child); err != nil {
			return nil, err
		}
	}

	b := &Browser[K, V]{tree: tree, mod: mod, leaf: n.id}
	if last {
		b.idx = len(n.entries)
	}
	return b, nil
}

// Next returns the entry after the browser and moves past it. ok is false
// at the end of the tree.
func (b *Browser[K, V]) Next() (t Tuple[K, V], ok bool, err error) {
	for {
		n, err := b.current()
		if err != nil {
			return t, false, err
		}

		if b.idx < len(n.entries) {
			e := n.entries[b.idx]
			if t.Value, err = b.tree.readValue(e.val); err != nil {
				return t, false, err
			}
			t.Key = e.key
			b.idx++
			return t, true, nil
		}

		if n.next == 0 {
			return t, false, nil
		}
		b.leaf, b.idx = n.next, 0
	}
}

// Prev returns the entry before the browser and moves in front of it. ok
// is false at the start of the tree.
func (b *Browser[K, V]) Prev() (t Tuple[K, V], ok bool, err error) {
	for {
		n, err := b.current()
		if err != nil {
			return t, false, err
		}

		if b.idx > len(n.entries) {
			b.idx = len(n.entries)
		}
		if b.idx > 0 {
			b.idx--
			e := n.entries[b.idx]
			if t.Value, err = b.tree.readValue(e.val); err != nil {
				return t, false, err
			}
			t.Key = e.key
			return t, true, nil
		}

		if n.prev == 0 {
			return t, false, nil
		}

		prev, err := b.tree.fetch(n.prev)
		if err != nil {
			return t, false, err
		}
		b.leaf, b.idx = prev.id, len(prev.entries)
	}
}

func (b *Browser[K, V]) current() (*node[K], error) {
	if b.tree.mod.Load() != b.mod {
		return nil, customerrors.ErrConcurrentModification
	}
	return b.tree.fetch(b.leaf)
}
