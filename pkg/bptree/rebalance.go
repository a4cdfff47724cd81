package bptree

import (
	"go-recdb/util/stl"
)

// rebalance fixes n after a removal. An under full node borrows from a
// sibling with entries to spare, otherwise it is merged with one and the
// parent, which lost a separator, is checked next. A root left with a
// single child is replaced by that child.
func (tree *BTree[K, V]) rebalance(m *metadata, n *node[K], path stl.Stack[frame[K]]) error {
	minEntries := int(m.pageSize) / 2

	for {
		f, err := path.Pop()
		if err == stl.ErrEmptyStack {
			if !n.isLeaf() && len(n.entries) == 0 {
				m.root = n.children[0]
				m.height--
				return tree.free(n)
			}
			return tree.write(n)
		}

		if len(n.entries) >= minEntries {
			return tree.write(n)
		}

		p, idx := f.n, f.idx
		var left, right *node[K]

		if idx > 0 {
			if left, err = tree.fetch(p.children[idx-1]); err != nil {
				return err
			}
			if len(left.entries) > minEntries {
				tree.borrowFromLeft(p, idx, n, left)
				return tree.writeAll(left, n, p)
			}
		}

		if idx+1 < len(p.children) {
			if right, err = tree.fetch(p.children[idx+1]); err != nil {
				return err
			}
			if len(right.entries) > minEntries {
				tree.borrowFromRight(p, idx, n, right)
				return tree.writeAll(n, right, p)
			}
		}

		if left != nil {
			err = tree.merge(p, idx-1, left, n)
		} else {
			err = tree.merge(p, idx, n, right)
		}
		if err != nil {
			return err
		}
		n = p
	}
}

// borrowFromLeft moves the last entry of left, the sibling before n under
// p, to the front of n.
func (tree *BTree[K, V]) borrowFromLeft(p *node[K], idx int, n, left *node[K]) {
	last := len(left.entries) - 1

	if n.isLeaf() {
		e := left.removeEntries(last, last+1)[0]
		n.insertEntry(0, e)
		p.entries[idx-1] = keyOnly(e)
		return
	}

	n.insertEntry(0, p.entries[idx-1])
	n.insertChild(0, left.removeChildren(last+1, last+2)[0])
	p.entries[idx-1] = left.removeEntries(last, last+1)[0]
}

// borrowFromRight moves the first entry of right, the sibling after n
// under p, to the end of n.
func (tree *BTree[K, V]) borrowFromRight(p *node[K], idx int, n, right *node[K]) {
	if n.isLeaf() {
		n.appendEntry(right.removeEntries(0, 1)...)
		p.entries[idx] = keyOnly(right.entries[0])
		return
	}

	n.appendEntry(p.entries[idx])
	n.appendChild(right.removeChildren(0, 1)...)
	p.entries[idx] = right.removeEntries(0, 1)[0]
}

// merge folds right into left, the children idx and idx+1 of p, and drops
// their separator from p. p itself is left for the caller to write.
func (tree *BTree[K, V]) merge(p *node[K], idx int, left, right *node[K]) error {
	if left.isLeaf() {
		left.appendEntry(right.entries...)
		left.next = right.next
		if left.next != 0 {
			next, err := tree.fetch(left.next)
			if err != nil {
				return err
			}
			next.prev = left.id
			if err := tree.write(next); err != nil {
				return err
			}
		}
	} else {
		left.appendEntry(p.entries[idx])
		left.appendEntry(right.entries...)
		left.appendChild(right.children...)
	}

	p.removeEntries(idx, idx+1)
	p.removeChildren(idx+1, idx+2)

	if err := tree.write(left); err != nil {
		return err
	}
	return tree.free(right)
}

func (tree *BTree[K, V]) writeAll(nodes ...*node[K]) error {
	for _, n := range nodes {
		if err := tree.write(n); err != nil {
			return err
		}
	}
	return nil
}
