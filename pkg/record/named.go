package record

import (
	"go-recdb/pkg/allocator"
	"go-recdb/pkg/customerrors"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// The name directory is a single record referenced from the file header:
// count(4) then (name length u16, name, id u64) entries sorted by name.

func decodeDirectory(d []byte) (map[string]RecordId, error) {
	dir := map[string]RecordId{}
	if len(d) < 4 {
		return nil, errors.Wrap(customerrors.ErrCorrupt, "short name directory")
	}

	count := int(bin.Uint32(d[0:4]))
	off := 4
	for i := 0; i < count; i++ {
		if off+2 > len(d) {
			return nil, errors.Wrap(customerrors.ErrCorrupt, "truncated name directory")
		}
		n := int(bin.Uint16(d[off : off+2]))
		off += 2
		if off+n+8 > len(d) {
			return nil, errors.Wrap(customerrors.ErrCorrupt, "truncated name directory")
		}
		dir[string(d[off:off+n])] = RecordId(bin.Uint64(d[off+n : off+n+8]))
		off += n + 8
	}
	return dir, nil
}

func encodeDirectory(dir map[string]RecordId) []byte {
	names := maps.Keys(dir)
	slices.Sort(names)

	buf := bin.AppendUint32(nil, uint32(len(names)))
	for _, name := range names {
		buf = bin.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = bin.AppendUint64(buf, uint64(dir[name]))
	}
	return buf
}

func (m *Manager) directory() (RecordId, map[string]RecordId, error) {
	var root RecordId
	err := m.alloc.View(func(h allocator.Header) error {
		root = RecordId(h.NamedRoot())
		return nil
	})
	if err != nil || root == 0 {
		return root, map[string]RecordId{}, err
	}

	d, err := m.Fetch(root)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read name directory")
	}
	dir, err := decodeDirectory(d)
	return root, dir, err
}

// NamedObject returns the id stored under name, or 0 when there is none.
func (m *Manager) NamedObject(name string) (RecordId, error) {
	_, dir, err := m.directory()
	if err != nil {
		return 0, err
	}
	return dir[name], nil
}

// SetNamedObject stores id under name. Id 0 removes the name.
func (m *Manager) SetNamedObject(name string, id RecordId) error {
	if len(name) > 0xFFFF {
		return errors.Errorf("name of %d bytes is too long", len(name))
	}

	root, dir, err := m.directory()
	if err != nil {
		return err
	}

	if id == 0 {
		if _, ok := dir[name]; !ok {
			return nil
		}
		delete(dir, name)
	} else {
		dir[name] = id
	}

	if root != 0 {
		return errors.Wrap(m.Update(root, encodeDirectory(dir)), "failed to update name directory")
	}

	root, err = m.insert(encodeDirectory(dir), false)
	if err != nil {
		return errors.Wrap(err, "failed to create name directory")
	}
	return m.alloc.Update(func(h allocator.Header) error {
		h.SetNamedRoot(uint64(root))
		return nil
	})
}

// Names lists every name in the directory in sorted order.
func (m *Manager) Names() ([]string, error) {
	_, dir, err := m.directory()
	if err != nil {
		return nil, err
	}
	names := maps.Keys(dir)
	slices.Sort(names)
	return names, nil
}
