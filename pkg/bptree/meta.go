package bptree

import (
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/record"

	"github.com/pkg/errors"
)

const (
	magic        = 0xD0D
	version      = uint8(0x1)
	metadataSize = 32
)

// metadata is the tree header record. Its id identifies the tree.
type metadata struct {
	magic    uint16 // magic marker to identify B+ tree.
	version  uint8  // version of implementation
	flags    uint8  // flags (unused)
	pageSize uint16 // branching factor
	height   uint32 // levels, 1 for a single leaf
	size     uint64 // number of entries in the tree
	root     record.RecordId
}

func (m metadata) MarshalBinary() ([]byte, error) {
	buf := make([]byte, metadataSize)

	bin.PutUint16(buf[0:2], m.magic)
	buf[2] = m.version
	buf[3] = m.flags
	bin.PutUint16(buf[4:6], m.pageSize)
	bin.PutUint32(buf[8:12], m.height)
	bin.PutUint64(buf[12:20], m.size)
	bin.PutUint64(buf[20:28], uint64(m.root))

	return buf, nil
}

func (m *metadata) UnmarshalBinary(d []byte) error {
	if len(d) < metadataSize {
		return errors.Wrap(customerrors.ErrCorrupt, "in-sufficient data for tree header")
	} else if m == nil {
		return errors.New("cannot unmarshal into nil")
	}

	m.magic = bin.Uint16(d[0:2])
	m.version = d[2]
	m.flags = d[3]
	m.pageSize = bin.Uint16(d[4:6])
	m.height = bin.Uint32(d[8:12])
	m.size = bin.Uint64(d[12:20])
	m.root = record.RecordId(bin.Uint64(d[20:28]))

	if m.magic != magic {
		return errors.Wrap(customerrors.ErrCorrupt, "record is not a tree header")
	}
	if m.version != version {
		return errors.Wrapf(customerrors.ErrIncompatible, "tree version %#x (expected: %#x)", m.version, version)
	}
	return nil
}
