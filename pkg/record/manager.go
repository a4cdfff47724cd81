// Package record stores variable length byte records in a block file and
// addresses them by stable ids. An id names a translation entry, which
// points at the slot currently holding the record, so records can move and
// grow without their ids changing. Records larger than a slot spill into a
// chain of continuation blocks.
package record

import (
	"encoding/binary"
	"os"

	"go-recdb/pkg/allocator"
	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/pager"
	"go-recdb/util/logger"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var bin = binary.BigEndian

type Manager struct {
	path      string
	blockSize int

	pager *pager.Pager
	alloc *allocator.Allocator
	cache *ristretto.Cache[uint64, []byte]

	log logrus.FieldLogger
}

// Create creates a new record file. It fails with ErrExists when path
// already holds data.
func Create(path string, opts *Options) (*Manager, error) {
	stat, err := os.Stat(path)
	if err == nil && stat.Size() > 0 {
		return nil, errors.Wrap(customerrors.ErrExists, path)
	} else if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to stat data file")
	}
	return Open(path, opts)
}

// Open opens the record file at path, creating it when missing. Committed
// transactions left in the log by a crash are recovered first.
func Open(path string, opts *Options) (*Manager, error) {
	if opts == nil {
		opts = &DefaultOptions
	}
	o := opts.withDefaults()
	o.BlockSize = probeBlockSize(path, o.BlockSize)

	p, err := pager.Open(path, &pager.Options{
		BlockSize:                 o.BlockSize,
		CacheBlocks:               o.CacheBlocks,
		TransactionsPerCheckpoint: o.TransactionsPerCheckpoint,
		Logger:                    o.Logger,
		Metrics:                   o.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a, err := allocator.Open(p, &allocator.Options{Logger: o.Logger})
	if err != nil {
		_ = p.Abort()
		return nil, err
	}

	m := &Manager{
		path:      path,
		blockSize: o.BlockSize,
		pager:     p,
		alloc:     a,
		log:       logger.For(o.Logger, "record"),
	}

	if o.RecordCacheBytes > 0 {
		m.cache, err = ristretto.NewCache(&ristretto.Config[uint64, []byte]{
			NumCounters: max(o.RecordCacheBytes/64, 1000),
			MaxCost:     o.RecordCacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			_ = p.Abort()
			return nil, errors.Wrap(err, "failed to create record cache")
		}
	}

	m.log.WithFields(logrus.Fields{
		"path":         path,
		"block_size":   humanize.IBytes(uint64(o.BlockSize)),
		"record_cache": humanize.IBytes(uint64(o.RecordCacheBytes)),
	}).Debug("opened")
	return m, nil
}

// probeBlockSize returns the block size recorded by an existing file, or
// def for a new one. The data file header wins over the log header, which
// only matters before the first checkpoint.
func probeBlockSize(path string, def int) int {
	buf := make([]byte, 12)

	if f, err := os.Open(path); err == nil {
		_, err := f.ReadAt(buf, 0)
		_ = f.Close()
		if err == nil && bin.Uint32(buf[0:4]) == allocator.Magic {
			if bs := int(bin.Uint32(buf[8:12])); pager.ValidBlockSize(bs) {
				return bs
			}
		}
	}

	if f, err := os.Open(path + ".log"); err == nil {
		_, err := f.ReadAt(buf, 0)
		_ = f.Close()
		if err == nil && string(buf[0:4]) == "RLOG" {
			if bs := int(bin.Uint32(buf[8:12])); pager.ValidBlockSize(bs) {
				return bs
			}
		}
	}
	return def
}

func (m *Manager) BlockSize() int { return m.blockSize }

// MaxInline is the largest record stored without continuation blocks.
func (m *Manager) MaxInline() int { return m.alloc.MaxPayload() }

// Insert stores data as a new record.
func (m *Manager) Insert(data []byte) (RecordId, error) {
	return m.insert(data, true)
}

// insert writes the record before issuing its translation entry so a
// failed insert leaves nothing pointing at partial data.
func (m *Manager) insert(data []byte, counted bool) (RecordId, error) {
	loc, err := m.write(data)
	if err != nil {
		return 0, errors.Wrap(err, "failed to write record")
	}

	var id RecordId
	err = m.alloc.Update(func(h allocator.Header) error {
		var err error
		if id, err = m.issue(h, loc); err != nil {
			return err
		}
		if counted {
			h.SetLiveRecords(h.LiveRecords() + 1)
		}
		return nil
	})
	return id, errors.Wrap(err, "failed to issue record id")
}

// Fetch returns the content of a record.
func (m *Manager) Fetch(id RecordId) ([]byte, error) {
	if m.cache != nil {
		if cached, ok := m.cache.Get(uint64(id)); ok {
			data := make([]byte, len(cached))
			copy(data, cached)
			return data, nil
		}
	}

	loc, err := m.resolve(id)
	if err != nil {
		return nil, err
	}

	data, err := m.read(loc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read record %s", id)
	}

	if m.cache != nil {
		m.cache.Set(uint64(id), append([]byte(nil), data...), int64(len(data)))
		m.cache.Wait()
	}
	return data, nil
}

// Update replaces the content of a record. The record is rewritten in place
// when the new content needs the same slot size, otherwise it moves and
// the old space is freed.
func (m *Manager) Update(id RecordId, data []byte) error {
	loc, err := m.resolve(id)
	if err != nil {
		return err
	}
	m.forget(id)

	done, err := m.rewrite(loc, data)
	if err != nil {
		return errors.Wrapf(err, "failed to rewrite record %s", id)
	} else if done {
		return nil
	}

	moved, err := m.write(data)
	if err != nil {
		return errors.Wrapf(err, "failed to write record %s", id)
	}
	if err := m.relocate(id, moved); err != nil {
		return err
	}
	return errors.Wrapf(m.free(loc), "failed to free old space of record %s", id)
}

// Delete frees a record. Its id is never handed out again.
func (m *Manager) Delete(id RecordId) error {
	loc, err := m.resolve(id)
	if err != nil {
		return err
	}
	m.forget(id)

	if err := m.relocate(id, tombstone); err != nil {
		return err
	}
	if err := m.free(loc); err != nil {
		return errors.Wrapf(err, "failed to free record %s", id)
	}

	return m.alloc.Update(func(h allocator.Header) error {
		h.SetLiveRecords(h.LiveRecords() - 1)
		return nil
	})
}

func (m *Manager) forget(id RecordId) {
	if m.cache != nil {
		m.cache.Del(uint64(id))
	}
}

// Count returns the number of live records.
func (m *Manager) Count() (uint64, error) {
	var n uint64
	err := m.alloc.View(func(h allocator.Header) error {
		n = h.LiveRecords()
		return nil
	})
	return n, err
}

// Commit makes every change since the last commit durable.
func (m *Manager) Commit() error {
	return m.pager.Commit()
}

// Rollback discards every change since the last commit.
func (m *Manager) Rollback() error {
	if m.cache != nil {
		m.cache.Clear()
	}
	return m.pager.Rollback()
}

// Checkpoint copies committed transactions into the data file right away.
func (m *Manager) Checkpoint() error {
	return m.pager.Checkpoint()
}

// Close commits outstanding changes and closes the file.
func (m *Manager) Close() error {
	if m.cache != nil {
		m.cache.Close()
	}
	err := m.pager.Close()
	if err == nil {
		m.log.WithField("path", m.path).Debug("closed")
	}
	return err
}

// Abort closes the file without committing, as if the process had died.
func (m *Manager) Abort() error {
	if m.cache != nil {
		m.cache.Close()
	}
	return m.pager.Abort()
}

type Stats struct {
	Blocks      uint64 `json:"blocks"`
	FreeSlots   int    `json:"free_slots"`
	LiveRecords uint64 `json:"live_records"`
	PendingTxns int    `json:"pending_txns"`
	DirtyBlocks int    `json:"dirty_blocks"`
}

func (m *Manager) Stats() (Stats, error) {
	var s Stats
	err := m.alloc.View(func(h allocator.Header) error {
		s.Blocks = h.NextBlock()
		s.LiveRecords = h.LiveRecords()
		return nil
	})
	if err != nil {
		return s, err
	}

	if s.FreeSlots, err = m.alloc.FreeSlots(); err != nil {
		return s, err
	}
	s.PendingTxns = m.pager.PendingTxns()
	s.DirtyBlocks = m.pager.Dirty()
	return s, nil
}
