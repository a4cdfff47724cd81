// Package pager is the block store. It hands out pinned blocks of the data
// file from a bounded cache, tracks which of them changed and turns the
// changed set into one write-ahead log entry on commit. The data file itself
// is only written by checkpoints.
package pager

import (
	"container/list"
	"io"
	"os"
	"sync"

	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/metrics"
	"go-recdb/pkg/wal"
	"go-recdb/util/helpers"
	"go-recdb/util/logger"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// IDOffset is where block 0 keeps the file identity shared with the log.
const IDOffset = 12

type Pager struct {
	mu sync.Mutex

	file      *os.File
	wal       *wal.Log
	blockSize int
	capacity  int
	perCkpt   int

	blocks map[uint64]*Block
	lru    *list.List // unpinned clean blocks, most recently used first
	dirty  *btree.BTreeG[*Block]
	pinned int
	closed bool

	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// Open opens the data file at path, locks it and recovers every committed
// transaction found in its log.
func Open(path string, opts *Options) (*Pager, error) {
	if opts == nil {
		opts = &DefaultOptions
	}
	if !ValidBlockSize(opts.BlockSize) {
		return nil, errors.Errorf("invalid block size %d", opts.BlockSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open data file")
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.Wrap(customerrors.ErrLocked, path)
		}
		return nil, errors.Wrap(err, "failed to lock data file")
	}

	p := &Pager{
		file:      file,
		blockSize: opts.BlockSize,
		capacity:  helpers.Max(opts.CacheBlocks, 1),
		perCkpt:   helpers.Max(opts.TransactionsPerCheckpoint, 1),
		blocks:    map[uint64]*Block{},
		lru:       list.New(),
		dirty:     btree.NewG(16, blockLess),
		log:       logger.For(opts.Logger, "pager"),
		metrics:   opts.Metrics,
	}

	if err := p.recover(path, opts); err != nil {
		p.unlock()
		return nil, err
	}
	return p, nil
}

func (p *Pager) recover(path string, opts *Options) error {
	id, err := p.fileID()
	if err != nil {
		return err
	}

	p.wal, err = wal.Open(path+".log", p.blockSize, id, &wal.Options{
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open log")
	}

	if n := p.wal.PendingTxns(); n > 0 {
		p.log.WithField("txns", n).Info("recovering committed transactions")
		if err := p.wal.Checkpoint(p.file); err != nil {
			_ = p.wal.Close()
			return errors.Wrap(err, "failed to checkpoint recovered transactions")
		}
	}
	return nil
}

// fileID reads the identity stored in block 0 of the data file, uuid.Nil
// when the file has no header yet.
func (p *Pager) fileID() (uuid.UUID, error) {
	buf := make([]byte, 16)
	_, err := p.file.ReadAt(buf, IDOffset)
	if err == io.EOF {
		return uuid.Nil, nil
	} else if err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to read file identity")
	}

	id, err := uuid.FromBytes(buf)
	if err != nil {
		return uuid.Nil, errors.Wrap(customerrors.ErrCorrupt, "bad file identity")
	}
	return id, nil
}

func (p *Pager) BlockSize() int { return p.blockSize }

// FileID is the identity the data file header must carry.
func (p *Pager) FileID() uuid.UUID { return p.wal.ID() }

// Get loads block n and pins it. Blocks past the end of the file read as
// zeros. Every Get must be followed by exactly one Release.
func (p *Pager) Get(n uint64) (*Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, customerrors.ErrClosed
	}

	if b, ok := p.blocks[n]; ok {
		p.metrics.CacheHit()
		p.pin(b)
		return b, nil
	}

	p.metrics.CacheMiss()
	data, err := p.load(n)
	if err != nil {
		return nil, err
	}

	b := &Block{num: n, data: data}
	p.blocks[n] = b
	p.pin(b)
	p.evict()
	return b, nil
}

func (p *Pager) load(n uint64) ([]byte, error) {
	data := make([]byte, p.blockSize)
	if img, ok := p.wal.Pending(n); ok {
		copy(data, img)
		return data, nil
	}

	read, err := p.file.ReadAt(data, int64(n)*int64(p.blockSize))
	if err == io.EOF {
		if read != 0 {
			return nil, errors.Wrapf(customerrors.ErrCorrupt, "block %d is truncated", n)
		}
		return data, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read block %d", n)
	}

	p.metrics.BlockRead()
	return data, nil
}

func (p *Pager) pin(b *Block) {
	if b.pins == 0 {
		p.pinned++
		if b.elem != nil {
			p.lru.Remove(b.elem)
			b.elem = nil
		}
	}
	b.pins++
}

// Release unpins b. dirty marks the block as changed by the running
// transaction.
func (p *Pager) Release(b *Block, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return customerrors.ErrClosed
	}
	if b.pins == 0 {
		return errors.Errorf("block %d is not pinned", b.num)
	}

	if dirty && !b.dirty {
		b.dirty = true
		p.dirty.ReplaceOrInsert(b)
	}

	b.pins--
	if b.pins == 0 {
		p.pinned--
		if !b.dirty {
			b.elem = p.lru.PushFront(b)
			p.evict()
		}
	}
	return nil
}

// evict drops the least recently used clean blocks while the cache is over
// capacity.
func (p *Pager) evict() {
	for len(p.blocks) > p.capacity && p.lru.Len() > 0 {
		b := p.lru.Remove(p.lru.Back()).(*Block)
		b.elem = nil
		delete(p.blocks, b.num)
	}
	p.metrics.SetCachedBlocks(len(p.blocks))
}

// Commit makes every block changed since the last commit durable as one
// transaction.
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return customerrors.ErrClosed
	}
	return p.commit()
}

func (p *Pager) commit() error {
	if p.pinned > 0 {
		return errors.Wrapf(customerrors.ErrBlocksPinned, "%d blocks", p.pinned)
	}
	if p.dirty.Len() == 0 {
		return nil
	}

	images := make([]wal.Image, 0, p.dirty.Len())
	p.dirty.Ascend(func(b *Block) bool {
		images = append(images, wal.Image{Block: b.num, Data: append([]byte(nil), b.data...)})
		return true
	})

	if _, err := p.wal.Commit(images); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	p.dirty.Ascend(func(b *Block) bool {
		b.dirty = false
		b.elem = p.lru.PushFront(b)
		return true
	})
	p.dirty.Clear(false)
	p.evict()

	if p.wal.PendingTxns() >= p.perCkpt {
		return p.checkpoint()
	}
	return nil
}

// Rollback forgets every change made since the last commit.
func (p *Pager) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return customerrors.ErrClosed
	}
	if p.pinned > 0 {
		return errors.Wrapf(customerrors.ErrBlocksPinned, "%d blocks", p.pinned)
	}

	n := p.dirty.Len()
	p.dirty.Ascend(func(b *Block) bool {
		delete(p.blocks, b.num)
		return true
	})
	p.dirty.Clear(false)

	p.metrics.Rollback()
	p.metrics.SetCachedBlocks(len(p.blocks))
	p.log.WithField("blocks", n).Debug("rolled back")
	return nil
}

// Checkpoint copies every committed transaction into the data file and
// empties the log.
func (p *Pager) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return customerrors.ErrClosed
	}
	return p.checkpoint()
}

func (p *Pager) checkpoint() error {
	return errors.Wrap(p.wal.Checkpoint(p.file), "failed to checkpoint")
}

// PendingTxns is the number of committed transactions waiting for a
// checkpoint.
func (p *Pager) PendingTxns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wal.PendingTxns()
}

// Dirty is the number of blocks changed by the running transaction.
func (p *Pager) Dirty() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty.Len()
}

// Close commits outstanding changes, checkpoints and releases the file.
// The handle is released even when the final commit fails.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return customerrors.ErrClosed
	}

	err := p.commit()
	if err == nil {
		err = p.checkpoint()
	}
	if err != nil {
		p.release()
		return err
	}

	if err := p.file.Sync(); err != nil {
		p.release()
		return errors.Wrap(err, "failed to sync data file")
	}

	p.release()
	p.log.Debug("closed")
	return nil
}

// Abort releases the files without committing or checkpointing, leaving
// them as a crashed process would.
func (p *Pager) Abort() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return customerrors.ErrClosed
	}
	p.release()
	return nil
}

func (p *Pager) release() {
	p.closed = true
	_ = p.wal.Close()
	p.unlock()
	p.blocks = nil
	p.lru.Init()
	p.dirty.Clear(false)
}

func (p *Pager) unlock() {
	_ = unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
	_ = p.file.Close()
}
