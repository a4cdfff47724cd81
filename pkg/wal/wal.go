// Package wal keeps the redo log of a data file. Every committed
// transaction is appended as one entry holding full images of the blocks it
// changed. Images stay in memory until a checkpoint copies them into the
// data file and truncates the log.
package wal

import (
	"encoding/binary"
	"io"
	"os"

	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/metrics"
	"go-recdb/util/logger"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var bin = binary.BigEndian

const (
	magic   = "RLOG"
	version = uint16(1)

	// magic(4) version(2) reserved(2) blockSize(4) reserved(4) id(16) baseLSN(8)
	HeaderSize = 40
	// lsn(8) count(4) headSum(4) checksum(8)
	EntryHeaderSize = 24
)

// Image is the full content of one block as of a commit.
type Image struct {
	Block uint64
	Data  []byte
}

// DataFile is where checkpoints apply images.
type DataFile interface {
	io.WriterAt
	Sync() error
}

type Log struct {
	file      *os.File
	path      string
	blockSize int
	id        uuid.UUID

	baseLSN uint64
	lastLSN uint64
	size    int64

	pending map[uint64][]byte
	txns    int

	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// Open opens the log at path, creating it when missing, and replays every
// committed entry into memory. id is the identity stored in the data file
// header; uuid.Nil means the data file has no header yet, in which case the
// log identity is adopted (or a fresh one generated for a new log).
func Open(path string, blockSize int, id uuid.UUID, opts *Options) (*Log, error) {
	if opts == nil {
		opts = &DefaultOptions
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open log file")
	}

	l := &Log{
		file:      file,
		path:      path,
		blockSize: blockSize,
		id:        id,
		pending:   map[uint64][]byte{},
		log:       logger.For(opts.Logger, "wal"),
		metrics:   opts.Metrics,
	}

	if err := l.init(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init() error {
	stat, err := l.file.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat log file")
	}

	if stat.Size() < HeaderSize {
		// an empty log, or one that died while its header was written
		if l.id == uuid.Nil {
			l.id = uuid.New()
		}
		return l.reset(0)
	}

	if err := l.readHeader(); err != nil {
		return err
	}
	return l.replay(stat.Size())
}

func (l *Log) readHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := l.file.ReadAt(buf, 0); err != nil {
		return errors.Wrap(err, "failed to read log header")
	}

	if string(buf[0:4]) != magic {
		return errors.Wrap(customerrors.ErrCorrupt, "bad log magic")
	}
	if v := bin.Uint16(buf[4:6]); v != version {
		return errors.Wrapf(customerrors.ErrIncompatible, "log version %d", v)
	}
	if bs := int(bin.Uint32(buf[8:12])); bs != l.blockSize {
		return errors.Wrapf(customerrors.ErrCorrupt, "log block size %d, data file uses %d", bs, l.blockSize)
	}

	id, err := uuid.FromBytes(buf[16:32])
	if err != nil {
		return errors.Wrap(customerrors.ErrCorrupt, "bad log identity")
	}
	if l.id != uuid.Nil && id != l.id {
		return errors.Wrapf(customerrors.ErrCorrupt, "log %s does not belong to data file %s", id, l.id)
	}
	l.id = id

	l.baseLSN = bin.Uint64(buf[32:40])
	l.lastLSN = l.baseLSN
	return nil
}

func (l *Log) replay(fileSize int64) error {
	off := int64(HeaderSize)
	head := make([]byte, EntryHeaderSize)
	recordSize := int64(8 + l.blockSize)

	for off < fileSize {
		torn := func(reason string) error {
			l.log.WithFields(logrus.Fields{
				"offset":  off,
				"dropped": humanize.Bytes(uint64(fileSize - off)),
			}).Warnf("discarding uncommitted log tail: %s", reason)
			return l.truncate(off)
		}

		if fileSize-off < EntryHeaderSize {
			return torn("short entry header")
		}
		if _, err := l.file.ReadAt(head, off); err != nil {
			return errors.Wrap(err, "failed to read log entry header")
		}

		// nothing in a header that fails its checksum can be trusted, not
		// even the length telling where the next entry starts
		if headSum(head) != bin.Uint32(head[12:16]) {
			return errors.Wrapf(customerrors.ErrCorrupt, "log entry header at offset %d fails checksum", off)
		}

		lsn := bin.Uint64(head[0:8])
		count := int64(bin.Uint32(head[8:12]))
		sum := bin.Uint64(head[16:24])
		end := off + EntryHeaderSize + count*recordSize

		if off == HeaderSize && lsn <= l.baseLSN {
			// the header of a checkpoint reached the disk, its truncate did not
			l.log.WithFields(logrus.Fields{
				"lsn":     lsn,
				"base":    l.baseLSN,
				"dropped": humanize.Bytes(uint64(fileSize - off)),
			}).Info("discarding checkpointed log entries")
			return l.truncate(off)
		}
		if lsn != l.lastLSN+1 {
			return errors.Wrapf(customerrors.ErrCorrupt, "log entry lsn %d follows %d", lsn, l.lastLSN)
		}
		if count == 0 {
			return errors.Wrapf(customerrors.ErrCorrupt, "empty log entry at offset %d", off)
		}
		if end > fileSize {
			return torn("short entry body")
		}

		body := make([]byte, end-off-EntryHeaderSize)
		if _, err := l.file.ReadAt(body, off+EntryHeaderSize); err != nil {
			return errors.Wrap(err, "failed to read log entry body")
		}

		if xxhash.Sum64(body) != sum {
			if end == fileSize {
				return torn("checksum mismatch")
			}
			return errors.Wrapf(customerrors.ErrCorrupt, "log entry at offset %d fails checksum", off)
		}

		for i := int64(0); i < count; i++ {
			rec := body[i*recordSize : (i+1)*recordSize]
			l.pending[bin.Uint64(rec[0:8])] = rec[8:]
		}

		l.lastLSN = lsn
		l.txns++
		off = end
	}

	l.size = off
	if l.txns > 0 {
		l.log.WithFields(logrus.Fields{
			"txns":   l.txns,
			"blocks": len(l.pending),
			"lsn":    l.lastLSN,
		}).Info("replayed log")
	}
	l.metrics.SetPendingTxns(l.txns)
	return nil
}

func (l *Log) truncate(off int64) error {
	if err := l.file.Truncate(off); err != nil {
		return errors.Wrap(err, "failed to truncate log")
	}
	l.size = off
	return errors.Wrap(l.file.Sync(), "failed to sync log")
}

// headSum checks the lsn and count of an entry header.
func headSum(head []byte) uint32 {
	return uint32(xxhash.Sum64(head[0:12]))
}

// reset rewrites the header with the given base lsn and drops every entry.
// The header goes first, so a crash before the truncate leaves entries that
// replay recognizes as already checkpointed.
func (l *Log) reset(base uint64) error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic)
	bin.PutUint16(buf[4:6], version)
	bin.PutUint32(buf[8:12], uint32(l.blockSize))
	copy(buf[16:32], l.id[:])
	bin.PutUint64(buf[32:40], base)

	if _, err := l.file.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "failed to write log header")
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync log header")
	}

	l.baseLSN = base
	l.lastLSN = base
	return l.truncate(HeaderSize)
}

// ID is the identity shared by the log and its data file.
func (l *Log) ID() uuid.UUID { return l.id }

func (l *Log) LastLSN() uint64 { return l.lastLSN }

// PendingTxns is the number of committed transactions not yet checkpointed.
func (l *Log) PendingTxns() int { return l.txns }

// Pending returns the latest committed image of block n that has not reached
// the data file yet.
func (l *Log) Pending(n uint64) ([]byte, bool) {
	data, ok := l.pending[n]
	return data, ok
}

// Commit appends one entry with the given images and syncs it. The
// transaction is durable once Commit returns. Images must be sorted by block
// number and are retained by the log, so callers pass copies.
func (l *Log) Commit(images []Image) (uint64, error) {
	if len(images) == 0 {
		return l.lastLSN, nil
	}

	recordSize := 8 + l.blockSize
	buf := make([]byte, EntryHeaderSize+len(images)*recordSize)
	body := buf[EntryHeaderSize:]
	for i, img := range images {
		if len(img.Data) != l.blockSize {
			panic(errors.Errorf("image of block %d has %d bytes", img.Block, len(img.Data)))
		}
		rec := body[i*recordSize:]
		bin.PutUint64(rec[0:8], img.Block)
		copy(rec[8:recordSize], img.Data)
	}

	lsn := l.lastLSN + 1
	bin.PutUint64(buf[0:8], lsn)
	bin.PutUint32(buf[8:12], uint32(len(images)))
	bin.PutUint32(buf[12:16], headSum(buf))
	bin.PutUint64(buf[16:24], xxhash.Sum64(body))

	if _, err := l.file.WriteAt(buf, l.size); err != nil {
		return 0, errors.Wrap(err, "failed to append log entry")
	}
	if err := l.file.Sync(); err != nil {
		return 0, errors.Wrap(err, "failed to sync log")
	}

	l.size += int64(len(buf))
	l.lastLSN = lsn
	l.txns++
	for _, img := range images {
		l.pending[img.Block] = img.Data
	}

	l.metrics.Commit(len(buf))
	l.metrics.SetPendingTxns(l.txns)
	l.log.WithFields(logrus.Fields{
		"lsn":    lsn,
		"blocks": len(images),
		"size":   humanize.Bytes(uint64(len(buf))),
	}).Debug("committed")
	return lsn, nil
}

// Checkpoint writes every pending image to data in block order, syncs it
// and empties the log.
func (l *Log) Checkpoint(data DataFile) error {
	if l.txns == 0 {
		return nil
	}

	blocks := maps.Keys(l.pending)
	slices.Sort(blocks)
	for _, n := range blocks {
		if _, err := data.WriteAt(l.pending[n], int64(n)*int64(l.blockSize)); err != nil {
			return errors.Wrapf(err, "failed to write block %d", n)
		}
	}
	if err := data.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync data file")
	}

	logSize := l.size
	if err := l.reset(l.lastLSN); err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"txns":   l.txns,
		"blocks": len(blocks),
		"lsn":    l.lastLSN,
		"log":    humanize.Bytes(uint64(logSize)),
	}).Debug("checkpoint")

	l.txns = 0
	l.pending = map[uint64][]byte{}
	l.metrics.Checkpoint()
	l.metrics.SetPendingTxns(0)
	return nil
}

func (l *Log) Close() error {
	return errors.Wrap(l.file.Close(), "failed to close log file")
}
