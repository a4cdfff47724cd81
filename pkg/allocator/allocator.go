// Package allocator owns the file header and hands out space in the data
// file: whole blocks from an intrusive free block list, and slots inside
// data blocks from per size class free lists.
package allocator

import (
	"bytes"

	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/pager"
	"go-recdb/util/helpers"
	"go-recdb/util/logger"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// SlotHeaderSize is capacity(2) flags(1) reserved(1) length(4).
	SlotHeaderSize = 8
	// Granularity is the unit slot capacities are rounded to. A size class
	// is capacity / Granularity.
	Granularity = 32
	// DataHeaderSize is type(2) reserved(2) in front of the first slot.
	DataHeaderSize = 4
)

type Allocator struct {
	pager     *pager.Pager
	blockSize int
	maxCap    int
	classes   int
	log       logrus.FieldLogger
}

// Open checks the header of the file behind p, formatting it first when the
// file is new.
func Open(p *pager.Pager, opts *Options) (*Allocator, error) {
	if opts == nil {
		opts = &DefaultOptions
	}

	bs := p.BlockSize()
	maxCap := (bs - DataHeaderSize) / Granularity * Granularity
	a := &Allocator{
		pager:     p,
		blockSize: bs,
		maxCap:    maxCap,
		classes:   maxCap / Granularity,
		log:       logger.For(opts.Logger, "allocator"),
	}

	return a, a.init()
}

func (a *Allocator) init() error {
	b, err := a.pager.Get(0)
	if err != nil {
		return errors.Wrap(err, "failed to read file header")
	}
	h := Header{b}

	if h.Magic() == 0 && isZero(b.Bytes()) {
		h.format(a.blockSize, a.pager.FileID())
		if err := a.pager.Release(b, true); err != nil {
			return err
		}
		a.log.WithField("block_size", a.blockSize).Info("formatted new data file")
		return errors.Wrap(a.pager.Commit(), "failed to commit file header")
	}
	defer a.pager.Release(b, false)

	switch {
	case h.Magic() != Magic:
		return errors.Wrap(customerrors.ErrCorrupt, "bad file magic")
	case h.Version() != FormatVersion:
		return errors.Wrapf(customerrors.ErrIncompatible, "format version %d, supported %d", h.Version(), FormatVersion)
	case h.BlockSize() != a.blockSize:
		return errors.Wrapf(customerrors.ErrIncompatible, "block size %d, opened with %d", h.BlockSize(), a.blockSize)
	case h.FileID() != a.pager.FileID():
		return errors.Wrapf(customerrors.ErrCorrupt, "file identity %s does not match log %s", h.FileID(), a.pager.FileID())
	}
	return nil
}

func isZero(d []byte) bool {
	return len(bytes.Trim(d, "\x00")) == 0
}

func (a *Allocator) Pager() *pager.Pager { return a.pager }

func (a *Allocator) BlockSize() int { return a.blockSize }

// MaxSlotCapacity is the largest slot a data block can hold, header
// included.
func (a *Allocator) MaxSlotCapacity() int { return a.maxCap }

// MaxPayload is the largest payload a single slot can hold.
func (a *Allocator) MaxPayload() int { return a.maxCap - SlotHeaderSize }

// View runs fn with the file header pinned for reading.
func (a *Allocator) View(fn func(h Header) error) error {
	b, err := a.pager.Get(0)
	if err != nil {
		return errors.Wrap(err, "failed to read file header")
	}
	defer a.pager.Release(b, false)
	return fn(Header{b})
}

// Update runs fn with the file header pinned and marks it changed.
// Updates may nest.
func (a *Allocator) Update(fn func(h Header) error) error {
	b, err := a.pager.Get(0)
	if err != nil {
		return errors.Wrap(err, "failed to read file header")
	}

	err = fn(Header{b})
	if rerr := a.pager.Release(b, true); err == nil {
		err = rerr
	}
	return err
}

// BlockCount is the number of blocks in the file, free ones included.
func (a *Allocator) BlockCount() (uint64, error) {
	var n uint64
	err := a.View(func(h Header) error {
		n = h.NextBlock()
		return nil
	})
	return n, err
}

// SlotCapacity is the capacity of the slot needed for a payload of n bytes.
func SlotCapacity(n int) int {
	return helpers.RoundUp(SlotHeaderSize+n, Granularity)
}
