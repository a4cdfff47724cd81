package pager

import (
	"go-recdb/pkg/metrics"

	"github.com/sirupsen/logrus"
)

const (
	MinBlockSize = 512
	MaxBlockSize = 16384
)

type Options struct {
	// BlockSize is the size of every block in the data file, a power of two
	// between MinBlockSize and MaxBlockSize.
	BlockSize int `json:"block_size" yaml:"block_size"`
	// CacheBlocks is how many blocks the cache keeps. Pinned and dirty blocks
	// are never evicted so the cache may grow past it inside a transaction.
	CacheBlocks int `json:"cache_blocks" yaml:"cache_blocks"`
	// TransactionsPerCheckpoint is how many commits the log collects before
	// they are copied into the data file.
	TransactionsPerCheckpoint int `json:"transactions_per_checkpoint" yaml:"transactions_per_checkpoint"`

	Logger  logrus.FieldLogger `json:"-" yaml:"-"`
	Metrics *metrics.Metrics   `json:"-" yaml:"-"`
}

var DefaultOptions = Options{
	BlockSize:                 4096,
	CacheBlocks:               1024,
	TransactionsPerCheckpoint: 10,
}

// ValidBlockSize reports whether n can be used as a block size.
func ValidBlockSize(n int) bool {
	return n >= MinBlockSize && n <= MaxBlockSize && n&(n-1) == 0
}
