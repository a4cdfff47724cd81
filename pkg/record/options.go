package record

import (
	"go-recdb/pkg/metrics"
	"go-recdb/pkg/pager"

	"github.com/sirupsen/logrus"
)

type Options struct {
	// BlockSize is used when creating a file. Existing files keep the block
	// size they were created with.
	BlockSize                 int `json:"block_size" yaml:"block_size"`
	CacheBlocks               int `json:"cache_blocks" yaml:"cache_blocks"`
	TransactionsPerCheckpoint int `json:"transactions_per_checkpoint" yaml:"transactions_per_checkpoint"`

	// RecordCacheBytes bounds the cache of decoded records. 0 disables it.
	RecordCacheBytes int64 `json:"record_cache_bytes" yaml:"record_cache_bytes"`

	Logger  logrus.FieldLogger `json:"-" yaml:"-"`
	Metrics *metrics.Metrics   `json:"-" yaml:"-"`
}

var DefaultOptions = Options{
	BlockSize:                 pager.DefaultOptions.BlockSize,
	CacheBlocks:               pager.DefaultOptions.CacheBlocks,
	TransactionsPerCheckpoint: pager.DefaultOptions.TransactionsPerCheckpoint,
}

func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultOptions.BlockSize
	}
	if o.CacheBlocks == 0 {
		o.CacheBlocks = DefaultOptions.CacheBlocks
	}
	if o.TransactionsPerCheckpoint == 0 {
		o.TransactionsPerCheckpoint = DefaultOptions.TransactionsPerCheckpoint
	}
	return o
}
