package bptree

import "go-recdb/pkg/codec"

const (
	DefaultPageSize         = 32
	MinPageSize             = 4
	DefaultInlineValueLimit = 256
)

// Options represents the configuration options for the B+ tree index.
type Options[K, V any] struct {
	KeyCodec   codec.Codec[K] `json:"-"`
	ValueCodec codec.Codec[V] `json:"-"`

	// Comparator orders keys. When nil keys are ordered by their encoded
	// bytes.
	Comparator codec.Comparator[K] `json:"-"`

	// PageSize is the branching factor: the most entries a node holds
	// before it splits. Only used by Create, a loaded tree keeps the page
	// size it was created with.
	PageSize int `json:"page_size"`

	// InlineValueLimit is the largest encoded value kept inside a leaf.
	// Larger values are stored as separate records.
	InlineValueLimit int `json:"inline_value_limit"`
}
