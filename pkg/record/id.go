package record

import "fmt"

// RecordId is the stable handle of a record: the translation block number
// in the high 48 bits and the entry offset inside it in the low 16 bits.
// 0 is never a valid id.
type RecordId uint64

func NewRecordId(block uint64, offset int) RecordId {
	return RecordId(block<<16 | uint64(offset))
}

func (id RecordId) Block() uint64 { return uint64(id) >> 16 }
func (id RecordId) Offset() int   { return int(uint64(id) & 0xFFFF) }

func (id RecordId) String() string {
	return fmt.Sprintf("%d:%d", id.Block(), id.Offset())
}

// PhysicalRowId is where the head slot of a record currently lives.
type PhysicalRowId struct {
	Block  uint64
	Offset uint16
}

var tombstone = PhysicalRowId{Block: 0, Offset: 0xFFFF}
