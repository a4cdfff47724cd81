package record

import (
	"go-recdb/pkg/codec"

	"github.com/pkg/errors"
)

func InsertObject[T any](m *Manager, c codec.Codec[T], v T) (RecordId, error) {
	d, err := c.Encode(v)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode object")
	}
	return m.Insert(d)
}

func FetchObject[T any](m *Manager, id RecordId, c codec.Codec[T]) (T, error) {
	d, err := m.Fetch(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Decode(d)
}

func UpdateObject[T any](m *Manager, id RecordId, c codec.Codec[T], v T) error {
	d, err := c.Encode(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode object")
	}
	return m.Update(id, d)
}
