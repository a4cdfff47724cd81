package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"go-recdb/pkg/customerrors"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestInt64Order(t *testing.T) {
	vals := []int64{math.MinInt64, -1000, -1, 0, 1, 7, 1 << 40, math.MaxInt64}
	enc := make([][]byte, len(vals))
	for i, v := range vals {
		d, err := Int64{}.Encode(v)
		require.NoError(t, err)
		enc[i] = d

		back, err := Int64{}.Decode(d)
		require.NoError(t, err)
		require.Equal(t, v, back)
	}

	require.True(t, sort.SliceIsSorted(enc, func(i, j int) bool {
		return bytes.Compare(enc[i], enc[j]) < 0
	}))
}

func TestFloat64Order(t *testing.T) {
	vals := []float64{math.Inf(-1), -3.5, -0.25, 0, 0.25, 2, 1e300, math.Inf(1)}
	prev := []byte(nil)
	for _, v := range vals {
		d, err := Float64{}.Encode(v)
		require.NoError(t, err)
		if prev != nil {
			require.Negative(t, bytes.Compare(prev, d), "%v", v)
		}
		prev = d

		back, err := Float64{}.Decode(d)
		require.NoError(t, err)
		require.Equal(t, v, back)
	}
}

func TestDecodeShortInput(t *testing.T) {
	_, err := Uint64{}.Decode([]byte{1, 2})
	require.True(t, errors.Is(err, customerrors.ErrCorrupt))
	_, err = Int64{}.Decode(nil)
	require.True(t, errors.Is(err, customerrors.ErrCorrupt))
}

func TestComparators(t *testing.T) {
	require.Equal(t, -1, Natural(1, 2))
	require.Equal(t, 0, Natural("a", "a"))
	require.Equal(t, 1, Natural(2.5, 1.0))

	cmp := CompareEncoded[int64](Int64{})
	require.Negative(t, cmp(-5, 3))
	require.Positive(t, cmp(10, 3))
	require.Zero(t, cmp(4, 4))
}

type point struct{ x, y uint32 }

func (p *point) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	bin.PutUint32(buf[0:4], p.x)
	bin.PutUint32(buf[4:8], p.y)
	return buf, nil
}

func (p *point) UnmarshalBinary(d []byte) error {
	if len(d) != 8 {
		return errors.New("bad point")
	}
	p.x = bin.Uint32(d[0:4])
	p.y = bin.Uint32(d[4:8])
	return nil
}

func TestBinary(t *testing.T) {
	c := Binary[point, *point]{}
	d, err := c.Encode(&point{3, 4})
	require.NoError(t, err)

	p, err := c.Decode(d)
	require.NoError(t, err)
	require.Equal(t, &point{3, 4}, p)

	_, err = c.Decode([]byte{1})
	require.Error(t, err)
}

func TestBytesEmpty(t *testing.T) {
	d, err := Bytes{}.Encode([]byte{})
	require.NoError(t, err)

	back, err := Bytes{}.Decode(d)
	require.NoError(t, err)
	require.NotNil(t, back)
	require.Empty(t, back)

	// decoded values do not alias the input
	src := []byte("abc")
	back, err = Bytes{}.Decode(src)
	require.NoError(t, err)
	src[0] = 'x'
	require.Equal(t, []byte("abc"), back)
}
