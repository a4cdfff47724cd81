package record

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"go-recdb/pkg/codec"
	"go-recdb/pkg/customerrors"
	"go-recdb/util/helpers"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testOptions() *Options {
	return &Options{
		BlockSize:                 1024,
		CacheBlocks:               32,
		TransactionsPerCheckpoint: 4,
	}
}

func openManager(t *testing.T, path string, opts *Options) *Manager {
	t.Helper()
	m, err := Open(path, opts)
	require.NoError(t, err)
	return m
}

func payload(seed int64, n int) []byte {
	d := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(d)
	return d
}

func TestRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m := openManager(t, path, testOptions())

	sizes := []int{0, 1, 17, 500, m.MaxInline(), m.MaxInline() + 1, 1012, 3000, 10000}
	ids := make([]RecordId, len(sizes))
	for i, n := range sizes {
		id, err := m.Insert(payload(int64(i), n))
		require.NoError(t, err)
		ids[i] = id
	}
	require.NoError(t, m.Commit())
	require.NoError(t, m.Close())

	m = openManager(t, path, testOptions())
	defer m.Close()

	for i, n := range sizes {
		d, err := m.Fetch(ids[i])
		require.NoError(t, err)
		require.Equal(t, payload(int64(i), n), d, "record of %d bytes", n)
	}

	count, err := m.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(len(sizes)), count)
}

func TestEmptyRecord(t *testing.T) {
	opts := testOptions()
	opts.RecordCacheBytes = 1 << 16
	m := openManager(t, filepath.Join(t.TempDir(), "data"), opts)
	defer m.Close()

	id, err := m.Insert(nil)
	require.NoError(t, err)

	// once from the slot, once more possibly from the cache
	for i := 0; i < 2; i++ {
		d, err := m.Fetch(id)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.Empty(t, d)
	}

	require.NoError(t, m.Update(id, []byte("grown")))
	require.NoError(t, m.Update(id, []byte{}))
	d, err := m.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, []byte{}, d)
}

func TestCrashBeforeCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	opts := testOptions()
	opts.TransactionsPerCheckpoint = 100
	m := openManager(t, path, opts)

	committed := map[RecordId][]byte{}
	for i := 0; i < 5; i++ {
		d := payload(int64(i), 100*i+3)
		id, err := m.Insert(d)
		require.NoError(t, err)
		committed[id] = d
		require.NoError(t, m.Commit())
	}

	lost, err := m.Insert([]byte("never committed"))
	require.NoError(t, err)
	require.NoError(t, m.Abort())

	m = openManager(t, path, opts)
	defer m.Close()

	for id, d := range committed {
		got, err := m.Fetch(id)
		require.NoError(t, err)
		require.Equal(t, d, got)
	}
	_, err = m.Fetch(lost)
	require.True(t, errors.Is(err, customerrors.ErrRecordNotFound), "got %v", err)

	count, err := m.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(5), count)
}

func TestSpaceReuse(t *testing.T) {
	opts := testOptions()
	opts.BlockSize = 4096
	m := openManager(t, filepath.Join(t.TempDir(), "data"), opts)
	defer m.Close()

	ids := make([]RecordId, 100)
	for i := range ids {
		id, err := m.Insert(payload(int64(i), 200))
		require.NoError(t, err)
		ids[i] = id
	}
	require.NoError(t, m.Commit())

	start, err := m.Stats()
	require.NoError(t, err)

	for _, id := range ids {
		require.NoError(t, m.Delete(id))
	}
	require.NoError(t, m.Commit())

	before, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, start.FreeSlots+100, before.FreeSlots)
	require.Zero(t, before.LiveRecords)

	for i := 0; i < 80; i++ {
		_, err := m.Insert(payload(int64(i+1000), 200))
		require.NoError(t, err)
	}
	require.NoError(t, m.Commit())

	after, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, before.Blocks, after.Blocks)
	require.Equal(t, start.FreeSlots+20, after.FreeSlots)
	require.Equal(t, uint64(80), after.LiveRecords)
}

func TestSpaceReuseAcrossTranslationBlocks(t *testing.T) {
	m := openManager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer m.Close()

	const n = 300
	require.Greater(t, n, m.transCap())

	rng := rand.New(rand.NewSource(3))
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = 1 + rng.Intn(3000)
	}

	insertAll := func() []RecordId {
		ids := make([]RecordId, n)
		for i, size := range sizes {
			id, err := m.Insert(payload(int64(i), size))
			require.NoError(t, err)
			ids[i] = id
		}
		require.NoError(t, m.Commit())
		return ids
	}

	ids := insertAll()
	start, err := m.Stats()
	require.NoError(t, err)

	// ids are never reused, so each cycle may add the translation blocks
	// for n fresh ids and nothing else
	perCycle := uint64(helpers.CeilDiv(n, m.transCap()) + 1)
	prev := start.Blocks
	for cycle := 0; cycle < 3; cycle++ {
		for _, id := range ids {
			require.NoError(t, m.Delete(id))
		}
		require.NoError(t, m.Commit())
		ids = insertAll()

		st, err := m.Stats()
		require.NoError(t, err)
		require.LessOrEqual(t, st.Blocks, prev+perCycle, "cycle %d", cycle)
		require.Equal(t, uint64(n), st.LiveRecords)
		prev = st.Blocks
	}
	require.LessOrEqual(t, prev, start.Blocks+3*perCycle)
}

func TestOverflowThreshold(t *testing.T) {
	m := openManager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer m.Close()

	blocks := func() uint64 {
		s, err := m.Stats()
		require.NoError(t, err)
		return s.Blocks
	}

	inline, err := m.Insert(payload(1, m.MaxInline()))
	require.NoError(t, err)
	n := blocks()

	big, err := m.Insert(payload(2, m.MaxInline()+1))
	require.NoError(t, err)
	require.Greater(t, blocks(), n, "one byte over the limit needs a continuation block")

	for _, id := range []RecordId{inline, big} {
		_, err := m.Fetch(id)
		require.NoError(t, err)
	}

	// grow across several continuation blocks, then shrink back
	for _, size := range []int{5000, 1012 * 3, 1012*3 + 7, 2*1012 + m.MaxInline()} {
		require.NoError(t, m.Update(big, payload(int64(size), size)))
		d, err := m.Fetch(big)
		require.NoError(t, err)
		require.Equal(t, payload(int64(size), size), d)
	}

	require.NoError(t, m.Update(big, []byte("small")))
	d, err := m.Fetch(big)
	require.NoError(t, err)
	require.Equal(t, []byte("small"), d)
	require.NoError(t, m.Commit())

	// the freed chain is reused by the next big record
	n = blocks()
	other, err := m.Insert(payload(3, 2*1012))
	require.NoError(t, err)
	require.Equal(t, n, blocks())

	d, err = m.Fetch(other)
	require.NoError(t, err)
	require.Equal(t, payload(3, 2*1012), d)
}

func TestUpdateKeepsId(t *testing.T) {
	m := openManager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer m.Close()

	id, err := m.Insert([]byte("hello"))
	require.NoError(t, err)
	loc, err := m.resolve(id)
	require.NoError(t, err)

	// same size class, stays in place
	require.NoError(t, m.Update(id, []byte("world!")))
	same, err := m.resolve(id)
	require.NoError(t, err)
	require.Equal(t, loc, same)

	// larger class, moves
	require.NoError(t, m.Update(id, bytes.Repeat([]byte("x"), 300)))
	moved, err := m.resolve(id)
	require.NoError(t, err)
	require.NotEqual(t, loc, moved)

	d, err := m.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte("x"), 300), d)

	// back to the small class, which reuses the first slot and frees the
	// large one
	require.NoError(t, m.Update(id, []byte("tiny")))
	back, err := m.resolve(id)
	require.NoError(t, err)
	require.Equal(t, loc, back)

	s, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, s.FreeSlots)
}

func TestMissingRecords(t *testing.T) {
	m := openManager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer m.Close()

	id, err := m.Insert([]byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, m.Delete(id))

	unissued := NewRecordId(id.Block(), id.Offset()+transEntry)
	for _, bad := range []RecordId{id, 0, unissued, NewRecordId(1<<30, 4), NewRecordId(id.Block(), 5), NewRecordId(0, 4)} {
		_, err := m.Fetch(bad)
		require.True(t, errors.Is(err, customerrors.ErrRecordNotFound), "fetch %s: %v", bad, err)
		err = m.Update(bad, []byte("x"))
		require.True(t, errors.Is(err, customerrors.ErrRecordNotFound), "update %s: %v", bad, err)
		err = m.Delete(bad)
		require.True(t, errors.Is(err, customerrors.ErrRecordNotFound), "delete %s: %v", bad, err)
	}

	// ids are not reused
	next, err := m.Insert([]byte("next"))
	require.NoError(t, err)
	require.NotEqual(t, id, next)
}

func TestRollback(t *testing.T) {
	opts := testOptions()
	opts.RecordCacheBytes = 1 << 20
	m := openManager(t, filepath.Join(t.TempDir(), "data"), opts)
	defer m.Close()

	id, err := m.Insert([]byte("v1"))
	require.NoError(t, err)
	require.NoError(t, m.Commit())

	require.NoError(t, m.Update(id, []byte("v2")))
	d, err := m.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), d)

	tmp, err := m.Insert([]byte("temp"))
	require.NoError(t, err)
	require.NoError(t, m.Rollback())

	d, err = m.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), d)
	_, err = m.Fetch(tmp)
	require.True(t, errors.Is(err, customerrors.ErrRecordNotFound), "got %v", err)

	count, err := m.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestNamedObjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m := openManager(t, path, testOptions())

	id, err := m.Insert([]byte("root"))
	require.NoError(t, err)
	require.NoError(t, m.SetNamedObject("users", id))
	require.NoError(t, m.SetNamedObject("orders", id+1))

	got, err := m.NamedObject("users")
	require.NoError(t, err)
	require.Equal(t, id, got)

	count, err := m.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count, "the directory is not a user record")
	require.NoError(t, m.Close())

	m = openManager(t, path, testOptions())
	defer m.Close()

	names, err := m.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"orders", "users"}, names)

	require.NoError(t, m.SetNamedObject("orders", 0))
	got, err = m.NamedObject("orders")
	require.NoError(t, err)
	require.Zero(t, got)

	got, err = m.NamedObject("users")
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestObjects(t *testing.T) {
	m := openManager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer m.Close()

	id, err := InsertObject[int64](m, codec.Int64{}, -42)
	require.NoError(t, err)
	v, err := FetchObject[int64](m, id, codec.Int64{})
	require.NoError(t, err)
	require.Equal(t, int64(-42), v)

	require.NoError(t, UpdateObject[int64](m, id, codec.Int64{}, 7))
	v, err = FetchObject[int64](m, id, codec.Int64{})
	require.NoError(t, err)
	require.Equal(t, int64(7), v)
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m, err := Create(path, testOptions())
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = Create(path, testOptions())
	require.True(t, errors.Is(err, customerrors.ErrExists), "got %v", err)
}

func TestBlockSizeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m := openManager(t, path, testOptions())
	require.NoError(t, m.Close())

	m = openManager(t, path, nil)
	defer m.Close()
	require.Equal(t, 1024, m.BlockSize())
}

func TestSecondOpenIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m := openManager(t, path, testOptions())
	defer m.Close()

	_, err := Open(path, testOptions())
	require.True(t, errors.Is(err, customerrors.ErrLocked), "got %v", err)
}

func TestConcurrentReaders(t *testing.T) {
	opts := testOptions()
	opts.RecordCacheBytes = 1 << 16
	m := openManager(t, filepath.Join(t.TempDir(), "data"), opts)
	defer m.Close()

	ids := make([]RecordId, 200)
	for i := range ids {
		id, err := m.Insert([]byte(fmt.Sprintf("record-%d", i)))
		require.NoError(t, err)
		ids[i] = id
	}
	require.NoError(t, m.Commit())

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := range ids {
				j := (i + w*25) % len(ids)
				d, err := m.Fetch(ids[j])
				if err != nil {
					return err
				}
				if want := fmt.Sprintf("record-%d", j); string(d) != want {
					return errors.Errorf("record %d is %q, want %q", j, d, want)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
