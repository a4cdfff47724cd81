package pager

import (
	"os"
	"path/filepath"
	"testing"

	"go-recdb/pkg/customerrors"
	"go-recdb/pkg/metrics"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func testOptions() *Options {
	return &Options{
		BlockSize:                 512,
		CacheBlocks:               4,
		TransactionsPerCheckpoint: 3,
	}
}

func openPager(t *testing.T, path string, opts *Options) *Pager {
	t.Helper()
	p, err := Open(path, opts)
	require.NoError(t, err)
	return p
}

func write(t *testing.T, p *Pager, n uint64, v uint64) {
	t.Helper()
	b, err := p.Get(n)
	require.NoError(t, err)
	b.PutUint64(100, v)
	require.NoError(t, p.Release(b, true))
}

func read(t *testing.T, p *Pager, n uint64) uint64 {
	t.Helper()
	b, err := p.Get(n)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Release(b, false)) }()
	return b.Uint64(100)
}

func TestCommitSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	p := openPager(t, path, testOptions())
	for i := uint64(0); i < 10; i++ {
		write(t, p, i, i*7)
	}
	require.NoError(t, p.Commit())
	require.NoError(t, p.Close())

	p = openPager(t, path, testOptions())
	defer p.Close()
	for i := uint64(0); i < 10; i++ {
		require.Equal(t, i*7, read(t, p, i))
	}

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(10*512), stat.Size())
}

func TestRollback(t *testing.T) {
	p := openPager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer p.Close()

	write(t, p, 1, 11)
	require.NoError(t, p.Commit())

	write(t, p, 1, 12)
	write(t, p, 2, 22)
	require.Equal(t, 2, p.Dirty())
	require.NoError(t, p.Rollback())
	require.Equal(t, 0, p.Dirty())

	require.Equal(t, uint64(11), read(t, p, 1))
	require.Equal(t, uint64(0), read(t, p, 2))
}

func TestPinRules(t *testing.T) {
	p := openPager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer p.Close()

	b, err := p.Get(3)
	require.NoError(t, err)

	err = p.Commit()
	require.True(t, errors.Is(err, customerrors.ErrBlocksPinned), "got %v", err)
	err = p.Rollback()
	require.True(t, errors.Is(err, customerrors.ErrBlocksPinned), "got %v", err)

	require.NoError(t, p.Release(b, false))
	require.Error(t, p.Release(b, false))
	require.NoError(t, p.Commit())
}

func TestEvictionKeepsDirtyBlocks(t *testing.T) {
	p := openPager(t, filepath.Join(t.TempDir(), "data"), testOptions())
	defer p.Close()

	for i := uint64(0); i < 20; i++ {
		write(t, p, i, i+1)
	}
	// nothing is committed yet so every block must still be cached
	for i := uint64(0); i < 20; i++ {
		require.Equal(t, i+1, read(t, p, i))
	}

	require.NoError(t, p.Commit())
	require.LessOrEqual(t, len(p.blocks), 4)
	for i := uint64(0); i < 20; i++ {
		require.Equal(t, i+1, read(t, p, i))
	}
}

func TestCheckpointInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	p := openPager(t, path, testOptions())
	defer p.Close()

	write(t, p, 1, 1)
	require.NoError(t, p.Commit())
	write(t, p, 1, 2)
	require.NoError(t, p.Commit())
	require.Equal(t, 2, p.PendingTxns())

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, stat.Size(), "data file is written by checkpoints only")

	write(t, p, 1, 3)
	require.NoError(t, p.Commit())
	require.Equal(t, 0, p.PendingTxns())

	stat, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(2*512), stat.Size())
}

func TestCrashRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	p := openPager(t, path, testOptions())
	write(t, p, 1, 100)
	write(t, p, 2, 200)
	require.NoError(t, p.Commit())
	write(t, p, 2, 201)
	require.NoError(t, p.Commit())
	write(t, p, 3, 300) // never committed
	require.NoError(t, p.Abort())

	_, err := p.Get(1)
	require.True(t, errors.Is(err, customerrors.ErrClosed))

	p = openPager(t, path, testOptions())
	defer p.Close()
	require.Equal(t, 0, p.PendingTxns(), "recovery checkpoints right away")
	require.Equal(t, uint64(100), read(t, p, 1))
	require.Equal(t, uint64(201), read(t, p, 2))
	require.Equal(t, uint64(0), read(t, p, 3))
}

func TestReplayAfterCheckpointIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	opts := testOptions()
	opts.TransactionsPerCheckpoint = 100

	p := openPager(t, path, opts)
	write(t, p, 1, 100)
	write(t, p, 2, 200)
	require.NoError(t, p.Commit())
	write(t, p, 2, 201)
	require.NoError(t, p.Commit())

	stale, err := os.ReadFile(path + ".log")
	require.NoError(t, err)
	require.NoError(t, p.Checkpoint())
	require.NoError(t, p.Abort())

	// crash after the data file was written, before the log was emptied
	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(path+".log", stale, 0o644))

		p = openPager(t, path, opts)
		require.Equal(t, uint64(100), read(t, p, 1))
		require.Equal(t, uint64(201), read(t, p, 2))
		require.NoError(t, p.Abort())
	}
}

func TestLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	p := openPager(t, path, testOptions())

	_, err := Open(path, testOptions())
	require.True(t, errors.Is(err, customerrors.ErrLocked), "got %v", err)

	require.NoError(t, p.Close())
	p = openPager(t, path, testOptions())
	require.NoError(t, p.Close())
}

func TestTruncatedBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, make([]byte, 512+100), 0o644))

	p := openPager(t, path, testOptions())
	defer p.Close()

	_, err := p.Get(1)
	require.True(t, errors.Is(err, customerrors.ErrCorrupt), "got %v", err)
}

func TestInvalidBlockSize(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "data"), &Options{BlockSize: 1000, CacheBlocks: 4})
	require.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)

	opts := testOptions()
	opts.Metrics = m
	p := openPager(t, filepath.Join(t.TempDir(), "data"), opts)
	defer p.Close()

	write(t, p, 1, 1)
	read(t, p, 1)
	require.NoError(t, p.Commit())

	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Commits))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PendingTxns))
}
