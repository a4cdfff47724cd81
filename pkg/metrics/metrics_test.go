package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BlockRead()
	m.Commit(10)
	m.SetPendingTxns(3)
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Commit(100)
	m.Commit(50)
	m.CacheHit()
	require.Equal(t, 2.0, testutil.ToFloat64(m.Commits))
	require.Equal(t, 150.0, testutil.ToFloat64(m.LogBytes))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))

	_, err = New(reg)
	require.Error(t, err, "registering twice must fail")
}
