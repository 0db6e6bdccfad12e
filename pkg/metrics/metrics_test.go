package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New("test", reg)
	require.NoError(t, err)

	m.ObserveFrameStored(100)
	m.ObserveFrameStored(50)
	m.ObserveFrameRejected("decode")
	m.ObserveSession("upload", "success")
	m.ObserveRequest("insert", "applied")
	m.ObserveRequest("insert", "applied")
	m.ObserveRequest("select", "answered")
	m.ObserveQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesStored))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.bytesStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesRejected.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("upload", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.storeRequests.WithLabelValues("insert", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRequests.WithLabelValues("select", "answered")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New("test", reg)
	require.NoError(t, err)
	_, err = New("test", reg)
	assert.NoError(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFrameStored(1)
	m.ObserveFrameRejected("decode")
	m.ObserveSession("download", "error")
	m.ObserveRequest("insert", "dropped")
	m.ObserveQueueDepth(1)
}

func TestMetrics_SharedAcrossInstances(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New("test", reg)
	require.NoError(t, err)
	second, err := New("test", reg)
	require.NoError(t, err)

	first.ObserveFrameStored(1)
	second.ObserveFrameStored(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(first.framesStored))
}
