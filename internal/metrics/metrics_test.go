package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ProbeDispatched("broadcast")
	m.ProbeDispatched("broadcast")
	m.Discovery("found")
	m.SetFailures(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.probesDispatched.WithLabelValues("broadcast")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.failures))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `incubator_link_discovery_cycles_total{outcome="found"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ProbeDispatched("x")
		m.Verification("ok")
		m.SetConnected(true)
	})
}
