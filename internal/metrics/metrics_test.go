package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counters(t *testing.T) {
	p := NewPrometheus()

	p.RequestServed("gas")
	p.RequestServed("gas")
	p.RequestDenied("gas", ReasonNoCredit)
	p.CreditsDebited(5)
	p.CreditsReconciled(40, 2)
	p.SampleRecorded()
	p.ObserveOracle(10*time.Millisecond, nil)
	p.ObserveOracle(time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.served.WithLabelValues("gas")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.denied.WithLabelValues("gas", ReasonNoCredit)))
	assert.Equal(t, 5.0, testutil.ToFloat64(p.debited))
	assert.Equal(t, 40.0, testutil.ToFloat64(p.reconciled))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.transactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.samples))
	assert.Equal(t, 2, testutil.CollectAndCount(p.oracle))
}

func TestPrometheus_Handler(t *testing.T) {
	p := NewPrometheus()
	p.RequestServed("gas")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `gas_oracle_requests_served_total{endpoint="gas"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NewNoopMetrics()
	m.RequestServed("gas")
	m.RequestDenied("gas", ReasonIPLimit)
	m.CreditsDebited(1)
	m.CreditsReconciled(1, 1)
	m.SampleRecorded()
	m.ObserveOracle(time.Second, nil)
}
