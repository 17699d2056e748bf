package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsim/pkg/api"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()

	m.RunFinished(api.RunCompleted, 2*time.Second)
	m.RunFinished(api.RunFailed, time.Second)
	m.RunFinished(api.RunCompleted, time.Second)
	m.BillCreated(api.PolicyGross)
	m.HouseSkipped("not_found")
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.PointsIngested(35040)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.billsCreated.WithLabelValues("GROSS_METERING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.housesSkipped.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 35040.0, testutil.ToFloat64(m.ingestedPoints))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.BillCreated(api.PolicySimpleNet)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `gridsim_bills_created_total{policy="SIMPLE_NET"} 1`))
	assert.Contains(t, body, "gridsim_run_duration_seconds")
}

func TestMiddlewareRecordsUnmatchedRoutes(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("unmatched", "418")))
}
