package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveChange(t *testing.T) {
	before := testutil.ToFloat64(ChangesTotal.WithLabelValues("fanotify"))
	ObserveChange("fanotify")
	ObserveChange("fanotify")
	assert.Equal(t, before+2, testutil.ToFloat64(ChangesTotal.WithLabelValues("fanotify")))
}

func TestObserveEvent(t *testing.T) {
	before := testutil.ToFloat64(MountEventsTotal.WithLabelValues("detach"))
	ObserveEvent("detach")
	assert.Equal(t, before+1, testutil.ToFloat64(MountEventsTotal.WithLabelValues("detach")))
}

func TestSetUp(t *testing.T) {
	SetUp(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(Up))
	SetUp(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(Up))
}

func TestMetricsEndpointExposesCoreMetrics(t *testing.T) {
	ObserveChange("kernel")
	ObserveEnableFailure("fanotify")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `mntwatch_changes_total{type="kernel"}`)
	assert.Contains(t, body, `mntwatch_enable_failures_total{type="fanotify"}`)
	assert.Contains(t, body, "mntwatch_up")
}
