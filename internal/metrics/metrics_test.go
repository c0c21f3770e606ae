package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsExposed(t *testing.T) {
	EventsDispatchedTotal.WithLabelValues("onClient").Inc()
	BridgeRejectedTotal.WithLabelValues("rate_limited").Inc()
	LoaderPhaseDuration.WithLabelValues("init").Observe(0.01)

	assert.GreaterOrEqual(t, testutil.ToFloat64(EventsDispatchedTotal.WithLabelValues("onClient")), 1.0)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	for _, name := range []string{
		"gamefw_events_dispatched_total",
		"gamefw_bridge_rejected_total",
		"gamefw_loader_phase_duration_seconds",
	} {
		assert.True(t, strings.Contains(text, name), "missing %s", name)
	}
}
