// ABOUTME: Tests for telemetry setup
// ABOUTME: Verifies the Prometheus handler exposes instruments created through the otel globals

package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/2389/medibridge/internal/config"
)

func TestSetup_MetricsHandlerExposesCounters(t *testing.T) {
	tel, err := Setup(t.Context(), config.TelemetryConfig{
		ServiceName:    "medibridge-test",
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}, "test", nil)
	require.NoError(t, err)
	defer tel.Shutdown(t.Context())

	require.NotNil(t, tel.MetricsHandler())

	counter, err := otel.Meter("telemetry-test").Int64Counter("medibridge.test.events")
	require.NoError(t, err)
	counter.Add(t.Context(), 3)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "medibridge_test_events")
}

func TestSetup_MetricsDisabled(t *testing.T) {
	tel, err := Setup(t.Context(), config.TelemetryConfig{ServiceName: "medibridge-test"}, "test", nil)
	require.NoError(t, err)
	defer tel.Shutdown(t.Context())

	assert.Nil(t, tel.MetricsHandler())
}

func TestSetup_Twice(t *testing.T) {
	cfg := config.TelemetryConfig{ServiceName: "medibridge-test", MetricsEnabled: true}

	first, err := Setup(t.Context(), cfg, "test", nil)
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(t.Context()))

	second, err := Setup(t.Context(), cfg, "test", nil)
	require.NoError(t, err)
	require.NoError(t, second.Shutdown(t.Context()))
}

func TestShutdown_Nil(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(t.Context()))
}
