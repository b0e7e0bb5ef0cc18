package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tier", "50"),
		attribute.String("user_id", "uid-1"),
		attribute.String("provider", "google"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("expected user_id to be dropped")
		}
	}
}

func TestHTTPMetricsCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	}

	var out dto.Metric
	require.NoError(t, m.requests.WithLabelValues("/ping", http.MethodGet, "204").Write(&out))
	require.Equal(t, float64(3), out.GetCounter().GetValue())

	var gauge dto.Metric
	require.NoError(t, m.inflight.Write(&gauge))
	require.Equal(t, float64(0), gauge.GetGauge().GetValue())
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordPaymentSubmitted(context.Background(), "50")
	m.RecordCreditConsumed(context.Background())
}
