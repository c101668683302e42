package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request latency for the Prometheus /metrics endpoint.
type HTTPMetrics struct {
	requests *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPMetrics registers the HTTP collectors on the default registerer.
func NewHTTPMetrics(cfg Config) (*HTTPMetrics, error) {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) (*HTTPMetrics, error) {
	constLabels := prometheus.Labels{
		"service": serviceLabel(cfg.ServiceName),
		"env":     envLabel(cfg.Environment),
	}
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "tumblebus_http_request_duration_seconds",
		Help:        "HTTP request latency by route, method and status.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"route", "method", "status_code"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "tumblebus_http_requests_in_flight",
		Help:        "HTTP requests currently being served.",
		ConstLabels: constLabels,
	})

	for _, collector := range []prometheus.Collector{requests, inFlight} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return &HTTPMetrics{requests: requests, inFlight: inFlight}, nil
}

// Middleware observes every request by its route template.
func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		m.inFlight.Inc()
		c.Next()
		m.inFlight.Dec()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.requests.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func serviceLabel(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "tumblebus"
}

func envLabel(env string) string {
	if env = strings.TrimSpace(env); env != "" {
		return env
	}
	return "unknown"
}
