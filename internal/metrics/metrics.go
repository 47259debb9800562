// Package metrics provides Prometheus instrumentation for variant generation and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	variantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picvault_variants_total",
			Help: "Total number of variant renders by size mode and result",
		},
		[]string{"mode", "result"},
	)

	variantDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "picvault_variant_duration_seconds",
			Help:    "Time spent rendering and encoding one variant",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"mode"},
	)

	ingestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picvault_ingestions_total",
			Help: "Total number of originals moved into canonical storage by result",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "picvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// ObserveVariant records one variant render.
func ObserveVariant(mode string, err error, d time.Duration) {
	variantsTotal.WithLabelValues(mode, result(err)).Inc()
	variantDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveIngestion records one ingestion attempt.
func ObserveIngestion(err error) {
	ingestionsTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request counts and latencies labelled by the matched route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}

			httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
