// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kittybank/kitty/internal/apperr"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kitty_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kitty_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	// Redemptions counts redeem attempts by outcome ("ok" or a lower-cased error code).
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kitty_redemptions_total",
		Help: "Redemption attempts, labeled by outcome",
	}, []string{"outcome"})

	// WalletOperations counts membership and balance mutations on shared wallets.
	WalletOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kitty_wallet_operations_total",
		Help: "Wallet mutations, labeled by operation and outcome",
	}, []string{"operation", "outcome"})
)

// Outcome turns an operation result into a bounded label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(apperr.CodeOf(err))
}

// HTTP records request counts and latency per matched route.
func HTTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = apperr.Status(err)
			}
		}
		route := c.Route().Path
		method := c.Method()
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
