// Package metrics defines the Prometheus instrumentation for the polling
// pipeline, exposed by the status server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts completed scheduler ticks
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubefeed_ticks_total",
		Help: "Number of completed polling ticks",
	})

	// DeliveriesTotal counts successful deliveries to the download queue
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubefeed_deliveries_total",
		Help: "Number of items successfully delivered to MeTube",
	}, []string{"feed"})

	// DeliveryFailuresTotal counts failed delivery attempts
	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubefeed_delivery_failures_total",
		Help: "Number of failed delivery attempts",
	}, []string{"feed"})

	// FetchErrorsTotal counts feed fetch or resolution errors
	FetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubefeed_fetch_errors_total",
		Help: "Number of feed fetch or resolution errors",
	}, []string{"feed"})

	// BacklogCompletedTotal counts completed backlog passes
	BacklogCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tubefeed_backlog_completed_total",
		Help: "Number of feeds whose backlog pass completed",
	})
)
