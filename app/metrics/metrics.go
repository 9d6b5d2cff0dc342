package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedcourier",
		Name:      "feed_runs_total",
		Help:      "Feed poll runs by result.",
	}, []string{"result"})

	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedcourier",
		Name:      "items_ingested_total",
		Help:      "Feed items seen during ingestion by outcome.",
	}, []string{"outcome"})

	ObligationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedcourier",
		Name:      "obligations_created_total",
		Help:      "Per-target delivery obligations created by fan-out.",
	})

	DeliveriesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedcourier",
		Name:      "deliveries_sent_total",
		Help:      "Deliveries handed to the transport successfully.",
	})

	DeliveriesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedcourier",
		Name:      "deliveries_failed_total",
		Help:      "Deliveries that failed rendering or transport send.",
	})

	WatchdogReclaims = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedcourier",
		Name:      "watchdog_reclaims_total",
		Help:      "Stuck processing deliveries returned to pending.",
	})

	BlackoutSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedcourier",
		Name:      "blackout_skips_total",
		Help:      "Schedule runs skipped because a blackout window was active.",
	})
)
