package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_feed_refresh_total",
		Help: "Feed refresh attempts, by result (ok or the error kind)",
	}, []string{"result"})

	itemsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gleaner_feed_items_inserted_total",
		Help: "Feed items written by refreshes",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gleaner_feed_fetch_duration_seconds",
		Help:    "Time spent fetching and parsing a single feed",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms up to ~25s
	})
)
