package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPagesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campfire",
		Subsystem: "chat",
		Name:      "pages_loaded_total",
		Help:      "History pages fetched from the backing store, by load kind.",
	}, []string{"kind", "outcome"})

	metricPageLoadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "campfire",
		Subsystem: "chat",
		Name:      "page_load_seconds",
		Help:      "Latency of history page fetches.",
		Buckets:   prometheus.DefBuckets,
	})

	metricLiveEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campfire",
		Subsystem: "chat",
		Name:      "live_events_total",
		Help:      "Live feed change events applied to conversation windows.",
	}, []string{"kind"})

	metricLiveEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campfire",
		Subsystem: "chat",
		Name:      "live_events_dropped_total",
		Help:      "Live feed events ignored as duplicates or outside the loaded window.",
	})

	metricMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campfire",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages accepted by the send path.",
	})

	metricClassifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campfire",
		Subsystem: "chat",
		Name:      "classify_failures_total",
		Help:      "Classification attempts that failed; messages are delivered regardless.",
	})
)
