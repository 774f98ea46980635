package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_event_count",
		Help: "The number of MAC stack events posted to the dispatch bridge (per event type).",
	}, []string{"event"})

	dc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_event_dropped_count",
		Help: "The number of MAC stack events dropped because the event queue was full.",
	})
)

func eventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func droppedCounter() prometheus.Counter {
	return dc
}
