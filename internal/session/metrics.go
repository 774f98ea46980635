package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	oc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_operation_count",
		Help: "The number of session operations (per operation and status).",
	}, []string{"operation", "status"})

	jac = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_join_attempt_count",
		Help: "The number of connect attempts made while joining.",
	})

	csc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_sync_applied_count",
		Help: "The number of times the network time was applied to the clock.",
	})
)

func operationCounter(op string, err error) prometheus.Counter {
	status := "OK"
	if err != nil {
		status = statusName(Status(err))
	}
	return oc.With(prometheus.Labels{"operation": op, "status": status})
}

func joinAttemptCounter() prometheus.Counter {
	return jac
}

func clockSyncCounter() prometheus.Counter {
	return csc
}
