package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var broadcastCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "oadr2_ven_broadcasts_total",
	Help: "counter of oadrDistributeEvent broadcasts handled, by result",
}, []string{"result"})

var eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "oadr2_ven_events_total",
	Help: "counter of broadcast events processed, by decision",
}, []string{"decision"})

var implicitCancelCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "oadr2_ven_implicit_cancellations_total",
	Help: "counter of stored events cancelled by omission from a broadcast",
})
