package poll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pollCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "oadr2_ven_polls_total",
	Help: "counter of poll cycles, by result",
}, []string{"result"})
