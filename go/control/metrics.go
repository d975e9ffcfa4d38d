package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var levelGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "oadr2_ven_signal_level",
	Help: "demand-response signal level currently in effect",
})

var tickCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "oadr2_ven_control_ticks_total",
	Help: "counter of control loop evaluations",
})

var expiredCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "oadr2_ven_expired_events_total",
	Help: "counter of stored events removed after their end passed",
})

var callbackPanicCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "oadr2_ven_callback_panics_total",
	Help: "counter of panics recovered from the signal change callback",
})
