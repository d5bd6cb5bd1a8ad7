package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Outbox event lifecycle counter by outcome and aggregate",
		},
		[]string{"outcome", "aggregate"}, // produced|delivered|transient|compensated , order|user|...
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Consumer-side notification counter by result",
		},
		[]string{"result"}, // created|duplicate|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsTotal,
		NotificationsTotal,
	)
}
