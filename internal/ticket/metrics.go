package ticket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snackticket_redemptions_total",
		Help: "Tickets torn successfully.",
	})
	denialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snackticket_redemption_denials_total",
		Help: "Redeem attempts denied, by gate.",
	}, []string{"reason"})
)
