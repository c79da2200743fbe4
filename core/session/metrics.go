package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var resolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "iteam",
		Subsystem: "session",
		Name:      "role_resolutions_total",
		Help:      "Role resolutions by provenance tier.",
	},
	[]string{"source", "from_cache"},
)
