package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_refresh_total",
			Help: "Access token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	loginTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_login_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_fetch_total",
			Help: "Authenticated backend requests by result",
		},
		[]string{"result"},
	)
)
