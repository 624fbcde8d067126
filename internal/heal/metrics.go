package heal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_heal_attempts_total",
		Help: "Self-heal attempts by wrapper and outcome kind",
	}, []string{"op", "outcome"})

	breakerOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_heal_breaker_opens_total",
		Help: "Times a self-heal circuit breaker was opened",
	}, []string{"op"})

	breakerRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_heal_breaker_rejects_total",
		Help: "Calls short-circuited by an open circuit breaker",
	}, []string{"op"})
)
