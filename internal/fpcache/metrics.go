package fpcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_fpcache_lookups_total",
		Help: "Fingerprint cache lookups by kind (candidate, evidence) and result (hit, miss)",
	}, []string{"kind", "result"})

	evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrecall_fpcache_evictions_total",
		Help: "Fingerprint cache entries removed by reason (capacity, ttl)",
	}, []string{"reason"})

	entriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrecall_fpcache_entries",
		Help: "Live fingerprint cache entries after the last call",
	})
)
