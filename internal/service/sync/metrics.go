package sync

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce    sync.Once
	runsTotal      *prometheus.CounterVec
	pipelinesTotal *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metrik",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Count of synchronization runs by outcome",
		}, []string{"outcome"})

		pipelinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metrik",
			Subsystem: "sync",
			Name:      "pipeline_fetches_total",
			Help:      "Count of per-pipeline fetch attempts by status",
		}, []string{"status"})

		for _, collector := range []*prometheus.CounterVec{runsTotal, pipelinesTotal} {
			if err := prometheus.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
						if collector == runsTotal {
							runsTotal = existing
						} else {
							pipelinesTotal = existing
						}
					}
				}
			}
		}
	})
}

func recordRunOutcome(outcome string) {
	initMetrics()
	runsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func recordPipelineOutcome(err error) {
	initMetrics()
	status := "success"
	if err != nil {
		status = "failed"
	}
	pipelinesTotal.With(prometheus.Labels{"status": status}).Inc()
}
