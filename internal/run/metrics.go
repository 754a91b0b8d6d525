package run

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered on the default registry, exposed by the serving app's /metrics.
var (
	batchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clavier",
		Name:      "training_batches_total",
		Help:      "Total training batches processed across all runs in this process.",
	})

	checkpointsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clavier",
		Name:      "checkpoints_total",
		Help:      "Total composite checkpoints written.",
	})
)
