// Registers:
//
//	#markflow_samples_accepted_total / markflow_samples_rejected_total
//	#markflow_cycles_total and markflow_snapshots_published_total
//	#markflow_risk_events_total and markflow_monitor_transitions_total
//	#go_* and process_* system metrics
//
// Exposes them on the configured address using the Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once               sync.Once
	samplesAccepted    *prometheus.CounterVec
	samplesRejected    *prometheus.CounterVec
	cyclesTotal        *prometheus.CounterVec
	snapshotsPublished *prometheus.CounterVec
	monitorTransitions *prometheus.CounterVec
	riskEventsTotal    *prometheus.CounterVec
	markPriceGauge     *prometheus.GaugeVec
	activeSourcesGauge *prometheus.GaugeVec
)

func Init(addr string) {
	once.Do(func() {
		if addr == "" {
			addr = "0.0.0.0:2112"
		}

		samplesAccepted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markflow_samples_accepted_total",
				Help: "Number of feed samples accepted into the store",
			},
			[]string{"source"},
		)

		samplesRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markflow_samples_rejected_total",
				Help: "Number of feed samples rejected before storage",
			},
			[]string{"source", "reason"},
		)

		cyclesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markflow_cycles_total",
				Help: "Number of aggregation cycles by outcome",
			},
			[]string{"outcome"},
		)

		snapshotsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markflow_snapshots_published_total",
				Help: "Number of mark price snapshots published by derivation",
			},
			[]string{"derivation"},
		)

		monitorTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markflow_monitor_transitions_total",
				Help: "Number of feed monitor state transitions",
			},
			[]string{"from", "to"},
		)

		riskEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markflow_risk_events_total",
				Help: "Number of risk events emitted by kind",
			},
			[]string{"kind"},
		)

		markPriceGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "markflow_mark_price",
				Help: "Latest published mark price",
			},
			[]string{"symbol"},
		)

		activeSourcesGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "markflow_active_sources",
				Help: "Number of fresh sources used in the latest index computation",
			},
			[]string{"symbol"},
		)

		_ = prometheus.Register(samplesAccepted)
		_ = prometheus.Register(samplesRejected)
		_ = prometheus.Register(cyclesTotal)
		_ = prometheus.Register(snapshotsPublished)
		_ = prometheus.Register(monitorTransitions)
		_ = prometheus.Register(riskEventsTotal)
		_ = prometheus.Register(markPriceGauge)
		_ = prometheus.Register(activeSourcesGauge)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementSampleAccepted increases the accepted counter for a given source.
func IncrementSampleAccepted(source string) {
	if samplesAccepted != nil {
		samplesAccepted.WithLabelValues(source).Inc()
	}
}

// IncrementSampleRejected increases the rejected counter for a source and reason.
func IncrementSampleRejected(source, reason string) {
	if samplesRejected != nil {
		samplesRejected.WithLabelValues(source, reason).Inc()
	}
}

// IncrementCycle increases the cycle counter for the given outcome.
func IncrementCycle(outcome string) {
	if cyclesTotal != nil {
		cyclesTotal.WithLabelValues(outcome).Inc()
	}
}

// IncrementPublication increases the published snapshot counter for a derivation.
func IncrementPublication(derivation string) {
	if snapshotsPublished != nil {
		snapshotsPublished.WithLabelValues(derivation).Inc()
	}
}

// IncrementTransition increases the monitor transition counter for a state change.
func IncrementTransition(from, to string) {
	if monitorTransitions != nil {
		monitorTransitions.WithLabelValues(from, to).Inc()
	}
}

// IncrementRiskEvent increases the risk event counter for the given kind.
func IncrementRiskEvent(kind string) {
	if riskEventsTotal != nil {
		riskEventsTotal.WithLabelValues(kind).Inc()
	}
}

// SetMarkPrice records the most recently published mark price for a symbol.
func SetMarkPrice(symbol string, value float64) {
	if markPriceGauge != nil {
		markPriceGauge.WithLabelValues(symbol).Set(value)
	}
}

// SetActiveSources records how many sources contributed to the latest index.
func SetActiveSources(symbol string, count int) {
	if activeSourcesGauge != nil {
		activeSourcesGauge.WithLabelValues(symbol).Set(float64(count))
	}
}
