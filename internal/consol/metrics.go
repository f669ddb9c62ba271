package consol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsMu          sync.Mutex
	metricsInitialized bool
	metricsError       error

	runCounter      *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	entriesPosted   *prometheus.CounterVec
	exceptionsGauge *prometheus.GaugeVec
	summaryRequests *prometheus.CounterVec
)

// SetupMetrics registers the consolidation collectors once. Later calls
// return the first outcome.
func SetupMetrics(reg prometheus.Registerer) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metricsInitialized {
		return metricsError
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "konzern_consol_runs_total",
		Help: "Consolidation runs by outcome.",
	}, []string{"status"})
	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "konzern_consol_run_duration_seconds",
		Help:    "Duration of consolidation runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	entriesPosted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "konzern_consol_entries_posted_total",
		Help: "Draft consolidation entries committed by runs and first consolidations.",
	}, []string{"type"})
	exceptionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "konzern_consol_reconciliation_exceptions",
		Help: "Reconciliation exceptions written by the latest run.",
	}, []string{"material"})
	summaryRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "konzern_consol_summary_requests_total",
		Help: "Statement summary requests by how they were served.",
	}, []string{"outcome"})

	for _, collector := range []prometheus.Collector{runCounter, runDuration, entriesPosted, exceptionsGauge, summaryRequests} {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				if !adoptExisting(collector, already.ExistingCollector) {
					metricsError = fmt.Errorf("consol metrics: unexpected collector type %T", already.ExistingCollector)
				}
				continue
			}
			metricsError = err
			runCounter, runDuration, entriesPosted, exceptionsGauge, summaryRequests = nil, nil, nil, nil, nil
			metricsInitialized = true
			return metricsError
		}
	}
	metricsInitialized = true
	return metricsError
}

func adoptExisting(ours, existing prometheus.Collector) bool {
	switch c := existing.(type) {
	case *prometheus.CounterVec:
		switch ours {
		case runCounter:
			runCounter = c
		case entriesPosted:
			entriesPosted = c
		case summaryRequests:
			summaryRequests = c
		}
	case *prometheus.HistogramVec:
		runDuration = c
	case *prometheus.GaugeVec:
		exceptionsGauge = c
	default:
		return false
	}
	return true
}

func observeRun(status string, d time.Duration) {
	if runCounter == nil || runDuration == nil {
		return
	}
	runCounter.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(d.Seconds())
}

func countPosted(types map[string]int) {
	if entriesPosted == nil {
		return
	}
	for typ, n := range types {
		entriesPosted.WithLabelValues(typ).Add(float64(n))
	}
}

func setExceptions(material, immaterial int) {
	if exceptionsGauge == nil {
		return
	}
	exceptionsGauge.WithLabelValues("true").Set(float64(material))
	exceptionsGauge.WithLabelValues("false").Set(float64(immaterial))
}

// RecordSummaryRequest counts a summary request; outcome is "built" or
// "shared" when a concurrent request already produced it.
func RecordSummaryRequest(outcome string) {
	if summaryRequests == nil {
		return
	}
	summaryRequests.WithLabelValues(outcome).Inc()
}
