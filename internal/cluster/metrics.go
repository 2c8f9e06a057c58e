package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the exploration counters a cluster reports.
// Pass one instance to every cluster of a session with WithMetrics.
type Metrics struct {
	VerticesVisited  prometheus.Counter
	FetchRequests    *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	BatchesInFlight  prometheus.Gauge
	BatchSize        prometheus.Histogram
	CyclesResolved   prometheus.Counter
	Verdicts         *prometheus.CounterVec
	ExploreDuration  prometheus.Histogram
	ResultsExtracted *prometheus.CounterVec
}

// NewMetrics registers the cluster metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VerticesVisited: f.NewCounter(prometheus.CounterOpts{
			Name: "kiln_cluster_vertices_visited_total",
			Help: "Vertex visits performed by graph search",
		}),
		FetchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_cluster_fetch_requests_total",
			Help: "Slot fetches shipped to async workers by slot kind",
		}, []string{"slot"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_cluster_fetch_errors_total",
			Help: "Failed fetches by slot kind",
		}, []string{"slot"}),
		BatchesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "kiln_cluster_batches_in_flight",
			Help: "Fetch batches currently dispatched",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiln_cluster_batch_vertices",
			Help:    "Vertices per dispatched fetch batch",
			Buckets: []float64{1, 10, 100, 250, 500, 1000},
		}),
		CyclesResolved: f.NewCounter(prometheus.CounterOpts{
			Name: "kiln_cluster_cycle_resolutions_total",
			Help: "Transitive build dependency cycle resolution rounds",
		}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_cluster_incremental_verdicts_total",
			Help: "Incremental verdicts by outcome",
		}, []string{"unmodified"}),
		ExploreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiln_cluster_process_duration_seconds",
			Help:    "Wall time of Process calls",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ResultsExtracted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_cluster_results_total",
			Help: "Units handed downstream by list",
		}, []string{"list"}),
	}
}

func (m *Metrics) visited() {
	if m != nil {
		m.VerticesVisited.Inc()
	}
}

func (m *Metrics) fetchRequested(slot string, n int) {
	if m != nil && n > 0 {
		m.FetchRequests.WithLabelValues(slot).Add(float64(n))
	}
}

func (m *Metrics) fetchFailed(slot string) {
	if m != nil {
		m.FetchErrors.WithLabelValues(slot).Inc()
	}
}

func (m *Metrics) batchDispatched(size int) {
	if m != nil {
		m.BatchesInFlight.Inc()
		m.BatchSize.Observe(float64(size))
	}
}

func (m *Metrics) batchFinished() {
	if m != nil {
		m.BatchesInFlight.Dec()
	}
}

func (m *Metrics) cycleResolved() {
	if m != nil {
		m.CyclesResolved.Inc()
	}
}

func (m *Metrics) verdict(unmodified bool) {
	if m != nil {
		label := "false"
		if unmodified {
			label = "true"
		}
		m.Verdicts.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) processed(seconds float64) {
	if m != nil {
		m.ExploreDuration.Observe(seconds)
	}
}

func (m *Metrics) extracted(build, skip int) {
	if m != nil {
		m.ResultsExtracted.WithLabelValues("build").Add(float64(build))
		m.ResultsExtracted.WithLabelValues("skip").Add(float64(skip))
	}
}
