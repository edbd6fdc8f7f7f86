package metrics

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Stage results
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Governance status values exported on the status gauge
const (
	StatusFailed    = -1
	StatusAttention = 0
	StatusHealthy   = 1
)

// Registry holds the Prometheus metrics for pipeline runs and the ops server
type Registry struct {
	reg *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	StageRuns     *prometheus.CounterVec

	GateFailures       *prometheus.CounterVec
	GovernanceStatus   prometheus.Gauge
	WalkForwardROIMean prometheus.Gauge
	ConfidenceABBets   prometheus.Gauge

	RuntimeDecisions *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New creates a registry with every edgerun metric registered. Each call
// gets its own prometheus.Registry so runs and tests never share state.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgerun_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "result"},
		),

		StageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgerun_stage_runs_total",
				Help: "Total number of pipeline stages executed by result",
			},
			[]string{"stage", "result"},
		),

		GateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgerun_gate_failures_total",
				Help: "Total number of governance gate failures by gate",
			},
			[]string{"gate"},
		),

		GovernanceStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgerun_governance_status",
				Help: "Latest governance status (1=healthy, 0=attention, -1=failed)",
			},
		),

		WalkForwardROIMean: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgerun_walk_forward_roi_mean",
				Help: "Mean walk-forward ROI on staked of the latest governance run",
			},
		),

		ConfidenceABBets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgerun_confidence_ab_bets",
				Help: "A_B policy bet count of the latest governance run",
			},
		),

		RuntimeDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgerun_runtime_decisions_total",
				Help: "Total number of runtime policy evaluations by action",
			},
			[]string{"action"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgerun_http_requests_total",
				Help: "Total number of ops server requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	r.reg.MustRegister(
		r.StageDuration,
		r.StageRuns,
		r.GateFailures,
		r.GovernanceStatus,
		r.WalkForwardROIMean,
		r.ConfidenceABBets,
		r.RuntimeDecisions,
		r.HTTPRequests,
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StageTimer tracks execution time for a pipeline stage
type StageTimer struct {
	metrics *Registry
	stage   string
	start   time.Time
}

// StartStage begins timing a pipeline stage
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{metrics: r, stage: stage, start: time.Now()}
}

// Stop records the stage duration under result
func (st *StageTimer) Stop(result string) time.Duration {
	d := time.Since(st.start)
	st.metrics.StageDuration.WithLabelValues(st.stage, result).Observe(d.Seconds())
	st.metrics.StageRuns.WithLabelValues(st.stage, result).Inc()

	log.Debug().
		Str("stage", st.stage).
		Str("result", result).
		Dur("duration", d).
		Msg("Pipeline stage completed")
	return d
}

// StopErr records success or error depending on err
func (st *StageTimer) StopErr(err error) time.Duration {
	if err != nil {
		return st.Stop(ResultError)
	}
	return st.Stop(ResultSuccess)
}

// RecordGovernance sets the status gauges and counts each failed gate. Alert
// values such as "dataset_integrity_issues=3" are counted under their name.
func (r *Registry) RecordGovernance(status int, alerts []string, roiMean float64, abBets int) {
	r.GovernanceStatus.Set(float64(status))
	r.WalkForwardROIMean.Set(roiMean)
	r.ConfidenceABBets.Set(float64(abBets))
	for _, a := range alerts {
		gate, _, _ := strings.Cut(a, "=")
		r.GateFailures.WithLabelValues(gate).Inc()
	}
}

// RecordRuntime counts a runtime policy decision
func (r *Registry) RecordRuntime(action string) {
	r.RuntimeDecisions.WithLabelValues(action).Inc()
}

// WriteTextfile writes the registry for the node_exporter textfile collector
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// Snapshot flattens counters and gauges into name{labels} -> value.
// Histograms contribute their sample count under name_count{labels}.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[seriesKey(mf.GetName(), m)] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[seriesKey(mf.GetName(), m)] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[seriesKey(mf.GetName()+"_count", m)] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

func seriesKey(name string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, lp := range labels {
		parts = append(parts, lp.GetName()+"="+lp.GetValue())
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}
