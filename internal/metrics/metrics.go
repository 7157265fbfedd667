package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives observability signals from the rate pipeline.
type Recorder interface {
	ObserveOperation(op string, d time.Duration)
	SourceSelected(program, kind string)
	ItemForwarded(program, kind string)
	ItemEvaluated(program string, accepted bool)
	ObserveDeliveryLatency(program string, d time.Duration)
	LatencyBudgetExceeded(program string)
	StreamStopped(program, reason string)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) ObserveOperation(string, time.Duration)       {}
func (Nop) SourceSelected(string, string)                {}
func (Nop) ItemForwarded(string, string)                 {}
func (Nop) ItemEvaluated(string, bool)                   {}
func (Nop) ObserveDeliveryLatency(string, time.Duration) {}
func (Nop) LatencyBudgetExceeded(string)                 {}
func (Nop) StreamStopped(string, string)                 {}

// Prometheus exports signals as Prometheus collectors.
type Prometheus struct {
	operations  *prometheus.HistogramVec
	sources     *prometheus.GaugeVec
	forwarded   *prometheus.CounterVec
	evaluated   *prometheus.CounterVec
	delivery    *prometheus.HistogramVec
	overBudget  *prometheus.CounterVec
	streamStops *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ammscope",
			Name:      "operation_duration_seconds",
			Help:      "Duration of rate engine operations.",
			Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3},
		}, []string{"op"}),
		sources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ammscope",
			Name:      "source_selected",
			Help:      "Source kind selected per program (1 = active).",
		}, []string{"program", "kind"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammscope",
			Name:      "items_forwarded_total",
			Help:      "Items forwarded into the output channel.",
		}, []string{"program", "kind"}),
		evaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammscope",
			Name:      "items_evaluated_total",
			Help:      "Items evaluated against the filter.",
		}, []string{"program", "accepted"}),
		delivery: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ammscope",
			Name:      "delivery_latency_seconds",
			Help:      "Time from source receipt to forwarding decision.",
			Buckets:   []float64{1e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2, 5e-2, 1e-1},
		}, []string{"program"}),
		overBudget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammscope",
			Name:      "latency_budget_exceeded_total",
			Help:      "Items whose delivery latency exceeded the soft budget.",
		}, []string{"program"}),
		streamStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammscope",
			Name:      "stream_stopped_total",
			Help:      "Per-program source tasks that stopped.",
		}, []string{"program", "reason"}),
	}

	for _, c := range []prometheus.Collector{
		p.operations, p.sources, p.forwarded, p.evaluated, p.delivery, p.overBudget, p.streamStops,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveOperation(op string, d time.Duration) {
	p.operations.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) SourceSelected(program, kind string) {
	p.sources.DeletePartialMatch(prometheus.Labels{"program": program})
	p.sources.WithLabelValues(program, kind).Set(1)
}

func (p *Prometheus) ItemForwarded(program, kind string) {
	p.forwarded.WithLabelValues(program, kind).Inc()
}

func (p *Prometheus) ItemEvaluated(program string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	p.evaluated.WithLabelValues(program, label).Inc()
}

func (p *Prometheus) ObserveDeliveryLatency(program string, d time.Duration) {
	p.delivery.WithLabelValues(program).Observe(d.Seconds())
}

func (p *Prometheus) LatencyBudgetExceeded(program string) {
	p.overBudget.WithLabelValues(program).Inc()
}

func (p *Prometheus) StreamStopped(program, reason string) {
	p.streamStops.WithLabelValues(program, reason).Inc()
}
