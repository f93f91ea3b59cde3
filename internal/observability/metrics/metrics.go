package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disparaai"

// MessagingMetrics exposes counters/histograms for the WhatsApp webhook and replies.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound Evolution webhooks",
		}, []string{"event_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total conversational replies sent",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of Evolution webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

// CampaignMetrics tracks bulk dispatch.
type CampaignMetrics struct {
	sendsTotal    *prometheus.CounterVec
	campaigns     *prometheus.CounterVec
	inFlight      prometheus.Gauge
	dispatchTimes prometheus.Histogram
}

func NewCampaignMetrics(reg prometheus.Registerer) *CampaignMetrics {
	m := &CampaignMetrics{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "sends_total",
			Help:      "Per-recipient send attempts by outcome",
		}, []string{"outcome", "media"}),
		campaigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "runs_total",
			Help:      "Campaign dispatch runs by final status",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "in_flight",
			Help:      "Campaign dispatches currently running",
		}),
		dispatchTimes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a full campaign dispatch",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendsTotal, m.campaigns, m.inFlight, m.dispatchTimes)
	return m
}

// ObserveSend records one recipient outcome ("sent" or "failed").
func (m *CampaignMetrics) ObserveSend(outcome string, withMedia bool) {
	if m == nil {
		return
	}
	media := "false"
	if withMedia {
		media = "true"
	}
	m.sendsTotal.WithLabelValues(outcome, media).Inc()
}

func (m *CampaignMetrics) DispatchStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *CampaignMetrics) DispatchFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.campaigns.WithLabelValues(status).Inc()
	m.dispatchTimes.Observe(elapsed.Seconds())
}

// GenerationMetrics tracks background copy generation.
type GenerationMetrics struct {
	runsTotal  *prometheus.CounterVec
	duplicates prometheus.Counter
	latency    *prometheus.HistogramVec
}

func NewGenerationMetrics(reg prometheus.Registerer) *GenerationMetrics {
	m := &GenerationMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "runs_total",
			Help:      "Copy generation runs by context type and outcome",
		}, []string{"context_type", "outcome"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duplicate_triggers_total",
			Help:      "Triggers ignored because a generation was already running",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Copy generation pipeline duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"context_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.duplicates, m.latency)
	return m
}

func (m *GenerationMetrics) ObserveRun(contextType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(contextType, outcome).Inc()
	m.latency.WithLabelValues(contextType).Observe(elapsed.Seconds())
}

func (m *GenerationMetrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// WorkflowMetrics tracks conversation turns through the step machine.
type WorkflowMetrics struct {
	turns *prometheus.CounterVec
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "turns_total",
			Help:      "Inbound turns by step and outcome kind",
		}, []string{"step", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turns)
	return m
}

// ObserveTurn counts a turn handled in step. Outcome is "ok" or an error kind.
func (m *WorkflowMetrics) ObserveTurn(step, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(step, outcome).Inc()
}
