package metrics

import "github.com/prometheus/client_golang/prometheus"

// VoiceMetrics exposes counters/histograms for voice sessions, provisioning,
// and call analytics.
type VoiceMetrics struct {
	sessionsCreated  prometheus.Counter
	sessionsTerminal *prometheus.CounterVec
	liveSessions     prometheus.Gauge
	transcriptEvents prometheus.Counter
	provisionTotal   *prometheus.CounterVec
	provisionLatency prometheus.Histogram
	callsRecorded    *prometheus.CounterVec
	recordAppends    *prometheus.CounterVec
}

func NewVoiceMetrics(reg prometheus.Registerer) *VoiceMetrics {
	m := &VoiceMetrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total sessions registered",
		}),
		sessionsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "sessions",
			Name:      "terminal_total",
			Help:      "Sessions reaching a terminal status",
		}, []string{"status", "cause"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voice",
			Subsystem: "sessions",
			Name:      "registered",
			Help:      "Sessions currently held by the registry",
		}),
		transcriptEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "sessions",
			Name:      "transcript_events_total",
			Help:      "Accepted transcript fragments",
		}),
		provisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "provisioning",
			Name:      "attempts_total",
			Help:      "Call provisioning attempts by outcome",
		}, []string{"outcome"}),
		provisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voice",
			Subsystem: "provisioning",
			Name:      "latency_seconds",
			Help:      "Latency of call provisioning requests",
			Buckets:   prometheus.DefBuckets,
		}),
		callsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "analytics",
			Name:      "calls_recorded_total",
			Help:      "Completed calls folded into analytics windows",
		}, []string{"agent_id", "final_status"}),
		recordAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Subsystem: "analytics",
			Name:      "record_appends_total",
			Help:      "Durable record log append attempts by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.sessionsCreated,
		m.sessionsTerminal,
		m.liveSessions,
		m.transcriptEvents,
		m.provisionTotal,
		m.provisionLatency,
		m.callsRecorded,
		m.recordAppends,
	)
	return m
}

func (m *VoiceMetrics) ObserveSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *VoiceMetrics) ObserveSessionTerminal(status, cause string) {
	if m == nil {
		return
	}
	m.sessionsTerminal.WithLabelValues(status, cause).Inc()
}

func (m *VoiceMetrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}

func (m *VoiceMetrics) ObserveTranscriptEvent() {
	if m == nil {
		return
	}
	m.transcriptEvents.Inc()
}

func (m *VoiceMetrics) ObserveProvision(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.provisionTotal.WithLabelValues(outcome).Inc()
	m.provisionLatency.Observe(seconds)
}

func (m *VoiceMetrics) ObserveRecorded(agentID, status string) {
	if m == nil {
		return
	}
	m.callsRecorded.WithLabelValues(agentID, status).Inc()
}

func (m *VoiceMetrics) ObserveRecordAppend(result string) {
	if m == nil {
		return
	}
	m.recordAppends.WithLabelValues(result).Inc()
}
