// Package metrics exports the audio-path counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every recorder is then a
// no-op.
type Metrics struct {
	reg *prometheus.Registry

	txFrames    *prometheus.CounterVec
	txFailures  prometheus.Counter
	rxPackets   prometheus.Counter
	rxFiltered  *prometheus.CounterVec
	rxDrops     prometheus.Counter
	decodes     *prometheus.CounterVec
	sinkRetries prometheus.Counter
	preemptions prometheus.Counter
	refusals    *prometheus.CounterVec
	calls       *prometheus.CounterVec
	state       *prometheus.GaugeVec
	queueDepth  prometheus.Gauge
	onlinePeers prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		reg: reg,

		txFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intercom_tx_frames_total",
			Help: "Audio frames sent, by kind (voice, silence)",
		}, []string{"kind"}),
		txFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "intercom_tx_send_failures_total",
			Help: "Audio datagrams that failed to send",
		}),
		rxPackets: f.NewCounter(prometheus.CounterOpts{
			Name: "intercom_rx_packets_total",
			Help: "Audio datagrams accepted onto the rx queue",
		}),
		rxFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intercom_rx_filtered_total",
			Help: "Audio datagrams rejected by the receive filter",
		}, []string{"reason"}),
		rxDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "intercom_rx_queue_drops_total",
			Help: "Audio datagrams dropped because the rx queue was full",
		}),
		decodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intercom_decodes_total",
			Help: "Decoder invocations, by kind (normal, plc, fec)",
		}, []string{"kind"}),
		sinkRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "intercom_sink_restarts_total",
			Help: "Speaker restarts after a failed write",
		}),
		preemptions: f.NewCounter(prometheus.CounterOpts{
			Name: "intercom_preemptions_total",
			Help: "Channel takeovers by a higher-priority sender",
		}),
		refusals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intercom_ptt_refusals_total",
			Help: "Refused PTT presses, by reason",
		}, []string{"reason"}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intercom_calls_total",
			Help: "Call notifications, by direction and outcome",
		}, []string{"direction", "outcome"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "intercom_state",
			Help: "1 for the current channel state",
		}, []string{"state"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "intercom_rx_queue_depth",
			Help: "Packets waiting in the rx queue",
		}),
		onlinePeers: f.NewGauge(prometheus.GaugeOpts{
			Name: "intercom_online_peers",
			Help: "Peers currently advertising online",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) TxFrame(silence bool) {
	if m == nil {
		return
	}
	kind := "voice"
	if silence {
		kind = "silence"
	}
	m.txFrames.WithLabelValues(kind).Inc()
}

func (m *Metrics) TxFailure() {
	if m != nil {
		m.txFailures.Inc()
	}
}

func (m *Metrics) RxAccepted() {
	if m != nil {
		m.rxPackets.Inc()
	}
}

func (m *Metrics) RxFiltered(reason string) {
	if m != nil {
		m.rxFiltered.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RxDrop() {
	if m != nil {
		m.rxDrops.Inc()
	}
}

func (m *Metrics) Decode(kind string) {
	if m != nil {
		m.decodes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SinkRestart() {
	if m != nil {
		m.sinkRetries.Inc()
	}
}

func (m *Metrics) Preemption() {
	if m != nil {
		m.preemptions.Inc()
	}
}

func (m *Metrics) Refusal(reason string) {
	if m != nil {
		m.refusals.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Call(direction, outcome string) {
	if m != nil {
		m.calls.WithLabelValues(direction, outcome).Inc()
	}
}

// SetState marks state as current and clears every other known state.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetOnlinePeers(n int) {
	if m != nil {
		m.onlinePeers.Set(float64(n))
	}
}
