// Package metrics defines the in-process Prometheus counters and
// gauges the gateway maintains for connection lifecycle, frame
// throughput, and dispatch outcomes. No HTTP /metrics endpoint is
// exposed; values live only in the registry passed to NewPrometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the narrow interface gateway components depend on,
// mirroring a base adapter's metrics-recording shape so connection,
// pipeline and dispatch code can be tested against a no-op fake without
// pulling in Prometheus.
type Recorder interface {
	ConnectionOpened(instrument string)
	ConnectionClosed(instrument string)
	FrameReceived(instrument string)
	FrameSent(instrument string)
	FrameRetransmitted(instrument string)
	KeepAliveFailed(instrument string)
	MessagePublished(instrument, messageType string)
	PublishFailed(instrument string)
	OrderDispatched(instrument string)
	OrderFailed(instrument string)
	OrderRetried(instrument string)
}

// Prometheus is the production Recorder, registering its collectors
// against the given registry.
type Prometheus struct {
	connectionsOpen    *prometheus.GaugeVec
	connectionsTotal   *prometheus.CounterVec
	framesReceived     *prometheus.CounterVec
	framesSent         *prometheus.CounterVec
	framesRetransmitted *prometheus.CounterVec
	keepAliveFailures  *prometheus.CounterVec
	messagesPublished  *prometheus.CounterVec
	publishFailures    *prometheus.CounterVec
	ordersDispatched   *prometheus.CounterVec
	ordersFailed       *prometheus.CounterVec
	ordersRetried      *prometheus.CounterVec
}

// NewPrometheus constructs and registers a Prometheus-backed Recorder
// against reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		connectionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "astmgw_connections_open",
			Help: "Current number of open instrument connections.",
		}, []string{"instrument"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_connections_total",
			Help: "Total instrument connections opened.",
		}, []string{"instrument"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_frames_received_total",
			Help: "Total ASTM frames received.",
		}, []string{"instrument"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_frames_sent_total",
			Help: "Total ASTM frames sent.",
		}, []string{"instrument"}),
		framesRetransmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_frames_retransmitted_total",
			Help: "Total ASTM frames retransmitted after NAK.",
		}, []string{"instrument"}),
		keepAliveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_keepalive_failures_total",
			Help: "Total keep-alive transmissions that reached the consecutive-failure threshold.",
		}, []string{"instrument"}),
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_messages_published_total",
			Help: "Total parsed messages published to the broker.",
		}, []string{"instrument", "message_type"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_publish_failures_total",
			Help: "Total broker publish failures.",
		}, []string{"instrument"}),
		ordersDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_orders_dispatched_total",
			Help: "Total orders successfully dispatched to an instrument.",
		}, []string{"instrument"}),
		ordersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_orders_failed_total",
			Help: "Total orders that exhausted their retry budget.",
		}, []string{"instrument"}),
		ordersRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astmgw_orders_retried_total",
			Help: "Total order dispatch retries scheduled.",
		}, []string{"instrument"}),
	}

	reg.MustRegister(
		p.connectionsOpen, p.connectionsTotal, p.framesReceived, p.framesSent,
		p.framesRetransmitted, p.keepAliveFailures, p.messagesPublished,
		p.publishFailures, p.ordersDispatched, p.ordersFailed, p.ordersRetried,
	)
	return p
}

func (p *Prometheus) ConnectionOpened(instrument string) {
	p.connectionsOpen.WithLabelValues(instrument).Inc()
	p.connectionsTotal.WithLabelValues(instrument).Inc()
}

func (p *Prometheus) ConnectionClosed(instrument string) {
	p.connectionsOpen.WithLabelValues(instrument).Dec()
}

func (p *Prometheus) FrameReceived(instrument string) { p.framesReceived.WithLabelValues(instrument).Inc() }
func (p *Prometheus) FrameSent(instrument string)     { p.framesSent.WithLabelValues(instrument).Inc() }
func (p *Prometheus) FrameRetransmitted(instrument string) {
	p.framesRetransmitted.WithLabelValues(instrument).Inc()
}

func (p *Prometheus) KeepAliveFailed(instrument string) {
	p.keepAliveFailures.WithLabelValues(instrument).Inc()
}

func (p *Prometheus) MessagePublished(instrument, messageType string) {
	p.messagesPublished.WithLabelValues(instrument, messageType).Inc()
}

func (p *Prometheus) PublishFailed(instrument string) { p.publishFailures.WithLabelValues(instrument).Inc() }
func (p *Prometheus) OrderDispatched(instrument string) {
	p.ordersDispatched.WithLabelValues(instrument).Inc()
}
func (p *Prometheus) OrderFailed(instrument string)  { p.ordersFailed.WithLabelValues(instrument).Inc() }
func (p *Prometheus) OrderRetried(instrument string) { p.ordersRetried.WithLabelValues(instrument).Inc() }

// NoOp is a Recorder that discards every observation, used in tests.
type NoOp struct{}

func (NoOp) ConnectionOpened(string)         {}
func (NoOp) ConnectionClosed(string)         {}
func (NoOp) FrameReceived(string)            {}
func (NoOp) FrameSent(string)                {}
func (NoOp) FrameRetransmitted(string)       {}
func (NoOp) KeepAliveFailed(string)          {}
func (NoOp) MessagePublished(string, string) {}
func (NoOp) PublishFailed(string)            {}
func (NoOp) OrderDispatched(string)          {}
func (NoOp) OrderFailed(string)              {}
func (NoOp) OrderRetried(string)             {}
