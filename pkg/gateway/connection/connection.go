// Package connection implements the per-connection cooperative loop
// that owns one instrument's framing state machine: draining the
// outbound order queue, polling for inbound transmissions, and ticking
// the keep-alive coordinator, all serialized through the state
// machine's single I/O mutex.
package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/metrics"
	"github.com/astmgw/gateway/internal/protocol/astm"
	"github.com/astmgw/gateway/internal/telemetry"
	"github.com/astmgw/gateway/pkg/gateway/pipeline"
)

// pollInterval is how long one loop iteration waits for inbound data
// before moving on to the keep-alive and staleness checks. It doubles
// as the loop's anti-busy-wait sleep.
const pollInterval = 100 * time.Millisecond

// staleTimeout is how long a connection may go without any completed
// exchange before the handler reaps it. It matches the framing layer's
// idle read timeout and must exceed every keep-alive interval.
const staleTimeout = 360 * time.Second

// keepAliveFailureThreshold is how many consecutive keep-alive failures
// are tolerated before the handler flags the link unhealthy. The link
// is not closed here; staleTimeout reaps a truly dead one.
const keepAliveFailureThreshold = 3

// Pipeline receives a fully reassembled inbound transmission for
// downstream routing. Implemented by pkg/gateway/pipeline.
type Pipeline interface {
	Handle(ctx context.Context, in pipeline.Inbound)
}

// Config configures a Handler.
type Config struct {
	Instrument string
	RemoteAddr string

	// KeepAliveInterval is the fixed delay between synthetic
	// keep-alive transmissions; zero disables them.
	KeepAliveInterval time.Duration

	MaxOutboundQueueSize int

	// Driver is this session's vendor driver instance.
	Driver astm.Driver

	// Route is where this instrument's results and queries are
	// published.
	Route pipeline.Route
}

// Handler owns one instrument connection end to end: the wire-level
// state machine, the outbound delivery queue orders are enqueued onto,
// and the keep-alive coordinator.
type Handler struct {
	cfg      Config
	sm       *astm.StateMachine
	pipeline Pipeline
	metrics  metrics.Recorder
	connID   uint64

	seenFramesSent  uint64
	seenRetransmits uint64

	outbound chan []byte
	stopOnce sync.Once
	stopCh   chan struct{}

	mu                sync.Mutex
	lastActive        time.Time
	nextKeepAlive     time.Time
	keepAliveFailures int

	sessionID string
}

var connIDCounter struct {
	mu  sync.Mutex
	val uint64
}

func nextConnID() uint64 {
	connIDCounter.mu.Lock()
	defer connIDCounter.mu.Unlock()
	connIDCounter.val++
	return connIDCounter.val
}

// New builds a Handler for conn, ready to be run with Serve.
func New(conn net.Conn, cfg Config, p Pipeline, rec metrics.Recorder) *Handler {
	if cfg.MaxOutboundQueueSize <= 0 {
		cfg.MaxOutboundQueueSize = 32
	}
	if rec == nil {
		rec = metrics.NoOp{}
	}
	if cfg.RemoteAddr == "" && conn.RemoteAddr() != nil {
		cfg.RemoteAddr = conn.RemoteAddr().String()
	}
	return &Handler{
		cfg:       cfg,
		sm:        astm.NewStateMachine(conn),
		pipeline:  p,
		metrics:   rec,
		connID:    nextConnID(),
		outbound:  make(chan []byte, cfg.MaxOutboundQueueSize),
		stopCh:    make(chan struct{}),
		sessionID: uuid.NewString(),
	}
}

// EnqueueOutgoing queues text for delivery to the instrument and
// returns immediately: true when the message was accepted onto the
// queue, false when the handler has stopped or the queue is full. The
// queue is drained by the handler's loop whenever the line is IDLE.
func (h *Handler) EnqueueOutgoing(text []byte) bool {
	select {
	case <-h.stopCh:
		return false
	default:
	}
	select {
	case h.outbound <- text:
		return true
	case <-h.stopCh:
		return false
	default:
		logger.Warn("outbound queue full, rejecting message",
			logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID))
		return false
	}
}

// IsConnected reports whether the underlying socket is still open.
func (h *Handler) IsConnected() bool { return h.sm.IsConnected() }

// IsBusy reports whether the state machine is mid-exchange: anything
// other than IDLE counts, since an order cannot be sent until the line
// returns to IDLE.
func (h *Handler) IsBusy() bool {
	return h.sm.GetState() != astm.StateIdle
}

// StateName names the state machine's current state, used in dispatch
// collision reasons.
func (h *Handler) StateName() string {
	return h.sm.GetState().String()
}

// CanAcceptOrders reports whether this handler is presently able to
// dispatch an outbound order: connected, not already mid-exchange, and
// not shutting down.
func (h *Handler) CanAcceptOrders() bool {
	select {
	case <-h.stopCh:
		return false
	default:
	}
	return h.IsConnected() && !h.IsBusy()
}

// KeepAliveHealthy reports whether the keep-alive coordinator has seen
// fewer than keepAliveFailureThreshold consecutive failures.
func (h *Handler) KeepAliveHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keepAliveFailures < keepAliveFailureThreshold
}

// SessionID returns a stable identifier for this connection's log
// context, distinct from the frame-level sequence numbers.
func (h *Handler) SessionID() string {
	return h.sessionID
}

// Stop signals the handler's loop to exit and closes the underlying
// connection. Safe to call multiple times.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		_ = h.sm.Close()
	})
}

// Serve runs the cooperative loop until ctx is cancelled, Stop is
// called, or the connection fails unrecoverably. Each iteration gives
// priority to draining one queued outbound message when the line is
// IDLE, then polls briefly for inbound data, then checks whether a
// keep-alive tick is due, so no single concern can starve the others.
func (h *Handler) Serve(ctx context.Context) {
	defer h.Stop()

	now := time.Now()
	h.mu.Lock()
	h.lastActive = now
	if h.cfg.KeepAliveInterval > 0 {
		h.nextKeepAlive = now.Add(h.cfg.KeepAliveInterval)
	}
	h.mu.Unlock()

	logger.Info("connection established",
		logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID),
		logger.RemoteAddr(h.cfg.RemoteAddr), logger.SessionID(h.sessionID))

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		default:
		}

		if !h.sm.IsConnected() {
			return
		}

		if h.sm.GetState() == astm.StateIdle {
			select {
			case text := <-h.outbound:
				if !h.sendOne(ctx, text) {
					return
				}
				continue
			default:
			}
		}

		if h.sm.HasPendingData(pollInterval) {
			if !h.receiveOne(ctx) {
				return
			}
			continue
		}

		if h.keepAliveDue() {
			h.sendKeepAlive(ctx)
			continue
		}

		if h.stale() {
			logger.Warn("connection stale, closing",
				logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID))
			return
		}
	}
}

// recordSendCounters forwards the state machine's frame-send and
// retransmit deltas since the last call to the metrics recorder. Only
// the Serve goroutine calls this, so the seen* fields need no lock.
func (h *Handler) recordSendCounters() {
	framesSent, retransmits := h.sm.Counters()
	for ; h.seenFramesSent < framesSent; h.seenFramesSent++ {
		h.metrics.FrameSent(h.cfg.Instrument)
	}
	for ; h.seenRetransmits < retransmits; h.seenRetransmits++ {
		h.metrics.FrameRetransmitted(h.cfg.Instrument)
	}
}

func (h *Handler) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Handler) stale() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.lastActive) >= staleTimeout
}

func (h *Handler) keepAliveDue() bool {
	if h.cfg.KeepAliveInterval <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Now().After(h.nextKeepAlive)
}

// sendOne delivers one queued outbound message. It reports false when
// the connection is beyond recovery.
func (h *Handler) sendOne(ctx context.Context, text []byte) bool {
	ctx, span := telemetry.StartConnectionSpan(ctx, telemetry.SpanFrameSend, h.cfg.Instrument, h.connID)
	defer span.End()

	err := h.sm.SendMessage(text)
	h.recordSendCounters()
	if err == nil {
		h.touch()
		return true
	}

	telemetry.RecordError(ctx, err)
	logger.Error("send failed",
		logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID), logger.Err(err))
	if errors.Is(err, astm.ErrPeerRefused) {
		// The instrument declined the session; the line itself is
		// healthy and the order will be re-dispatched.
		h.touch()
		return true
	}
	return false
}

// receiveOne runs one inbound exchange through the pipeline. It
// reports false when the connection should be torn down.
func (h *Handler) receiveOne(ctx context.Context) bool {
	ctx, span := telemetry.StartConnectionSpan(ctx, telemetry.SpanFrameReceive, h.cfg.Instrument, h.connID)
	defer span.End()

	data, err := h.sm.ReceiveMessage()
	if err != nil {
		telemetry.RecordError(ctx, err)
		if errors.Is(err, astm.ErrReadTimeout) {
			logger.Warn("stale connection, closing",
				logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID))
		} else {
			logger.Error("receive failed",
				logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID), logger.Err(err))
		}
		return false
	}
	if data == nil {
		if !h.sm.IsConnected() {
			logger.Info("peer closed connection",
				logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID))
			return false
		}
		// Empty or aborted exchange; nothing to deliver.
		h.touch()
		return true
	}

	h.metrics.FrameReceived(h.cfg.Instrument)
	h.touch()
	h.pipeline.Handle(ctx, pipeline.Inbound{
		Instrument: h.cfg.Instrument,
		RemoteAddr: h.cfg.RemoteAddr,
		Raw:        data,
		Driver:     h.cfg.Driver,
		Route:      h.cfg.Route,
	})
	return true
}

// keepAliveMessage is the synthetic Header/Terminator transmission the
// gateway sends when the keep-alive interval elapses.
func keepAliveMessage() []byte {
	return astm.Build([]astm.Record{
		{Type: "H", Fields: []string{"H", "\\^&", "", "", "LIS^KeepAlive^1.0",
			"", "", "", "", "", "", "P", "LIS2-A", astm.FormatTimestamp(time.Now())}},
		{Type: "L", Fields: []string{"L", "1", "N"}},
	})
}

func (h *Handler) sendKeepAlive(ctx context.Context) {
	ctx, span := telemetry.StartConnectionSpan(ctx, telemetry.SpanKeepAliveTick, h.cfg.Instrument, h.connID)
	defer span.End()

	h.mu.Lock()
	h.nextKeepAlive = time.Now().Add(h.cfg.KeepAliveInterval)
	h.mu.Unlock()

	if !h.sm.IsConnected() {
		return
	}

	err := h.sm.SendMessage(keepAliveMessage())
	h.recordSendCounters()
	h.mu.Lock()
	if err != nil {
		h.keepAliveFailures++
		failures := h.keepAliveFailures
		h.mu.Unlock()

		telemetry.RecordError(ctx, err)
		if failures >= keepAliveFailureThreshold {
			h.metrics.KeepAliveFailed(h.cfg.Instrument)
			logger.Error("keep-alive failing repeatedly",
				logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID),
				logger.Attempt(failures), logger.Err(err))
		} else {
			logger.Warn("keep-alive failed",
				logger.Instrument(h.cfg.Instrument), logger.ConnID(h.connID), logger.Err(err))
		}
		return
	}
	h.keepAliveFailures = 0
	h.lastActive = time.Now()
	h.mu.Unlock()
}
