// Package dispatch implements the outbound order dispatcher: orders
// are durably stored before any delivery attempt, claimed via an
// atomic compare-and-swap so two dispatch ticks can never both send
// the same order, and rescheduled with backoff when the target
// connection is busy or offline rather than dropped.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/metrics"
	"github.com/astmgw/gateway/internal/protocol/astm"
	"github.com/astmgw/gateway/internal/telemetry"
	"github.com/astmgw/gateway/pkg/broker"
	"github.com/astmgw/gateway/pkg/store"
)

// busyRetryDelay is how long an order waits before its next attempt
// when the target connection exists but is mid-exchange (a line
// collision).
const busyRetryDelay = 30 * time.Second

// offlineRetryDelay is how long an order waits before its next attempt
// when no connection handler is currently live for its instrument.
const offlineRetryDelay = 60 * time.Second

// defaultMaxRetries bounds how many scheduled attempts an order gets
// before it is marked FAILED permanently.
const defaultMaxRetries = 5

// tickInterval is how often the retry worker polls the store for
// orders ready for another attempt.
const tickInterval = 5 * time.Second

// retryBatch bounds how many orders one retry tick loads.
const retryBatch = 50

// Handler is the slice of a live connection handler the dispatcher
// needs: readiness, a collision reason, and enqueue.
type Handler interface {
	IsConnected() bool
	IsBusy() bool
	StateName() string
	EnqueueOutgoing(text []byte) bool
}

// ConnectionLookup resolves the live connection handler for an
// instrument, if any. The gateway implements it with an adapter over
// the acceptor's Lookup.
type ConnectionLookup interface {
	Lookup(instrument string) (Handler, bool)
}

// Envelope is the JSON order message the LIS publishes to an
// instrument's order queue: the target instrument plus the record set
// to transmit.
type Envelope struct {
	Instrument string        `json:"instrument"`
	MessageID  string        `json:"message_id,omitempty"`
	Records    []astm.Record `json:"records"`
}

// Dispatcher consumes orders from the broker, persists them, and
// drives each through the claim -> deliver -> (SUCCESS | reschedule |
// FAILED) lifecycle.
type Dispatcher struct {
	store   store.Store
	conns   ConnectionLookup
	metrics metrics.Recorder
}

// New builds a Dispatcher.
func New(st store.Store, conns ConnectionLookup, rec metrics.Recorder) *Dispatcher {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Dispatcher{store: st, conns: conns, metrics: rec}
}

// HandleDelivery is the broker consumer entry point: it persists the
// incoming order durably before anything can fail, then attempts
// immediate dispatch. The initial attempt does not consume retry
// budget; only scheduled retries do.
func (d *Dispatcher) HandleDelivery(ctx context.Context, delivery broker.Delivery) {
	var env Envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		logger.Error("discarding undecodable order envelope", logger.Err(err))
		return
	}
	if env.Instrument == "" {
		logger.Error("discarding order envelope without instrument")
		return
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}

	order := &store.OrderMessage{
		MessageID:  env.MessageID,
		Instrument: env.Instrument,
		Content:    delivery.Body,
		Status:     store.OrderPending,
		MaxRetries: defaultMaxRetries,
	}
	if err := d.store.SaveOrderMessage(ctx, order); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			// Broker redelivery of an order we already hold; the
			// original row's lifecycle covers it.
			logger.Debug("duplicate order delivery ignored",
				logger.Instrument(env.Instrument), logger.MessageID(env.MessageID))
			return
		}
		logger.Error("failed to persist incoming order",
			logger.Instrument(env.Instrument), logger.MessageID(env.MessageID), logger.Err(err))
		return
	}

	d.attempt(ctx, order, false)
}

// Run polls the store every tickInterval for orders ready for retry
// and attempts each, until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	orders, err := d.store.FindOrdersReadyForRetry(ctx, retryBatch)
	if err != nil {
		logger.Error("failed to query retry-ready orders", logger.Err(err))
		return
	}
	for i := range orders {
		d.attempt(ctx, &orders[i], true)
	}
}

// attempt drives one delivery attempt. The busy/offline checks run
// before the claim so a collision leaves the order PENDING without a
// PROCESSING round-trip; once claimed, the order reaches the handler's
// queue (SUCCESS), reverts to PENDING, or is marked FAILED when its
// content cannot be built or its retry budget is spent. scheduled attempts
// consume retry budget, the immediate post-arrival attempt does not.
func (d *Dispatcher) attempt(ctx context.Context, order *store.OrderMessage, scheduled bool) {
	ctx, span := telemetry.StartDispatchSpan(ctx, telemetry.SpanDispatchOrder, order.Instrument,
		order.MessageID, telemetry.RetryCount(order.RetryCount))
	defer span.End()

	h, ok := d.conns.Lookup(order.Instrument)
	if !ok || !h.IsConnected() {
		d.reschedule(ctx, order, offlineRetryDelay, "instrument connection unavailable", scheduled)
		return
	}
	if h.IsBusy() {
		d.reschedule(ctx, order, busyRetryDelay, fmt.Sprintf("Protocol busy: %s", h.StateName()), scheduled)
		return
	}

	claimed, err := d.store.MarkOrderProcessing(ctx, order.ID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("failed to claim order",
			logger.Instrument(order.Instrument), logger.MessageID(order.MessageID), logger.Err(err))
		return
	}
	if !claimed {
		// Another worker won the claim; leave the order to it.
		return
	}
	order.Status = store.OrderProcessing

	text, err := buildOrderText(order.Content)
	if err != nil {
		// The envelope can never become sendable; no amount of
		// retrying helps.
		order.Status = store.OrderFailed
		order.LastError = err.Error()
		d.update(ctx, order)
		d.metrics.OrderFailed(order.Instrument)
		logger.Error("order content unbuildable, marking failed",
			logger.Instrument(order.Instrument), logger.MessageID(order.MessageID), logger.Err(err))
		return
	}

	// The handler may have stopped between the claim and this enqueue;
	// a false return reschedules the order busyRetryDelay ahead, or
	// marks it FAILED once its retry budget is spent.
	if !h.EnqueueOutgoing(text) {
		d.reschedule(ctx, order, busyRetryDelay, "connection rejected enqueue", scheduled)
		return
	}

	order.Status = store.OrderSuccess
	order.LastError = ""
	d.update(ctx, order)
	d.metrics.OrderDispatched(order.Instrument)
	logger.Info("order dispatched",
		logger.Instrument(order.Instrument), logger.MessageID(order.MessageID),
		logger.RetryCount(order.RetryCount))
}

func buildOrderText(content []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, fmt.Errorf("dispatch: decode order envelope: %w", err)
	}
	if len(env.Records) == 0 {
		return nil, fmt.Errorf("dispatch: order envelope carries no records")
	}
	return astm.Build(env.Records), nil
}

func (d *Dispatcher) reschedule(ctx context.Context, order *store.OrderMessage, delay time.Duration, reason string, scheduled bool) {
	now := time.Now()
	order.LastError = reason
	if scheduled {
		order.RetryCount++
		order.LastRetryAt = &now
	}

	if order.RetryCount >= order.MaxRetries {
		order.Status = store.OrderFailed
		d.update(ctx, order)
		d.metrics.OrderFailed(order.Instrument)
		logger.Error("order exhausted retries, marking failed",
			logger.Instrument(order.Instrument), logger.MessageID(order.MessageID),
			logger.RetryCount(order.RetryCount))
		return
	}

	next := now.Add(delay)
	order.Status = store.OrderPending
	order.NextRetryAt = &next
	d.update(ctx, order)
	d.metrics.OrderRetried(order.Instrument)
	logger.Debug("order rescheduled",
		logger.Instrument(order.Instrument), logger.MessageID(order.MessageID),
		logger.RetryCount(order.RetryCount), logger.Status(reason))
}

func (d *Dispatcher) update(ctx context.Context, order *store.OrderMessage) {
	if err := d.store.UpdateOrderMessage(ctx, order); err != nil {
		logger.Error("failed to persist order state",
			logger.Instrument(order.Instrument), logger.MessageID(order.MessageID), logger.Err(err))
	}
}
