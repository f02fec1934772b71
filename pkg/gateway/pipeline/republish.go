package pipeline

import (
	"context"
	"time"

	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/metrics"
	"github.com/astmgw/gateway/internal/protocol/astm"
	"github.com/astmgw/gateway/internal/telemetry"
	"github.com/astmgw/gateway/pkg/broker"
	"github.com/astmgw/gateway/pkg/store"
)

// republishInterval is how often the backlog of PUBLISH_RETRY messages
// is re-attempted. A broker outage is treated as operationally
// recoverable, so there is no retry cap here: the backlog drains once
// the broker returns.
const republishInterval = 30 * time.Second

// republishBatch bounds how many retry rows one tick loads.
const republishBatch = 50

// Republisher is the background task that re-attempts publication for
// messages that hit a transient broker failure on first publish.
type Republisher struct {
	store   store.Store
	broker  broker.Broker
	routes  map[string]Route
	metrics metrics.Recorder
}

// NewRepublisher builds a Republisher. routes maps instrument name to
// that instrument's publication route.
func NewRepublisher(st store.Store, b broker.Broker, routes map[string]Route, rec metrics.Recorder) *Republisher {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Republisher{store: st, broker: b, routes: routes, metrics: rec}
}

// Run re-attempts the PUBLISH_RETRY backlog every republishInterval
// until ctx is cancelled.
func (r *Republisher) Run(ctx context.Context) {
	ticker := time.NewTicker(republishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Republisher) tick(ctx context.Context) {
	backlog, err := r.store.FindServerMessagesByStatus(ctx, store.ServerMessagePublishRetry, republishBatch)
	if err != nil {
		logger.Error("failed to load publish-retry backlog", logger.Err(err))
		return
	}
	for i := range backlog {
		r.republish(ctx, &backlog[i])
	}
}

func (r *Republisher) republish(ctx context.Context, msg *store.ServerMessage) {
	ctx, span := telemetry.StartPipelineSpan(ctx, telemetry.SpanPipelineRetry, msg.Instrument,
		telemetry.MessageID(msg.MessageID))
	defer span.End()

	route, ok := r.routes[msg.Instrument]
	if !ok {
		// The instrument was removed from configuration after the
		// message was captured; surface rather than retrying forever.
		msg.Status = store.ServerMessageError
		msg.LastError = "no route configured for instrument"
		r.update(ctx, msg)
		return
	}

	raw := []byte(msg.RawText)
	msgType := astm.MessageType(msg.MessageType)
	parsed, perr := astm.Parse(raw)
	if perr != nil {
		// The message parsed once before reaching PUBLISH_RETRY, so
		// this should not happen; treat it as a permanent failure.
		msg.Status = store.ServerMessageError
		msg.LastError = perr.Error()
		r.update(ctx, msg)
		return
	}

	err := r.broker.Publish(ctx, broker.Publication{
		Exchange:   route.Exchange,
		RoutingKey: route.RoutingKey,
		Body:       raw,
		Headers:    publishHeaders(msg.Instrument, msgType, parsed),
	})
	if err == nil {
		now := time.Now()
		msg.Status = store.ServerMessagePublished
		msg.PublishedAt = &now
		r.update(ctx, msg)
		r.metrics.MessagePublished(msg.Instrument, msg.MessageType)
		logger.Info("republished message",
			logger.Instrument(msg.Instrument), logger.MessageID(msg.MessageID))
		return
	}

	telemetry.RecordError(ctx, err)
	r.metrics.PublishFailed(msg.Instrument)
	msg.LastError = err.Error()
	if !broker.IsTransient(err) {
		msg.Status = store.ServerMessageError
	}
	r.update(ctx, msg)
}

func (r *Republisher) update(ctx context.Context, msg *store.ServerMessage) {
	if err := r.store.UpdateServerMessage(ctx, msg); err != nil {
		logger.Error("failed to update retry message",
			logger.Instrument(msg.Instrument), logger.MessageID(msg.MessageID), logger.Err(err))
	}
}
