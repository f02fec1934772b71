// Package pipeline implements the inbound message pipeline: every
// transmission a connection receives, other than a keep-alive, is
// persisted before it is parsed, and
// parsed before it is published, so no instrument data is ever lost to
// a crash between those steps and a publish failure never masks a
// message that was genuinely received.
package pipeline

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/metrics"
	"github.com/astmgw/gateway/internal/protocol/astm"
	"github.com/astmgw/gateway/internal/telemetry"
	"github.com/astmgw/gateway/pkg/broker"
	"github.com/astmgw/gateway/pkg/store"
)

// Route names the exchange and routing key an instrument's results and
// queries are published under.
type Route struct {
	Exchange   string
	RoutingKey string
}

// Inbound is one received transmission together with the session
// context the pipeline needs to persist and route it.
type Inbound struct {
	Instrument string
	RemoteAddr string
	Raw        []byte
	Driver     astm.Driver
	Route      Route
}

// Pipeline receives raw inbound bytes from a connection handler,
// persists them, parses and classifies them, and publishes results and
// queries to the broker.
type Pipeline struct {
	store            store.Store
	broker           broker.Broker
	metrics          metrics.Recorder
	messagingEnabled atomic.Bool
}

// New builds a Pipeline. Messaging starts enabled; SetMessagingEnabled
// follows the config flag on live reload.
func New(st store.Store, b broker.Broker, rec metrics.Recorder) *Pipeline {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	p := &Pipeline{store: st, broker: b, metrics: rec}
	p.messagingEnabled.Store(true)
	return p
}

// SetMessagingEnabled toggles broker publication without touching
// persistence; messages received while disabled stay PROCESSED.
func (p *Pipeline) SetMessagingEnabled(enabled bool) {
	p.messagingEnabled.Store(enabled)
}

// Handle runs in.Raw through classify -> persist -> parse -> publish.
// Errors are logged, not returned: the connection loop that calls
// Handle must keep servicing the wire regardless of downstream
// trouble, since the raw bytes are persisted before anything can fail.
func (p *Pipeline) Handle(ctx context.Context, in Inbound) {
	ctx, span := telemetry.StartPipelineSpan(ctx, telemetry.SpanPipelineInbound, in.Instrument)
	defer span.End()

	msgType := astm.Classify(in.Raw)
	if msgType == astm.MessageKeepAlive {
		logger.Debug("keep-alive received", logger.Instrument(in.Instrument), logger.RemoteAddr(in.RemoteAddr))
		return
	}

	msg := &store.ServerMessage{
		MessageID:   uuid.NewString(),
		Instrument:  in.Instrument,
		RawText:     string(in.Raw),
		MessageType: string(msgType),
		Status:      store.ServerMessageReceived,
		RemoteAddr:  in.RemoteAddr,
		ReceivedAt:  time.Now(),
	}
	if err := p.store.SaveServerMessage(ctx, msg); err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("failed to persist inbound message", logger.Instrument(in.Instrument), logger.Err(err))
		return
	}

	parsed, err := p.parse(in)
	if err != nil {
		msg.Status = store.ServerMessageError
		msg.LastError = err.Error()
		p.update(ctx, msg)
		telemetry.RecordError(ctx, err)
		logger.Error("failed to parse inbound message",
			logger.Instrument(in.Instrument), logger.MessageID(msg.MessageID), logger.Err(err))
		return
	}

	now := time.Now()
	msg.Status = store.ServerMessageProcessed
	msg.ProcessedAt = &now
	p.update(ctx, msg)

	if msgType != astm.MessageResult && msgType != astm.MessageQuery {
		return
	}
	if !p.messagingEnabled.Load() {
		logger.Debug("messaging disabled, skipping publish",
			logger.Instrument(in.Instrument), logger.MessageID(msg.MessageID))
		return
	}

	p.publish(ctx, in, msgType, parsed, msg)
}

func (p *Pipeline) parse(in Inbound) (astm.Message, error) {
	if in.Driver != nil {
		return in.Driver.Parse(in.Raw)
	}
	return astm.Parse(in.Raw)
}

func (p *Pipeline) publish(ctx context.Context, in Inbound, msgType astm.MessageType, parsed astm.Message, msg *store.ServerMessage) {
	ctx, span := telemetry.StartPipelineSpan(ctx, telemetry.SpanPipelinePublish, in.Instrument,
		telemetry.MessageType(string(msgType)))
	defer span.End()

	err := p.broker.Publish(ctx, broker.Publication{
		Exchange:   in.Route.Exchange,
		RoutingKey: in.Route.RoutingKey,
		Body:       in.Raw,
		Headers:    publishHeaders(in.Instrument, msgType, parsed),
	})
	if err == nil {
		now := time.Now()
		msg.Status = store.ServerMessagePublished
		msg.PublishedAt = &now
		p.update(ctx, msg)
		p.metrics.MessagePublished(in.Instrument, string(msgType))
		return
	}

	telemetry.RecordError(ctx, err)
	p.metrics.PublishFailed(in.Instrument)
	msg.LastError = err.Error()
	if broker.IsTransient(err) {
		msg.Status = store.ServerMessagePublishRetry
		logger.Warn("publish failed, queued for retry",
			logger.Instrument(in.Instrument), logger.MessageID(msg.MessageID), logger.Err(err))
	} else {
		msg.Status = store.ServerMessageError
		logger.Error("publish failed permanently",
			logger.Instrument(in.Instrument), logger.MessageID(msg.MessageID), logger.Err(err))
	}
	p.update(ctx, msg)
}

func (p *Pipeline) update(ctx context.Context, msg *store.ServerMessage) {
	if err := p.store.UpdateServerMessage(ctx, msg); err != nil {
		logger.Error("failed to update inbound message",
			logger.Instrument(msg.Instrument), logger.MessageID(msg.MessageID), logger.Err(err))
	}
}

func publishHeaders(instrument string, msgType astm.MessageType, parsed astm.Message) map[string]string {
	return map[string]string{
		"instrument":   instrument,
		"message_type": string(msgType),
		"result_count": strconv.Itoa(parsed.ResultCount()),
		"order_count":  strconv.Itoa(parsed.OrderCount()),
		"timestamp":    broker.Timestamp(time.Now()),
	}
}
