package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used by gateway spans. These follow OpenTelemetry semantic
// convention style (dotted, lower-case namespaces) but are gateway-specific
// since ASTM/LIS2-A has no existing semconv package.
const (
	AttrInstrument  = "astm.instrument"
	AttrRemoteAddr  = "astm.remote_addr"
	AttrConnID      = "astm.conn_id"
	AttrMessageID   = "astm.message_id"
	AttrMessageType = "astm.message_type"
	AttrFrameSeq    = "astm.frame_seq"
	AttrOrderID     = "astm.order_id"
	AttrRetryCount  = "astm.retry_count"
	AttrStatus      = "astm.status"
	AttrResultCount = "astm.result_count"
	AttrOrderCount  = "astm.order_count"
)

// Span names for the gateway's core operations.
const (
	SpanConnectionServe   = "connection.serve"
	SpanFrameReceive      = "connection.receive_message"
	SpanFrameSend         = "connection.send_message"
	SpanKeepAliveTick     = "connection.keep_alive"
	SpanPipelineInbound   = "pipeline.inbound"
	SpanPipelineParse     = "pipeline.parse"
	SpanPipelinePublish   = "pipeline.publish"
	SpanPipelineRetry     = "pipeline.publish_retry"
	SpanDispatchOrder     = "dispatch.order"
	SpanDispatchRetryTick = "dispatch.retry_tick"
)

// Instrument returns an attribute for the instrument name.
func Instrument(name string) attribute.KeyValue {
	return attribute.String(AttrInstrument, name)
}

// RemoteAddr returns an attribute for the remote socket address.
func RemoteAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrRemoteAddr, addr)
}

// ConnID returns an attribute for the connection identifier.
func ConnID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrConnID, int64(id))
}

// MessageID returns an attribute for a ServerMessage/OrderMessage UUID.
func MessageID(id string) attribute.KeyValue {
	return attribute.String(AttrMessageID, id)
}

// MessageType returns an attribute for the classified message type.
func MessageType(t string) attribute.KeyValue {
	return attribute.String(AttrMessageType, t)
}

// OrderID returns an attribute identifying an order; the dispatcher
// passes the order's message ID.
func OrderID(id string) attribute.KeyValue {
	return attribute.String(AttrOrderID, id)
}

// RetryCount returns an attribute for the current retry count.
func RetryCount(n int) attribute.KeyValue {
	return attribute.Int(AttrRetryCount, n)
}

// Status returns an attribute for a persisted entity's status.
func Status(s string) attribute.KeyValue {
	return attribute.String(AttrStatus, s)
}

// ResultCount returns an attribute for the number of R records in a message.
func ResultCount(n int) attribute.KeyValue {
	return attribute.Int(AttrResultCount, n)
}

// OrderCount returns an attribute for the number of O records in a message.
func OrderCount(n int) attribute.KeyValue {
	return attribute.Int(AttrOrderCount, n)
}

// StartConnectionSpan starts a span for a per-connection operation.
func StartConnectionSpan(ctx context.Context, name string, instrument string, connID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Instrument(instrument), ConnID(connID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartPipelineSpan starts a span for an inbound pipeline stage.
func StartPipelineSpan(ctx context.Context, name string, instrument string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Instrument(instrument)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartDispatchSpan starts a span for an order dispatch attempt.
func StartDispatchSpan(ctx context.Context, name string, instrument string, orderID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Instrument(instrument), OrderID(orderID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
