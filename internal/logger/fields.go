package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the gateway.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Instrument & Connection
	// ========================================================================
	KeyInstrument = "instrument" // Configured instrument name
	KeyConnID     = "conn_id"    // Per-connection sequence number
	KeyRemoteAddr = "remote_addr"
	KeySessionID  = "session_id"
	KeyState      = "state" // Framing state machine state

	// ========================================================================
	// Framing
	// ========================================================================
	KeyFrameSeq  = "frame_seq" // ASTM frame number (1-7, wraps to 0)
	KeyFrameSize = "frame_size"
	KeyChecksum  = "checksum"
	KeyAttempt   = "attempt"
	KeyMaxRetries = "max_retries"

	// ========================================================================
	// Messages & Records
	// ========================================================================
	KeyMessageID   = "message_id"
	KeyMessageType = "message_type" // KEEP_ALIVE, RESULT, QUERY, ORDER, UNKNOWN
	KeyRecordType  = "record_type"  // H, P, O, Q, R, M, L
	KeyResultCount = "result_count"
	KeyOrderCount  = "order_count"

	// ========================================================================
	// Orders
	// ========================================================================
	KeyOrderID    = "order_id"
	KeyStatus     = "status"
	KeyRetryCount = "retry_count"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeySource     = "source"
	KeyOperation  = "operation"
)

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Instrument & Connection
// ----------------------------------------------------------------------------

// Instrument returns a slog.Attr for the configured instrument name
func Instrument(name string) slog.Attr {
	return slog.String(KeyInstrument, name)
}

// ConnID returns a slog.Attr for a per-connection sequence number
func ConnID(id uint64) slog.Attr {
	return slog.Uint64(KeyConnID, id)
}

// RemoteAddr returns a slog.Attr for the remote socket address
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// State returns a slog.Attr for the framing state machine state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// ----------------------------------------------------------------------------
// Framing
// ----------------------------------------------------------------------------

// FrameSeq returns a slog.Attr for the ASTM frame sequence number
func FrameSeq(n int) slog.Attr {
	return slog.Int(KeyFrameSeq, n)
}

// FrameSize returns a slog.Attr for a frame's byte length
func FrameSize(n int) slog.Attr {
	return slog.Int(KeyFrameSize, n)
}

// Checksum returns a slog.Attr for a frame's hex checksum
func Checksum(hex string) slog.Attr {
	return slog.String(KeyChecksum, hex)
}

// Attempt returns a slog.Attr for the current retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// ----------------------------------------------------------------------------
// Messages & Records
// ----------------------------------------------------------------------------

// MessageID returns a slog.Attr for a ServerMessage/OrderMessage identifier
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// MessageType returns a slog.Attr for a classified message type
func MessageType(t string) slog.Attr {
	return slog.String(KeyMessageType, t)
}

// RecordType returns a slog.Attr for an ASTM record type letter
func RecordType(t string) slog.Attr {
	return slog.String(KeyRecordType, t)
}

// ResultCount returns a slog.Attr for the number of R records in a message
func ResultCount(n int) slog.Attr {
	return slog.Int(KeyResultCount, n)
}

// OrderCount returns a slog.Attr for the number of O records in a message
func OrderCount(n int) slog.Attr {
	return slog.Int(KeyOrderCount, n)
}

// ----------------------------------------------------------------------------
// Orders
// ----------------------------------------------------------------------------

// OrderID returns a slog.Attr for an order's primary key
func OrderID(id string) slog.Attr {
	return slog.String(KeyOrderID, id)
}

// Status returns a slog.Attr for a persisted entity's status
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// RetryCount returns a slog.Attr for a dispatch retry count
func RetryCount(n int) slog.Attr {
	return slog.Int(KeyRetryCount, n)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Source returns a slog.Attr for a data source
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// Operation returns a slog.Attr for a sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// hexString formats a byte slice as lowercase hex.
func hexString(b []byte) string {
	return fmt.Sprintf("%x", b)
}
