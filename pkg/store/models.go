// Package store provides durable persistence for messages exchanged
// with instruments: raw inbound transmissions (ServerMessage) and
// outbound orders awaiting dispatch (OrderMessage).
package store

import "time"

// ServerMessageStatus is the lifecycle state of an inbound message as
// it moves through the pipeline.
type ServerMessageStatus string

const (
	// ServerMessageReceived marks a message persisted on frame
	// reassembly, before any parse attempt.
	ServerMessageReceived ServerMessageStatus = "RECEIVED"

	// ServerMessageProcessed marks a message that parsed successfully.
	ServerMessageProcessed ServerMessageStatus = "PROCESSED"

	// ServerMessagePublished marks a message acknowledged by the broker.
	ServerMessagePublished ServerMessageStatus = "PUBLISHED"

	// ServerMessagePublishRetry marks a message whose publish failed
	// transiently; the background republisher picks it up again.
	ServerMessagePublishRetry ServerMessageStatus = "PUBLISH_RETRY"

	// ServerMessageError marks a parse failure or a permanent publish
	// failure. The raw text remains persisted for operator inspection.
	ServerMessageError ServerMessageStatus = "ERROR"
)

// ServerMessage is the durable record of one inbound transmission from
// an instrument, persisted before it is parsed so no instrument data is
// ever lost to a crash between receipt and downstream publication.
type ServerMessage struct {
	ID          uint                `gorm:"primaryKey"`
	MessageID   string              `gorm:"uniqueIndex;size:36"`
	Instrument  string              `gorm:"index"`
	RawText     string
	MessageType string
	Status      ServerMessageStatus `gorm:"index"`
	RemoteAddr  string
	LastError   string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName keeps the historical table name shared with earlier gateway
// deployments.
func (ServerMessage) TableName() string { return "astm_server_messages" }

// OrderStatus is the lifecycle state of an outbound order as it moves
// through the dispatcher.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderSuccess    OrderStatus = "SUCCESS"
	OrderFailed     OrderStatus = "FAILED"
)

// OrderMessage is the durable record of one outbound order awaiting
// delivery to an instrument, persisted before dispatch is attempted so
// a crashed or restarted gateway can resume delivery. Content is the
// JSON order envelope exactly as it arrived from the broker.
type OrderMessage struct {
	ID          uint        `gorm:"primaryKey"`
	MessageID   string      `gorm:"uniqueIndex;size:36"`
	Instrument  string      `gorm:"index"`
	Content     []byte
	Status      OrderStatus `gorm:"index"`
	RetryCount  int
	MaxRetries  int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastRetryAt *time.Time
	NextRetryAt *time.Time `gorm:"index"`
}

func (OrderMessage) TableName() string { return "astm_order_messages" }

// OrderStats summarizes order counts by status for a single instrument,
// used by the status CLI command.
type OrderStats struct {
	Pending    int64
	Processing int64
	Success    int64
	Failed     int64
}
