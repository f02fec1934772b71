package store

import "context"

// Store is the persistence surface the gateway's pipeline and
// dispatcher depend on. GORMStore is the only production
// implementation; the interface exists so pipeline/dispatcher tests can
// substitute an in-memory fake without a database.
type Store interface {
	// SaveServerMessage persists a newly received message. Called
	// before any parsing is attempted.
	SaveServerMessage(ctx context.Context, msg *ServerMessage) error

	// UpdateServerMessage persists a status/error change on an
	// already-saved message.
	UpdateServerMessage(ctx context.Context, msg *ServerMessage) error

	// FindServerMessagesByStatus returns up to limit messages in the
	// given status, oldest first.
	FindServerMessagesByStatus(ctx context.Context, status ServerMessageStatus, limit int) ([]ServerMessage, error)

	// FindRecentServerMessages returns up to limit of the most recent
	// messages received from instrument, newest first.
	FindRecentServerMessages(ctx context.Context, instrument string, limit int) ([]ServerMessage, error)

	// SaveOrderMessage persists a newly enqueued outbound order.
	SaveOrderMessage(ctx context.Context, order *OrderMessage) error

	// UpdateOrderMessage persists a status/retry change on an
	// already-saved order.
	UpdateOrderMessage(ctx context.Context, order *OrderMessage) error

	// FindOrdersReadyForRetry returns up to limit PENDING orders with
	// retry budget left whose NextRetryAt is unset or has passed,
	// oldest created first.
	FindOrdersReadyForRetry(ctx context.Context, limit int) ([]OrderMessage, error)

	// FindPendingOrdersByInstrument returns every PENDING or PROCESSING
	// order queued for instrument, oldest first.
	FindPendingOrdersByInstrument(ctx context.Context, instrument string) ([]OrderMessage, error)

	// MarkOrderProcessing atomically transitions order id from PENDING
	// to PROCESSING. It returns (true, nil) if this call performed the
	// transition, (false, nil) if another caller already claimed it,
	// and a non-nil error only on a genuine storage failure.
	MarkOrderProcessing(ctx context.Context, id uint) (bool, error)

	// OrderStatsByInstrument summarizes order counts for instrument.
	OrderStatsByInstrument(ctx context.Context, instrument string) (OrderStats, error)

	// Close releases the underlying database connection.
	Close() error
}
