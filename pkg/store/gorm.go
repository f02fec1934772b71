package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects and configures the backing database for GORMStore.
type Config struct {
	// Driver is either "sqlite" or "postgres".
	Driver string
	// DSN is the sqlite file path (or ":memory:") or the postgres
	// connection string, depending on Driver.
	DSN string
}

// GORMStore is the GORM-backed Store implementation, supporting either
// an embedded SQLite file (the default, zero-ops deployment) or
// PostgreSQL (for multi-instance deployments sharing one database).
type GORMStore struct {
	db *gorm.DB
}

// Open connects to the database described by cfg, runs AutoMigrate for
// ServerMessage and OrderMessage, and returns a ready GORMStore.
func Open(cfg Config) (*GORMStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "astmgw.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if cfg.Driver == "sqlite" || cfg.Driver == "" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			return nil, fmt.Errorf("store: set WAL mode: %w", err)
		}
	}

	if err := db.AutoMigrate(&ServerMessage{}, &OrderMessage{}); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}

	return &GORMStore{db: db}, nil
}

func (s *GORMStore) SaveServerMessage(ctx context.Context, msg *ServerMessage) error {
	return convertSaveError(s.db.WithContext(ctx).Create(msg).Error)
}

func (s *GORMStore) UpdateServerMessage(ctx context.Context, msg *ServerMessage) error {
	return s.db.WithContext(ctx).Save(msg).Error
}

func (s *GORMStore) FindServerMessagesByStatus(ctx context.Context, status ServerMessageStatus, limit int) ([]ServerMessage, error) {
	var out []ServerMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("received_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GORMStore) FindRecentServerMessages(ctx context.Context, instrument string, limit int) ([]ServerMessage, error) {
	var out []ServerMessage
	err := s.db.WithContext(ctx).
		Where("instrument = ?", instrument).
		Order("received_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GORMStore) SaveOrderMessage(ctx context.Context, order *OrderMessage) error {
	return convertSaveError(s.db.WithContext(ctx).Create(order).Error)
}

func (s *GORMStore) UpdateOrderMessage(ctx context.Context, order *OrderMessage) error {
	return s.db.WithContext(ctx).Save(order).Error
}

func (s *GORMStore) FindOrdersReadyForRetry(ctx context.Context, limit int) ([]OrderMessage, error) {
	var out []OrderMessage
	err := s.db.WithContext(ctx).
		Where("status = ? AND retry_count < max_retries AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			OrderPending, time.Now()).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GORMStore) FindPendingOrdersByInstrument(ctx context.Context, instrument string) ([]OrderMessage, error) {
	var out []OrderMessage
	err := s.db.WithContext(ctx).
		Where("instrument = ? AND status IN ?", instrument, []OrderStatus{OrderPending, OrderProcessing}).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// MarkOrderProcessing performs the PENDING->PROCESSING transition as a
// single conditional UPDATE so two dispatcher goroutines racing on the
// same order can never both win the claim.
func (s *GORMStore) MarkOrderProcessing(ctx context.Context, id uint) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&OrderMessage{}).
		Where("id = ? AND status = ?", id, OrderPending).
		Update("status", OrderProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *GORMStore) OrderStatsByInstrument(ctx context.Context, instrument string) (OrderStats, error) {
	var stats OrderStats
	counts := []struct {
		Status OrderStatus
		Count  int64
	}{}
	err := s.db.WithContext(ctx).
		Model(&OrderMessage{}).
		Select("status, count(*) as count").
		Where("instrument = ?", instrument).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return stats, err
	}
	for _, c := range counts {
		switch c.Status {
		case OrderPending:
			stats.Pending = c.Count
		case OrderProcessing:
			stats.Processing = c.Count
		case OrderSuccess:
			stats.Success = c.Count
		case OrderFailed:
			stats.Failed = c.Count
		}
	}
	return stats, nil
}

func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
