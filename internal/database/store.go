package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DefaultStorageTimeout bounds every storage call when no timeout is configured.
const DefaultStorageTimeout = 3 * time.Second

// Store is the storage collaborator behind the ingestion pipeline. Every
// method runs under a bounded context and returns apperrors-classified errors.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewStore wraps db. A non-positive timeout falls back to DefaultStorageTimeout.
func NewStore(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err != nil {
		return classify("store.Ping", err)
	}
	return classify("store.Ping", sqlDB.PingContext(ctx))
}

// bound derives the per-call context. An earlier caller deadline wins.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// conn returns a session bound to ctx with its own timeout.
func (s *Store) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := s.bound(ctx)
	return s.db.WithContext(ctx), cancel
}

// Page describes an offset/limit window.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	return q
}
