package jobs

import (
	"context"
	"crypto/md5"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fleetcron/core/pkg/logger"
)

// DBTX is the minimal database surface the lock manager needs; a pgxpool
// pool satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PassLockManager provides distributed locking so only one monitor
// instance runs a given pass at a time. Backed by PostgreSQL advisory
// locks on the central store.
type PassLockManager struct {
	db     DBTX
	logger *logger.Logger
}

// NewPassLockManager creates an advisory-lock manager over the central store
func NewPassLockManager(db DBTX) *PassLockManager {
	return &PassLockManager{
		db:     db,
		logger: logger.New("pass-lock-manager"),
	}
}

// generateLockID creates a consistent numeric lock ID from a pass name.
// PostgreSQL advisory locks require int64 keys.
func (p *PassLockManager) generateLockID(passName string) int64 {
	hash := md5.Sum([]byte(passName))

	lockID := int64(0)
	for i := 0; i < 8; i++ {
		lockID = lockID<<8 + int64(hash[i])
	}
	if lockID < 0 {
		lockID = -lockID
	}

	return lockID
}

// AcquireLock attempts to acquire the distributed lock for the given pass.
// Returns false without waiting when another instance holds it.
func (p *PassLockManager) AcquireLock(ctx context.Context, passName string) (bool, error) {
	lockID := p.generateLockID(passName)

	var acquired bool
	err := p.db.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("pass", passName).
			Int64("lock_id", lockID).
			Msg("Failed to acquire distributed lock")
		return false, fmt.Errorf("failed to acquire lock for pass %s: %w", passName, err)
	}

	if acquired {
		p.logger.Debug().
			Str("pass", passName).
			Int64("lock_id", lockID).
			Msg("Acquired distributed lock")
	} else {
		p.logger.Info().
			Str("pass", passName).
			Int64("lock_id", lockID).
			Msg("Lock held by another instance, skipping pass")
	}

	return acquired, nil
}

// ReleaseLock releases the distributed lock for the given pass.
func (p *PassLockManager) ReleaseLock(ctx context.Context, passName string) error {
	lockID := p.generateLockID(passName)

	var released bool
	err := p.db.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released)
	if err != nil {
		return fmt.Errorf("failed to release lock for pass %s: %w", passName, err)
	}

	if !released {
		p.logger.Warn().
			Str("pass", passName).
			Int64("lock_id", lockID).
			Msg("Attempted to release lock that was not held")
	}

	return nil
}

// WithLock runs fn while holding the pass lock, skipping silently when
// another instance already holds it.
func (p *PassLockManager) WithLock(ctx context.Context, passName string, fn func(ctx context.Context) error) error {
	acquired, err := p.AcquireLock(ctx, passName)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := p.ReleaseLock(ctx, passName); err != nil {
			p.logger.Error().
				Err(err).
				Str("pass", passName).
				Msg("Failed to release pass lock")
		}
	}()

	return fn(ctx)
}
