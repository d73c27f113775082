package session

import (
	"context"
	"sync/atomic"
	"time"

	"pdca/api/internal/logger"
)

type Revoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Fallback uses primary (Redis) and falls back to secondary (Postgres) when
// primary errors. Once anything has been written to secondary, lookups that
// miss in primary also consult secondary.
type Fallback struct {
	primary   Revoker
	secondary Revoker
	log       *logger.Logger
	spilled   atomic.Bool
}

func NewFallback(primary, secondary Revoker, log *logger.Logger) *Fallback {
	if log == nil {
		log = logger.Nop()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

func (f *Fallback) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if f.primary != nil {
		err := f.primary.Revoke(ctx, jti, expiresAt)
		if err == nil {
			return nil
		}
		f.log.Warn("session revoke fell back", "error", err)
	}
	f.spilled.Store(true)
	return f.secondary.Revoke(ctx, jti, expiresAt)
}

func (f *Fallback) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if f.primary != nil {
		revoked, err := f.primary.IsRevoked(ctx, jti)
		if err == nil && (revoked || !f.spilled.Load()) {
			return revoked, nil
		}
		if err != nil {
			f.log.Warn("session lookup fell back", "error", err)
		}
	}
	return f.secondary.IsRevoked(ctx, jti)
}
