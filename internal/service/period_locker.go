package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/horario-api/pkg/errors"
)

type distributedLock interface {
	Acquire(ctx context.Context, periodID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, periodID, token string) error
}

// PeriodLocker serialises generation runs per period. The in-process set always applies;
// the distributed lock is consulted when configured.
type PeriodLocker struct {
	mu     sync.Mutex
	held   map[string]struct{}
	remote distributedLock
	ttl    time.Duration
	logger *zap.Logger
}

// NewPeriodLocker builds a locker. remote may be nil.
func NewPeriodLocker(remote distributedLock, ttl time.Duration, logger *zap.Logger) *PeriodLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodLocker{held: make(map[string]struct{}), remote: remote, ttl: ttl, logger: logger}
}

// TryLock claims periodID or fails with ErrGenerationInProgress. The returned release
// function is idempotent.
func (l *PeriodLocker) TryLock(ctx context.Context, periodID string) (func(), error) {
	l.mu.Lock()
	if _, busy := l.held[periodID]; busy {
		l.mu.Unlock()
		return nil, appErrors.ErrGenerationInProgress
	}
	l.held[periodID] = struct{}{}
	l.mu.Unlock()

	releaseLocal := func() {
		l.mu.Lock()
		delete(l.held, periodID)
		l.mu.Unlock()
	}

	var token string
	if l.remote != nil {
		var ok bool
		var err error
		token, ok, err = l.remote.Acquire(ctx, periodID, l.ttl)
		switch {
		case err != nil:
			// the advisory lock taken while writing still guards the period
			l.logger.Warn("distributed period lock unavailable", zap.String("period_id", periodID), zap.Error(err))
		case !ok:
			releaseLocal()
			return nil, appErrors.ErrGenerationInProgress
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if token != "" {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := l.remote.Release(ctx, periodID, token); err != nil {
					l.logger.Warn("failed to release period lock", zap.String("period_id", periodID), zap.Error(err))
				}
			}
			releaseLocal()
		})
	}, nil
}
