package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/utils"
)

// SessionLock is held for as long as one controller edits a report.
type SessionLock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// SessionLocker grants at most one editing session per report.
type SessionLocker interface {
	Obtain(ctx context.Context, reportId string) (SessionLock, error)
}

// RedisSessionLocker arbitrates sessions across instances with a Redis lock.
type RedisSessionLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisSessionLocker(client *redislock.Client, ttl time.Duration) *RedisSessionLocker {
	return &RedisSessionLocker{client: client, ttl: ttl}
}

func sessionLockKey(reportId string) string {
	return fmt.Sprintf("report-session:%s", reportId)
}

func (l *RedisSessionLocker) Obtain(ctx context.Context, reportId string) (SessionLock, error) {
	if l == nil || l.client == nil {
		config.LogError(config.GetLogger(), "sessionLock.go", "Obtain", "Redis lock not initialized", reportId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lock, err := l.client.Obtain(ctx, sessionLockKey(reportId), l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, utils.ConflictError("report.session", "report %s is being edited in another session", reportId)
	} else if err != nil {
		return nil, err
	}
	return &redisSessionLock{lock: lock, ttl: l.ttl, reportId: reportId}, nil
}

type redisSessionLock struct {
	lock     *redislock.Lock
	ttl      time.Duration
	reportId string
}

func (l *redisSessionLock) Refresh(ctx context.Context) error {
	err := l.lock.Refresh(ctx, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return utils.ConflictError("report.session", "editing session for report %s expired", l.reportId)
	}
	return err
}

func (l *redisSessionLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
