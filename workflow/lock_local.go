package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// NewLocalWorkflowLock lock for a single deployer process
func NewLocalWorkflowLock() WorkflowLock {
	return &localWorkflowLock{
		locks: &sync.Map{},
	}
}

type localWorkflowLock struct {
	locks *sync.Map // key -> *localLockInfo
}

type localLockInfo struct {
	mu       sync.Mutex
	value    string // identifies the holder
	expireAt time.Time
	timer    *time.Timer
}

func (l *localWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	valueInterface := ctx.Value(lockKey(key))
	if _, ok := valueInterface.(string); ok {
		// held by the caller
		return f(ctx)
	}

	value := l.getRandomValue()
	lockInfo, _ := l.locks.LoadOrStore(key, &localLockInfo{})
	info := lockInfo.(*localLockInfo)
	if !info.mu.TryLock() {
		return errors.WithMessage(LockFailedError, "[localWorkflowLock.NonBlockingSynchronized] has been locked")
	}
	info.value = value
	info.expireAt = time.Now().Add(maxLockTimeDuration)
	info.timer = time.AfterFunc(maxLockTimeDuration, func() {
		l.releaseKey(key, value)
	})

	withKeyCtx := context.WithValue(ctx, lockKey(key), value)
	defer l.releaseKey(key, value)
	return f(withKeyCtx)
}

func (l *localWorkflowLock) getRandomValue() string {
	return fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
}

func (l *localWorkflowLock) releaseKey(key string, value string) {
	lockInfo, ok := l.locks.Load(key)
	if !ok {
		// expired already
		return
	}
	info := lockInfo.(*localLockInfo)
	if info.value != value {
		slog.Warn(fmt.Sprintf("[localWorkflowLock.releaseKey] value mismatch, expected: %s, got: %s", info.value, value))
		return
	}
	if info.timer != nil {
		info.timer.Stop()
	}
	info.value = ""
	l.locks.Delete(key)
	info.mu.Unlock()
}
