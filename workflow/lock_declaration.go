package workflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	LockFailedError        = errors.New("lock failed")
	LockFailedTimeOutError = errors.New("wait time out")
)

// WorkflowLock serializes invocations of one process instance
type WorkflowLock interface {
	// NonBlockingSynchronized
	//  @Description:  1. non blocking, returns LockFailedError right away when the lock is held elsewhere
	//                 2. reentrant through ctx
	//  @param ctx
	//  @param key lock key
	//  @param maxLockTimeDuration the lock expires after this duration
	//  @param f closure run while holding the lock
	//  @return error
	NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error
}
