package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type lockKey string

const (
	delCommand = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`
	redisLockKeyPrefix = "mtadeploy:lock:"
)

// NewRedisWorkflowLock lock shared by several deployer processes
func NewRedisWorkflowLock(redisClient redis.Cmdable) WorkflowLock {
	return &redisWorkflowLock{redisClient: redisClient}
}

type redisWorkflowLock struct {
	redisClient redis.Cmdable
}

func (d *redisWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(ctx2 context.Context) error) error {
	valueInterface := ctx.Value(lockKey(key))
	if _, ok := valueInterface.(string); ok {
		// held by the caller
		return f(ctx)
	}
	value := d.getRandomValue()
	isLock, err := d.redisClient.SetNX(ctx, redisLockKeyPrefix+key, value, maxLockTimeDuration).Result()
	if err != nil {
		return errors.WithMessagef(LockFailedError, "[redisWorkflowLock.NonBlockingSynchronized], err:%v", err)
	}
	if !isLock {
		return errors.WithMessage(LockFailedError, "[redisWorkflowLock.NonBlockingSynchronized] has been locked")
	}
	withKeyCtx := context.WithValue(ctx, lockKey(key), value)
	defer d.releaseKey(key, value)
	return f(withKeyCtx)
}

func (d *redisWorkflowLock) getRandomValue() string {
	return fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
}

func (d *redisWorkflowLock) releaseKey(key string, value string) {
	// ctx of the caller may be cancelled already
	replyInterface, err := d.redisClient.Eval(context.Background(), delCommand, []string{redisLockKeyPrefix + key}, value).Result()
	if err != nil {
		slog.Error(fmt.Sprintf("[redisWorkflowLock.releaseKey] release key failed, err:%v", err))
		return
	}
	reply, ok := replyInterface.(int64)
	if !ok {
		slog.Error(fmt.Sprintf("[redisWorkflowLock.releaseKey] reply is not int64, reply:%v", replyInterface))
		return
	}
	if reply != 1 {
		slog.Warn(fmt.Sprintf("[redisWorkflowLock.releaseKey] lock expired before release, key:%s", key))
	}
}
