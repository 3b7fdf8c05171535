package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/stretchr/testify/assert"

	"lotpool/internal/domain/settlement"
)

type stubObtainer struct {
	err error
}

func (s stubObtainer) Obtain(context.Context, string, time.Duration, *redislock.Options) (*redislock.Lock, error) {
	return nil, s.err
}

func TestRedisLocker_BusyKeyMapsToErrLocked(t *testing.T) {
	l := &RedisLocker{client: stubObtainer{err: redislock.ErrNotObtained}, ttl: time.Second}

	release, err := l.Acquire(context.Background(), "settlement:lot:1")
	assert.ErrorIs(t, err, settlement.ErrLocked)
	assert.Nil(t, release)
}

func TestRedisLocker_BackendErrorIsWrapped(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	l := &RedisLocker{client: stubObtainer{err: boom}, ttl: time.Second}

	_, err := l.Acquire(context.Background(), "settlement:lot:1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, settlement.ErrLocked)
}
