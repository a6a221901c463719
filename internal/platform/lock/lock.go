// Package lock は市場単位の排他制御を提供します。
// 単一プロセスではミューテックス、複数インスタンス構成では Redis の SET NX を使います。
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired はロックが他者に保持されていることを示します。
var ErrNotAcquired = errors.New("lock is held by another owner")

// Release はロックを解放します。
type Release func(ctx context.Context) error

// Locker はキー単位の排他ロックです。
type Locker interface {
	// Lock はロックを取得します。取得できるまで ctx の範囲で待機します。
	Lock(ctx context.Context, key string) (Release, error)
}

// LocalLocker はプロセス内のキー別ミューテックスです。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker は LocalLocker を生成します。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// Lock は key のロックを取得します。
func (l *LocalLocker) Lock(ctx context.Context, key string) (Release, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}

// 値が自分のトークンと一致する場合のみ削除する
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker は Redis の SET NX PX によるロックです。
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	poll   time.Duration
	token  func() (string, error)
}

// NewRedisLocker は RedisLocker を生成します。ttl はロック保持の上限時間です。
func NewRedisLocker(client redis.Cmdable, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		poll:   100 * time.Millisecond,
		token:  randomToken,
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (l *RedisLocker) key(k string) string {
	return fmt.Sprintf("%s:%s", l.prefix, k)
}

// Lock は key のロックを取得するまでポーリングします。
func (l *RedisLocker) Lock(ctx context.Context, key string) (Release, error) {
	token, err := l.token()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	rk := l.key(key)

	for {
		ok, err := l.client.SetNX(ctx, rk, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", rk, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, rk, ctx.Err())
		case <-t.C:
		}
	}

	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, unlockScript, []string{rk}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", rk, err)
		}
		return nil
	}, nil
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
