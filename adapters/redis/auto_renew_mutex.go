package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockTimeout 表示在等待時間內無法取得鎖
	ErrLockTimeout = errors.New("timed out waiting for lock")
	// ErrLockUnavailable 表示無法與 Redis 通訊，與鎖被占用不同
	ErrLockUnavailable = errors.New("lock service unavailable")
)

type autoRenewMutexOptions struct {
	renewInterval  time.Duration
	retryDelay     time.Duration
	expiry         time.Duration
	acquireTimeout time.Duration
	skipLockError  bool
}

type AutoRenewMutexOption func(*autoRenewMutexOptions)

// WithAutoRenewMutexRenewInterval 設置自動續期間隔
func WithAutoRenewMutexRenewInterval(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.renewInterval = d
	}
}

// WithAutoRenewMutexRetryDelay 設置重試延遲
func WithAutoRenewMutexRetryDelay(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.retryDelay = d
	}
}

// WithAutoRenewMutexExpiry 設置鎖過期時間
func WithAutoRenewMutexExpiry(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.expiry = d
	}
}

// WithAutoRenewMutexAcquireTimeout 設置等待鎖的最長時間，0 表示一直等到 context 結束
func WithAutoRenewMutexAcquireTimeout(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.acquireTimeout = d
	}
}

// WithAutoRenewMutexSkipLockError 設置是否忽略所有鎖定錯誤
func WithAutoRenewMutexSkipLockError(skip bool) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.skipLockError = skip
	}
}

func buildAutoRenewMutexOptions(opts []AutoRenewMutexOption) autoRenewMutexOptions {
	// 默認選項
	options := autoRenewMutexOptions{
		expiry:     8 * time.Second,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.expiry <= 0 {
		options.expiry = 8 * time.Second
	}
	if options.retryDelay <= 0 {
		options.retryDelay = 50 * time.Millisecond
	}
	// 如果未設置續期間隔，使用過期時間的1/3
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}
	return options
}

// Locker 共用同一個 redsync 連線池建立多把鎖
type Locker struct {
	rs      *redsync.Redsync
	options autoRenewMutexOptions
}

// NewLocker 建立鎖的工廠，opts 會套用到每一把由它建立的鎖
func NewLocker(client *redis.Client, opts ...AutoRenewMutexOption) *Locker {
	return &Locker{
		rs:      redsync.New(goredis.NewPool(client)),
		options: buildAutoRenewMutexOptions(opts),
	}
}

func (l *Locker) NewMutex(key string) IAutoRenewMutex {
	return &AutoRenewMutex{
		Mutex: l.rs.NewMutex(
			key,
			redsync.WithExpiry(l.options.expiry),
			redsync.WithTries(1),
			redsync.WithRetryDelay(l.options.retryDelay),
		),
		options: l.options,
	}
}

// NewAutoRenewMutex 創建一個帶自動續期功能的互斥鎖
func NewAutoRenewMutex(client *redis.Client, key string, opts ...AutoRenewMutexOption) IAutoRenewMutex {
	return NewLocker(client, opts...).NewMutex(key)
}

type AutoRenewMutex struct {
	*redsync.Mutex
	cancel   context.CancelFunc
	renewing bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	options  autoRenewMutexOptions
}

// Lock 獲取鎖並啟動自動續期
// 回傳的 context 會在釋放鎖或續期失敗時被取消，持有鎖期間的工作應該使用它
func (m *AutoRenewMutex) Lock(ctx context.Context) (context.Context, error) {
	waitCtx := ctx
	if m.options.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.options.acquireTimeout)
		defer cancel()
	}

	timer := time.NewTimer(1)
	defer timer.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		case <-timer.C:
			err := m.Mutex.LockContext(waitCtx)
			if err == nil {
				lockCtx, cancel := context.WithCancel(ctx)
				m.mu.Lock()
				m.cancel = cancel
				m.mu.Unlock()
				m.startAutoRenew(lockCtx)
				return lockCtx, nil
			}
			// 鎖被占用時重試，Redis 通訊錯誤則直接回傳(除非設置了 skipLockError)
			var commErr *redsync.RedisError
			if !m.options.skipLockError && errors.As(err, &commErr) {
				return nil, fmt.Errorf("failed to acquire lock: %w: %w", ErrLockUnavailable, err)
			}
			timer.Reset(m.options.retryDelay)
		}
	}
}

// Unlock 停止自動續期並釋放鎖
func (m *AutoRenewMutex) Unlock() (bool, error) {
	m.stopAutoRenew()
	m.wg.Wait()
	return m.Mutex.Unlock()
}

// Valid 檢查鎖是否仍然有效
func (m *AutoRenewMutex) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renewing && time.Now().Before(m.Mutex.Until())
}

func (m *AutoRenewMutex) startAutoRenew(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.renewing {
		return
	}

	m.renewing = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.options.renewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.Mutex.ExtendContext(ctx)
				if err != nil || !ok {
					// 續期失敗代表鎖已經遺失，取消 lockCtx 讓持有者停止工作
					m.stopAutoRenew()
					return
				}
			}
		}
	}()
}

func (m *AutoRenewMutex) stopAutoRenew() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.renewing {
		return
	}

	m.renewing = false
	if m.cancel != nil {
		m.cancel()
	}
}
