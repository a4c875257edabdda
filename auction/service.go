// Package auction 實作出價、直購、拍賣到期結算與訂單進度
//
// 同一件作品的寫入都會先取得 Redis 上的分散式鎖，再於資料庫交易中鎖定作品列，
// 最後以 version 欄位做比對並交換更新。
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	redisAdapter "artbid/adapters/redis"
	"artbid/ledger"
	"artbid/premium"
)

// Notifier 接收餘額變動的使用者，實作不應阻塞呼叫端
type Notifier interface {
	Notify(ctx context.Context, userIDs ...uuid.UUID)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, ...uuid.UUID) {}

type Config struct {
	// MinBidIncrement 為每次出價至少要比目前價格高出的金額
	MinBidIncrement int64
	// PremiumRate 為買方佣金比例
	PremiumRate decimal.Decimal
	// MaxRetries 為發生並行衝突時自動重試的次數
	MaxRetries int
	RetryDelay time.Duration
	// LockTimeout 為等待作品鎖的最長時間
	LockTimeout    time.Duration
	LockExpiry     time.Duration
	LockRetryDelay time.Duration
	// LockFallback 允許 Redis 無法連線時只依靠資料庫的列鎖與 version 比對
	LockFallback  bool
	KeyPrefix     string
	PriceCacheTTL time.Duration
	// SettleWorkers 為結算時同時處理的作品數量
	SettleWorkers int
}

func DefaultConfig() Config {
	return Config{
		MinBidIncrement: DefaultMinBidIncrement,
		PremiumRate:     premium.DefaultRate,
		MaxRetries:      3,
		RetryDelay:      50 * time.Millisecond,
		LockTimeout:     2 * time.Second,
		LockExpiry:      8 * time.Second,
		LockRetryDelay:  20 * time.Millisecond,
		LockFallback:    true,
		PriceCacheTTL:   time.Hour,
		SettleWorkers:   8,
	}
}

type options struct {
	logger   *slog.Logger
	notifier Notifier
	locker   redisAdapter.ILocker
	now      func() time.Time
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNotifier 設置餘額變動的通知對象
func WithNotifier(notifier Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithLocker 設置建立作品鎖的方式，預設使用 redsync
func WithLocker(locker redisAdapter.ILocker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithClock 設置取得目前時間的函數 (主要用於測試)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

type Service struct {
	db          *gorm.DB
	redisClient *redis.Client
	ledger      *ledger.Ledger
	locker      redisAdapter.ILocker
	calculator  premium.Calculator
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
	config      Config
}

func NewService(db *gorm.DB, redisClient *redis.Client, l *ledger.Ledger, config Config, opts ...Option) (*Service, error) {
	const op = "NewService"
	if db == nil || redisClient == nil || l == nil {
		return nil, fmt.Errorf("[%s] db, redis client and ledger are required", op)
	}
	if config.MinBidIncrement < 0 {
		return nil, fmt.Errorf("[%s] min bid increment cannot be negative", op)
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.SettleWorkers <= 0 {
		config.SettleWorkers = 1
	}
	if config.PriceCacheTTL <= 0 {
		config.PriceCacheTTL = time.Hour
	}

	// 默認選項
	o := options{
		logger:   slog.Default(),
		notifier: noopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = redisAdapter.NewLocker(
			redisClient,
			redisAdapter.WithAutoRenewMutexAcquireTimeout(config.LockTimeout),
			redisAdapter.WithAutoRenewMutexExpiry(config.LockExpiry),
			redisAdapter.WithAutoRenewMutexRetryDelay(config.LockRetryDelay),
		)
	}

	return &Service{
		db:          db,
		redisClient: redisClient,
		ledger:      l,
		locker:      o.locker,
		calculator:  premium.NewCalculator(config.PremiumRate),
		notifier:    o.notifier,
		logger:      o.logger.With(slog.String("caller", "AuctionService")),
		now:         o.now,
		config:      config,
	}, nil
}

// Calculator 回傳目前使用的佣金計算器
func (s *Service) Calculator() premium.Calculator {
	return s.calculator
}

// LockFallback 回傳 Redis 無法連線時是否退回資料庫列鎖
func (s *Service) LockFallback() bool {
	return s.config.LockFallback
}

// NotifyBalance 通知使用者餘額已變動，用於服務之外的異動(例如儲值)
func (s *Service) NotifyBalance(ctx context.Context, userIDs ...uuid.UUID) {
	s.notifier.Notify(context.WithoutCancel(ctx), userIDs...)
}

func (s *Service) lockKey(artworkID uuid.UUID) string {
	return fmt.Sprintf("%sartwork:%s:lock", s.config.KeyPrefix, artworkID)
}

func (s *Service) priceKey(artworkID uuid.UUID) string {
	return fmt.Sprintf("%sartwork:%s:price", s.config.KeyPrefix, artworkID)
}

// withArtworkLock 在持有作品鎖的期間執行 fn，fn 收到的 context 會在鎖遺失時被取消
func (s *Service) withArtworkLock(ctx context.Context, artworkID uuid.UUID, fn func(lockCtx context.Context) error) error {
	mutex := s.locker.NewMutex(s.lockKey(artworkID))
	lockCtx, err := mutex.Lock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.config.LockFallback && errors.Is(err, redisAdapter.ErrLockUnavailable) {
			s.logger.Warn("Artwork lock unavailable, rely on row lock", slog.String("artwork", artworkID.String()), slog.Any("error", err))
			return fn(ctx)
		}
		return fmt.Errorf("%w: fail to acquire artwork lock: %v", ErrConcurrencyConflict, err)
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			s.logger.Warn("Fail to release artwork lock", slog.String("artwork", artworkID.String()), slog.Any("error", err))
		}
	}()

	err = fn(lockCtx)
	if err != nil && lockCtx.Err() != nil && ctx.Err() == nil {
		// 鎖在交易期間遺失，交易已被取消
		return fmt.Errorf("%w: artwork lock lost: %v", ErrConcurrencyConflict, err)
	}
	return err
}

// cachePrice 更新作品目前價格的快取，失敗只會記錄日誌
func (s *Service) cachePrice(ctx context.Context, artworkID uuid.UUID, price int64) {
	err := SetPriceScript.Run(ctx, s.redisClient, []string{s.priceKey(artworkID)}, price, s.config.PriceCacheTTL.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("Fail to cache current price", slog.String("artwork", artworkID.String()), slog.Any("error", err))
	}
}

func (s *Service) evictPrice(ctx context.Context, artworkID uuid.UUID) {
	if err := s.redisClient.Del(ctx, s.priceKey(artworkID)).Err(); err != nil {
		s.logger.Warn("Fail to evict cached price", slog.String("artwork", artworkID.String()), slog.Any("error", err))
	}
}
