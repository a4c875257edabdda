package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "artbid/adapters/redis"
	"artbid/adapters/sse"
	"artbid/auction"
	"artbid/ledger"
	"artbid/notify"
	"artbid/premium"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultPollInterval      = 2 * time.Second
	detectTimeout            = 2 * time.Second
)

type ServerImpl struct {
	db              *gorm.DB
	redisClient     *redis.Client
	ledger          *ledger.Ledger
	service         *auction.Service
	scheduler       *auction.Scheduler
	sseManager      sse.IConnectionManager[notify.BalanceEvent]
	producer        redisAdapter.IProducer[sse.PublishRequest[notify.BalanceEvent]]
	streamNotifier  *notify.StreamNotifier
	pollingNotifier *notify.PollingNotifier
	notifyMode      notify.Mode
	heartbeat       time.Duration
	logger          *slog.Logger

	mu        sync.RWMutex
	startedAt time.Time

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database)
	namingStrategy := schema.NamingStrategy{}
	if config.DB.Schema != "" {
		dsn += "&search_path=" + config.DB.Schema
		namingStrategy.TablePrefix = config.DB.Schema + "."
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: namingStrategy,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	return newServer(db, redisClient, config)
}

func newServer(db *gorm.DB, redisClient *redis.Client, config ServerConfig) (*ServerImpl, error) {
	const op = "newServer"
	logger := slog.Default().With(slog.String("caller", "Server"), slog.String("instance", config.ID))

	impl := &ServerImpl{
		db:          db,
		redisClient: redisClient,
		ledger:      ledger.New(db, ledger.WithLogger(slog.Default())),
		heartbeat:   defaultHeartbeatInterval,
		logger:      logger,
		config:      config,
	}

	// 決定餘額通知的方式
	configured, err := notify.ParseMode(config.Notify.Mode)
	if err != nil {
		return nil, fmt.Errorf("[%s] Invalid notify mode, err=%w", op, err)
	}
	impl.notifyMode = notify.Select(context.Background(), configured, redisClient, detectTimeout)
	logger.Info("Balance notify mode selected", slog.String("mode", string(impl.notifyMode)))

	var notifier auction.Notifier
	notifyOptions := []notify.Option{notify.WithLogger(slog.Default())}
	if config.Notify.Workers > 0 {
		notifyOptions = append(notifyOptions, notify.WithWorkers(config.Notify.Workers))
	}
	switch impl.notifyMode {
	case notify.ModeStream:
		stream := config.Redis.StreamKeys.BalanceEvents
		if stream == "" {
			stream = config.Redis.KeyPrefix + "balance-events"
		}
		// 初始化SSE管理器，每個實例都讀取完整的 stream
		consumer, err := redisAdapter.NewConsumer(
			redisClient,
			stream,
			redisAdapter.WithConsumerLogger[sse.PublishRequest[notify.BalanceEvent]](slog.Default()),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
		}
		impl.sseManager, err = sse.NewConnectionManager(
			sse.WithLogger[notify.BalanceEvent](slog.Default()),
			sse.WithSubscriber(consumer),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
		}
		producer, err := redisAdapter.NewProducer(
			redisClient,
			stream,
			redisAdapter.WithProducerLogger[sse.PublishRequest[notify.BalanceEvent]](slog.Default()),
			redisAdapter.WithProducerMaxLen[sse.PublishRequest[notify.BalanceEvent]](config.Redis.StreamKeys.BalanceEventsMaxLen),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
		}
		impl.producer = producer
		impl.streamNotifier, err = notify.NewStreamNotifier(impl.ledger, producer, notifyOptions...)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create stream notifier, err=%w", op, err)
		}
		notifier = impl.streamNotifier
	default:
		impl.sseManager, err = sse.NewConnectionManager(sse.WithLogger[notify.BalanceEvent](slog.Default()))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
		}
		interval := config.Notify.PollInterval
		if interval <= 0 {
			interval = defaultPollInterval
		}
		impl.pollingNotifier, err = notify.NewPollingNotifier(impl.ledger, impl.sseManager, interval, notifyOptions...)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create polling notifier, err=%w", op, err)
		}
		notifier = impl.pollingNotifier
	}

	// 初始化拍賣服務
	impl.service, err = auction.NewService(
		db,
		redisClient,
		impl.ledger,
		auctionConfig(config),
		auction.WithLogger(slog.Default()),
		auction.WithNotifier(notifier),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create auction service, err=%w", op, err)
	}

	// 未設定間隔時只能透過 HTTP 觸發結算
	if config.Settle.Interval > 0 {
		impl.scheduler, err = auction.NewScheduler(impl.service, config.Settle.Interval, config.Settle.Timeout)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create settle scheduler, err=%w", op, err)
		}
	}
	return impl, nil
}

// auctionConfig 以預設值為基礎套用有設定的欄位
func auctionConfig(config ServerConfig) auction.Config {
	c := auction.DefaultConfig()
	c.KeyPrefix = config.Redis.KeyPrefix
	c.LockFallback = !config.Auction.StrictLock
	if config.Auction.MinBidIncrement > 0 {
		c.MinBidIncrement = config.Auction.MinBidIncrement
	}
	if config.Auction.PremiumRate != "" {
		c.PremiumRate = premium.ParseRate(config.Auction.PremiumRate)
	}
	if config.Auction.MaxRetries > 0 {
		c.MaxRetries = config.Auction.MaxRetries
	}
	if config.Auction.LockTimeout > 0 {
		c.LockTimeout = config.Auction.LockTimeout
	}
	if config.Auction.LockExpiry > 0 {
		c.LockExpiry = config.Auction.LockExpiry
	}
	if config.Auction.PriceCacheTTL > 0 {
		c.PriceCacheTTL = config.Auction.PriceCacheTTL
	}
	if config.Settle.Workers > 0 {
		c.SettleWorkers = config.Settle.Workers
	}
	return c
}

func (impl *ServerImpl) Start() {
	// 啟動producer
	if impl.producer != nil {
		impl.producer.Start()
	}
	// 啟動sse connection manager(會一併啟動consumer)
	impl.sseManager.Start()
	if impl.pollingNotifier != nil {
		impl.pollingNotifier.Start()
	}
	// 啟動拍賣結算排程
	if impl.scheduler != nil {
		impl.scheduler.Start()
	}

	impl.mu.Lock()
	impl.startedAt = time.Now()
	impl.mu.Unlock()
	impl.logger.Info("Server started")
}

func (impl *ServerImpl) Close() {
	impl.mu.Lock()
	impl.startedAt = time.Time{}
	impl.mu.Unlock()

	// 先停止結算，避免關閉期間產生新的通知
	if impl.scheduler != nil {
		impl.scheduler.Close()
	}
	if impl.streamNotifier != nil {
		impl.streamNotifier.Close()
	}
	if impl.producer != nil {
		impl.producer.Close()
	}
	if impl.pollingNotifier != nil {
		impl.pollingNotifier.Close()
	}
	// 關閉sse connection manager
	impl.sseManager.Done()
	impl.logger.Info("Server closed")
}

// RegisterHandlers 註冊所有路由
func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	router.GET("/healthz", impl.GetHealthz)
	router.GET("/readyz", impl.GetReadyz)

	router.GET("/artworks/:id/bids", impl.GetArtworkBids)

	authorized := router.Group("", impl.Authenticate())
	authorized.POST("/artworks/:id/bids", impl.PostArtworkBid)
	authorized.POST("/artworks/:id/purchase", impl.PostArtworkPurchase)
	authorized.GET("/balance", impl.GetBalance)
	authorized.POST("/balance/deposits", impl.PostBalanceDeposit)
	authorized.GET("/balance/transactions", impl.GetBalanceTransactions)
	authorized.GET("/balance/events", impl.GetBalanceEvents)
	authorized.GET("/orders", impl.GetOrders)
	authorized.PATCH("/orders/:id/status", impl.PatchOrderStatus)

	router.POST("/internal/auctions/settle", impl.RequireSettleToken(), impl.PostSettleAuctions)
}

func (impl *ServerImpl) started() (time.Time, bool) {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	return impl.startedAt, !impl.startedAt.IsZero()
}

var errServerNotStarted = errors.New("server is not started")
