package auction

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"artbid/ledger"
	"artbid/models"
)

var (
	testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	discard   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// testClock 為可以手動推進的時鐘
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier 記錄收到通知的使用者
type recordingNotifier struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (n *recordingNotifier) Notify(_ context.Context, userIDs ...uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userIDs...)
}

func (n *recordingNotifier) Users() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uuid.UUID(nil), n.users...)
}

type testEnv struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	redis    *redis.Client
	ledger   *ledger.Ledger
	service  *Service
	clock    *testClock
	notifier *recordingNotifier
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

func setupEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db := setupDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})

	clock := &testClock{now: testStart}
	notifier := &recordingNotifier{}
	l := ledger.New(db, ledger.WithLogger(discard), ledger.WithClock(clock.Now))

	config := DefaultConfig()
	config.RetryDelay = time.Millisecond
	config.KeyPrefix = "test:"
	config.SettleWorkers = 4

	options := append([]Option{
		WithLogger(discard),
		WithNotifier(notifier),
		WithClock(clock.Now),
	}, opts...)
	service, err := NewService(db, client, l, config, options...)
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		mr:       mr,
		redis:    client,
		ledger:   l,
		service:  service,
		clock:    clock,
		notifier: notifier,
	}
}

func (e *testEnv) createAuction(t *testing.T, startPrice int64, endIn time.Duration) *models.Artwork {
	t.Helper()
	end := e.clock.Now().Add(endIn)
	artwork := &models.Artwork{
		ArtistID:       uuid.New(),
		Title:          "Night Harbour",
		SaleType:       models.SaleTypeAuction,
		CurrentPrice:   startPrice,
		AuctionEndTime: &end,
		Status:         models.ArtworkStatusActive,
	}
	require.NoError(t, e.db.Create(artwork).Error)
	return artwork
}

func (e *testEnv) createFixed(t *testing.T, price int64) *models.Artwork {
	t.Helper()
	artwork := &models.Artwork{
		ArtistID: uuid.New(),
		Title:    "Morning Field",
		SaleType: models.SaleTypeFixed,
		Price:    price,
		Status:   models.ArtworkStatusActive,
	}
	require.NoError(t, e.db.Create(artwork).Error)
	return artwork
}

func (e *testEnv) deposit(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	_, err := e.ledger.RecordDeposit(context.Background(), userID, amount, "top up")
	require.NoError(t, err)
}

func (e *testEnv) reload(t *testing.T, artworkID uuid.UUID) models.Artwork {
	t.Helper()
	var artwork models.Artwork
	require.NoError(t, e.db.First(&artwork, "id = ?", artworkID).Error)
	return artwork
}

func (e *testEnv) snapshot(t *testing.T, userID uuid.UUID) ledger.Snapshot {
	t.Helper()
	snapshot, err := e.ledger.GetSnapshot(context.Background(), userID)
	require.NoError(t, err)
	return snapshot
}
