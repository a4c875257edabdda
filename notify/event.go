// Package notify 負責在餘額變動後通知使用者
//
// 提供兩種實作:
//   - StreamNotifier 將事件寫入 Redis Stream，由每個實例的 Consumer 轉發給本地的 SSE 連線
//   - PollingNotifier 在無法使用 Redis 時，定期將有變動的使用者餘額廣播給本地的 SSE 連線
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"artbid/ledger"
)

// BalanceEvent 為推送給使用者的餘額變動事件
type BalanceEvent struct {
	UserID           string    `json:"userId" msgpack:"userId"`
	TotalBalance     int64     `json:"totalBalance" msgpack:"totalBalance"`
	EscrowHeld       int64     `json:"escrowHeld" msgpack:"escrowHeld"`
	AvailableBalance int64     `json:"availableBalance" msgpack:"availableBalance"`
	Time             time.Time `json:"time" msgpack:"time"`
}

func NewBalanceEvent(snapshot ledger.Snapshot, now time.Time) BalanceEvent {
	return BalanceEvent{
		UserID:           snapshot.UserID.String(),
		TotalBalance:     snapshot.Total,
		EscrowHeld:       snapshot.EscrowHeld,
		AvailableBalance: snapshot.Available,
		Time:             now,
	}
}

// SnapshotReader 讀取使用者目前的餘額狀態
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, userID uuid.UUID) (ledger.Snapshot, error)
}

// ChannelName 回傳使用者的 SSE 頻道名稱
func ChannelName(userID uuid.UUID) string {
	return userID.String()
}

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
	workers int
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock 設置事件時間的來源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithTimeout 設置讀取單一使用者餘額的時間上限
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithWorkers 設置同時處理通知的 goroutine 數量
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

func newOptions(opts []Option) options {
	// 默認選項
	o := options{
		logger:  slog.Default(),
		now:     time.Now,
		timeout: 3 * time.Second,
		workers: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	return o
}

// uniqueUsers 移除重複與空的使用者 ID，保留原本的順序
func uniqueUsers(userIDs []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	result := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
