package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"artbid/adapters/sse"
)

// PollingNotifier 記錄有變動的使用者，並在每個週期把最新餘額廣播給本地的 SSE 連線
// 只能通知到同一個實例上的連線，其他實例的使用者需要透過 GET /balance 輪詢
type PollingNotifier struct {
	reader   SnapshotReader
	manager  sse.IConnectionManager[BalanceEvent]
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration

	mu         sync.Mutex
	dirty      map[uuid.UUID]struct{}
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

func NewPollingNotifier(reader SnapshotReader, manager sse.IConnectionManager[BalanceEvent], interval time.Duration, opts ...Option) (*PollingNotifier, error) {
	if reader == nil {
		return nil, errors.New("snapshot reader cannot be nil")
	}
	if manager == nil {
		return nil, errors.New("connection manager cannot be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	o := newOptions(opts)
	return &PollingNotifier{
		reader:   reader,
		manager:  manager,
		interval: interval,
		logger:   o.logger.With(slog.String("caller", "PollingNotifier")),
		now:      o.now,
		timeout:  o.timeout,
		dirty:    make(map[uuid.UUID]struct{}),
	}, nil
}

func (n *PollingNotifier) Notify(_ context.Context, userIDs ...uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range uniqueUsers(userIDs) {
		n.dirty[id] = struct{}{}
	}
}

func (n *PollingNotifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancelFunc != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancelFunc = cancel
	n.logger.Info("Start polling notifier", slog.Duration("interval", n.interval))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.Flush(ctx)
			}
		}
	}()
}

// Flush 立即廣播所有有變動的使用者，回傳廣播的數量
func (n *PollingNotifier) Flush(ctx context.Context) int {
	n.mu.Lock()
	if len(n.dirty) == 0 {
		n.mu.Unlock()
		return 0
	}
	pending := n.dirty
	n.dirty = make(map[uuid.UUID]struct{})
	n.mu.Unlock()

	sent := 0
	for userID := range pending {
		if n.broadcast(ctx, userID) {
			sent++
		}
	}
	return sent
}

func (n *PollingNotifier) broadcast(ctx context.Context, userID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	snapshot, err := n.reader.GetSnapshot(ctx, userID)
	if err != nil {
		n.logger.Error("Fail to read snapshot", slog.String("user", userID.String()), slog.Any("error", err))
		// 下個週期再試一次
		n.Notify(ctx, userID)
		return false
	}
	if err := n.manager.Broadcast(ChannelName(userID), NewBalanceEvent(snapshot, n.now())); err != nil {
		n.logger.Warn("Fail to broadcast balance event", slog.String("user", userID.String()), slog.Any("error", err))
		return false
	}
	return true
}

// Close 停止週期廣播，尚未送出的變動會在關閉前送出
func (n *PollingNotifier) Close() {
	n.mu.Lock()
	cancel := n.cancelFunc
	n.cancelFunc = nil
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	n.wg.Wait()
	n.Flush(context.Background())
	n.logger.Info("Polling notifier closed")
}
