package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viney-shih/goroutines"

	redisAdapter "artbid/adapters/redis"
	"artbid/adapters/sse"
)

// StreamNotifier 將餘額事件發佈到 Redis Stream
// Notify 只會把工作排進 goroutine pool，讀取餘額與發佈都在背景完成
type StreamNotifier struct {
	reader   SnapshotReader
	producer redisAdapter.IProducer[sse.PublishRequest[BalanceEvent]]
	pool     *goroutines.Pool
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
}

func NewStreamNotifier(reader SnapshotReader, producer redisAdapter.IProducer[sse.PublishRequest[BalanceEvent]], opts ...Option) (*StreamNotifier, error) {
	if reader == nil {
		return nil, errors.New("snapshot reader cannot be nil")
	}
	if producer == nil {
		return nil, errors.New("producer cannot be nil")
	}
	o := newOptions(opts)
	return &StreamNotifier{
		reader:   reader,
		producer: producer,
		pool:     goroutines.NewPool(o.workers, goroutines.WithTaskQueueLength(1024), goroutines.WithPreAllocWorkers(1)),
		logger:   o.logger.With(slog.String("caller", "StreamNotifier")),
		now:      o.now,
		timeout:  o.timeout,
	}, nil
}

func (n *StreamNotifier) Notify(ctx context.Context, userIDs ...uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range uniqueUsers(userIDs) {
		userID := id
		if err := n.pool.Schedule(func() {
			if err := n.publish(ctx, userID); err != nil {
				n.logger.Error("Fail to publish balance event", slog.String("user", userID.String()), slog.Any("error", err))
			}
		}); err != nil {
			n.logger.Error("Fail to schedule balance event", slog.String("user", userID.String()), slog.Any("error", err))
		}
	}
}

func (n *StreamNotifier) publish(ctx context.Context, userID uuid.UUID) error {
	const op = "StreamNotifier.publish"
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	snapshot, err := n.reader.GetSnapshot(ctx, userID)
	if err != nil {
		return fmt.Errorf("[%s] Fail to read snapshot, err=%w", op, err)
	}
	err = n.producer.Publish(sse.PublishRequest[BalanceEvent]{
		Channel: ChannelName(userID),
		Message: NewBalanceEvent(snapshot, n.now()),
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to publish, err=%w", op, err)
	}
	return nil
}

// Close 停止接受新的通知，Producer 由建立者負責關閉
func (n *StreamNotifier) Close() {
	n.pool.Release()
}
