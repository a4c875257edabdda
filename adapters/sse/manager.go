package sse

import (
	"errors"
	"log/slog"
	"sync"

	redisAdapter "artbid/adapters/redis"
)

var (
	// ErrManagerClosed 表示連線管理器已經停止
	ErrManagerClosed = errors.New("connection manager is closed")
)

type options[T any] struct {
	logger     *slog.Logger
	subscriber redisAdapter.IConsumer[PublishRequest[T]]
	bufferSize int
}

type Option[T any] func(*options[T])

// WithLogger 設置日誌記錄器
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(o *options[T]) {
		o.logger = logger
	}
}

// WithSubscriber 設置跨實例的訊息來源，收到的訊息會轉發給本實例的訂閱者
func WithSubscriber[T any](subscriber redisAdapter.IConsumer[PublishRequest[T]]) Option[T] {
	return func(o *options[T]) {
		o.subscriber = subscriber
	}
}

// WithBufferSize 設置每個訂閱者的緩衝大小
func WithBufferSize[T any](size int) Option[T] {
	return func(o *options[T]) {
		o.bufferSize = size
	}
}

// connectionManager 管理多個 SSE 頻道的訂閱與廣播
type connectionManager[T any] struct {
	logger     *slog.Logger
	subscriber redisAdapter.IConsumer[PublishRequest[T]]
	bufferSize int

	mu       sync.RWMutex
	wg       sync.WaitGroup
	active   bool
	started  bool
	channels map[string]IChannel[T]
}

func NewConnectionManager[T any](opts ...Option[T]) (IConnectionManager[T], error) {
	// 默認選項
	o := options[T]{
		logger:     slog.Default(),
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.bufferSize < 0 {
		return nil, errors.New("buffer size cannot be negative")
	}

	return &connectionManager[T]{
		logger:     o.logger.With(slog.String("caller", "ConnectionManager")),
		subscriber: o.subscriber,
		bufferSize: o.bufferSize,
		active:     true,
		channels:   make(map[string]IChannel[T]),
	}, nil
}

func (cm *connectionManager[T]) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !cm.active || cm.started || cm.subscriber == nil {
		return
	}
	cm.started = true
	cm.subscriber.Start()

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		defer cm.logger.Info("Subscriber loop stopped")
		for request := range cm.subscriber.Subscribe() {
			if err := cm.Broadcast(request.Channel, request.Message); err != nil {
				return
			}
		}
	}()
}

func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	// 關閉訂閱來源後 Subscribe() 的通道會被關閉，轉發迴圈隨之結束
	if cm.started {
		cm.subscriber.Close()
	}
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, ErrManagerClosed
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T](cm.bufferSize)
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

func (cm *connectionManager[T]) Broadcast(channelName string, data T) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.active {
		return ErrManagerClosed
	}

	c, ok := cm.channels[channelName]
	if !ok {
		return nil
	}
	if dropped := c.Broadcast(data); dropped > 0 {
		cm.logger.Warn("Drop message for slow subscribers", slog.String("channel", channelName), slog.Int("dropped", dropped))
	}
	return nil
}

func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}
