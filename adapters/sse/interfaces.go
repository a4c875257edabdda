package sse

// PublishRequest 表示要推送到某個頻道的訊息
type PublishRequest[T any] struct {
	Channel string `json:"channel" msgpack:"channel"`
	Message T      `json:"message" msgpack:"message"`
}

// IChannel 定義了 SSE 頻道的介面
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並返回接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將訊息廣播給所有訂閱者
	Broadcast(message T) int
	// IsIdle 檢查是否沒有訂閱者
	IsIdle() bool
}

// IConnectionManager 定義了 SSE 連線管理員的介面
type IConnectionManager[T any] interface {
	// Start 開始接收訂閱來源的訊息，應在其他方法前呼叫
	Start()
	// Done 停止接收並關閉所有訂閱
	Done()
	// Subscribe 訂閱指定頻道
	Subscribe(channelName string) (<-chan T, error)
	// Broadcast 將訊息推送給本實例中訂閱該頻道的連線
	Broadcast(channelName string, data T) error
	// Unsubscribe 取消訂閱指定頻道
	Unsubscribe(channelName string, ch <-chan T)
}
