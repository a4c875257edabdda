package sse_test

// Message 表示測試用的 SSE 訊息
type Message struct {
	Data string `json:"data" msgpack:"data"`
}
