package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// MessageField 為 stream 訊息中存放編碼後資料的欄位名稱
const MessageField = "data"

var (
	ErrPointerType = errors.New("pointer type is not allowed")
)

// DefaultParseToMessage 以 msgpack + base64 將資料編碼成 stream 訊息
func DefaultParseToMessage[T any](data T) (map[string]any, error) {
	if t := reflect.TypeOf(data); t != nil && t.Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}

	bytes, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}

	return map[string]any{
		MessageField: base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// DefaultParseFromMessage 將 DefaultParseToMessage 編碼的訊息還原
func DefaultParseFromMessage[T any](message map[string]any) (T, error) {
	var result T

	if t := reflect.TypeOf(result); t != nil && t.Kind() == reflect.Ptr {
		return result, ErrPointerType
	}

	if len(message) == 0 {
		return result, nil
	}

	var encoded string
	switch v := message[MessageField].(type) {
	case string:
		encoded = v
	case []byte:
		encoded = string(v)
	default:
		return result, fmt.Errorf("%s field not found or invalid type", MessageField)
	}

	bytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}

	if err := msgpack.Unmarshal(bytes, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}

	return result, nil
}
