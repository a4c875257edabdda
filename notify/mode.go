package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mode 為餘額通知的傳遞方式
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeStream  Mode = "stream"
	ModePolling Mode = "polling"
)

func ParseMode(s string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeStream, ModePolling:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown notify mode %q", s)
	}
}

// DetectMode 在 Redis 可以連線時使用 Stream 推送，否則退回輪詢
func DetectMode(ctx context.Context, client *redis.Client, timeout time.Duration) Mode {
	if client == nil {
		return ModePolling
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Default().Warn("Redis is unavailable, fall back to polling", slog.Any("error", err))
		return ModePolling
	}
	return ModeStream
}

// Select 依照設定決定實際的傳遞方式，auto 會偵測 Redis 是否可用
func Select(ctx context.Context, configured Mode, client *redis.Client, timeout time.Duration) Mode {
	if configured == ModeAuto || configured == "" {
		return DetectMode(ctx, client, timeout)
	}
	return configured
}
