package api

import (
	"crypto/ed25519"
	"time"
)

const EnvironmentProduction = "production"

type ServerConfig struct {
	// ID 為實例名稱，用於日誌
	ID          string
	Environment string
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Auction     AuctionConfig
	Notify      NotifyConfig
	Settle      SettleConfig
}

// IsProduction 判斷是否為正式環境
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	BalanceEvents string
	// BalanceEventsMaxLen 為 stream 的約略最大長度
	BalanceEventsMaxLen int64
}

type AuthConfig struct {
	PublicKey ed25519.PublicKey
	Issuer    string
	Audience  string
	// SettleToken 為正式環境呼叫結算端點時需要帶上的密鑰
	SettleToken string
}

type AuctionConfig struct {
	MinBidIncrement int64
	// PremiumRate 為十進位字串，例如 "0.1"
	PremiumRate   string
	MaxRetries    int
	LockTimeout   time.Duration
	LockExpiry    time.Duration
	PriceCacheTTL time.Duration
	// StrictLock 為 true 時 Redis 無法連線就拒絕寫入，不退回資料庫列鎖
	StrictLock bool
}

type NotifyConfig struct {
	// Mode 可以是 auto、stream 或 polling
	Mode         string
	PollInterval time.Duration
	Workers      int
}

type SettleConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Workers  int
}
