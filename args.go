package main

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"artbid/api"
)

func ParseArgs() (Args, error) {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "", "instance name used in logs, defaults to hostname")
	pflag.String("environment", "development", "development or production")
	pflag.String("log-level", "info", "debug, info, warn or error")

	// auth config
	pflag.String("auth-public-key", "", "PEM encoded Ed25519 public key for verifying access tokens")
	pflag.String("auth-public-key-file", "", "path of the PEM encoded Ed25519 public key")
	pflag.String("auth-issuer", "", "")
	pflag.String("auth-audience", "", "")
	pflag.String("auth-settle-token", "", "shared secret of the settle endpoint in production")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "artbid:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-balance-events", "artbid-balance-events", "")
	pflag.Int64("redis-stream-max-len-for-balance-events", 10000, "")

	// auction config
	pflag.Int64("auction-min-bid-increment", 10000, "")
	pflag.String("auction-premium-rate", "0.1", "buyer premium rate as a decimal string")
	pflag.Int("auction-max-retries", 3, "")
	pflag.Duration("auction-lock-timeout", 0, "")
	pflag.Duration("auction-lock-expiry", 0, "")
	pflag.Duration("auction-price-cache-ttl", 0, "")
	pflag.Bool("auction-strict-lock", false, "reject writes instead of falling back to row locks when redis is unavailable")

	// notify config
	pflag.String("notify-mode", "auto", "auto, stream or polling")
	pflag.Duration("notify-poll-interval", 0, "")
	pflag.Int("notify-workers", 0, "")

	// settle config
	pflag.Duration("settle-interval", 0, "0 disables the in-process scheduler")
	pflag.Duration("settle-timeout", 0, "")
	pflag.Int("settle-workers", 0, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARTBID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	publicKey, err := loadPublicKey(viper.GetString("auth-public-key"), viper.GetString("auth-public-key-file"))
	if err != nil {
		return Args{}, err
	}
	serverID := viper.GetString("server-id")
	if serverID == "" {
		serverID, _ = os.Hostname()
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  viper.GetString("log-level"),
		ServerConfig: api.ServerConfig{
			ID:          serverID,
			Environment: viper.GetString("environment"),
			Auth: api.AuthConfig{
				PublicKey:   publicKey,
				Issuer:      viper.GetString("auth-issuer"),
				Audience:    viper.GetString("auth-audience"),
				SettleToken: viper.GetString("auth-settle-token"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					BalanceEvents:       viper.GetString("redis-stream-key-for-balance-events"),
					BalanceEventsMaxLen: viper.GetInt64("redis-stream-max-len-for-balance-events"),
				},
			},
			Auction: api.AuctionConfig{
				MinBidIncrement: viper.GetInt64("auction-min-bid-increment"),
				PremiumRate:     viper.GetString("auction-premium-rate"),
				MaxRetries:      viper.GetInt("auction-max-retries"),
				LockTimeout:     viper.GetDuration("auction-lock-timeout"),
				LockExpiry:      viper.GetDuration("auction-lock-expiry"),
				PriceCacheTTL:   viper.GetDuration("auction-price-cache-ttl"),
				StrictLock:      viper.GetBool("auction-strict-lock"),
			},
			Notify: api.NotifyConfig{
				Mode:         viper.GetString("notify-mode"),
				PollInterval: viper.GetDuration("notify-poll-interval"),
				Workers:      viper.GetInt("notify-workers"),
			},
			Settle: api.SettleConfig{
				Interval: viper.GetDuration("settle-interval"),
				Timeout:  viper.GetDuration("settle-timeout"),
				Workers:  viper.GetInt("settle-workers"),
			},
		},
	}, nil
}

// loadPublicKey 讀取 PEM 格式的 Ed25519 公鑰，inline 的設定優先於檔案
func loadPublicKey(inline, path string) (ed25519.PublicKey, error) {
	data := []byte(inline)
	if inline == "" {
		if path == "" {
			return nil, nil
		}
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("fail to read public key file, err=%w", err)
		}
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("fail to parse public key, err=%w", err)
	}
	publicKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not an Ed25519 key")
	}
	return publicKey, nil
}

type Args struct {
	ServerURL    string
	LogLevel     string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	config := args.ServerConfig
	if args.ServerURL == "" || len(config.Auth.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	if config.DB.Host == "" || config.DB.Database == "" || config.Redis.Addr == "" {
		return false
	}
	// 正式環境必須設定結算端點的密鑰
	if config.IsProduction() && config.Auth.SettleToken == "" {
		return false
	}
	return true
}

func (args Args) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(args.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
