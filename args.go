package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pedigree/api"
	"pedigree/notify"
	"pedigree/store/gormstore"
	"pedigree/verification"
)

func ParseArgs() Args {
	// .env 不存在時直接使用環境變數
	_ = godotenv.Load()

	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "", "instance name, used as redis consumer name")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.Bool("log-json", true, "")
	pflag.Duration("shutdown-timeout", 10*time.Second, "")

	// auth config
	pflag.String("jwt-public-key", "", "PEM encoded Ed25519 public key")
	pflag.String("jwt-public-key-file", "", "")
	pflag.String("jwt-issuer", "", "")
	pflag.String("jwt-audience", "", "")

	// oidc config
	pflag.String("oidc-issuer-url", "", "")
	pflag.String("oidc-client-id", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "pedigree:", "")
	pflag.String("redis-consumer-group", "pedigree", "")
	pflag.Int64("redis-stream-max-len", 10000, "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "pedigree-auction-events", "")
	pflag.String("redis-stream-key-for-sse", "pedigree-shared-sse-stream", "")
	pflag.String("redis-stream-key-for-notifications", "", "")

	// auction config
	pflag.Duration("auction-default-duration", 7*24*time.Hour, "")
	pflag.Duration("auction-max-duration", 90*24*time.Hour, "longest duration a seller may request")
	pflag.Duration("auction-lock-wait", 3*time.Second, "")
	pflag.Duration("auction-sweep-interval", time.Minute, "0 disables the sweeper")
	pflag.Int("auction-sweep-batch", 100, "")
	pflag.Int64("auction-min-increment", 0, "")

	// verification config
	pflag.StringSlice("admins", nil, "user ids treated as administrators")
	pflag.Duration("phone-code-ttl", 10*time.Minute, "")
	pflag.Duration("phone-code-cooldown", time.Minute, "")
	pflag.Duration("phone-code-window", time.Hour, "")
	pflag.Int("phone-code-max-in-window", 5, "")
	pflag.Duration("phone-code-block", time.Hour, "")

	// notification config
	pflag.String("notification-retry-buffer", "", "bbolt file for undelivered notifications")
	pflag.Duration("notification-redeliver-interval", 30*time.Second, "")
	pflag.Int("notification-redeliver-batch", 50, "")
	pflag.Int("notification-redeliver-max-attempts", 5, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("PEDIGREE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL:       viper.GetString("server-url"),
		LogLevel:        viper.GetString("log-level"),
		LogJSON:         viper.GetBool("log-json"),
		ShutdownTimeout: viper.GetDuration("shutdown-timeout"),
		PublicKeyFile:   viper.GetString("jwt-public-key-file"),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("server-id"),
			Auth: api.AuthConfig{
				PublicKeyPEM: viper.GetString("jwt-public-key"),
				Issuer:       viper.GetString("jwt-issuer"),
				Audience:     viper.GetString("jwt-audience"),
			},
			OIDC: api.OIDCConfig{
				IssuerURL: viper.GetString("oidc-issuer-url"),
				ClientID:  viper.GetString("oidc-client-id"),
			},
			DB: gormstore.Config{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				MaxLen:        viper.GetInt64("redis-stream-max-len"),
				StreamKeys: api.RedisStreamKeys{
					Events:        viper.GetString("redis-stream-key-for-events"),
					SSE:           viper.GetString("redis-stream-key-for-sse"),
					Notifications: viper.GetString("redis-stream-key-for-notifications"),
				},
			},
			Auction: api.AuctionConfig{
				DefaultDuration: viper.GetDuration("auction-default-duration"),
				MaxDuration:     viper.GetDuration("auction-max-duration"),
				LockWait:        viper.GetDuration("auction-lock-wait"),
				SweepInterval:   viper.GetDuration("auction-sweep-interval"),
				SweepBatch:      viper.GetInt("auction-sweep-batch"),
				MinIncrement:    viper.GetInt64("auction-min-increment"),
			},
			Verification: api.VerificationConfig{
				Admins:  viper.GetStringSlice("admins"),
				CodeTTL: viper.GetDuration("phone-code-ttl"),
				Limit: verification.LimitPolicy{
					Cooldown:    viper.GetDuration("phone-code-cooldown"),
					Window:      viper.GetDuration("phone-code-window"),
					MaxInWindow: viper.GetInt("phone-code-max-in-window"),
					Block:       viper.GetDuration("phone-code-block"),
				},
			},
			Notification: api.NotificationConfig{
				RetryBufferPath: viper.GetString("notification-retry-buffer"),
				Redeliver: notify.RedeliverConfig{
					Interval:    viper.GetDuration("notification-redeliver-interval"),
					BatchSize:   viper.GetInt("notification-redeliver-batch"),
					MaxAttempts: viper.GetInt("notification-redeliver-max-attempts"),
				},
			},
		},
	}
}

type Args struct {
	ServerURL       string
	LogLevel        string
	LogJSON         bool
	ShutdownTimeout time.Duration
	PublicKeyFile   string
	ServerConfig    api.ServerConfig
}

// Validate 檢查必要參數並補上可推導的預設值
func (args *Args) Validate() error {
	if args.ServerURL == "" {
		return errors.New("server-url is required")
	}
	if args.PublicKeyFile != "" && args.ServerConfig.Auth.PublicKeyPEM == "" {
		raw, err := os.ReadFile(args.PublicKeyFile)
		if err != nil {
			return err
		}
		args.ServerConfig.Auth.PublicKeyPEM = string(raw)
	}
	oidc := args.ServerConfig.OIDC
	if oidc.IssuerURL == "" && args.ServerConfig.Auth.PublicKeyPEM == "" {
		return errors.New("either oidc-issuer-url or jwt-public-key is required")
	}
	if oidc.IssuerURL != "" && oidc.ClientID == "" {
		return errors.New("oidc-client-id is required with oidc-issuer-url")
	}
	if args.ServerConfig.Redis.Addr != "" {
		if args.ServerConfig.ID == "" {
			hostname, err := os.Hostname()
			if err != nil {
				return err
			}
			args.ServerConfig.ID = hostname
		}
		if args.ServerConfig.Redis.ConsumerGroup == "" {
			return errors.New("redis-consumer-group is required with redis-addr")
		}
	}
	return nil
}
