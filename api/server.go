package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"

	"pedigree/adapters/buffer"
	notifierAdapter "pedigree/adapters/notifier"
	"pedigree/adapters/oidc"
	redisAdapter "pedigree/adapters/redis"
	"pedigree/adapters/sse"
	"pedigree/auth"
	"pedigree/bidding"
	"pedigree/events"
	"pedigree/lifecycle"
	"pedigree/notify"
	"pedigree/store"
	"pedigree/store/gormstore"
	"pedigree/store/memory"
	"pedigree/verification"
)

// Server 組合所有核心元件並提供 HTTP 介面
type Server struct {
	logger        *slog.Logger
	config        ServerConfig
	authenticator auth.Authenticator
	verification  *verification.Ledger
	lifecycle     *lifecycle.Manager
	bidding       *bidding.Ledger
	dispatcher    *notify.Dispatcher
	feed          *notify.Feed
	sseManager    sse.IConnectionManager[events.Snapshot]
	sweeper       *lifecycle.Sweeper
	redeliverer   *notify.Redeliverer
	htmlChecker   *bluemonday.Policy
	redisClient   *redis.Client
	gormStore     *gormstore.Store
	retry         *buffer.Store[notify.Message]
	bus           *events.LocalBus
	validator     *RequestValidator
	worker        *redisAdapter.EventWorker
	router        *gin.Engine
}

type serverOptions struct {
	logger   *slog.Logger
	notifier notify.Notifier
}

type Option func(*serverOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithNotifier 替換依設定建立的 notifier
func WithNotifier(notifier notify.Notifier) Option {
	return func(o *serverOptions) {
		o.notifier = notifier
	}
}

func NewServer(config ServerConfig, opts ...Option) (*Server, error) {
	const op = "NewServer"
	options := serverOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	s := &Server{
		logger:      logger.With(slog.String("caller", "Server")),
		config:      config,
		htmlChecker: bluemonday.UGCPolicy(),
	}
	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	// 初始化身分驗證
	authenticator, err := newAuthenticator(config)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to initial authenticator, err=%w", op, err)
	}
	s.authenticator = authenticator

	// 初始化資料庫連線，未設置 host 時使用記憶體
	var st store.Store
	if config.DB.Host == "" {
		s.logger.Warn("no database configured, using in-memory store")
		st = memory.New()
	} else {
		s.gormStore, err = gormstore.Open(config.DB)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
		}
		if err := s.gormStore.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
		}
		st = s.gormStore
	}

	// 初始化Redis連線
	if config.Redis.Addr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
	}

	var (
		locker   store.Locker
		limiter  verification.RateLimiter
		notifier notify.Notifier
	)
	policy := config.Verification.Limit
	if policy == (verification.LimitPolicy{}) {
		policy = verification.DefaultLimitPolicy()
	}
	if s.redisClient != nil {
		locker = redisAdapter.NewLocker(s.redisClient, logger)
		limiter = redisAdapter.NewLimiter(s.redisClient, config.Redis.KeyPrefix+"verification", policy)
	} else {
		locker = memory.NewLocker()
		limiter = verification.NewLocalLimiter(policy)
	}
	switch {
	case options.notifier != nil:
		notifier = options.notifier
	case s.redisClient != nil && config.Redis.StreamKeys.Notifications != "":
		notifier, err = notifierAdapter.NewStreamNotifier(s.redisClient, config.Redis.StreamKeys.Notifications, config.Redis.MaxLen, logger)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create stream notifier, err=%w", op, err)
		}
	default:
		notifier = notifierAdapter.NewLogNotifier(logger)
	}

	// 初始化重送緩衝區
	if config.Notification.RetryBufferPath != "" {
		s.retry, err = buffer.Open[notify.Message](config.Notification.RetryBufferPath, "notifications")
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to open retry buffer, err=%w", op, err)
		}
		s.redeliverer, err = notify.NewRedeliverer(s.retry, notifier, logger, config.Notification.Redeliver)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create redeliverer, err=%w", op, err)
		}
	}

	// 初始化SSE管理器
	s.sseManager, err = newSSEManager(s.redisClient, config.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
	}

	// 提交後的事件: 有 Redis 時寫入 stream 由 worker 交給 dispatcher，否則在本機處理
	var publisher events.Publisher
	handle := func(ctx context.Context, e events.Event) error {
		return s.dispatcher.Dispatch(ctx, e)
	}
	if s.redisClient != nil {
		publisher, err = redisAdapter.NewEventPublisher(s.redisClient, config.Redis.StreamKeys.Events,
			redisAdapter.WithProducerLogger[events.Event](logger),
			redisAdapter.WithProducerMaxLen[events.Event](config.Redis.MaxLen),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create event publisher, err=%w", op, err)
		}
		s.worker, err = redisAdapter.NewEventWorker(s.redisClient,
			config.Redis.StreamKeys.Events,
			config.Redis.ConsumerGroup,
			config.ID,
			handle,
			redisAdapter.WithGroupConsumerLogger[events.Event](logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create event worker, err=%w", op, err)
		}
	} else {
		s.bus = events.NewLocalBus(func(ctx context.Context, e events.Event) {
			_ = handle(ctx, e)
		}, events.WithBusLogger(logger))
		publisher = s.bus
	}

	s.lifecycle = lifecycle.NewManager(st, locker, lifecycleOptions(config.Auction, publisher, logger)...)
	s.feed = notify.NewFeed(s.sseManager, s.lifecycle, logger)
	dispatcherOptions := []notify.Option{
		notify.WithLogger(logger),
		notify.WithSnapshots(s.feed),
	}
	if s.retry != nil {
		dispatcherOptions = append(dispatcherOptions, notify.WithRetryBuffer(s.retry))
	}
	s.dispatcher = notify.NewDispatcher(notifier, dispatcherOptions...)

	verificationOptions := []verification.Option{
		verification.WithLogger(logger),
		verification.WithNotifier(notifier),
		verification.WithRateLimiter(limiter),
		verification.WithAdmins(config.Verification.Admins...),
	}
	if config.Verification.CodeTTL > 0 {
		verificationOptions = append(verificationOptions, verification.WithCodeTTL(config.Verification.CodeTTL))
	}
	s.verification = verification.NewLedger(st, verificationOptions...)
	s.bidding = bidding.NewLedger(st, s.lifecycle,
		bidding.WithLogger(logger),
		bidding.WithPublisher(publisher),
		bidding.WithMinIncrement(config.Auction.MinIncrement),
	)

	if config.Auction.SweepInterval > 0 {
		s.sweeper, err = lifecycle.NewSweeper(s.lifecycle, config.Auction.SweepInterval)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create sweeper, err=%w", op, err)
		}
	}

	doc, err := LoadAPIDocument(context.Background())
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load api document, err=%w", op, err)
	}
	s.validator, err = NewRequestValidator(doc)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create request validator, err=%w", op, err)
	}

	s.router = s.routes()
	ok = true
	return s, nil
}

func newAuthenticator(config ServerConfig) (auth.Authenticator, error) {
	if config.OIDC.IssuerURL != "" {
		return oidc.NewAuthenticator(context.Background(), config.OIDC.IssuerURL, config.OIDC.ClientID)
	}
	if config.Auth.PublicKeyPEM == "" {
		return nil, errors.New("either OIDC issuer or JWT public key is required")
	}
	return auth.NewJWTAuthenticatorFromPEM([]byte(config.Auth.PublicKeyPEM), config.Auth.Issuer, config.Auth.Audience)
}

func newSSEManager(client *redis.Client, config RedisConfig, logger *slog.Logger) (sse.IConnectionManager[events.Snapshot], error) {
	opts := []sse.ManagerOption[events.Snapshot]{sse.WithManagerLogger[events.Snapshot](logger)}
	if client == nil {
		return sse.NewConnectionManager(opts...), nil
	}
	consumer, err := redisAdapter.NewConsumer(client, config.StreamKeys.SSE,
		redisAdapter.WithConsumerLogger[sse.PublishRequest[events.Snapshot]](logger),
	)
	if err != nil {
		return nil, err
	}
	producer, err := redisAdapter.NewProducer(client, config.StreamKeys.SSE,
		redisAdapter.WithProducerLogger[sse.PublishRequest[events.Snapshot]](logger),
		redisAdapter.WithProducerMaxLen[sse.PublishRequest[events.Snapshot]](config.MaxLen),
	)
	if err != nil {
		return nil, err
	}
	opts = append(opts, sse.WithManagerBroker[events.Snapshot](consumer, producer))
	return sse.NewConnectionManager(opts...), nil
}

func lifecycleOptions(config AuctionConfig, publisher events.Publisher, logger *slog.Logger) []lifecycle.Option {
	opts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithPublisher(publisher),
	}
	if config.DefaultDuration > 0 {
		opts = append(opts, lifecycle.WithDefaultDuration(config.DefaultDuration))
	}
	if config.MaxDuration > 0 {
		opts = append(opts, lifecycle.WithMaxDuration(config.MaxDuration))
	}
	if config.LockWait > 0 {
		opts = append(opts, lifecycle.WithLockWait(config.LockWait))
	}
	if config.SweepBatch > 0 {
		opts = append(opts, lifecycle.WithSweepBatch(config.SweepBatch))
	}
	return opts
}

// Handler 回傳 HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	const op = "Server.Start"
	// 啟動sse connection manager
	s.sseManager.Start()
	// 啟動事件處理
	if s.worker != nil {
		if err := s.worker.Start(); err != nil {
			return fmt.Errorf("[%s] Fail to start event worker, err=%w", op, err)
		}
	} else {
		s.bus.Start()
	}
	if s.sweeper != nil {
		s.sweeper.Start()
	}
	if s.redeliverer != nil {
		s.redeliverer.Start()
	}
	s.logger.Info("server started")
	return nil
}

// Close 依相依順序停止所有元件，ctx 限制等待排程中工作結束的時間
func (s *Server) Close(ctx context.Context) {
	if s.sweeper != nil {
		s.sweeper.Stop(ctx)
	}
	if s.worker != nil {
		if err := s.worker.Close(); err != nil {
			s.logger.Warn("fail to close event worker", slog.Any("error", err))
		}
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.redeliverer != nil {
		s.redeliverer.Stop(ctx)
	}
	s.sseManager.Close()
	s.release()
	s.logger.Info("server closed")
}

// release 關閉連線與檔案
func (s *Server) release() {
	if s.retry != nil {
		if err := s.retry.Close(); err != nil {
			s.logger.Warn("fail to close retry buffer", slog.Any("error", err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("fail to close redis client", slog.Any("error", err))
		}
	}
	if s.gormStore != nil {
		if err := s.gormStore.Close(); err != nil {
			s.logger.Warn("fail to close database", slog.Any("error", err))
		}
	}
}

func (s *Server) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if s.gormStore != nil {
		if err := s.gormStore.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
