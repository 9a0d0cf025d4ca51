package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrConsumerClosed = errors.New("consumer is closed")

// DeadLetterStream 回傳 stream 對應的死信 stream 名稱
func DeadLetterStream(stream string) string {
	return stream + ":dead-letter"
}

// Message 封裝資料以及 ack 所需的資訊
type Message[T any] struct {
	Data T
	ID   string

	client *redis.Client
	mu     sync.Mutex
	done   bool
	stream string
	group  string
	raw    map[string]any
}

// Done 確認訊息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack message, err=%w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將訊息連同錯誤原因移到死信 stream 後 ack
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}

	values := make(map[string]any, len(m.raw)+2)
	for k, v := range m.raw {
		values[k] = v
	}
	values["error"] = failErr.Error()
	values["source_id"] = m.ID
	if err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(m.stream),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to move message to dead letter stream, err=%w", op, err)
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack failed message, err=%w", op, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions[T any] struct {
	logger         *slog.Logger
	decodeFunc     func(map[string]any) (T, error)
	bufferSize     int
	blockTimeout   time.Duration
	mutex          IAutoRenewMutex
	strictOrdering bool
	startID        string
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerDecodeFunc 設置訊息解析函數
func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游 channel 的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取的超時時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerMutex 注入 mutex (主要用於測試)
func WithGroupConsumerMutex[T any](mutex IAutoRenewMutex) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.mutex = mutex
	}
}

// WithGroupConsumerStrictOrdering 同一個 group 同時只有一個實例在處理訊息
func WithGroupConsumerStrictOrdering[T any](strict bool) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.strictOrdering = strict
	}
}

// WithGroupConsumerStartID 設置建立 group 時的起始位置，預設 "0" 從頭讀取
func WithGroupConsumerStartID[T any](id string) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.startID = id
	}
}

var _ IGroupConsumer[any] = (*GroupConsumer[any])(nil)

type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	mutex      IAutoRenewMutex
	options    groupConsumerOptions[T]
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   Decode[T],
		bufferSize:   1,
		blockTimeout: time.Second,
		startID:      "0",
	}
	for _, opt := range opts {
		opt(&options)
	}

	gc := &GroupConsumer[T]{
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer),
		),
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		options:  options,
	}
	if options.strictOrdering {
		gc.mutex = options.mutex
		if gc.mutex == nil {
			gc.mutex = NewAutoRenewMutex(client, fmt.Sprintf("lock:%s:%s", stream, group), WithAutoRenewMutexSkipLockError(true))
		}
	}
	return gc, nil
}

// Start 建立 consumer group (已存在時忽略) 並開始讀取
func (s *GroupConsumer[T]) Start() error {
	const op = "GroupConsumer.Start"
	if !s.closed {
		return nil
	}
	if err := s.ensureGroup(context.Background()); err != nil {
		return fmt.Errorf("[%s] Fail to create consumer group, err=%w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting group consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("group consumer goroutine stopped")
		defer close(s.downStream)

		for ctx.Err() == nil {
			workCtx := ctx
			if s.mutex != nil {
				var err error
				// 在嚴格順序模式下 workCtx 會在鎖遺失時被取消
				workCtx, err = s.mutex.Lock(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Error("failed to acquire lock", slog.Any("error", err))
					continue
				}
			}

			err := s.workflow(workCtx)
			if s.mutex != nil {
				if _, unlockErr := s.mutex.Unlock(); unlockErr != nil {
					s.logger.Warn("failed to release lock", slog.Any("error", unlockErr))
				}
			}
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.logger.Error("message workflow stopped, restarting", slog.Any("error", err))
			}
		}
	}()
	return nil
}

func (s *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, s.options.startID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Subscribe 回傳訊息 channel，每則訊息都需要 Done 或 Fail
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	if s.closed {
		return nil
	}
	s.logger.Info("closing group consumer")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("group consumer closed gracefully")
	return nil
}

// workflow 先重送這個 consumer 尚未 ack 的訊息，再讀取新訊息
func (s *GroupConsumer[T]) workflow(ctx context.Context) error {
	cursor := "0"
	for {
		messages, err := s.read(ctx, cursor)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if cursor != ">" && len(messages) == 0 {
			cursor = ">"
			continue
		}

		for _, message := range messages {
			if cursor != ">" {
				cursor = message.ID
			}
			if err := s.deliver(ctx, message); err != nil {
				return err
			}
		}
	}
}

func (s *GroupConsumer[T]) read(ctx context.Context, cursor string) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, cursor},
		Count:    int64(max(s.options.bufferSize, 1)),
		Block:    -1,
	}
	if cursor == ">" {
		args.Block = s.options.blockTimeout
	}
	streams, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

func (s *GroupConsumer[T]) deliver(ctx context.Context, message redis.XMessage) error {
	msg := &Message[T]{
		ID:     message.ID,
		client: s.client,
		stream: s.stream,
		group:  s.group,
		raw:    message.Values,
	}
	data, err := s.options.decodeFunc(message.Values)
	if err != nil {
		// 解析失敗重試也不會成功，直接移到死信 stream
		s.logger.Error("failed to decode message",
			slog.String("messageId", message.ID),
			slog.Any("error", err),
		)
		if failErr := msg.Fail(ctx, err); failErr != nil {
			return failErr
		}
		return nil
	}
	msg.Data = data

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.downStream <- msg:
		return nil
	}
}
