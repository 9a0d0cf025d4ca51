// Package buffer 以 bbolt 保存暫時無法處理的項目，之後再重新處理
package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// Item 是一筆等待重新處理的資料
type Item[T any] struct {
	ID         string    `msgpack:"id"`
	Data       T         `msgpack:"data"`
	Attempts   int       `msgpack:"attempts"`
	LastError  string    `msgpack:"lastError"`
	EnqueuedAt time.Time `msgpack:"enqueuedAt"`

	key []byte
}

func (i *Item[T]) normalize() {
	if i.ID == "" {
		i.ID = uuid.Must(uuid.NewV7()).String()
	}
	if i.EnqueuedAt.IsZero() {
		i.EnqueuedAt = time.Now()
	}
}

// Store 依加入時間排序保存項目
type Store[T any] struct {
	db     *bolt.DB
	bucket []byte
}

// Open 開啟 (或建立) bbolt 檔案並確保 bucket 存在
func Open[T any](path, bucket string) (*Store[T], error) {
	const op = "buffer.Open"
	if bucket == "" {
		bucket = "buffer"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("[%s] Fail to create directory, err=%w", op, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open %s, err=%w", op, path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("[%s] Fail to create bucket, err=%w", op, err)
	}
	return &Store[T]{db: db, bucket: []byte(bucket)}, nil
}

func (s *Store[T]) Enqueue(item Item[T]) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	item.normalize()
	item.key = buildKey(item.EnqueuedAt, item.ID)

	payload, err := msgpack.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put(item.key, payload)
	})
}

// Batch 依加入順序回傳最多 limit 筆，不會移除
func (s *Store[T]) Batch(limit int) ([]Item[T], error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	if limit <= 0 {
		limit = 50
	}

	var items []Item[T]
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil && len(items) < limit; k, v = c.Next() {
			var item Item[T]
			if err := msgpack.Unmarshal(v, &item); err != nil {
				continue
			}
			item.key = append([]byte(nil), k...)
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

func (s *Store[T]) Remove(item Item[T]) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	key := item.key
	if len(key) == 0 {
		key = buildKey(item.EnqueuedAt, item.ID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(key)
	})
}

// Requeue 以新的時間重新放到隊伍最後
func (s *Store[T]) Requeue(item Item[T]) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	old := item.key
	item.EnqueuedAt = time.Now()
	item.key = buildKey(item.EnqueuedAt, item.ID)
	payload, err := msgpack.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if len(old) > 0 {
			if err := b.Delete(old); err != nil {
				return err
			}
		}
		return b.Put(item.key, payload)
	})
}

func (s *Store[T]) Size() (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return count, err
}

func (s *Store[T]) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", at.UnixNano(), id))
}
