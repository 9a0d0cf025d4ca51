// Package gormstore 以 gorm + PostgreSQL 實作 store
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"pedigree/models"
	"pedigree/store"
)

type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.Schema)
}

type Store struct {
	db *gorm.DB
}

// Open 建立資料庫連線
func Open(config Config) (*Store, error) {
	const op = "Open"
	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate 建立或更新資料表
// 除了 gorm 的 AutoMigrate 之外，另外建立每個拍賣只能有一筆得標出價的部分唯一索引
func (s *Store) Migrate(ctx context.Context) error {
	const op = "Migrate"
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&models.User{}, &models.Auction{}, &models.Bid{}, &models.AuditEntry{}); err != nil {
		return fmt.Errorf("[%s] Fail to migrate tables, err=%w", op, err)
	}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(&models.Bid{}); err != nil {
		return fmt.Errorf("[%s] Fail to parse bid schema, err=%w", op, err)
	}
	sql := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_single_winner ON %s (auction_id) WHERE is_winning", stmt.Schema.Table)
	if err := db.Exec(sql).Error; err != nil {
		return fmt.Errorf("[%s] Fail to create winning bid index, err=%w", op, err)
	}
	return nil
}

// Close 關閉底層的連線池
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 用於健康檢查
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Transact(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&txn{db: db})
	})
}

type txn struct {
	db *gorm.DB
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func (t *txn) forUpdate() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *txn) LockUser(id string) (*models.User, error) {
	var user models.User
	if err := t.forUpdate().First(&user, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("lock user %s: %w", id, translate(err))
	}
	return &user, nil
}

func (t *txn) User(id string) (*models.User, error) {
	var user models.User
	if err := t.db.First(&user, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, translate(err))
	}
	return &user, nil
}

func (t *txn) CreateUser(user *models.User) (bool, error) {
	result := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(user)
	if result.Error != nil {
		return false, fmt.Errorf("create user %s: %w", user.ID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (t *txn) SaveUser(user *models.User) error {
	result := t.db.Model(&models.User{}).
		Where("id = ?", user.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(user)
	if result.Error != nil {
		return fmt.Errorf("save user %s: %w", user.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("save user %s: %w", user.ID, store.ErrNotFound)
	}
	return nil
}

func (t *txn) LockAuction(id uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	if err := t.forUpdate().First(&auction, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("lock auction %s: %w", id, translate(err))
	}
	return &auction, nil
}

func (t *txn) Auction(id uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	if err := t.db.First(&auction, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("find auction %s: %w", id, translate(err))
	}
	return &auction, nil
}

func (t *txn) CreateAuction(auction *models.Auction) error {
	if err := t.db.Omit(clause.Associations).Create(auction).Error; err != nil {
		return fmt.Errorf("create auction: %w", err)
	}
	return nil
}

func (t *txn) TransitionAuction(id uuid.UUID, from, to store.AuctionState, closedAt *time.Time) (bool, error) {
	updates := map[string]any{
		"status":      to.Status,
		"is_approved": to.IsApproved,
		"updated_at":  time.Now(),
	}
	if closedAt != nil {
		updates["closed_at"] = *closedAt
	}
	result := t.db.Model(&models.Auction{}).
		Where("id = ? AND status = ? AND is_approved = ?", id, from.Status, from.IsApproved).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("transition auction %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (t *txn) AdvancePrice(id uuid.UUID, from, to int64) (bool, error) {
	result := t.db.Model(&models.Auction{}).
		Where("id = ? AND current_price = ?", id, from).
		Updates(map[string]any{
			"current_price": to,
			"bid_count":     gorm.Expr("bid_count + 1"),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("advance price of auction %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (t *txn) ExpiredAuctions(now time.Time, limit int) ([]uuid.UUID, error) {
	query := t.db.Model(&models.Auction{}).
		Where("status = ? AND end_time <= ?", models.AuctionStatusActive, now).
		Order("end_time")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}
	return ids, nil
}

func (t *txn) CreateBid(bid *models.Bid) error {
	if err := t.db.Omit(clause.Associations).Create(bid).Error; err != nil {
		return fmt.Errorf("create bid: %w", err)
	}
	return nil
}

func (t *txn) ClearWinning(auctionID uuid.UUID) error {
	err := t.db.Model(&models.Bid{}).
		Where("auction_id = ? AND is_winning", auctionID).
		Update("is_winning", false).Error
	if err != nil {
		return fmt.Errorf("clear winning bid of auction %s: %w", auctionID, err)
	}
	return nil
}

func (t *txn) WinningBid(auctionID uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	err := t.db.Where("auction_id = ? AND is_winning", auctionID).First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find winning bid of auction %s: %w", auctionID, err)
	}
	return &bid, nil
}

func (t *txn) Bids(auctionID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	err := t.db.Where("auction_id = ?", auctionID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "placed_at"}},
			{Column: clause.Column{Name: "id"}},
		}}).
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("list bids of auction %s: %w", auctionID, err)
	}
	return bids, nil
}

func (t *txn) AppendAudit(entry *models.AuditEntry) error {
	if err := t.db.Create(entry).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (t *txn) AuditTrail(auctionID uuid.UUID) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := t.db.Where("auction_id = ?", auctionID).Order("at, id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list audit trail of auction %s: %w", auctionID, err)
	}
	return entries, nil
}
