// Package store 定義核心元件所需的持久層介面
//
// 核心只依賴三種能力: 依 ID 查詢、條件式更新 (只有在欄位仍為舊值時才更新)
// 以及在交易中取得列層級的排他鎖。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pedigree/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrLockTimeout = errors.New("lock wait timeout")
)

// Store 提供交易的進入點
type Store interface {
	// Transact 在單一交易中執行 fn，fn 回傳錯誤時交易會被回滾
	Transact(ctx context.Context, fn func(tx Tx) error) error
}

// Tx 是交易內可以使用的操作
type Tx interface {
	// LockUser 取得使用者並鎖定該列直到交易結束
	LockUser(id string) (*models.User, error)
	// User 取得使用者 (不鎖定)
	User(id string) (*models.User, error)
	// CreateUser 新增使用者，已存在時回傳 false
	CreateUser(user *models.User) (bool, error)
	// SaveUser 更新使用者的所有欄位
	SaveUser(user *models.User) error

	// LockAuction 取得拍賣並鎖定該列直到交易結束
	LockAuction(id uuid.UUID) (*models.Auction, error)
	// Auction 取得拍賣 (不鎖定)
	Auction(id uuid.UUID) (*models.Auction, error)
	CreateAuction(auction *models.Auction) error
	// TransitionAuction 只有在拍賣目前的 status / isApproved 與 from 相同時才更新，
	// 回傳是否有更新
	TransitionAuction(id uuid.UUID, from, to AuctionState, closedAt *time.Time) (bool, error)
	// AdvancePrice 只有在 current_price 仍為 from 時才更新為 to，同時累加出價次數，
	// 回傳是否有更新
	AdvancePrice(id uuid.UUID, from, to int64) (bool, error)
	// ExpiredAuctions 列出 end_time <= now 且仍為 ACTIVE 的拍賣
	ExpiredAuctions(now time.Time, limit int) ([]uuid.UUID, error)

	CreateBid(bid *models.Bid) error
	// ClearWinning 將拍賣目前的得標出價改為非得標
	ClearWinning(auctionID uuid.UUID) error
	// WinningBid 回傳目前的得標出價，沒有出價時回傳 nil
	WinningBid(auctionID uuid.UUID) (*models.Bid, error)
	// Bids 依出價時間排序回傳所有出價
	Bids(auctionID uuid.UUID) ([]models.Bid, error)

	AppendAudit(entry *models.AuditEntry) error
	AuditTrail(auctionID uuid.UUID) ([]models.AuditEntry, error)
}

// AuctionState 是條件式狀態轉換比對用的欄位組合
type AuctionState struct {
	Status     models.AuctionStatus
	IsApproved bool
}

// StateOf 取出拍賣目前的狀態
func StateOf(a *models.Auction) AuctionState {
	return AuctionState{Status: a.Status, IsApproved: a.IsApproved}
}

// Locker 提供每個拍賣的排他區段
type Locker interface {
	// Lock 在 wait 時間內取得 key 的鎖，逾時回傳 ErrLockTimeout。
	// 回傳的 context 在鎖失效或釋放時會被取消，應作為臨界區段內操作的 context。
	Lock(ctx context.Context, key string, wait time.Duration) (context.Context, func(), error)
}

// AuctionLockKey 回傳拍賣的鎖名稱
func AuctionLockKey(id uuid.UUID) string {
	return "auction:" + id.String() + ":lock"
}
