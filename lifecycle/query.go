package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"pedigree/apperror"
	"pedigree/events"
	"pedigree/models"
	"pedigree/store"
)

// Auction 取得拍賣 (不鎖定)
func (m *Manager) Auction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	var auction *models.Auction
	err := m.store.Transact(ctx, func(tx store.Tx) error {
		var err error
		auction, err = tx.Auction(auctionID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrAuctionNotFound.WithDetail("auctionId", auctionID.String())
	}
	if err != nil {
		return nil, apperror.Internal("Auction", err)
	}
	return auction, nil
}

// Snapshot 回傳拍賣目前的即時狀態
func (m *Manager) Snapshot(ctx context.Context, auctionID uuid.UUID) (events.Snapshot, error) {
	auction, err := m.Auction(ctx, auctionID)
	if err != nil {
		return events.Snapshot{}, err
	}
	return events.SnapshotOf(auction, m.now()), nil
}

// History 回傳拍賣的狀態轉換紀錄
func (m *Manager) History(ctx context.Context, auctionID uuid.UUID) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := m.store.Transact(ctx, func(tx store.Tx) error {
		if _, err := tx.Auction(auctionID); err != nil {
			return err
		}
		var err error
		entries, err = tx.AuditTrail(auctionID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrAuctionNotFound.WithDetail("auctionId", auctionID.String())
	}
	if err != nil {
		return nil, apperror.Internal("History", err)
	}
	return entries, nil
}
