package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"pedigree/bidding"
	"pedigree/lifecycle"
	"pedigree/models"
	"pedigree/verification"
)

// Request DTOs
type CreateAuctionRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	StartingPrice *int64 `json:"startingPrice"`
	BuyNowPrice   *int64 `json:"buyNowPrice"`
	ReservePrice  *int64 `json:"reservePrice"`
	// DurationSeconds 為 0 時使用預設的拍賣時間
	DurationSeconds int64 `json:"durationSeconds"`
}

type RejectAuctionRequest struct {
	Note string `json:"note"`
}

type PlaceBidRequest struct {
	Amount        int64  `json:"amount"`
	ExpectedPrice *int64 `json:"expectedPrice"`
}

type VerifyPhoneRequest struct {
	Code string `json:"code" binding:"required"`
}

type SetDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// Response DTOs
type AuctionResponse struct {
	ID            uuid.UUID            `json:"id"`
	SellerID      string               `json:"sellerId"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Category      string               `json:"category,omitempty"`
	StartingPrice int64                `json:"startingPrice"`
	CurrentPrice  int64                `json:"currentPrice"`
	BuyNowPrice   *int64               `json:"buyNowPrice,omitempty"`
	HasReserve    bool                 `json:"hasReserve"`
	BidCount      int                  `json:"bidCount"`
	StartTime     time.Time            `json:"startTime"`
	EndTime       time.Time            `json:"endTime"`
	Status        models.AuctionStatus `json:"status"`
	IsApproved    bool                 `json:"isApproved"`
	ClosedAt      *time.Time           `json:"closedAt,omitempty"`
}

type BidResponse struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auctionId"`
	BidderID  string    `json:"bidderId"`
	Amount    int64     `json:"amount"`
	PlacedAt  time.Time `json:"placedAt"`
	IsWinning bool      `json:"isWinning"`
}

type BidReceiptResponse struct {
	Bid          BidResponse          `json:"bid"`
	Status       models.AuctionStatus `json:"status"`
	CurrentPrice int64                `json:"currentPrice"`
	BoughtNow    bool                 `json:"boughtNow"`
}

type CloseResponse struct {
	Auction    AuctionResponse `json:"auction"`
	WinningBid *BidResponse    `json:"winningBid,omitempty"`
	Changed    bool            `json:"changed"`
}

type AuditEntryResponse struct {
	Actor        string               `json:"actor"`
	FromStatus   models.AuctionStatus `json:"fromStatus,omitempty"`
	ToStatus     models.AuctionStatus `json:"toStatus"`
	FromApproved bool                 `json:"fromApproved"`
	ToApproved   bool                 `json:"toApproved"`
	Reason       string               `json:"reason,omitempty"`
	At           time.Time            `json:"at"`
}

type PhoneVerificationResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func auctionResponse(a *models.Auction) AuctionResponse {
	return AuctionResponse{
		ID:            a.ID,
		SellerID:      a.SellerID,
		Title:         a.Title,
		Description:   a.Description,
		Category:      a.Category,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		BuyNowPrice:   a.BuyNowPrice,
		HasReserve:    a.ReservePrice != nil,
		BidCount:      a.BidCount,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        a.Status,
		IsApproved:    a.IsApproved,
		ClosedAt:      a.ClosedAt,
	}
}

func bidResponse(b models.Bid) BidResponse {
	return BidResponse{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		PlacedAt:  b.PlacedAt,
		IsWinning: b.IsWinning,
	}
}

func receiptResponse(r *bidding.BidReceipt) BidReceiptResponse {
	return BidReceiptResponse{
		Bid:          bidResponse(r.Bid),
		Status:       r.Status,
		CurrentPrice: r.CurrentPrice,
		BoughtNow:    r.BoughtNow,
	}
}

func closeResponse(r *lifecycle.CloseResult) CloseResponse {
	resp := CloseResponse{
		Auction: auctionResponse(r.Auction),
		Changed: r.Changed,
	}
	if r.WinningBid != nil {
		resp.WinningBid = lo.ToPtr(bidResponse(*r.WinningBid))
	}
	return resp
}

func auditResponse(e models.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		Actor:        e.Actor,
		FromStatus:   e.FromStatus,
		ToStatus:     e.ToStatus,
		FromApproved: e.FromApproved,
		ToApproved:   e.ToApproved,
		Reason:       e.Reason,
		At:           e.At,
	}
}

type UserResponse struct {
	ID              string                    `json:"id"`
	Email           string                    `json:"email,omitempty"`
	Role            models.Role               `json:"role"`
	EmailVerified   bool                      `json:"emailVerified"`
	ProfileComplete bool                      `json:"profileComplete"`
	PhoneVerified   bool                      `json:"phoneVerified"`
	Disabled        bool                      `json:"disabled"`
	Capabilities    verification.Capabilities `json:"capabilities"`
}

func userResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:              u.ID,
		Email:           u.Email,
		Role:            u.Role,
		EmailVerified:   u.EmailVerified(),
		ProfileComplete: u.ProfileComplete(),
		PhoneVerified:   u.PhoneVerified,
		Disabled:        u.Disabled,
		Capabilities:    verification.CapabilitiesOf(u),
	}
}
