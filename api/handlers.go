package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"pedigree/apperror"
	"pedigree/bidding"
	"pedigree/lifecycle"
	"pedigree/models"
	"pedigree/verification"
)

func auctionID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Invalid("invalid auction id").WithDetail("id", c.Param("id"))
	}
	return id, nil
}

// createAuction 建立拍賣，等待管理員審核 (POST /auctions)
func (s *Server) createAuction(c *gin.Context) {
	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	if req.DurationSeconds < 0 {
		s.abortWithError(c, apperror.Invalid("duration must not be negative"))
		return
	}
	// 先與上限比較再換算，避免乘法溢位
	if maxSeconds := int64(s.lifecycle.MaxDuration() / time.Second); req.DurationSeconds > maxSeconds {
		s.abortWithError(c, apperror.Invalid("duration exceeds the maximum").WithDetail("maxDurationSeconds", maxSeconds))
		return
	}
	// 處理拍賣描述
	spec := lifecycle.AuctionSpec{
		Title:         strings.TrimSpace(req.Title),
		Description:   s.htmlChecker.Sanitize(req.Description),
		Category:      req.Category,
		StartingPrice: req.StartingPrice,
		BuyNowPrice:   req.BuyNowPrice,
		ReservePrice:  req.ReservePrice,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
	}
	auction, err := s.lifecycle.Create(c.Request.Context(), currentUser(c).ID, spec)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Header("Location", "/auctions/"+auction.ID.String())
	c.JSON(http.StatusCreated, auctionResponse(auction))
}

// getAuction 查詢拍賣 (GET /auctions/{id})
func (s *Server) getAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	auction, err := s.lifecycle.Auction(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, auctionResponse(auction))
}

// approveAuction 審核通過並開放出價 (POST /auctions/{id}/approve)
func (s *Server) approveAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	auction, err := s.lifecycle.Approve(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, auctionResponse(auction))
}

// rejectAuction 退回待審核的拍賣 (POST /auctions/{id}/reject)
func (s *Server) rejectAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	var req RejectAuctionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.abortWithError(c, bindError(err))
			return
		}
	}
	auction, err := s.lifecycle.Reject(c.Request.Context(), currentUser(c).ID, id, s.htmlChecker.Sanitize(req.Note))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, auctionResponse(auction))
}

// closeAuction 強制結束進行中的拍賣 (POST /auctions/{id}/close)
func (s *Server) closeAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	result, err := s.lifecycle.ForceClose(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, closeResponse(result))
}

// closeExpired 立即結束所有到期的拍賣 (POST /auctions/close-expired)
func (s *Server) closeExpired(c *gin.Context) {
	if !currentUser(c).IsAdmin() {
		s.abortWithError(c, apperror.ErrNotAdmin)
		return
	}
	result, err := s.lifecycle.CloseExpiredAuctions(c.Request.Context(), s.lifecycle.Now())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// placeBid 出價 (POST /auctions/{id}/bids)
func (s *Server) placeBid(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	receipt, err := s.bidding.PlaceBid(c.Request.Context(), bidding.BidRequest{
		BidderID:      currentUser(c).ID,
		AuctionID:     id,
		Amount:        req.Amount,
		ExpectedPrice: req.ExpectedPrice,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receiptResponse(receipt))
}

// listBids 依出價順序列出出價紀錄 (GET /auctions/{id}/bids)
func (s *Server) listBids(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	bids, err := s.bidding.BidsFor(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(bids, func(b models.Bid, _ int) BidResponse {
		return bidResponse(b)
	}))
}

// getWinningBid 查詢目前的得標出價，沒有出價時回傳 204 (GET /auctions/{id}/winning)
func (s *Server) getWinningBid(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	bid, err := s.bidding.WinningBidFor(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if bid == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, bidResponse(*bid))
}

// getHistory 查詢拍賣狀態變更紀錄 (GET /auctions/{id}/history)
func (s *Server) getHistory(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	entries, err := s.lifecycle.History(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(entries, func(e models.AuditEntry, _ int) AuditEntryResponse {
		return auditResponse(e)
	}))
}

// getMe 回傳目前使用者 (GET /me)
func (s *Server) getMe(c *gin.Context) {
	c.JSON(http.StatusOK, userResponse(currentUser(c)))
}

// getCapabilities 回傳目前使用者可執行的操作 (GET /me/capabilities)
func (s *Server) getCapabilities(c *gin.Context) {
	capabilities, err := s.verification.CapabilitiesFor(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, capabilities)
}

// putProfile 更新個人資料，電話變更時需要重新驗證 (PUT /me/profile)
func (s *Server) putProfile(c *gin.Context) {
	var fields verification.ProfileFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	result, err := s.verification.RecordProfile(c.Request.Context(), currentUser(c).ID, fields)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// requestPhoneVerification 發送電話驗證碼 (POST /me/phone/verification)
func (s *Server) requestPhoneVerification(c *gin.Context) {
	expiresAt, err := s.verification.RequestPhoneVerification(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, PhoneVerificationResponse{ExpiresAt: expiresAt})
}

// verifyPhone 提交電話驗證碼 (POST /me/phone/verify)
func (s *Server) verifyPhone(c *gin.Context) {
	var req VerifyPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	capabilities, err := s.verification.RecordPhoneVerified(c.Request.Context(), currentUser(c).ID, strings.TrimSpace(req.Code))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, capabilities)
}

// setDisabled 停用或啟用使用者 (PUT /users/{id}/disabled)
func (s *Server) setDisabled(c *gin.Context) {
	var req SetDisabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, bindError(err))
		return
	}
	if err := s.verification.SetDisabled(c.Request.Context(), currentUser(c).ID, c.Param("id"), req.Disabled); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
