package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pedigree/apperror"
	"pedigree/models"
)

const userKey = "pedigree.user"

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger)

	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auctions := router.Group("/auctions")
	{
		auctions.GET("/:id", s.getAuction)
		auctions.GET("/:id/bids", s.listBids)
		auctions.GET("/:id/winning", s.getWinningBid)
		auctions.GET("/:id/history", s.getHistory)
		auctions.GET("/:id/events", s.streamEvents)
	}
	authed := auctions.Group("", s.authenticate, s.validateRequest)
	{
		authed.POST("", s.createAuction)
		authed.POST("/close-expired", s.closeExpired)
		authed.POST("/:id/approve", s.approveAuction)
		authed.POST("/:id/reject", s.rejectAuction)
		authed.POST("/:id/close", s.closeAuction)
		authed.POST("/:id/bids", s.placeBid)
	}

	me := router.Group("/me", s.authenticate, s.validateRequest)
	{
		me.GET("", s.getMe)
		me.GET("/capabilities", s.getCapabilities)
		me.PUT("/profile", s.putProfile)
		me.POST("/phone/verification", s.requestPhoneVerification)
		me.POST("/phone/verify", s.verifyPhone)
	}

	users := router.Group("/users", s.authenticate, s.validateRequest)
	{
		users.PUT("/:id/disabled", s.setDisabled)
	}
	return router
}

// requestLogger 記錄每個請求的狀態與耗時
func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Info("http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("latency", time.Since(start)),
	)
}

// authenticate 驗證 bearer token，第一次出現的使用者會被建立
func (s *Server) authenticate(c *gin.Context) {
	token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found {
		s.abortWithError(c, apperror.ErrUnauthenticated)
		return
	}
	identity, err := s.authenticator.Authenticate(c.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	user, err := s.verification.EnsureUser(c.Request.Context(), identity)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(userKey).(*models.User)
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.ping(c.Request.Context()); err != nil {
		s.logger.Warn("health check failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
