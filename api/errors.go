package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pedigree/apperror"
)

// ErrorResponse 是所有錯誤回應的格式
type ErrorResponse struct {
	Kind      apperror.Kind  `json:"kind"`
	Code      apperror.Code  `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StatusOf 將錯誤分類對應到 HTTP 狀態
func StatusOf(err error) int {
	e, ok := apperror.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apperror.KindAuthorization:
		if e.Code == apperror.CodeUnauthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case apperror.KindState:
		return http.StatusConflict
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConcurrency:
		if e.Code == apperror.CodeBusy {
			return http.StatusServiceUnavailable
		}
		return http.StatusConflict
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 回應錯誤，內部錯誤的細節只寫進日誌
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := StatusOf(err)
	e, ok := apperror.As(err)
	if !ok || e.Kind == apperror.KindInternal {
		s.logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.AbortWithStatusJSON(status, ErrorResponse{
			Kind:    apperror.KindInternal,
			Code:    apperror.CodeInternal,
			Message: "internal error",
		})
		return
	}

	switch e.Code {
	case apperror.CodeBusy:
		c.Header("Retry-After", "1")
	case apperror.CodeTooManyRequests:
		if seconds, ok := e.Details["retryAfterSeconds"].(int); ok {
			c.Header("Retry-After", strconv.Itoa(max(seconds, 1)))
		}
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Kind:      e.Kind,
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable(),
		Details:   e.Details,
	})
}

// bindError 將請求格式錯誤轉換成 validation 錯誤
func bindError(err error) error {
	return apperror.Invalid("invalid request payload").WithDetail("reason", err.Error())
}
