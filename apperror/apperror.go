// Package apperror 定義核心元件回傳給呼叫端的錯誤分類
package apperror

import (
	"errors"
	"fmt"
	"maps"
)

// Kind 代表錯誤的大分類，API 層依此決定回應狀態
type Kind string

const (
	KindAuthorization Kind = "AUTHORIZATION"
	KindState         Kind = "STATE"
	KindConcurrency   Kind = "CONCURRENCY"
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindInternal      Kind = "INTERNAL"
)

// Code 代表具體的錯誤原因
type Code string

const (
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeNotVerified        Code = "NOT_VERIFIED"
	CodeNotAdmin           Code = "NOT_ADMIN"
	CodeUserDisabled       Code = "USER_DISABLED"
	CodeSelfBidForbidden   Code = "SELF_BID_FORBIDDEN"
	CodeAuctionNotBiddable Code = "AUCTION_NOT_BIDDABLE"
	CodeAlreadyApproved    Code = "ALREADY_APPROVED"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeNotExpired         Code = "NOT_EXPIRED"
	CodeNoActiveCode       Code = "NO_ACTIVE_CODE"
	CodeCodeExpired        Code = "CODE_EXPIRED"
	CodePriceChanged       Code = "PRICE_CHANGED"
	CodeBusy               Code = "BUSY"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeBidTooLow          Code = "BID_TOO_LOW"
	CodeCodeMismatch       Code = "CODE_MISMATCH"
	CodeAuctionNotFound    Code = "AUCTION_NOT_FOUND"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeTooManyRequests    Code = "TOO_MANY_REQUESTS"
	CodeInternal           Code = "INTERNAL"
)

// Error 是核心元件的錯誤型別
// errors.Is 以 Code 比對，所以附加 Details 的複本仍然可以和預先定義的錯誤比對
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is 讓 errors.Is 以 Code 比對
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil {
		return false
	}
	return e.Code == t.Code
}

// Retryable 回傳呼叫端是否可以重新整理後重試
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindConcurrency
}

// WithDetail 回傳附加了 key/value 的複本
func (e *Error) WithDetail(key string, value any) *Error {
	clone := *e
	clone.Details = maps.Clone(e.Details)
	if clone.Details == nil {
		clone.Details = make(map[string]any, 1)
	}
	clone.Details[key] = value
	return &clone
}

// Wrap 回傳包裝了 err 的複本
func (e *Error) Wrap(err error) *Error {
	clone := *e
	clone.Err = err
	return &clone
}

// New 建立新的錯誤
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Internal 將基礎設施錯誤包裝成 KindInternal
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: op, Err: err}
}

// Invalid 建立輸入格式錯誤
func Invalid(message string) *Error {
	return New(KindValidation, CodeInvalidInput, message)
}

// As 取出 err 中的 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 回傳 err 的分類，非 *Error 一律視為 KindInternal
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf 回傳 err 的錯誤代碼
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsKind 判斷 err 是否屬於 kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// 預先定義的錯誤
var (
	ErrUnauthenticated    = New(KindAuthorization, CodeUnauthenticated, "missing or invalid credential")
	ErrNotVerified        = New(KindAuthorization, CodeNotVerified, "identity is not fully verified")
	ErrNotAdmin           = New(KindAuthorization, CodeNotAdmin, "administrator required")
	ErrUserDisabled       = New(KindAuthorization, CodeUserDisabled, "user is disabled")
	ErrSelfBidForbidden   = New(KindAuthorization, CodeSelfBidForbidden, "seller cannot bid on own auction")
	ErrAuctionNotBiddable = New(KindState, CodeAuctionNotBiddable, "auction is not accepting bids")
	ErrAlreadyApproved    = New(KindState, CodeAlreadyApproved, "auction is already approved")
	ErrInvalidTransition  = New(KindState, CodeInvalidTransition, "transition not allowed from current state")
	ErrNotExpired         = New(KindState, CodeNotExpired, "auction end time has not passed")
	ErrNoActiveCode       = New(KindState, CodeNoActiveCode, "no phone verification code pending")
	ErrCodeExpired        = New(KindState, CodeCodeExpired, "phone verification code expired")
	ErrPriceChanged       = New(KindConcurrency, CodePriceChanged, "current price changed, refresh and retry")
	ErrBusy               = New(KindConcurrency, CodeBusy, "auction is busy, retry later")
	ErrInvalidAmount      = New(KindValidation, CodeInvalidAmount, "amount must be positive")
	ErrBidTooLow          = New(KindValidation, CodeBidTooLow, "bid must exceed current price")
	ErrCodeMismatch       = New(KindValidation, CodeCodeMismatch, "phone verification code mismatch")
	ErrAuctionNotFound    = New(KindNotFound, CodeAuctionNotFound, "auction not found")
	ErrUserNotFound       = New(KindNotFound, CodeUserNotFound, "user not found")
	ErrTooManyRequests    = New(KindRateLimited, CodeTooManyRequests, "too many requests")
)
