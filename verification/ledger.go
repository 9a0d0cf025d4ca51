// Package verification 追蹤使用者的身分驗證狀態並推導權限
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pedigree/apperror"
	"pedigree/auth"
	"pedigree/models"
	"pedigree/notify"
	"pedigree/store"
)

var phoneCodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pedigree",
	Subsystem: "verification",
	Name:      "phone_code_requests_total",
	Help:      "Phone verification code requests by result.",
}, []string{"result"})

const codeDigits = 6

type ledgerOptions struct {
	logger   *slog.Logger
	now      func() time.Time
	notifier notify.Notifier
	limiter  RateLimiter
	admins   []string
	codeTTL  time.Duration
}

type Option func(*ledgerOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *ledgerOptions) {
		o.logger = logger
	}
}

// WithClock 設置取得目前時間的函數
func WithClock(now func() time.Time) Option {
	return func(o *ledgerOptions) {
		o.now = now
	}
}

// WithNotifier 設置寄送驗證碼的 notifier
func WithNotifier(notifier notify.Notifier) Option {
	return func(o *ledgerOptions) {
		o.notifier = notifier
	}
}

// WithRateLimiter 設置驗證碼請求的限制器
func WithRateLimiter(limiter RateLimiter) Option {
	return func(o *ledgerOptions) {
		o.limiter = limiter
	}
}

// WithAdmins 設置註冊時直接成為管理員的使用者
func WithAdmins(ids ...string) Option {
	return func(o *ledgerOptions) {
		o.admins = append(o.admins, ids...)
	}
}

// WithCodeTTL 設置手機驗證碼的有效時間
func WithCodeTTL(ttl time.Duration) Option {
	return func(o *ledgerOptions) {
		o.codeTTL = ttl
	}
}

// Ledger 是使用者驗證狀態唯一的寫入者
type Ledger struct {
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
	notifier notify.Notifier
	limiter  RateLimiter
	admins   map[string]struct{}
	codeTTL  time.Duration
}

func NewLedger(s store.Store, opts ...Option) *Ledger {
	options := ledgerOptions{
		logger:  slog.Default(),
		now:     time.Now,
		codeTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(&options)
	}
	admins := make(map[string]struct{}, len(options.admins))
	for _, id := range options.admins {
		admins[id] = struct{}{}
	}
	return &Ledger{
		store:    s,
		logger:   options.logger.With(slog.String("caller", "VerificationLedger")),
		now:      options.now,
		notifier: options.notifier,
		limiter:  options.limiter,
		admins:   admins,
		codeTTL:  options.codeTTL,
	}
}

// ProfileFields 是使用者可以更新的個人資料
type ProfileFields struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postalCode"`
	PhoneNumber string `json:"phoneNumber"`
}

// ProfileResult 是更新個人資料的結果
// PhoneReverificationRequired 為 true 代表手機號碼變更使先前的手機驗證失效
type ProfileResult struct {
	ProfileComplete             bool         `json:"profileComplete"`
	PhoneReverificationRequired bool         `json:"phoneReverificationRequired"`
	Capabilities                Capabilities `json:"capabilities"`
}

// mutate 在持有使用者列鎖的交易中修改使用者，完成後同步角色
func (l *Ledger) mutate(ctx context.Context, op, userID string, fn func(user *models.User) error) (*models.User, error) {
	var result *models.User
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		user, err := tx.LockUser(userID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.ErrUserNotFound.WithDetail("userId", userID)
		}
		if err != nil {
			return err
		}
		if err := fn(user); err != nil {
			return err
		}
		syncRole(user)
		if err := tx.SaveUser(user); err != nil {
			return err
		}
		result = user
		return nil
	})
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.Internal(op, fmt.Errorf("[%s] Fail to update user, err=%w", op, err))
	}
	return result, nil
}

// User 取得使用者
func (l *Ledger) User(ctx context.Context, userID string) (*models.User, error) {
	const op = "User"
	var user *models.User
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.User(userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrUserNotFound.WithDetail("userId", userID)
	}
	if err != nil {
		return nil, apperror.Internal(op, err)
	}
	return user, nil
}

// CapabilitiesFor 載入使用者並推導權限
func (l *Ledger) CapabilitiesFor(ctx context.Context, userID string) (Capabilities, error) {
	user, err := l.User(ctx, userID)
	if err != nil {
		return Capabilities{}, err
	}
	return CapabilitiesOf(user), nil
}

// EnsureUser 在使用者第一次出現時建立資料
// 身分提供者已驗證 email 時會一併記錄
func (l *Ledger) EnsureUser(ctx context.Context, identity auth.Identity) (*models.User, error) {
	const op = "EnsureUser"
	if identity.UserID == "" {
		return nil, apperror.ErrUnauthenticated
	}
	_, isAdmin := l.admins[identity.UserID]
	now := l.now()

	var result *models.User
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		candidate := &models.User{
			ID:    identity.UserID,
			Role:  models.RoleUser,
			Email: identity.Email,
		}
		if isAdmin {
			candidate.Role = models.RoleAdmin
		}
		if identity.EmailVerified {
			candidate.EmailVerifiedAt = &now
		}
		created, err := tx.CreateUser(candidate)
		if err != nil {
			return err
		}
		if created {
			l.logger.Info("user registered", slog.String("userId", identity.UserID), slog.Bool("admin", isAdmin))
			result = candidate
			return nil
		}

		user, err := tx.LockUser(identity.UserID)
		if err != nil {
			return err
		}
		changed := false
		if identity.EmailVerified && !user.EmailVerified() {
			user.EmailVerifiedAt = &now
			changed = true
		}
		if identity.Email != "" && user.Email != identity.Email {
			user.Email = identity.Email
			changed = true
		}
		if isAdmin && !user.IsAdmin() {
			user.Role = models.RoleAdmin
			changed = true
		}
		if changed {
			syncRole(user)
			if err := tx.SaveUser(user); err != nil {
				return err
			}
		}
		result = user
		return nil
	})
	if err != nil {
		return nil, apperror.Internal(op, fmt.Errorf("[%s] Fail to ensure user, err=%w", op, err))
	}
	return result, nil
}

// RecordEmailVerified 記錄 email 已驗證
func (l *Ledger) RecordEmailVerified(ctx context.Context, userID string) error {
	_, err := l.mutate(ctx, "RecordEmailVerified", userID, func(user *models.User) error {
		if !user.EmailVerified() {
			now := l.now()
			user.EmailVerifiedAt = &now
		}
		return nil
	})
	return err
}

// RecordProfile 更新個人資料
// 手機號碼變更時會清除手機驗證狀態以及尚未使用的驗證碼
func (l *Ledger) RecordProfile(ctx context.Context, userID string, fields ProfileFields) (ProfileResult, error) {
	var result ProfileResult
	user, err := l.mutate(ctx, "RecordProfile", userID, func(user *models.User) error {
		phone := strings.TrimSpace(fields.PhoneNumber)
		if phone != user.PhoneNumber {
			result.PhoneReverificationRequired = user.PhoneVerified || user.HasPendingPhoneCode()
			user.PhoneVerified = false
			user.ClearPhoneCode()
		}
		user.FirstName = strings.TrimSpace(fields.FirstName)
		user.LastName = strings.TrimSpace(fields.LastName)
		user.Address = strings.TrimSpace(fields.Address)
		user.City = strings.TrimSpace(fields.City)
		user.PostalCode = strings.TrimSpace(fields.PostalCode)
		user.PhoneNumber = phone
		return nil
	})
	if err != nil {
		return ProfileResult{}, err
	}
	if result.PhoneReverificationRequired {
		l.logger.Info("phone verification revoked by number change", slog.String("userId", userID))
	}
	result.ProfileComplete = user.ProfileComplete()
	result.Capabilities = CapabilitiesOf(user)
	return result, nil
}

// RecordPhoneVerificationRequested 記錄新的手機驗證碼，會取代尚未使用的驗證碼
func (l *Ledger) RecordPhoneVerificationRequested(ctx context.Context, userID, code string, ttl time.Duration) error {
	_, err := l.recordCode(ctx, userID, code, ttl)
	return err
}

func (l *Ledger) recordCode(ctx context.Context, userID, code string, ttl time.Duration) (time.Time, error) {
	if strings.TrimSpace(code) == "" {
		return time.Time{}, apperror.Invalid("verification code must not be empty")
	}
	if ttl <= 0 {
		return time.Time{}, apperror.Invalid("verification code ttl must be positive")
	}
	var expiresAt time.Time
	_, err := l.mutate(ctx, "RecordPhoneVerificationRequested", userID, func(user *models.User) error {
		if user.PhoneNumber == "" {
			return apperror.Invalid("phone number is required before verification")
		}
		expiresAt = l.now().Add(ttl)
		user.PhoneCode = code
		user.PhoneCodeExpiresAt = &expiresAt
		return nil
	})
	return expiresAt, err
}

// RequestPhoneVerification 產生驗證碼並透過 notifier 寄出
// 寄送失敗不會撤銷已經記錄的驗證碼
func (l *Ledger) RequestPhoneVerification(ctx context.Context, userID string) (time.Time, error) {
	const op = "RequestPhoneVerification"
	if l.limiter != nil {
		wait, err := l.limiter.Allow(ctx, "phone:"+userID)
		if err != nil {
			phoneCodeRequests.WithLabelValues("error").Inc()
			return time.Time{}, apperror.Internal(op, err)
		}
		if wait > 0 {
			phoneCodeRequests.WithLabelValues("limited").Inc()
			return time.Time{}, apperror.ErrTooManyRequests.WithDetail("retryAfterSeconds", int(wait.Round(time.Second).Seconds()))
		}
	}

	code, err := generateCode(codeDigits)
	if err != nil {
		return time.Time{}, apperror.Internal(op, err)
	}
	expiresAt, err := l.recordCode(ctx, userID, code, l.codeTTL)
	if err != nil {
		return time.Time{}, err
	}
	phoneCodeRequests.WithLabelValues("issued").Inc()

	if l.notifier == nil {
		l.logger.Warn("no notifier configured, verification code not delivered", slog.String("userId", userID))
		return expiresAt, nil
	}
	message := notify.NewMessage(userID, notify.ChannelSMS, notify.KindPhoneVerificationCode, "Phone verification code", map[string]any{
		"code":      code,
		"expiresAt": expiresAt,
	})
	if err := l.notifier.Notify(ctx, message); err != nil {
		phoneCodeRequests.WithLabelValues("undelivered").Inc()
		l.logger.Error("fail to deliver verification code", slog.String("userId", userID), slog.Any("error", err))
	}
	return expiresAt, nil
}

// RecordPhoneVerified 比對使用者送出的驗證碼
func (l *Ledger) RecordPhoneVerified(ctx context.Context, userID, submitted string) (Capabilities, error) {
	user, err := l.mutate(ctx, "RecordPhoneVerified", userID, func(user *models.User) error {
		if !user.HasPendingPhoneCode() {
			return apperror.ErrNoActiveCode
		}
		if l.now().After(*user.PhoneCodeExpiresAt) {
			return apperror.ErrCodeExpired
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(submitted)), []byte(user.PhoneCode)) != 1 {
			return apperror.ErrCodeMismatch
		}
		user.ClearPhoneCode()
		user.PhoneVerified = true
		return nil
	})
	if err != nil {
		return Capabilities{}, err
	}
	l.logger.Info("phone verified", slog.String("userId", userID), slog.String("role", string(user.Role)))
	return CapabilitiesOf(user), nil
}

// SetDisabled 由管理員停用或啟用使用者，使用者不會被刪除
func (l *Ledger) SetDisabled(ctx context.Context, adminID, userID string, disabled bool) error {
	admin, err := l.User(ctx, adminID)
	if err != nil {
		if apperror.CodeOf(err) == apperror.CodeUserNotFound {
			return apperror.ErrNotAdmin
		}
		return err
	}
	if !admin.IsAdmin() || admin.Disabled {
		return apperror.ErrNotAdmin
	}
	_, err = l.mutate(ctx, "SetDisabled", userID, func(user *models.User) error {
		if user.IsAdmin() && disabled {
			return apperror.New(apperror.KindState, apperror.CodeInvalidTransition, "administrators cannot be disabled")
		}
		user.Disabled = disabled
		return nil
	})
	if err == nil {
		l.logger.Info("user disabled flag changed", slog.String("userId", userID), slog.String("by", adminID), slog.Bool("disabled", disabled))
	}
	return err
}

// generateCode 產生 n 位數的數字驗證碼
func generateCode(n int) (string, error) {
	const op = "generateCode"
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to generate verification code, err=%w", op, err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
