package magiccode

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"condoflow.io/internal/ids"
	"condoflow.io/internal/obs"
)

const (
	defaultCodeTTL        = 14 * 24 * time.Hour
	defaultSessionTTL     = 30 * time.Minute
	defaultGracePeriod    = 5 * time.Minute
	defaultRateWindow     = time.Minute
	defaultMaxFailures    = 5
	defaultUsageThreshold = 100
)

// Service validates supplier magic codes and issues new ones.
type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	codeTTL        time.Duration
	sessionTTL     time.Duration
	grace          time.Duration
	rateWindow     time.Duration
	maxFailures    int
	usageThreshold int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithCodeTTL configures how long issued codes stay valid.
func WithCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.codeTTL = ttl
		}
		return nil
	}
}

// WithSessionTTL configures the session window extended on each use.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithGracePeriod configures the post-expiry window that still authenticates.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d >= 0 {
			s.grace = d
		}
		return nil
	}
}

// WithRateLimit configures the sliding window and failure threshold per IP.
func WithRateLimit(window time.Duration, maxFailures int) ServiceOption {
	return func(s *Service) error {
		if window <= 0 || maxFailures <= 0 {
			return errors.New("magiccode: rate limit window and threshold must be positive")
		}
		s.rateWindow = window
		s.maxFailures = maxFailures
		return nil
	}
}

// WithUsageThreshold configures the access count that flags excessive usage.
func WithUsageThreshold(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.usageThreshold = n
		}
		return nil
	}
}

// WithLogger overrides the shared logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:          store,
		log:            obs.Logger(),
		now:            time.Now,
		codeTTL:        defaultCodeTTL,
		sessionTTL:     defaultSessionTTL,
		grace:          defaultGracePeriod,
		rateWindow:     defaultRateWindow,
		maxFailures:    defaultMaxFailures,
		usageThreshold: defaultUsageThreshold,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// HashCode returns the storage form of a presented code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Issue creates a fresh code for the supplier and returns the raw token. When
// revokeExisting is set, all still-unrevoked codes of the supplier are marked
// revoked; otherwise old codes remain valid until their own expiry.
func (s *Service) Issue(ctx context.Context, supplierID string, revokeExisting bool) (string, *AccessCode, error) {
	sup, err := s.store.Suppliers(ctx).Find(ctx, supplierID)
	if err != nil {
		return "", nil, err
	}
	if !sup.IsActive {
		return "", nil, ErrSupplierInactive
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, err
	}
	token := base64.RawURLEncoding.EncodeToString(secret)

	now := s.now().UTC()
	if revokeExisting {
		n, err := s.store.Codes(ctx).RevokeForSupplier(ctx, supplierID, now)
		if err != nil {
			return "", nil, err
		}
		if n > 0 {
			s.log.Info("magic codes revoked on issue",
				zap.String("supplier_id", supplierID), zap.Int("revoked", n))
		}
	}

	code := &AccessCode{
		ID:         ids.New(),
		SupplierID: supplierID,
		CodeHash:   HashCode(token),
		ExpiresAt:  now.Add(s.codeTTL),
		CreatedAt:  now,
	}
	if err := s.store.Codes(ctx).Create(ctx, code); err != nil {
		return "", nil, err
	}
	return token, code, nil
}

// Validate authenticates a presented code. Every rejection is durably logged
// (attempt ledger + security event) before the error is returned; the error
// itself stays vague by design.
func (s *Service) Validate(ctx context.Context, code, ip, userAgent string) (Session, error) {
	now := s.now().UTC()
	windowStart := now.Add(-s.rateWindow)

	// Rate limit first: brute force never reaches the code store.
	failures, err := s.store.Attempts(ctx).CountFailures(ctx, ip, windowStart)
	if err != nil {
		return Session{}, err
	}
	if failures >= s.maxFailures {
		if err := s.recordBlockedBurst(ctx, ip, userAgent, windowStart, now); err != nil {
			return Session{}, err
		}
		obs.CodeValidation("rate_limited")
		return Session{}, ErrRateLimited
	}

	hash := HashCode(code)
	rec, err := s.store.Codes(ctx).FindByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		if err := s.reject(ctx, hash, ip, userAgent, now, EventInvalidCode, SeverityLow, nil); err != nil {
			return Session{}, err
		}
		obs.CodeValidation("invalid")
		return Session{}, ErrInvalidCode
	}
	if err != nil {
		return Session{}, err
	}

	if !rec.RevokedAt.IsZero() {
		details := map[string]string{"code_id": rec.ID, "supplier_id": rec.SupplierID}
		if err := s.reject(ctx, hash, ip, userAgent, now, EventRevokedCodeUsed, SeverityMedium, details); err != nil {
			return Session{}, err
		}
		obs.CodeValidation("revoked")
		return Session{}, ErrInvalidCode
	}

	inGrace := false
	if now.After(rec.ExpiresAt) {
		if now.After(rec.ExpiresAt.Add(s.grace)) {
			details := map[string]string{"code_id": rec.ID, "expired_at": rec.ExpiresAt.Format(time.RFC3339)}
			if err := s.reject(ctx, hash, ip, userAgent, now, EventExpiredRejected, SeverityMedium, details); err != nil {
				return Session{}, err
			}
			obs.CodeValidation("expired")
			return Session{}, ErrExpired
		}
		inGrace = true
	}

	sup, err := s.store.Suppliers(ctx).Find(ctx, rec.SupplierID)
	if err != nil {
		return Session{}, err
	}
	if !sup.IsActive {
		// A credential that should have been revoked is being presented.
		details := map[string]string{"code_id": rec.ID, "supplier_id": sup.ID}
		if err := s.reject(ctx, hash, ip, userAgent, now, EventInactiveSupplier, SeverityHigh, details); err != nil {
			return Session{}, err
		}
		obs.CodeValidation("supplier_inactive")
		return Session{}, ErrSupplierInactive
	}

	if inGrace {
		s.emit(ctx, EventExpiredGrace, SeverityLow, ip, userAgent, map[string]string{
			"code_id":    rec.ID,
			"expired_at": rec.ExpiresAt.Format(time.RFC3339),
		}, now)
	}

	renewed := !rec.SessionExpiresAt.IsZero() && now.After(rec.SessionExpiresAt)
	sessionExpiry := now.Add(s.sessionTTL)
	count := rec.AccessCount + 1
	if err := s.store.Codes(ctx).Touch(ctx, rec.ID, count, now, sessionExpiry); err != nil {
		return Session{}, err
	}
	if renewed {
		s.emit(ctx, EventAutoRenewed, SeverityLow, ip, userAgent, map[string]string{"code_id": rec.ID}, now)
	}
	if count == s.usageThreshold {
		// A signal, not a denial.
		s.emit(ctx, EventExcessiveUsage, SeverityMedium, ip, userAgent, map[string]string{
			"code_id":      rec.ID,
			"access_count": strconv.Itoa(count),
		}, now)
	}

	if err := s.store.Attempts(ctx).Append(ctx, &AttemptRecord{
		ID:         ids.New(),
		CodeHash:   hash,
		IP:         ip,
		UserAgent:  userAgent,
		Success:    true,
		OccurredAt: now,
	}); err != nil {
		return Session{}, err
	}

	if rec.AssistanceID == "" {
		aid, err := s.store.Suppliers(ctx).LatestOpenAssistance(ctx, sup.ID)
		if err != nil {
			return Session{}, err
		}
		if aid != "" {
			if err := s.store.Codes(ctx).Bind(ctx, rec.ID, aid); err != nil {
				return Session{}, err
			}
			rec.AssistanceID = aid
		}
	}

	obs.CodeValidation("ok")
	return Session{
		Supplier:         *sup,
		AssistanceID:     rec.AssistanceID,
		SessionExpiresAt: sessionExpiry,
	}, nil
}

// reject appends the failed attempt and its security event. Storage failures
// take precedence over the auth error: security logging is not best-effort.
func (s *Service) reject(ctx context.Context, hash, ip, userAgent string, now time.Time, typ EventType, sev Severity, details map[string]string) error {
	if err := s.store.Attempts(ctx).Append(ctx, &AttemptRecord{
		ID:         ids.New(),
		CodeHash:   hash,
		IP:         ip,
		UserAgent:  userAgent,
		Success:    false,
		OccurredAt: now,
	}); err != nil {
		return fmt.Errorf("magiccode: record attempt: %w", err)
	}
	return s.emitStrict(ctx, typ, sev, ip, userAgent, details, now)
}

// recordBlockedBurst emits the brute-force event once per window per IP.
func (s *Service) recordBlockedBurst(ctx context.Context, ip, userAgent string, windowStart, now time.Time) error {
	already, err := s.store.Events(ctx).ExistsSince(ctx, EventBruteForceBlocked, ip, windowStart)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	return s.emitStrict(ctx, EventBruteForceBlocked, SeverityHigh, ip, userAgent, map[string]string{
		"window": s.rateWindow.String(),
	}, now)
}
