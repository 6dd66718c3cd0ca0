package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

const adminIDKey ctxKey = "admin_id"

// AdminAuth issues and verifies HS256 bearer tokens for back-office users.
type AdminAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAdminAuth(secret string, ttl time.Duration) *AdminAuth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminAuth{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueToken mints a token for the given admin id. Used by ops tooling.
func (a *AdminAuth) IssueToken(adminID string) (string, time.Time, error) {
	now := a.now().UTC()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   adminID,
		Issuer:    "condoflow",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func (a *AdminAuth) verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

// Require rejects requests without a valid admin bearer token.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		adminID, err := a.verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), adminIDKey, adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminIDFromContext returns the authenticated admin id, or "".
func AdminIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(adminIDKey).(string); ok {
		return v
	}
	return ""
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
