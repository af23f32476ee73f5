// Package auth validates signed bearer tokens and exposes the caller's claims.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// SubjectID is a user id that may be encoded as a JSON string or number.
type SubjectID string

// UnmarshalJSON accepts "42" and 42 alike.
func (s *SubjectID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SubjectID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return errors.Wrap(err, "user_id must be a string or number")
	}
	*s = SubjectID(num.String())
	return nil
}

// Marketplace roles carried in tokens.
const (
	RoleAdmin    = "admin"
	RoleSupplier = "supplier"
	RoleCustomer = "customer"
)

// Claims is the token payload.
type Claims struct {
	UserID SubjectID `json:"user_id,omitempty"`
	Role   string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// OwnerID returns the user id carried by the token, falling back to "sub".
func (c *Claims) OwnerID() string {
	if c.UserID != "" {
		return string(c.UserID)
	}
	return c.RegisteredClaims.Subject
}

// Authenticator verifies HS256 tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates an authenticator for secret.
func NewAuthenticator(secret string, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a
}

// Verify validates token and returns its claims. Malformed, tampered and
// expired tokens all yield (nil, false); the reason is only logged at debug
// level so callers cannot distinguish them.
func (a *Authenticator) Verify(token string) (*Claims, bool) {
	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		slog.Debug("bearer token rejected", "error", err)
		return nil, false
	}
	if claims.OwnerID() == "" {
		slog.Debug("bearer token rejected", "error", "missing subject")
		return nil, false
	}
	return claims, true
}

// Authenticate extracts the token from an Authorization header value and
// verifies it. An absent or non-Bearer header is unauthenticated.
func (a *Authenticator) Authenticate(header string) (*Claims, bool) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, false
	}
	return a.Verify(token)
}

// Issue signs a token for userID valid for ttl. A non-positive ttl issues a
// token without an expiry.
func (a *Authenticator) Issue(userID, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := a.now()
	claims := &Claims{
		UserID: SubjectID(userID),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// BearerToken returns the credential of a "Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// HasRole reports whether claims carry one of roles.
func HasRole(claims *Claims, roles ...string) bool {
	if claims == nil {
		return false
	}
	return slices.Contains(roles, claims.Role)
}

type claimsContextKey struct{}

// SetClaimsInContext stores verified claims on ctx.
func SetClaimsInContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the claims stored by SetClaimsInContext.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok && claims != nil
}
