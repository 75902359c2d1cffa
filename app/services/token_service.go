// Package services provides external service integrations: the WhatsApp transport, event publishing,
// message rendering and admin tokens
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

const adminTokenType = "admin_access"

// TokenService issues and validates the bearer tokens that guard the admin API
type TokenService interface {
	GenerateAdminToken(subject string) (string, error)
	ValidateAdminToken(token string) (*AdminTokenClaims, error)
}

// AdminTokenClaims represents claims for admin JWTs
type AdminTokenClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenServiceImpl signs tokens with HS256
type TokenServiceImpl struct {
	ttl       time.Duration
	secretKey []byte
	issuer    string
	audience  string
	now       func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(ttl time.Duration, issuer, audience, secretKey string) (TokenService, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("admin token secret is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenServiceImpl{
		ttl:       ttl,
		secretKey: []byte(secretKey),
		issuer:    issuer,
		audience:  audience,
		now:       time.Now,
	}, nil
}

// GenerateAdminToken signs an access token for the given operator
func (s *TokenServiceImpl) GenerateAdminToken(subject string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	now := s.now().UTC()
	claims := AdminTokenClaims{
		TokenType: adminTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// ValidateAdminToken verifies signature, expiry, issuer and audience
func (s *TokenServiceImpl) ValidateAdminToken(token string) (*AdminTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &AdminTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.TokenType != adminTokenType || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
