package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
)

// Credential is a signed, time-bounded session token.
type Credential string

func (c Credential) String() string { return string(c) }

// Claims is the payload embedded in a Credential.
type Claims struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() model.Identity {
	return model.Identity{ID: c.ID, Name: c.Name, Email: c.Email, IsAdmin: c.IsAdmin}
}

// TokenConfig is passed to NewTokenService; nothing is read from the environment here.
type TokenConfig struct {
	SecretKey []byte
	TTL       time.Duration
	Issuer    string
	// Now defaults to time.Now.
	Now func() time.Time
}

// TokenService issues and verifies HS256 credentials with a fixed TTL.
type TokenService struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.SecretKey) == 0 {
		return nil, common.ErrorSigningKeyMissing
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", cfg.TTL)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{key: cfg.SecretKey, ttl: cfg.TTL, issuer: cfg.Issuer, now: now}, nil
}

func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a new credential for identity, expiring TTL after issuance.
func (s *TokenService) Issue(identity model.Identity) (Credential, error) {
	// JWT NumericDate has second precision; truncate so exp - iat is exactly TTL.
	issuedAt := s.now().Truncate(time.Second)
	claims := &Claims{
		ID:      identity.ID,
		Name:    identity.Name,
		Email:   identity.Email,
		IsAdmin: identity.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return Credential(signed), nil
}

// Verify parses and validates a credential. Bad signature, malformed input and
// expiry all return an error wrapping common.ErrorInvalidCredential.
func (s *TokenService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInvalidCredential, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, common.ErrorInvalidCredential
	}
	return claims, nil
}
