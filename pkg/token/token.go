package token

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"imagestudio/pkg/domain"
)

const (
	defaultIssuer   = "imagestudio-api"
	defaultAudience = "imagestudio-web"
	defaultTTL      = 24 * time.Hour
)

var defaultLeeway = 30 * time.Second

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, wrong algorithm, malformed claims, or expiry.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the session payload carried inside a signed token.
type Claims struct {
	UserID string          `json:"id"`
	Email  string          `json:"email"`
	Name   string          `json:"name"`
	Role   domain.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Options configures claim validation behavior.
type Options struct {
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
}

// Issuer signs and verifies HS256 session tokens. It holds no state beyond
// the secret, so issued tokens cannot be revoked before expiry.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	leeway   time.Duration
}

// New constructs an Issuer from a shared secret.
func New(secret string, opts Options) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, domain.ConfigError("jwt secret required")
	}
	opts = normalizeOptions(opts)
	return &Issuer{
		secret:   []byte(secret),
		ttl:      opts.TTL,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// Issue signs a session token for the user with a fixed expiry.
func (i *Issuer) Issue(user domain.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses and validates a token, returning its claims. It never
// panics; all failures collapse into ErrInvalidToken so callers cannot
// distinguish signature problems from expiry.
func (i *Issuer) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.leeway),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.Email) == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// User rebuilds a domain user from verified claims.
func (c Claims) User() domain.User {
	return domain.User{
		ID:    c.UserID,
		Email: c.Email,
		Name:  c.Name,
		Role:  c.Role,
	}
}

func normalizeOptions(opts Options) Options {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return opts
}
