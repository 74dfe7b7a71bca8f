package identity

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minJWTKeyBytes = 32

// ErrConfig is returned for invalid claims verifier configuration.
var ErrConfig = errors.New("identity: invalid config")

// Claims is the bearer token payload issued by the upstream auth service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ClaimsConfig configures HS256 bearer verification.
type ClaimsConfig struct {
	Key    []byte
	Issuer string
	Leeway time.Duration
}

// LoadClaimsConfigFromEnv reads:
//   - ROLLCALL_AUTH_JWT_KEY (required, >= 32 bytes)
//   - ROLLCALL_AUTH_ISSUER (optional, default "rollcall-auth")
//   - ROLLCALL_AUTH_LEEWAY (optional Go duration, default 30s)
func LoadClaimsConfigFromEnv() (ClaimsConfig, error) {
	cfg := ClaimsConfig{
		Issuer: "rollcall-auth",
		Leeway: 30 * time.Second,
	}

	key := strings.TrimSpace(os.Getenv("ROLLCALL_AUTH_JWT_KEY"))
	if len(key) < minJWTKeyBytes {
		return ClaimsConfig{}, ErrConfig
	}
	cfg.Key = []byte(key)

	if v := strings.TrimSpace(os.Getenv("ROLLCALL_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("ROLLCALL_AUTH_LEEWAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return ClaimsConfig{}, ErrConfig
		}
		cfg.Leeway = d
	}
	return cfg, nil
}

// ClaimsVerifier turns signed bearer tokens into Principals.
type ClaimsVerifier struct {
	key    []byte
	issuer string
	leeway time.Duration
}

// NewClaimsVerifier validates cfg and builds a verifier.
func NewClaimsVerifier(cfg ClaimsConfig) (*ClaimsVerifier, error) {
	if len(cfg.Key) < minJWTKeyBytes || strings.TrimSpace(cfg.Issuer) == "" {
		return nil, ErrConfig
	}
	return &ClaimsVerifier{key: cfg.Key, issuer: cfg.Issuer, leeway: cfg.Leeway}, nil
}

// Principal verifies tokenStr at now and returns the caller it identifies.
func (v *ClaimsVerifier) Principal(tokenStr string, now time.Time) (Principal, error) {
	const op = "identity.Principal"

	tokenStr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenStr), "Bearer "))
	if tokenStr == "" || len(tokenStr) > 4096 {
		return Principal{}, OpError{Op: op, Kind: ErrUnauthenticated, Msg: "missing token"}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, OpError{Op: op, Kind: ErrUnauthenticated, Msg: "invalid token"}
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Principal{}, OpError{Op: op, Kind: ErrUnauthenticated, Msg: "missing subject"}
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, OpError{Op: op, Kind: ErrUnauthenticated, Msg: "unknown role"}
	}

	return Principal{UserID: sub, Role: role}, nil
}

// Sign issues a token for p. It exists for tooling and tests; production
// tokens come from the upstream auth service.
func (v *ClaimsVerifier) Sign(p Principal, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}
