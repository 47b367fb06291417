package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims extends JWT standard claims with Gatekeep-specific fields.
// The registered ID claim carries the jti that points at the server-side
// session_tokens row; Subject carries the account handle.
type SessionClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"uid"`
	Role      Role   `json:"role"`
}

// NewJTI returns a fresh unique session token identifier.
func NewJTI() string {
	return uuid.NewString()
}

// SignSessionToken encodes and signs a session credential for an account.
// The jti and expiry must match the session_tokens row created (or rotated)
// for this credential.
func SignSessionToken(account *Account, jti string, expiresAt time.Time, secret string) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.Handle,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		AccountID: account.ID,
		Role:      account.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken validates and parses a signed session credential.
// It checks the signature, expiry, and required fields. Tampered or expired
// credentials fail here, before any database lookup.
func ParseSessionToken(tokenString, secret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" || claims.AccountID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if claims.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrTokenInvalid)
	}

	return claims, nil
}

// NewOneTimeTokenString returns a fresh opaque token for activation and
// password reset flows.
func NewOneTimeTokenString() string {
	return uuid.NewString()
}
