package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredential means no token was presented at all.
	ErrMissingCredential = errors.New("auth: missing credential")
	// ErrInvalidCredential covers malformed, forged, expired and revoked tokens.
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// Claims is the subset of token claims the gateway consumes.
type Claims struct {
	// Subject identifies the signed-in user (email).
	Subject string
	// ChatSessionID addresses the user's conversation thread in the backend.
	// May be empty: not every account has a chat session associated.
	ChatSessionID string
	// ExpiresAt is the token expiry, zero if the token carries none.
	ExpiresAt time.Time
}

type tokenClaims struct {
	ChatSessionID string `json:"chatSessionId,omitempty"`
	jwt.RegisteredClaims
}

// Denylist reports whether a token has been revoked (signout).
type Denylist interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Verifier validates session credentials against a shared HMAC secret.
type Verifier struct {
	secret   []byte
	denylist Denylist
}

// NewVerifier builds a Verifier. denylist may be nil, in which case
// revocation is not checked.
func NewVerifier(secret string, denylist Denylist) *Verifier {
	return &Verifier{secret: []byte(secret), denylist: denylist}
}

// Verify validates the credential and extracts the session claims.
// On any failure it returns zero claims and one of ErrMissingCredential
// or ErrInvalidCredential.
func (v *Verifier) Verify(ctx context.Context, credential string) (Claims, error) {
	if credential == "" {
		return Claims{}, ErrMissingCredential
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(credential, &tc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidCredential
	}

	if v.denylist != nil {
		revoked, err := v.denylist.IsRevoked(ctx, credential)
		if err != nil {
			return Claims{}, ErrInvalidCredential
		}
		if revoked {
			return Claims{}, ErrInvalidCredential
		}
	}

	out := Claims{
		Subject:       tc.Subject,
		ChatSessionID: tc.ChatSessionID,
	}
	if tc.ExpiresAt != nil {
		out.ExpiresAt = tc.ExpiresAt.Time
	}
	return out, nil
}

// Sign issues a session token. The gateway itself never issues tokens in
// production (the backend does at signin); this exists for tests and tooling.
func Sign(secret, subject, chatSessionID string, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		ChatSessionID: chatSessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
