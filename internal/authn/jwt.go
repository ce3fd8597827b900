// Package authn is a minimal bearer-token verifier standing in for the
// authentication/authorization collaborator spec.md §1 explicitly
// treats as external. The gateway's middleware chain still needs
// something concrete to call, the way the teacher's AuthMiddleware
// calls a JWTService; this package gives it one, grounded on
// golang-jwt/jwt's HMAC-claims idiom as used in
// sol1corejz-goferrrmart/internal/middleware/authMiddleware.go.
package authn

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("authn: invalid or expired token")
)

// Claims identifies the caller and their live session, matching the
// fields the teacher's AuthMiddleware sets on the gin context
// (user_id, session_id).
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue mints a bearer token for userID, used by tests and local
// tooling in lieu of a real identity provider.
func (v *Verifier) Issue(userID, sessionID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses and validates tokenString, rejecting anything not
// signed with HMAC under our secret or past its expiry.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
