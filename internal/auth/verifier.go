// Package auth validates the opaque credential a client presents on its
// first frame and extracts the subject identity bound to the connection.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidCredential covers every way a credential can fail verification:
// bad signature, expired, malformed, or a subject id that is not a UUID.
var ErrInvalidCredential = errors.New("invalid credential")

// Session is the verified content of a credential.
type Session struct {
	UserID    uuid.UUID
	Username  string
	SessionID string
	Permanent bool
}

// Claims mirrors the token payload minted by the account service.
// Username, session id and the permanent flag are optional there, so they
// default to zero values here.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
	Permanent bool   `json:"permanent"`
}

// Verifier checks HS256 tokens against a shared secret. It is stateless and
// safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier builds a verifier for the given shared secret. Expiry checks
// tolerate 300 seconds of clock skew and audience claims are not validated,
// matching the issuer's contract.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(300 * time.Second),
		),
	}
}

// Verify validates the credential and returns the session it carries.
func (v *Verifier) Verify(token string) (Session, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: bad subject id", ErrInvalidCredential)
	}

	return Session{
		UserID:    userID,
		Username:  claims.Username,
		SessionID: claims.SessionID,
		Permanent: claims.Permanent,
	}, nil
}
