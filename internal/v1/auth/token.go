package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenIssuer is the iss claim on every session token this server mints.
	TokenIssuer = "thoughtswap"
	// TokenAudience is the aud claim; the WebSocket handshake only accepts
	// tokens minted for it.
	TokenAudience = "thoughtswap-session"

	// DefaultTokenTTL bounds how long a login redirect stays usable.
	DefaultTokenTTL = 12 * time.Hour

	// GuestEmailPrefix marks identities minted without an LMS login. The
	// identity layer treats these as upsert-on-connect.
	GuestEmailPrefix = "guest_"

	// GuestEmailDomain hosts the synthetic guest addresses.
	GuestEmailDomain = "guest.thoughtswap.org"
)

// Claims represents the session token claims used for the WebSocket handshake.
// It embeds jwt.RegisteredClaims and adds the identity hints the session layer
// resolves against the store.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints short-lived HS256 session tokens after a successful login
// (LMS callback or guest endpoint).
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer signing with the given shared secret.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a session token carrying the resolved identity hints.
func (i *Issuer) Issue(email, name, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:  role,
		Name:  name,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}
