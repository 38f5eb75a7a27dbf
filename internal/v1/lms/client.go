// Package lms integrates with the institution's learning-management system.
// The LMS is the identity authority for non-guest users: it runs the OAuth2
// authorization-code flow and asserts who the user is via an OIDC id_token.
// All outbound calls run behind a circuit breaker so a flaky LMS degrades
// logins without taking the session server down with it.
package lms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sony/gobreaker"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Profile is the identity the LMS asserts for a logged-in user.
type Profile struct {
	ExternalID string
	Email      string
	Name       string
	Role       string
}

// Authenticator is the collaborator the auth handlers talk to. The session
// server never sees LMS credentials, only the resolved profile.
type Authenticator interface {
	AuthCodeURL(state string) string
	Authenticate(ctx context.Context, code string) (*Profile, error)
}

// Config carries the OAuth2/OIDC coordinates of the LMS tenant.
type Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// idTokenClaims is the subset of the OIDC id_token this server reads.
type idTokenClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Client implements Authenticator against a real LMS tenant.
type Client struct {
	oauth   *oauth2.Config
	issuer  string
	keyFunc jwt.Keyfunc
	cb      *gobreaker.CircuitBreaker
}

// New builds a Client for the given tenant. It registers the tenant's JWKS
// endpoint with a refreshing cache and fetches the keys once to ensure
// connectivity. Extra jwk options are passed through to the cache (tests use
// this to inject an HTTP client).
func New(ctx context.Context, cfg Config, options ...jwk.RegisterOption) (*Client, error) {
	issuerURL, err := url.Parse("https://" + cfg.Domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	registerOptions := append([]jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}, options...)
	if err := cache.Register(jwksURL, registerOptions...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		// Enforce RSA before any key lookup.
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}

		return pubKey, nil
	}

	st := gobreaker.Settings{
		Name:        "lms",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
			logging.Warn(context.Background(), "LMS circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  issuerURL.JoinPath("oauth2/authorize").String(),
				TokenURL: issuerURL.JoinPath("oauth2/token").String(),
			},
		},
		issuer:  issuerURL.String(),
		keyFunc: keyFunc,
		cb:      gobreaker.NewCircuitBreaker(st),
	}, nil
}

// AuthCodeURL returns the LMS authorization URL the browser is redirected to.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Authenticate exchanges the authorization code for tokens and verifies the
// id_token against the tenant's signing keys. When the breaker is open the
// exchange fails fast without touching the network.
func (c *Client) Authenticate(ctx context.Context, code string) (*Profile, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.oauth.Exchange(ctx, code)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("lms unavailable: %w", err)
		}
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	token, ok := res.(*oauth2.Token)
	if !ok {
		return nil, errors.New("unexpected exchange result type")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response has no id_token")
	}

	return c.verifyIDToken(rawIDToken)
}

// verifyIDToken checks the id_token signature against the tenant's keys and
// maps its claims onto a Profile.
func (c *Client) verifyIDToken(rawIDToken string) (*Profile, error) {
	parsed, err := jwt.ParseWithClaims(rawIDToken, &idTokenClaims{}, c.keyFunc,
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.oauth.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id_token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("id_token is invalid")
	}

	claims, ok := parsed.Claims.(*idTokenClaims)
	if !ok {
		return nil, errors.New("failed to cast id_token claims")
	}
	if claims.Email == "" {
		return nil, errors.New("id_token has no email claim")
	}

	role := claims.Role
	if role == "" {
		role = "student"
	}

	return &Profile{
		ExternalID: claims.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		Role:       role,
	}, nil
}

// StaticAuthenticator returns a fixed profile for every code. Used in dev
// mode and in handler tests.
type StaticAuthenticator struct {
	Profile Profile
	Err     error
}

func (s *StaticAuthenticator) AuthCodeURL(state string) string {
	return "/auth/callback?state=" + url.QueryEscape(state) + "&code=dev"
}

func (s *StaticAuthenticator) Authenticate(ctx context.Context, code string) (*Profile, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	p := s.Profile
	return &p, nil
}
