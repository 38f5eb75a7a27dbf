package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"go.uber.org/zap"
)

// Validator verifies HS256 session tokens minted by this server's Issuer.
// It checks the signature, issuer, audience, and expiry.
type Validator struct {
	secret []byte
}

// NewValidator creates a Validator sharing the Issuer's secret.
func NewValidator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// ValidateToken parses and validates a session token string. It returns the
// token's claims if the token is valid.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithValidMethods([]string{"HS256"}),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims to Claims")
	}

	if claims.Email == "" {
		return nil, errors.New("token has no email claim")
	}

	return claims, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated origin allowlist from the
// environment, falling back to defaults when unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		// Provide sensible defaults for local development if the env var isn't set.
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// DevValidator is a development-only token validator that accepts any token.
type DevValidator struct{}

// ValidateToken extracts identity hints from an unsigned token payload so the
// dev frontend can impersonate arbitrary users without a real login flow.
func (m *DevValidator) ValidateToken(tokenString string) (*Claims, error) {
	var subject, name, email, role string

	// Parse JWT token (format: header.payload.signature)
	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var raw map[string]interface{}
			if json.Unmarshal(payload, &raw) == nil {
				if sub, ok := raw["sub"].(string); ok {
					subject = sub
				}
				if n, ok := raw["name"].(string); ok {
					name = n
				}
				if e, ok := raw["email"].(string); ok {
					email = e
				}
				if r, ok := raw["role"].(string); ok {
					role = r
				}
				logging.Info(context.Background(), "DevValidator parsed token",
					zap.String("subject", subject),
					zap.String("email", logging.RedactEmail(email)),
					zap.String("role", role))
			}
		}
	}

	if email == "" {
		email = "dev@thoughtswap.org"
	}
	if name == "" {
		name = "Dev User"
	}
	if role == "" {
		role = "teacher"
	}
	if subject == "" {
		subject = email
	}

	claims := &Claims{
		Role:  role,
		Name:  name,
		Email: email,
	}
	claims.Subject = subject
	return claims, nil
}
