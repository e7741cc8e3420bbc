// Package auth issues and validates the bearer tokens print agents use to
// reach the print-queue endpoints. Agents exchange the shared print secret
// for a short-lived HS256 token instead of replaying the secret on every
// poll.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour

	tokenIssuer   = "parking-api"
	tokenAudience = "print-agent"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingAgentID       = errors.New("agent identifier must be provided")
)

// AgentTokenIssuerConfig configures the print-agent token issuer.
type AgentTokenIssuerConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// AgentTokenIssuer issues and validates print-agent JWTs.
type AgentTokenIssuer struct {
	config AgentTokenIssuerConfig
	clock  func() time.Time
}

// NewAgentTokenIssuer constructs an AgentTokenIssuer with sane defaults.
func NewAgentTokenIssuer(cfg AgentTokenIssuerConfig) *AgentTokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AgentTokenIssuer{
		config: AgentTokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueAgentToken produces a signed JWT and its expiry (seconds) for the
// named print agent.
func (i *AgentTokenIssuer) IssueAgentToken(agentID string) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if agentID == "" {
		return "", 0, errMissingAgentID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   agentID,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the agent JWT is well formed and returns the agent
// identifier.
func (i *AgentTokenIssuer) ValidateToken(tokenString string) (string, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingAgentID
	}
	return claims.Subject, nil
}
