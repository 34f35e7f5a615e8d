package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends the registered JWT claims with the runtime's own
// agent-scoping fields.
type Claims struct {
	jwt.RegisteredClaims
	AgentID     string   `json:"agent_id"`
	SessionID   string   `json:"session_id"`
	DelegatorID string   `json:"delegator_id,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// KeyFunc resolves the signing key for a token, keyed by kid. Tests
// inject a StaticKeyFunc; production wires an actual key set/JWKS.
type KeyFunc func(*jwt.Token) (interface{}, error)

// StaticKeyFunc always returns the same key, for HS256 test fixtures
// and single-key deployments.
func StaticKeyFunc(key interface{}) KeyFunc {
	return func(*jwt.Token) (interface{}, error) { return key, nil }
}

// TokenManager validates bearer auth tokens carried in
// carp.Requester.AuthToken.
type TokenManager struct {
	keyFunc KeyFunc
	issuer  string
}

// NewTokenManager builds a TokenManager that validates tokens signed
// with keys resolved by keyFunc and asserts the given issuer.
func NewTokenManager(keyFunc KeyFunc, issuer string) *TokenManager {
	return &TokenManager{keyFunc: keyFunc, issuer: issuer}
}

// Sign issues a token for the given agent identity, valid for duration.
func (tm *TokenManager) Sign(key interface{}, agent *AgentIdentity, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agent.AgentID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
		AgentID:     agent.AgentID,
		SessionID:   agent.SessionID,
		DelegatorID: agent.DelegatorID,
		Scopes:      agent.Scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// Validate parses and validates a bearer token, returning the
// AgentIdentity it authenticates. A malformed, unsigned, or expired
// token returns an error. The Resolver does not turn that error into a
// CARP error: it ignores the token and falls back to the request's
// bare agent_id/session_id.
func (tm *TokenManager) Validate(tokenString string) (*AgentIdentity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keyFunc,
		jwt.WithIssuer(tm.issuer),
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: token validation failed: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("identity: token claims invalid")
	}

	return &AgentIdentity{
		AgentID:     claims.AgentID,
		SessionID:   claims.SessionID,
		DelegatorID: claims.DelegatorID,
		Scopes:      claims.Scopes,
	}, nil
}
