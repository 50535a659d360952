// Package apns sends Apple push notifications over the provider API.
// All sends are best effort: failures are logged and counted, never
// surfaced to the request path that triggered them.
package apns

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Apple rejects provider tokens older than an hour; refresh a
	// little early so in-flight requests never carry a stale one.
	tokenLifetime      = 55 * time.Minute
	tokenRefreshMargin = 5 * time.Minute
)

// Signer mints and caches the ES256 provider token shared by all
// notification sends.
type Signer struct {
	keyID  string
	teamID string

	mu        sync.Mutex
	key       any
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewSigner parses the PEM-encoded .p8 key and prepares a signer.
func NewSigner(keyPEM []byte, keyID, teamID string) (*Signer, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}
	return &Signer{
		keyID:  keyID,
		teamID: teamID,
		key:    key,
		now:    time.Now,
	}, nil
}

// Token returns a valid provider token, minting a new one when the
// cached token is within the refresh margin of expiry.
func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expiresAt.Add(-tokenRefreshMargin)) {
		return s.token, nil
	}

	claims := jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign APNs token: %w", err)
	}
	s.token = signed
	s.expiresAt = now.Add(tokenLifetime)
	return signed, nil
}
