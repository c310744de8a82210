package devauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errTokenRevoked = errors.New("token revoked")

// claims are the JWT claims minted by the dev backend. Roles are looked up on each request,
// so a token carries only the subject.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// issuer mints and verifies HS256 tokens and remembers revoked token IDs until they expire.
type issuer struct {
	secret []byte
	name   string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func newIssuer(secret []byte, name string, ttl time.Duration, now func() time.Time) *issuer {
	return &issuer{secret: secret, name: name, ttl: ttl, now: now, revoked: make(map[string]time.Time)}
}

func (i *issuer) mint(subject, email string) (string, error) {
	now := i.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		Email: email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *issuer) parse(raw string) (*claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &claims{}, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.name),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return nil, errors.New("invalid token claims")
	}

	i.mu.Lock()
	_, revoked := i.revoked[c.ID]
	i.mu.Unlock()
	if revoked {
		return nil, errTokenRevoked
	}
	return c, nil
}

// revoke blocks a token ID until its expiry and drops entries that have already expired.
func (i *issuer) revoke(c *claims) {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, exp := range i.revoked {
		if !exp.After(now) {
			delete(i.revoked, id)
		}
	}
	if c.ExpiresAt != nil {
		i.revoked[c.ID] = c.ExpiresAt.Time
	}
}

// selfCheck mints and parses a throwaway token so the health probe fails when the
// signing key is unusable.
func (i *issuer) selfCheck(context.Context) error {
	tok, err := i.mint("healthcheck", "")
	if err != nil {
		return err
	}
	_, err = i.parse(tok)
	return err
}
