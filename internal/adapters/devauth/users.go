// Package devauth is an in-memory identity backend for local development and tests.
// It serves the same REST contract as the clinic API: authenticate, register, profile, logout.
package devauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
)

// SeedUser is a user created when the backend starts.
type SeedUser struct {
	Email    string
	Password string
	FullName string
	Roles    domainauth.Roles
}

// DefaultAdmin mirrors the administrator the clinic backend creates on first start.
func DefaultAdmin() SeedUser {
	return SeedUser{
		Email:    "admin@clinic.local",
		Password: "admin123",
		FullName: "System Administrator",
		Roles:    domainauth.Roles{domainauth.RoleAdmin},
	}
}

type account struct {
	identity domainauth.Identity
	hash     []byte
}

// directory keeps accounts keyed by lower-cased email.
type directory struct {
	mu      sync.RWMutex
	byEmail map[string]*account
	byID    map[string]*account
	cost    int
	now     func() time.Time
}

func newDirectory(cost int, now func() time.Time) *directory {
	return &directory{
		byEmail: make(map[string]*account),
		byID:    make(map[string]*account),
		cost:    cost,
		now:     now,
	}
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// seedNamespace derives stable IDs for seed users, so tokens minted by one process
// still resolve after a restart with the same secret.
var seedNamespace = uuid.MustParse("6f1c3d0e-6a4e-4b7c-9a54-2f0d6c1b8e21")

func seedID(email string) string {
	return uuid.NewSHA1(seedNamespace, []byte(emailKey(email))).String()
}

// create adds an account with the given ID, or a random one when id is empty.
// Returns a Conflict error when the email is taken.
func (d *directory) create(_ context.Context, id string, reg domainauth.Registration, roles domainauth.Roles) (domainauth.Identity, error) {
	key := emailKey(reg.Email)
	if key == "" || reg.Password == "" {
		return domainauth.Identity{}, apperrors.Validation("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), d.cost)
	if err != nil {
		return domainauth.Identity{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "password cannot be hashed")
	}

	if id == "" {
		id = uuid.NewString()
	}
	now := d.now().UTC()
	ident := domainauth.Identity{
		ID:                    id,
		FullName:              strings.TrimSpace(reg.FullName),
		Email:                 strings.TrimSpace(reg.Email),
		PhoneNumber:           reg.PhoneNumber,
		Gender:                reg.Gender,
		BloodType:             reg.BloodType,
		Address:               reg.Address,
		DateOfBirth:           reg.DateOfBirth,
		EmergencyContactName:  reg.EmergencyContactName,
		EmergencyContactPhone: reg.EmergencyContactPhone,
		Roles:                 append(domainauth.Roles(nil), roles...),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byEmail[key]; exists {
		return domainauth.Identity{}, apperrors.Conflict("email already registered")
	}
	acc := &account{identity: ident, hash: hash}
	d.byEmail[key] = acc
	d.byID[ident.ID] = acc
	return ident.Clone(), nil
}

var errBadCredentials = errors.New("invalid email or password")

// check verifies a password. Unknown emails and wrong passwords are indistinguishable.
func (d *directory) check(email, password string) (domainauth.Identity, error) {
	d.mu.RLock()
	acc, ok := d.byEmail[emailKey(email)]
	d.mu.RUnlock()
	if !ok {
		return domainauth.Identity{}, apperrors.Wrap(errBadCredentials, apperrors.ErrCodeUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return domainauth.Identity{}, apperrors.Wrap(errBadCredentials, apperrors.ErrCodeUnauthorized, "invalid credentials")
	}
	return acc.identity.Clone(), nil
}

func (d *directory) get(id string) (domainauth.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.byID[id]
	if !ok {
		return domainauth.Identity{}, false
	}
	return acc.identity.Clone(), true
}

func (d *directory) list() []domainauth.Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domainauth.Identity, 0, len(d.byID))
	for _, acc := range d.byID {
		out = append(out, acc.identity.Clone())
	}
	return out
}
