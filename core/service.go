package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CredentialLoginPath validates username/password against the user store.
type CredentialLoginPath struct {
	users   UserLookup
	timeout time.Duration
	logger  *slog.Logger
}

func NewCredentialLoginPath(users UserLookup, logger *slog.Logger) *CredentialLoginPath {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialLoginPath{users: users, timeout: 3 * time.Second, logger: logger}
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// equalizeTiming burns one bcrypt comparison so an unknown username costs
// the same as a wrong password.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("attendance-auth-dummy"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// AttemptPasswordLogin returns the identity for a matching username/password.
// Unknown users and wrong passwords both yield ErrInvalidCredentials.
func (s *CredentialLoginPath) AttemptPasswordLogin(ctx context.Context, username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Identity{}, ErrInvalidInput
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			equalizeTiming(password)
			return Identity{}, ErrInvalidCredentials
		}
		s.logger.Error("password login: user lookup", "error", err)
		return Identity{}, ErrUserStoreUnavailable
	}
	if u == nil {
		equalizeTiming(password)
		return Identity{}, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return identityFromRecord(u), nil
}
