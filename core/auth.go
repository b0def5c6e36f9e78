package core

import (
	"errors"
	"time"
)

// Identity is the authenticated principal held by a session.
type Identity struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Username   string `json:"username"`
}

// Valid reports whether the identity carries the fields a committed session needs.
func (i Identity) Valid() bool {
	return i.ID > 0 && i.Username != ""
}

func identityFromRecord(u *UserRecord) Identity {
	return Identity{
		ID:         u.ID,
		Name:       u.Name,
		Role:       u.Role,
		Department: u.Department,
		Username:   u.Username,
	}
}

var (
	// ErrInvalidCredentials is returned when username/password is wrong or the user does not exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidInput is returned when a required login field is empty.
	ErrInvalidInput = errors.New("username and password are required")
	// ErrUserStoreUnavailable is returned when the user store cannot be queried.
	ErrUserStoreUnavailable = errors.New("user store unavailable")
	// ErrUserNotFound is returned by repositories when no row matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by Create when the username is taken.
	ErrUserExists = errors.New("username already exists")
	// ErrAttemptSuperseded is returned when a clear or another commit happened while a login attempt was pending.
	ErrAttemptSuperseded = errors.New("login attempt superseded by a newer session change")
)

// LoginMethod tags how a login attempt was made.
type LoginMethod string

const (
	MethodPassword LoginMethod = "password"
	MethodFace     LoginMethod = "face"
)

// LoginAttempt describes one credential or facial submission and carries its result.
// Raw credentials and frames are not retained.
type LoginAttempt struct {
	ID            string
	Method        LoginMethod
	Username      string
	FrameBytes    int
	ObservedToken SessionToken
	StartedAt     time.Time

	Identity *Identity
	Token    SessionToken
	Err      error
}

// Succeeded reports whether the attempt committed an identity.
func (a *LoginAttempt) Succeeded() bool {
	return a.Err == nil && a.Identity != nil
}

func newLoginAttempt(method LoginMethod, observed SessionToken) *LoginAttempt {
	return &LoginAttempt{
		ID:            newAttemptID(),
		Method:        method,
		ObservedToken: observed,
		StartedAt:     time.Now(),
	}
}
