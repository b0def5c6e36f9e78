package core

import (
	"sync"
	"time"
)

// SessionToken is the monotonically increasing version of a session.
// Every commit and every clear produces a new, strictly larger token.
type SessionToken uint64

// SessionState is either anonymous or authenticated.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateAuthenticated
)

func (s SessionState) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

// SessionSnapshot is a read-only copy of a controller's state.
type SessionSnapshot struct {
	State       SessionState
	Identity    *Identity
	Token       SessionToken
	CommittedAt time.Time
}

// SessionController is the sole owner of one browser session's state.
// All operations are total and never block on I/O.
type SessionController struct {
	mu          sync.Mutex
	identity    *Identity
	token       SessionToken
	committedAt time.Time
}

// NewSessionController returns an anonymous session with token 0.
func NewSessionController() *SessionController {
	return &SessionController{}
}

// Commit installs identity unconditionally and returns the new token.
// Callers must only commit identities returned by a successful login path.
func (c *SessionController) Commit(identity Identity) SessionToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked(identity)
}

// CommitAt installs identity only if the session token still equals observed,
// the token the attempt read before it suspended. Any clear or commit in
// between makes the attempt stale and it returns ErrAttemptSuperseded.
func (c *SessionController) CommitAt(identity Identity, observed SessionToken) (SessionToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != observed {
		return c.token, ErrAttemptSuperseded
	}
	return c.commitLocked(identity), nil
}

func (c *SessionController) commitLocked(identity Identity) SessionToken {
	id := identity
	c.identity = &id
	c.token++
	c.committedAt = time.Now()
	return c.token
}

// Clear empties the session and bumps the token, whatever the current state.
func (c *SessionController) Clear() SessionToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	c.committedAt = time.Time{}
	c.token++
	return c.token
}

// Current returns the committed identity, if any.
func (c *SessionController) Current() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// Token returns the current session token.
func (c *SessionController) Token() SessionToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Snapshot returns a consistent copy of state, identity and token.
func (c *SessionController) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := SessionSnapshot{Token: c.token, CommittedAt: c.committedAt}
	if c.identity != nil {
		id := *c.identity
		snap.State = StateAuthenticated
		snap.Identity = &id
	}
	return snap
}

// handOff returns the current state and clears the controller in one step, so
// attempts still pending against it are superseded.
func (c *SessionController) handOff() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := SessionSnapshot{Token: c.token, CommittedAt: c.committedAt}
	if c.identity != nil {
		snap.State = StateAuthenticated
		snap.Identity = c.identity
	}
	c.identity = nil
	c.committedAt = time.Time{}
	c.token++
	return snap
}

// restore adopts a persisted record. It never moves the token backwards; a
// record at the same token wins because the store accepted it first.
func (c *SessionController) restore(rec SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.Token < c.token {
		return
	}
	c.token = rec.Token
	if rec.Identity != nil {
		id := *rec.Identity
		c.identity = &id
		c.committedAt = rec.CommittedAt
	} else {
		c.identity = nil
		c.committedAt = time.Time{}
	}
}
