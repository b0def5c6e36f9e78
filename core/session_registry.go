package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type registryEntry struct {
	ctrl     *SessionController
	lastSeen time.Time
	// dirty is set while the store lacks the controller's latest state.
	dirty bool
}

// SessionRegistry maps browser session ids to their controllers and mirrors
// controller state into a SessionRecordStore shared by every API process.
type SessionRegistry struct {
	store  SessionRecordStore
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
	loads   singleflight.Group
}

// SessionStats summarises the sessions held in memory.
type SessionStats struct {
	Tracked       int `json:"tracked"`
	Authenticated int `json:"authenticated"`
	Unpersisted   int `json:"unpersisted"`
}

func NewSessionRegistry(store SessionRecordStore, ttl time.Duration, logger *slog.Logger) *SessionRegistry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// Controller returns the controller for key. It is restored from the record
// store on first access and moved forward whenever the store holds a newer
// token, so a clear handled by another process is seen here too. An expired
// or invalid record is cleared.
func (r *SessionRegistry) Controller(ctx context.Context, key string) *SessionController {
	if ctrl := r.lookup(key); ctrl != nil {
		r.refresh(ctx, key, ctrl)
		return ctrl
	}
	v, _, _ := r.loads.Do(key, func() (interface{}, error) {
		if ctrl := r.lookup(key); ctrl != nil {
			return ctrl, nil
		}
		ctrl := NewSessionController()
		if r.store != nil {
			r.load(ctx, key, ctrl)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.entries[key]; ok {
			e.lastSeen = time.Now()
			return e.ctrl, nil
		}
		r.entries[key] = &registryEntry{ctrl: ctrl, lastSeen: time.Now()}
		return ctrl, nil
	})
	return v.(*SessionController)
}

func (r *SessionRegistry) lookup(key string) *SessionController {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.lastSeen = time.Now()
		return e.ctrl
	}
	return nil
}

// refresh reloads ctrl when the stored token is ahead of it.
func (r *SessionRegistry) refresh(ctx context.Context, key string, ctrl *SessionController) {
	if r.store == nil {
		return
	}
	tok, err := r.store.Token(ctx, key)
	switch {
	case errors.Is(err, ErrSessionRecordNotFound):
		return
	case err != nil && !errors.Is(err, ErrSessionRecordInvalid):
		r.logger.Warn("read session token", "session", key, "error", err)
		return
	case err == nil && tok <= ctrl.Token():
		return
	}
	r.load(ctx, key, ctrl)
}

// load applies the stored record for key onto ctrl. A read failure leaves ctrl
// untouched and the record in place; the next lookup tries again.
func (r *SessionRegistry) load(ctx context.Context, key string, ctrl *SessionController) {
	rec, err := r.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrSessionRecordNotFound):
		return
	case errors.Is(err, ErrSessionRecordInvalid):
		r.logger.Warn("session record unreadable, clearing", "session", key, "token", rec.Token, "error", err)
		if rec.Token == 0 {
			if delErr := r.store.Delete(ctx, key); delErr != nil {
				r.logger.Error("delete session record", "session", key, "error", delErr)
			}
			return
		}
		ctrl.restore(SessionRecord{Token: rec.Token})
		ctrl.Clear()
		r.Persist(ctx, key, ctrl)
		return
	case err != nil:
		r.logger.Warn("read session record", "session", key, "error", err)
		return
	}

	ctrl.restore(rec)
	if rec.Identity == nil {
		return
	}
	if rec.Expired(time.Now()) || !rec.Identity.Valid() {
		r.logger.Info("persisted session invalid or expired, clearing", "session", key, "token", rec.Token)
		ctrl.Clear()
		r.Persist(ctx, key, ctrl)
	}
}

// Persist writes the controller's current snapshot to the record store.
// A write error keeps the entry pinned in memory until a later Flush lands it.
// When the store already holds an equal or newer token, ctrl adopts the stored
// record and Persist returns ErrAttemptSuperseded.
func (r *SessionRegistry) Persist(ctx context.Context, key string, ctrl *SessionController) error {
	if r.store == nil {
		return nil
	}
	snap := ctrl.Snapshot()
	rec := SessionRecord{
		Token:       snap.Token,
		Identity:    snap.Identity,
		CommittedAt: snap.CommittedAt,
		ExpiresAt:   time.Now().Add(r.ttl),
	}
	saved, err := r.store.SaveIfNewer(ctx, key, rec)
	if err != nil {
		r.setDirty(key, ctrl, true)
		r.logger.Error("persist session record", "session", key, "token", snap.Token, "error", err)
		return err
	}
	r.setDirty(key, ctrl, false)
	if saved {
		return nil
	}

	stored, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("session record conflict, stored record unreadable", "session", key, "token", snap.Token, "error", err)
		return ErrAttemptSuperseded
	}
	if stored.Token == snap.Token && sameIdentity(stored.Identity, snap.Identity) {
		return nil
	}
	r.logger.Info("session changed in the store, adopting stored record",
		"session", key, "token", snap.Token, "stored", stored.Token)
	ctrl.restore(stored)
	return ErrAttemptSuperseded
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r *SessionRegistry) setDirty(key string, ctrl *SessionController, dirty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok && e.ctrl == ctrl {
		e.dirty = dirty
	}
}

// Flush retries persisting entries whose last write failed and returns how
// many are still pending.
func (r *SessionRegistry) Flush(ctx context.Context) int {
	type pending struct {
		key  string
		ctrl *SessionController
	}
	r.mu.Lock()
	var todo []pending
	for key, e := range r.entries {
		if e.dirty {
			todo = append(todo, pending{key, e.ctrl})
		}
	}
	r.mu.Unlock()

	left := 0
	for _, p := range todo {
		if err := r.Persist(ctx, p.key, p.ctrl); err != nil && !errors.Is(err, ErrAttemptSuperseded) {
			left++
		}
	}
	return left
}

// Rotate moves the state of session from to a new session id to. The old
// session is cleared in the same step, so a login still pending on it is
// superseded and the old id can no longer reach the identity.
func (r *SessionRegistry) Rotate(ctx context.Context, from, to string) *SessionController {
	old := r.Controller(ctx, from)
	snap := old.handOff()
	_ = r.Persist(ctx, from, old)

	ctrl := NewSessionController()
	ctrl.restore(SessionRecord{Token: snap.Token, Identity: snap.Identity, CommittedAt: snap.CommittedAt})
	r.mu.Lock()
	r.entries[to] = &registryEntry{ctrl: ctrl, lastSeen: time.Now()}
	r.mu.Unlock()
	_ = r.Persist(ctx, to, ctrl)
	return ctrl
}

// Sweep drops controllers idle for longer than idle. Persisted records are
// kept so the session can be restored on the next request; entries the store
// has not caught up with stay in memory.
func (r *SessionRegistry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, e := range r.entries {
		if e.dirty {
			continue
		}
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *SessionRegistry) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if left := r.Flush(ctx); left > 0 {
				r.logger.Warn("session records still unpersisted", "count", left)
			}
			if n := r.Sweep(idle); n > 0 {
				r.logger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}

// Stats counts tracked and authenticated sessions.
func (r *SessionRegistry) Stats() SessionStats {
	r.mu.Lock()
	ctrls := make([]*SessionController, 0, len(r.entries))
	unpersisted := 0
	for _, e := range r.entries {
		ctrls = append(ctrls, e.ctrl)
		if e.dirty {
			unpersisted++
		}
	}
	r.mu.Unlock()

	st := SessionStats{Tracked: len(ctrls), Unpersisted: unpersisted}
	for _, c := range ctrls {
		if _, ok := c.Current(); ok {
			st.Authenticated++
		}
	}
	return st
}
