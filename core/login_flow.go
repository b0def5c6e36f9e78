package core

import (
	"context"
	"errors"
	"log/slog"
)

// LoginFlow drives both login paths against a browser session's controller.
// It is the only place that commits identities returned by the paths.
type LoginFlow struct {
	sessions    *SessionRegistry
	credentials *CredentialLoginPath
	facial      *FacialLoginPath
	budget      AttemptBudget
	metrics     LoginRecorder
	retryFace   bool
	logger      *slog.Logger
}

// LoginFlowOptions configures optional LoginFlow behaviour.
type LoginFlowOptions struct {
	// Budget limits unrecognized facial attempts; nil disables the limit.
	Budget AttemptBudget
	// Metrics counts attempt outcomes; nil disables counting.
	Metrics LoginRecorder
	// RetryOnUnavailable retries a facial attempt once when the service is unavailable.
	RetryOnUnavailable bool
	Logger             *slog.Logger
}

func NewLoginFlow(sessions *SessionRegistry, credentials *CredentialLoginPath, facial *FacialLoginPath, opts LoginFlowOptions) *LoginFlow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginFlow{
		sessions:    sessions,
		credentials: credentials,
		facial:      facial,
		budget:      opts.Budget,
		metrics:     opts.Metrics,
		retryFace:   opts.RetryOnUnavailable,
		logger:      logger,
	}
}

// Session returns a snapshot of the browser session identified by key.
func (f *LoginFlow) Session(ctx context.Context, key string) SessionSnapshot {
	return f.sessions.Controller(ctx, key).Snapshot()
}

// Current returns the identity committed to the browser session identified by key.
func (f *LoginFlow) Current(ctx context.Context, key string) (Identity, bool) {
	return f.sessions.Controller(ctx, key).Current()
}

// RotateSession moves the session identified by key to a fresh browser
// session id and returns it. The old id is left anonymous.
func (f *LoginFlow) RotateSession(ctx context.Context, key string) string {
	next := NewBrowserSessionID()
	f.sessions.Rotate(ctx, key, next)
	return next
}

// PasswordLogin authenticates username/password and commits the identity.
func (f *LoginFlow) PasswordLogin(ctx context.Context, key, username, password string) (*LoginAttempt, error) {
	att, err := f.passwordLogin(ctx, key, username, password)
	f.record(ctx, att.Method, err)
	return att, err
}

func (f *LoginFlow) passwordLogin(ctx context.Context, key, username, password string) (*LoginAttempt, error) {
	ctrl := f.sessions.Controller(ctx, key)
	att := newLoginAttempt(MethodPassword, ctrl.Token())
	att.Username = username

	id, err := f.credentials.AttemptPasswordLogin(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidInput) {
			f.logger.Info("password login rejected", "attempt", att.ID, "session", key, "username", att.Username, "reason", err.Error())
		}
		att.Err = err
		return att, err
	}
	return f.commit(ctx, key, ctrl, att, id)
}

// FacialLogin runs one facial login gesture for frame and commits the identity on a match.
func (f *LoginFlow) FacialLogin(ctx context.Context, key, frame string) (*LoginAttempt, error) {
	att, err := f.facialLogin(ctx, key, frame)
	f.record(ctx, att.Method, err)
	return att, err
}

func (f *LoginFlow) facialLogin(ctx context.Context, key, frame string) (*LoginAttempt, error) {
	ctrl := f.sessions.Controller(ctx, key)
	att := newLoginAttempt(MethodFace, ctrl.Token())
	att.FrameBytes = len(frame)

	if f.budget != nil {
		remaining, err := f.budget.Remaining(ctx, key)
		if err != nil {
			f.logger.Error("facial login: read attempt budget", "session", key, "error", err)
		} else if remaining <= 0 {
			att.Err = facialError(FaceAttemptsExhausted, "", nil)
			return att, att.Err
		}
	}

	retries := 0
	if f.retryFace {
		retries = 1
	}
	id, err := f.facial.AttemptFacialLoginWithRetry(ctx, key, frame, retries)
	if err != nil {
		switch FacialErrorKindOf(err) {
		case FaceNone, FaceUnknown:
			f.consumeAttempt(ctx, key)
		}
		att.Err = err
		return att, err
	}
	return f.commit(ctx, key, ctrl, att, id)
}

func (f *LoginFlow) record(ctx context.Context, method LoginMethod, err error) {
	if f.metrics == nil {
		return
	}
	if mErr := f.metrics.Record(ctx, method, loginOutcome(err)); mErr != nil {
		f.logger.Debug("record login metric", "method", string(method), "error", mErr)
	}
}

func (f *LoginFlow) consumeAttempt(ctx context.Context, key string) {
	if f.budget == nil {
		return
	}
	remaining, err := f.budget.Consume(ctx, key)
	if err != nil {
		f.logger.Error("facial login: consume attempt", "session", key, "error", err)
		return
	}
	if remaining == 0 {
		f.logger.Warn("facial login attempts exhausted", "session", key)
	}
}

// commit installs id only if no clear or other commit happened since the
// attempt observed the session token.
func (f *LoginFlow) commit(ctx context.Context, key string, ctrl *SessionController, att *LoginAttempt, id Identity) (*LoginAttempt, error) {
	tok, err := ctrl.CommitAt(id, att.ObservedToken)
	if err != nil {
		f.logger.Info("login discarded: session changed while pending",
			"attempt", att.ID, "session", key, "method", string(att.Method), "observed", att.ObservedToken, "current", tok)
		att.Err = err
		return att, err
	}
	if err := f.sessions.Persist(ctx, key, ctrl); errors.Is(err, ErrAttemptSuperseded) {
		f.logger.Info("login discarded: session changed in another process",
			"attempt", att.ID, "session", key, "method", string(att.Method), "token", tok)
		att.Err = err
		return att, err
	}
	f.resetBudget(ctx, key)
	att.Identity = &id
	att.Token = tok
	f.logger.Info("login committed", "attempt", att.ID, "session", key, "method", string(att.Method), "user", id.Username, "token", tok)
	return att, nil
}

// maxClearRounds bounds how often Logout re-clears after losing a store race.
const maxClearRounds = 3

// Logout clears the session unconditionally and returns the new token. If
// another process wrote a newer record meanwhile, the clear is applied on
// top of it.
func (f *LoginFlow) Logout(ctx context.Context, key string) SessionToken {
	ctrl := f.sessions.Controller(ctx, key)
	var tok SessionToken
	for i := 0; i < maxClearRounds; i++ {
		tok = ctrl.Clear()
		if err := f.sessions.Persist(ctx, key, ctrl); !errors.Is(err, ErrAttemptSuperseded) {
			break
		}
	}
	f.resetBudget(ctx, key)
	return tok
}

func (f *LoginFlow) resetBudget(ctx context.Context, key string) {
	if f.budget == nil {
		return
	}
	if err := f.budget.Reset(ctx, key); err != nil {
		f.logger.Error("reset attempt budget", "session", key, "error", err)
	}
}
