package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// FacialErrorKind classifies a failed facial login.
type FacialErrorKind int

const (
	FaceBusy FacialErrorKind = iota + 1
	FaceNone
	FaceMultiple
	FaceUnknown
	FaceServiceUnavailable
	FaceAttemptsExhausted
)

func (k FacialErrorKind) String() string {
	switch k {
	case FaceBusy:
		return "busy"
	case FaceNone:
		return "no_face"
	case FaceMultiple:
		return "multiple_faces"
	case FaceUnknown:
		return "unknown_face"
	case FaceServiceUnavailable:
		return "service_unavailable"
	case FaceAttemptsExhausted:
		return "attempts_exhausted"
	default:
		return "unknown"
	}
}

// FacialLoginError is the typed failure of a facial login attempt.
type FacialLoginError struct {
	Kind    FacialErrorKind
	Message string
	Err     error
}

func (e *FacialLoginError) Error() string {
	if e.Message == "" {
		return "facial login: " + e.Kind.String()
	}
	return fmt.Sprintf("facial login: %s: %s", e.Kind, e.Message)
}

func (e *FacialLoginError) Unwrap() error { return e.Err }

// Retryable reports whether the same frame may be resubmitted.
// Only service failures qualify; the other kinds need a new capture or another method.
func (e *FacialLoginError) Retryable() bool {
	return e.Kind == FaceServiceUnavailable
}

// Guidance is the user-facing message for the failure kind.
func (e *FacialLoginError) Guidance() string {
	switch e.Kind {
	case FaceBusy:
		return "A face check is already in progress, please wait."
	case FaceNone:
		return "No face detected, please retry facing the camera."
	case FaceMultiple:
		return "More than one face detected. Only one person may be in the frame."
	case FaceUnknown:
		return "Face not recognized. Try again or sign in with your password."
	case FaceServiceUnavailable:
		return "Face recognition is unavailable right now. Retry or sign in with your password."
	case FaceAttemptsExhausted:
		return "Too many unrecognized attempts. Please sign in with your password."
	default:
		return "Facial login failed."
	}
}

func facialError(kind FacialErrorKind, message string, err error) *FacialLoginError {
	return &FacialLoginError{Kind: kind, Message: message, Err: err}
}

// FacialErrorKindOf returns the kind carried by err, or 0 when err is not a facial error.
func FacialErrorKindOf(err error) FacialErrorKind {
	var fe *FacialLoginError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// FacialLoginPath orchestrates one facial login gesture. It never touches a session.
type FacialLoginPath struct {
	detector FaceDetector
	faces    FaceResolver
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewFacialLoginPath(detector FaceDetector, faces FaceResolver, logger *slog.Logger) *FacialLoginPath {
	if logger == nil {
		logger = slog.Default()
	}
	return &FacialLoginPath{
		detector: detector,
		faces:    faces,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

func (p *FacialLoginPath) acquire(gesture string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[gesture]; busy {
		return false
	}
	p.inFlight[gesture] = struct{}{}
	return true
}

func (p *FacialLoginPath) release(gesture string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, gesture)
}

// AttemptFacialLogin runs detection for frame and resolves a match to an identity.
// gesture identifies the login interaction; a second call for the same gesture
// while one is in flight fails with FaceBusy.
func (p *FacialLoginPath) AttemptFacialLogin(ctx context.Context, gesture, frame string) (Identity, error) {
	return p.AttemptFacialLoginWithRetry(ctx, gesture, frame, 0)
}

// AttemptFacialLoginWithRetry is AttemptFacialLogin that repeats detection up
// to retries more times while the service is unavailable. The gesture stays in
// flight across the retries.
func (p *FacialLoginPath) AttemptFacialLoginWithRetry(ctx context.Context, gesture, frame string, retries int) (Identity, error) {
	if !p.acquire(gesture) {
		p.logger.Info("facial login rejected: attempt in flight", "session", gesture)
		return Identity{}, facialError(FaceBusy, "", nil)
	}
	defer p.release(gesture)

	id, err := p.detect(ctx, gesture, frame)
	for i := 0; i < retries && FacialErrorKindOf(err) == FaceServiceUnavailable; i++ {
		p.logger.Info("facial login: retrying after service failure", "session", gesture, "retry", i+1, "frame_bytes", len(frame))
		id, err = p.detect(ctx, gesture, frame)
	}
	return id, err
}

func (p *FacialLoginPath) detect(ctx context.Context, gesture, frame string) (Identity, error) {
	out := p.detector.Detect(ctx, frame)
	switch out.Kind {
	case DetectionMatched:
		return p.resolve(ctx, gesture, out.Hint)
	case DetectionNoFace:
		p.logger.Info("facial login: no face", "session", gesture)
		return Identity{}, facialError(FaceNone, out.Message, nil)
	case DetectionMultipleFaces:
		p.logger.Info("facial login: multiple faces", "session", gesture, "face_count", out.FaceCount)
		return Identity{}, facialError(FaceMultiple, out.Message, nil)
	default:
		p.logger.Warn("facial login: detection unavailable", "session", gesture, "status", out.Status, "message", out.Message)
		return Identity{}, facialError(FaceServiceUnavailable, out.Message, nil)
	}
}

func (p *FacialLoginPath) resolve(ctx context.Context, gesture string, hint FaceHint) (Identity, error) {
	u, err := p.faces.ResolveFace(ctx, hint)
	switch {
	case errors.Is(err, ErrFaceNotFound):
		p.logger.Info("facial login: face not mapped to an account", "session", gesture, "subject", hint.Subject)
		return Identity{}, facialError(FaceUnknown, "", err)
	case err != nil:
		p.logger.Error("facial login: resolve face", "session", gesture, "error", err)
		return Identity{}, facialError(FaceServiceUnavailable, "user store unavailable", err)
	}
	return identityFromRecord(u), nil
}
