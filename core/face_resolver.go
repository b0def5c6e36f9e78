package core

import (
	"context"
	"errors"
)

// ErrFaceNotFound is returned when a detected face maps to no account.
var ErrFaceNotFound = errors.New("face not mapped to an account")

// FaceResolver maps a detection hint to an account.
type FaceResolver interface {
	ResolveFace(ctx context.Context, hint FaceHint) (*UserRecord, error)
}

// DefaultFaceMatchMaxDistance is the cosine distance above which an embedding is not a match.
const DefaultFaceMatchMaxDistance = 0.4

// StoreFaceResolver resolves hints against the user store: an enrolled subject
// id wins; otherwise the nearest enrolled embedding within maxDistance.
type StoreFaceResolver struct {
	users       UserLookup
	maxDistance float64
}

func NewStoreFaceResolver(users UserLookup, maxDistance float64) *StoreFaceResolver {
	if maxDistance <= 0 {
		maxDistance = DefaultFaceMatchMaxDistance
	}
	return &StoreFaceResolver{users: users, maxDistance: maxDistance}
}

func (r *StoreFaceResolver) ResolveFace(ctx context.Context, hint FaceHint) (*UserRecord, error) {
	if hint.Subject != "" {
		u, err := r.users.FindByFaceSubject(ctx, hint.Subject)
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrFaceNotFound
		}
		return u, err
	}
	if len(hint.Embedding) == 0 {
		return nil, ErrFaceNotFound
	}
	u, distance, err := r.users.FindNearestFace(ctx, hint.Embedding)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrFaceNotFound
	}
	if err != nil {
		return nil, err
	}
	if distance > r.maxDistance {
		return nil, ErrFaceNotFound
	}
	return u, nil
}
