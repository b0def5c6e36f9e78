package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func hashForTest(t testing.TB, password string) string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(b)
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu         sync.Mutex
	nextID     int64
	users      map[string]*UserRecord
	embeddings map[string][]float32
	failLookup error
	logins     map[int64]time.Time
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users:      make(map[string]*UserRecord),
		embeddings: make(map[string][]float32),
		logins:     make(map[int64]time.Time),
	}
}

func (r *memUserRepo) add(t testing.TB, username, password, role string) *UserRecord {
	t.Helper()
	id, err := r.Create(context.Background(), UserCreateInput{
		Username:     username,
		Name:         username + " example",
		Email:        username + "@example.com",
		Department:   "Sales",
		Role:         role,
		PasswordHash: hashForTest(t, password),
		FaceSubject:  username,
	})
	if err != nil {
		t.Fatalf("add user %s: %v", username, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u
		}
	}
	t.Fatalf("user %s missing after create", username)
	return nil
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLookup != nil {
		return nil, r.failLookup
	}
	u, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) FindByFaceSubject(_ context.Context, subject string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLookup != nil {
		return nil, r.failLookup
	}
	for _, u := range r.users {
		if u.FaceSubject != nil && *u.FaceSubject == subject {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memUserRepo) FindNearestFace(_ context.Context, embedding []float32) (*UserRecord, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLookup != nil {
		return nil, 0, r.failLookup
	}
	var best *UserRecord
	bestDist := math.Inf(1)
	for name, e := range r.embeddings {
		if len(e) != len(embedding) {
			continue
		}
		if d := cosineDistance(e, embedding); d < bestDist {
			bestDist = d
			best = r.users[name]
		}
	}
	if best == nil {
		return nil, 0, ErrUserNotFound
	}
	cp := *best
	return &cp, bestDist, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func (r *memUserRepo) Create(_ context.Context, in UserCreateInput) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[in.Username]; ok {
		return 0, ErrUserExists
	}
	r.nextID++
	u := &UserRecord{
		ID:           r.nextID,
		Username:     in.Username,
		Name:         in.Name,
		Email:        in.Email,
		Department:   in.Department,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		CreatedAt:    time.Now(),
	}
	if in.FaceSubject != "" {
		s := in.FaceSubject
		u.FaceSubject = &s
	}
	r.users[in.Username] = u
	return u.ID, nil
}

func (r *memUserRepo) HasAdmin(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Role == "admin" {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepo) List(_ context.Context, page, perPage int) ([]UserListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]UserListItem, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, UserListItem{
			ID:          u.ID,
			Username:    u.Username,
			Name:        u.Name,
			Department:  u.Department,
			Role:        u.Role,
			FaceEnabled: u.FaceSubject != nil,
			LastLoginAt: u.LastLoginAt,
			CreatedAt:   u.CreatedAt,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start := min((page-1)*perPage, len(all))
	end := min(start+perPage, len(all))
	return all[start:end], len(all), nil
}

func (r *memUserRepo) EnrollFace(_ context.Context, username, subject string, embedding []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.FaceSubject = nil
	if subject != "" {
		u.FaceSubject = &subject
	}
	delete(r.embeddings, username)
	if len(embedding) > 0 {
		r.embeddings[username] = embedding
	}
	return nil
}

func (r *memUserRepo) RecordLogin(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins[id] = at
	for _, u := range r.users {
		if u.ID == id {
			t := at
			u.LastLoginAt = &t
		}
	}
	return nil
}

// fakeDetector returns scripted outcomes; the last one repeats.
// When block is set, Detect waits for it to close before answering.
type fakeDetector struct {
	mu       sync.Mutex
	outcomes []DetectionOutcome
	calls    int
	block    chan struct{}
	started  chan struct{}
}

func newFakeDetector(outcomes ...DetectionOutcome) *fakeDetector {
	return &fakeDetector{outcomes: outcomes, started: make(chan struct{}, 16)}
}

func (d *fakeDetector) Detect(ctx context.Context, _ string) DetectionOutcome {
	d.mu.Lock()
	idx := min(d.calls, len(d.outcomes)-1)
	d.calls++
	out := d.outcomes[idx]
	block := d.block
	d.mu.Unlock()

	select {
	case d.started <- struct{}{}:
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return TransportError(0, ctx.Err().Error())
		}
	}
	return out
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// testFrame is a valid base64 payload.
const testFrame = "aGVsbG8gd29ybGQ="
