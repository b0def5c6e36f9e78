package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRecordPrefix is the Redis key prefix for persisted browser sessions.
const SessionRecordPrefix = "attendance:session:"

var (
	// ErrSessionRecordNotFound is returned when no record exists for a browser session.
	ErrSessionRecordNotFound = errors.New("session record not found")
	// ErrSessionRecordInvalid is returned when a stored document cannot be decoded.
	// The record returned alongside it still carries the stored token when readable.
	ErrSessionRecordInvalid = errors.New("session record invalid")
)

// SessionRecord is the persisted form of a SessionSnapshot.
// A record with a nil Identity is a tombstone left by a clear.
type SessionRecord struct {
	Token       SessionToken `json:"token"`
	Identity    *Identity    `json:"identity,omitempty"`
	CommittedAt time.Time    `json:"committed_at,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r SessionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// SessionRecordStore is the document-store boundary for session records.
type SessionRecordStore interface {
	Get(ctx context.Context, key string) (SessionRecord, error)
	// Token returns only the stored token, for cheap freshness checks.
	Token(ctx context.Context, key string) (SessionToken, error)
	// SaveIfNewer stores rec unless a record with an equal or larger token is already present.
	SaveIfNewer(ctx context.Context, key string, rec SessionRecord) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RedisSessionStore keeps session records in Redis hashes {token, doc} with a TTL.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: SessionRecordPrefix}
}

// saveIfNewerScript compares the stored token before writing so an older
// snapshot that reaches Redis late cannot overwrite a newer one.
var saveIfNewerScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'token')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'doc', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func (s *RedisSessionStore) SaveIfNewer(ctx context.Context, key string, rec SessionRecord) (bool, error) {
	if key == "" {
		return false, errors.New("session key cannot be empty")
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return false, errors.New("session record is expired")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal session record: %w", err)
	}
	res, err := saveIfNewerScript.Run(ctx, s.client, []string{s.prefix + key},
		strconv.FormatUint(uint64(rec.Token), 10), string(doc), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis save session: %w", err)
	}
	return res == 1, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) (SessionRecord, error) {
	if key == "" {
		return SessionRecord{}, ErrSessionRecordNotFound
	}
	fields, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return SessionRecord{}, fmt.Errorf("redis get session: %w", err)
	}
	doc, ok := fields["doc"]
	if !ok {
		return SessionRecord{}, ErrSessionRecordNotFound
	}
	var rec SessionRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		tok, _ := strconv.ParseUint(fields["token"], 10, 64)
		return SessionRecord{Token: SessionToken(tok)}, fmt.Errorf("%w: %v", ErrSessionRecordInvalid, err)
	}
	return rec, nil
}

func (s *RedisSessionStore) Token(ctx context.Context, key string) (SessionToken, error) {
	if key == "" {
		return 0, ErrSessionRecordNotFound
	}
	v, err := s.client.HGet(ctx, s.prefix+key, "token").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrSessionRecordNotFound
		}
		return 0, fmt.Errorf("redis get session token: %w", err)
	}
	tok, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: token %q", ErrSessionRecordInvalid, v)
	}
	return SessionToken(tok), nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}
