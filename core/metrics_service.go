package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// LoginMetricsKey is the Redis hash holding login outcome counters.
const LoginMetricsKey = "attendance:metrics:logins"

// LoginRecorder receives the outcome of every finished login attempt.
type LoginRecorder interface {
	Record(ctx context.Context, method LoginMethod, outcome string) error
}

// LoginCount is one counter of the login metrics snapshot.
type LoginCount struct {
	Method  LoginMethod `json:"method"`
	Outcome string      `json:"outcome"`
	Count   int64       `json:"count"`
}

// MetricsService keeps login outcome counters in Redis so every API process
// contributes to the same totals.
type MetricsService struct {
	redis redis.UniversalClient
}

func NewMetricsService(client redis.UniversalClient) *MetricsService {
	return &MetricsService{redis: client}
}

func (s *MetricsService) Record(ctx context.Context, method LoginMethod, outcome string) error {
	return s.redis.HIncrBy(ctx, LoginMetricsKey, string(method)+":"+outcome, 1).Err()
}

// Logins returns all counters recorded so far.
func (s *MetricsService) Logins(ctx context.Context) ([]LoginCount, error) {
	vals, err := s.redis.HGetAll(ctx, LoginMetricsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall metrics: %w", err)
	}
	res := make([]LoginCount, 0, len(vals))
	for field, v := range vals {
		method, outcome, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		res = append(res, LoginCount{Method: LoginMethod(method), Outcome: outcome, Count: n})
	}
	return res, nil
}

// loginOutcome names the result of an attempt for metrics.
func loginOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := FacialErrorKindOf(err); kind != 0 {
		return kind.String()
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAttemptSuperseded):
		return "superseded"
	case errors.Is(err, ErrUserStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
