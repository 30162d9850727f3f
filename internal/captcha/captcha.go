// Package captcha validates signup challenges. The real backend stores
// answers in Redis with a TTL and a bounded attempt count; the fake
// backend accepts anything and exists for development configs.
package captcha

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the prefix for captcha keys in Redis.
	KeyPrefix = "captcha:"

	// DefaultTTL bounds how long a challenge stays answerable.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxAttempts bounds guesses per challenge.
	DefaultMaxAttempts = 3
)

// Challenge is a generated captcha presented to the client.
type Challenge struct {
	ID       string `json:"captcha_id"`
	Question string `json:"question"`
}

// Service generates and verifies captcha challenges.
type Service interface {
	Generate(ctx context.Context) (Challenge, error)
	Verify(ctx context.Context, id, answer string) (bool, error)
}

// FakeService accepts every answer. For development only.
type FakeService struct{}

// NewFakeService creates a FakeService.
func NewFakeService() *FakeService {
	return &FakeService{}
}

// Generate returns a fresh challenge id with no real question.
func (s *FakeService) Generate(context.Context) (Challenge, error) {
	return Challenge{ID: uuid.NewString(), Question: "fake"}, nil
}

// Verify always succeeds.
func (s *FakeService) Verify(context.Context, string, string) (bool, error) {
	return true, nil
}

// RedisService backs challenges with Redis.
type RedisService struct {
	client      *redis.Client
	ttl         time.Duration
	maxAttempts int
}

// NewRedisService creates a RedisService with the default TTL and attempt
// bound.
func NewRedisService(client *redis.Client) *RedisService {
	return &RedisService{
		client:      client,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Generate creates a small arithmetic challenge and stores its answer.
func (s *RedisService) Generate(ctx context.Context) (Challenge, error) {
	a, err := randDigit()
	if err != nil {
		return Challenge{}, err
	}
	b, err := randDigit()
	if err != nil {
		return Challenge{}, err
	}

	id := uuid.NewString()
	answer := fmt.Sprintf("%d", a+b)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, answerKey(id), answer, s.ttl)
	pipe.Set(ctx, attemptsKey(id), s.maxAttempts, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return Challenge{}, fmt.Errorf("store captcha: %w", err)
	}

	return Challenge{
		ID:       id,
		Question: fmt.Sprintf("%d + %d = ?", a, b),
	}, nil
}

// Verify checks the answer, burning one attempt. A correct answer or an
// exhausted attempt budget removes the challenge.
func (s *RedisService) Verify(ctx context.Context, id, answer string) (bool, error) {
	left, err := s.client.Decr(ctx, attemptsKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("count captcha attempt: %w", err)
	}
	if left < 0 {
		s.drop(ctx, id)
		return false, nil
	}

	stored, err := s.client.Get(ctx, answerKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("read captcha answer: %w", err)
	}

	if stored != answer {
		if left == 0 {
			s.drop(ctx, id)
		}
		return false, nil
	}

	s.drop(ctx, id)
	return true, nil
}

func (s *RedisService) drop(ctx context.Context, id string) {
	s.client.Del(ctx, answerKey(id), attemptsKey(id))
}

func answerKey(id string) string {
	return KeyPrefix + "answer:" + id
}

func attemptsKey(id string) string {
	return KeyPrefix + "attempts:" + id
}

func randDigit() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10))
	if err != nil {
		return 0, fmt.Errorf("generate captcha operand: %w", err)
	}
	return n.Int64(), nil
}
