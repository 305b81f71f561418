package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeMismatch covers a wrong, expired or already consumed code. The
// three cases are indistinguishable on purpose.
var ErrCodeMismatch = errors.New("code is invalid or expired")

// CodeStore issues and checks short-lived one-time codes keyed by purpose
// and email.
type CodeStore interface {
	Issue(ctx context.Context, purpose, email string) (string, error)
	Verify(ctx context.Context, purpose, email, code string) error
}

// RedisCodes keeps codes in redis with a TTL, so expiry needs no sweeper
// and codes survive a server restart.
type RedisCodes struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCodes(rdb *redis.Client, ttl time.Duration) RedisCodes {
	return RedisCodes{rdb: rdb, ttl: ttl}
}

func codeKey(purpose, email string) string {
	return "code:" + purpose + ":" + email
}

// Issue generates a fresh 6-digit code, replacing any outstanding one for
// the same purpose and email.
func (c RedisCodes) Issue(ctx context.Context, purpose, email string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	if err := c.rdb.Set(ctx, codeKey(purpose, email), code, c.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing code: %w", err)
	}
	return code, nil
}

// Verify consumes the code on success so it cannot be replayed.
func (c RedisCodes) Verify(ctx context.Context, purpose, email, code string) error {
	key := codeKey(purpose, email)

	stored, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCodeMismatch
	}
	if err != nil {
		return fmt.Errorf("loading code: %w", err)
	}
	if stored != code {
		return ErrCodeMismatch
	}

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("consuming code: %w", err)
	}
	return nil
}
