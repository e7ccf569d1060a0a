package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker tracks sessions that must no longer be accepted: single tokens
// (logout) and every token a user held before a cutoff (password change).
type Revoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeUser(ctx context.Context, userID string, at time.Time) error
	IsRevoked(ctx context.Context, claims *Claims) (bool, error)
}

// issuedBefore reports whether the token was issued strictly before the
// cutoff second.
func issuedBefore(claims *Claims, cutoff int64) bool {
	if claims.IssuedAt == nil {
		return true
	}
	return claims.IssuedAt.Unix() < cutoff
}

// MemoryRevoker keeps revocations in process. Entries are dropped once the
// tokens they cover would have expired anyway.
type MemoryRevoker struct {
	mu    sync.RWMutex
	jtis  map[string]time.Time // jti -> token expiry
	users map[string]int64     // user id -> cutoff (unix seconds)
	done  chan struct{}
	now   func() time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	r := &MemoryRevoker{
		jtis:  make(map[string]time.Time),
		users: make(map[string]int64),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go r.cleanupLoop()
	return r
}

func (r *MemoryRevoker) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jtis[jti] = expiresAt
	return nil
}

func (r *MemoryRevoker) RevokeUser(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = at.Unix()
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, claims *Claims) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.jtis[claims.ID]; ok {
		return true, nil
	}
	if cutoff, ok := r.users[claims.Subject]; ok && issuedBefore(claims, cutoff) {
		return true, nil
	}
	return false, nil
}

// Count returns the number of individually revoked tokens.
func (r *MemoryRevoker) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jtis)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (r *MemoryRevoker) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *MemoryRevoker) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *MemoryRevoker) cleanup() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for jti, exp := range r.jtis {
		if now.After(exp) {
			delete(r.jtis, jti)
		}
	}
	// No token issued before the cutoff can outlive cutoff+SessionTTL.
	for uid, cutoff := range r.users {
		if now.After(time.Unix(cutoff, 0).Add(SessionTTL)) {
			delete(r.users, uid)
		}
	}
}

// RedisRevoker shares revocations between instances. Keys expire with the
// tokens they cover.
type RedisRevoker struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRevoker(client redis.UniversalClient) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "revoked:", now: time.Now}
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+"jti:"+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevoker) RevokeUser(ctx context.Context, userID string, at time.Time) error {
	if err := r.client.Set(ctx, r.prefix+"user:"+userID, at.Unix(), SessionTTL).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, claims *Claims) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+"jti:"+claims.ID).Result()
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	raw, err := r.client.Get(ctx, r.prefix+"user:"+claims.Subject).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check user revocation: %w", err)
	}
	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse user revocation: %w", err)
	}
	return issuedBefore(claims, cutoff), nil
}
