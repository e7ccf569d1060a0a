package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func claimsIssuedAt(userID string, at time.Time) *Claims {
	return &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(at),
		ExpiresAt: jwt.NewNumericDate(at.Add(SessionTTL)),
	}}
}

func TestMemoryRevoker_Token(t *testing.T) {
	r := NewMemoryRevoker()
	defer r.Close()
	ctx := context.Background()

	c := claimsIssuedAt("user-1", time.Now())
	if revoked, _ := r.IsRevoked(ctx, c); revoked {
		t.Fatal("expected fresh token not to be revoked")
	}
	_ = r.Revoke(ctx, c.ID, c.ExpiresAt.Time)
	if revoked, _ := r.IsRevoked(ctx, c); !revoked {
		t.Error("expected token to be revoked")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Count())
	}
}

func TestMemoryRevoker_UserCutoff(t *testing.T) {
	r := NewMemoryRevoker()
	defer r.Close()
	ctx := context.Background()

	cutoff := time.Now()
	old := claimsIssuedAt("user-1", cutoff.Add(-time.Hour))
	fresh := claimsIssuedAt("user-1", cutoff.Add(time.Second))
	other := claimsIssuedAt("user-2", cutoff.Add(-time.Hour))

	_ = r.RevokeUser(ctx, "user-1", cutoff)

	if revoked, _ := r.IsRevoked(ctx, old); !revoked {
		t.Error("expected token issued before cutoff to be revoked")
	}
	if revoked, _ := r.IsRevoked(ctx, fresh); revoked {
		t.Error("expected token issued after cutoff to stay valid")
	}
	if revoked, _ := r.IsRevoked(ctx, other); revoked {
		t.Error("expected other user's token to stay valid")
	}
}

func TestMemoryRevoker_Cleanup(t *testing.T) {
	r := NewMemoryRevoker()
	defer r.Close()
	ctx := context.Background()

	now := time.Now()
	_ = r.Revoke(ctx, "expired", now.Add(-time.Minute))
	_ = r.Revoke(ctx, "live", now.Add(time.Hour))
	_ = r.RevokeUser(ctx, "old-user", now.Add(-SessionTTL-time.Minute))

	r.cleanup()

	if r.Count() != 1 {
		t.Errorf("expected 1 remaining token, got %d", r.Count())
	}
	if _, ok := r.users["old-user"]; ok {
		t.Error("expected stale user cutoff to be dropped")
	}
}

func TestMemoryRevoker_CloseTwice(t *testing.T) {
	r := NewMemoryRevoker()
	r.Close()
	r.Close()
}

func newRedisRevoker(t *testing.T) (*RedisRevoker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRevoker(client), mr
}

func TestRedisRevoker_Token(t *testing.T) {
	r, mr := newRedisRevoker(t)
	ctx := context.Background()

	c := claimsIssuedAt("user-1", time.Now())
	if err := r.Revoke(ctx, c.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := r.IsRevoked(ctx, c)
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}

	mr.FastForward(2 * time.Hour)
	if revoked, _ := r.IsRevoked(ctx, c); revoked {
		t.Error("expected revocation key to expire with the token")
	}
}

func TestRedisRevoker_UserCutoff(t *testing.T) {
	r, _ := newRedisRevoker(t)
	ctx := context.Background()

	cutoff := time.Now()
	if err := r.RevokeUser(ctx, "user-1", cutoff); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	if revoked, _ := r.IsRevoked(ctx, claimsIssuedAt("user-1", cutoff.Add(-time.Minute))); !revoked {
		t.Error("expected older token to be revoked")
	}
	if revoked, _ := r.IsRevoked(ctx, claimsIssuedAt("user-1", cutoff.Add(2*time.Second))); revoked {
		t.Error("expected newer token to stay valid")
	}
}

func TestRedisRevoker_ExpiredTokenIsNoop(t *testing.T) {
	r, mr := newRedisRevoker(t)
	if err := r.Revoke(context.Background(), "gone", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("expected no keys, got %v", mr.Keys())
	}
}

func TestRedisRevoker_Unavailable(t *testing.T) {
	r, mr := newRedisRevoker(t)
	mr.Close()
	if _, err := r.IsRevoked(context.Background(), claimsIssuedAt("user-1", time.Now())); err == nil {
		t.Error("expected error when redis is down")
	}
}
