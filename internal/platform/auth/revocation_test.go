package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRevoke_and_IsRevoked(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()
	ctx := context.Background()

	jti := "token-abc-123"
	if err := store.Revoke(ctx, jti, "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, jti)
	if err != nil || !revoked {
		t.Errorf("expected JTI %q to be revoked, got %v (%v)", jti, revoked, err)
	}
}

func TestIsRevoked_NotRevoked(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()

	if revoked, _ := store.IsRevoked(context.Background(), "unknown-jti"); revoked {
		t.Error("expected unknown JTI to not be revoked")
	}
}

func TestIsUserRevoked_Cutoff(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()
	ctx := context.Background()

	cutoff := time.Now()
	if err := store.RevokeAllForUser(ctx, "user-42", cutoff, time.Hour); err != nil {
		t.Fatalf("revoke user: %v", err)
	}

	tests := []struct {
		name     string
		user     string
		issuedAt time.Time
		want     bool
	}{
		{"issued before cutoff", "user-42", cutoff.Add(-time.Minute), true},
		{"issued at cutoff", "user-42", cutoff, true},
		{"issued after cutoff", "user-42", cutoff.Add(time.Minute), false},
		{"other user", "user-99", cutoff.Add(-time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.IsUserRevoked(ctx, tt.user, tt.issuedAt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsUserRevoked = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCleanup_RemovesExpired(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	store.Revoke(ctx, "expired", "u", now.Add(-time.Minute))
	store.Revoke(ctx, "live", "u", now.Add(time.Hour))
	store.RevokeAllForUser(ctx, "gone", now, time.Minute)

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	store.cleanup()

	if store.Count() != 1 {
		t.Errorf("expected 1 entry after cleanup, got %d", store.Count())
	}
	if revoked, _ := store.IsRevoked(ctx, "live"); !revoked {
		t.Error("live entry must survive cleanup")
	}
	if revoked, _ := store.IsUserRevoked(ctx, "gone", now.Add(-time.Hour)); revoked {
		t.Error("expired user cutoff should have been dropped")
	}
}

func TestClose_Idempotent(t *testing.T) {
	store := NewMemoryRevocationStore()
	store.Close()
	store.Close()
}

func TestConcurrentAccess(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Revoke(ctx, time.Now().String(), "u", time.Now().Add(time.Hour))
		}(i)
		go func() {
			defer wg.Done()
			store.IsRevoked(ctx, "x")
			store.IsUserRevoked(ctx, "u", time.Now())
		}()
	}
	wg.Wait()
}
