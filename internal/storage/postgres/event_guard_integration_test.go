package postgres

import (
	"sync"
	"testing"
	"time"
)

func TestEventGuard_Integration_Once(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	guard := NewEventGuard(store, nil)

	if !guard.Once("evt-pg-1", time.Minute) {
		t.Fatal("first call must win")
	}
	if guard.Once("evt-pg-1", time.Minute) {
		t.Fatal("second call must be suppressed")
	}
	if !guard.Once("evt-pg-2", time.Minute) {
		t.Fatal("different key must win")
	}

	if guard.Once("  ", time.Minute) {
		t.Fatal("blank key must never win")
	}
}

func TestEventGuard_Integration_TTLExpiry(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	guard := NewEventGuard(store, nil)

	if !guard.Once("evt-pg-ttl", 50*time.Millisecond) {
		t.Fatal("first call must win")
	}
	time.Sleep(80 * time.Millisecond)
	if !guard.Once("evt-pg-ttl", time.Minute) {
		t.Fatal("expired key must be reusable")
	}
}

func TestEventGuard_Integration_ConcurrentOnce(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	guard := NewEventGuard(store, nil)

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.Once("evt-pg-race", time.Minute) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestEventGuard_Integration_DeleteExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	guard := NewEventGuard(store, nil)

	for _, key := range []string{"evt-del-1", "evt-del-2", "evt-del-3"} {
		if !guard.Once(key, 10*time.Millisecond) {
			t.Fatalf("seed key %s", key)
		}
	}
	if !guard.Once("evt-keep", time.Hour) {
		t.Fatal("seed long-lived key")
	}

	time.Sleep(30 * time.Millisecond)

	deleted, err := guard.DeleteExpired(time.Now().UTC(), 2)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("batch limit ignored: deleted=%d", deleted)
	}

	deleted, err = guard.DeleteExpired(time.Now().UTC(), 0)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one remaining expired key, got %d", deleted)
	}

	if guard.Once("evt-keep", time.Hour) {
		t.Fatal("live key must stay suppressed")
	}
}
