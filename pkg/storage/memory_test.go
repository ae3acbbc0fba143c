package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voltloop/voltloop/pkg/policy"
	"github.com/voltloop/voltloop/pkg/pricing"
)

func tickSnapshot(at time.Time, outcome string) Snapshot {
	return Snapshot{
		TickedAt: at,
		Outcome:  outcome,
		Forecast: &pricing.Forecast{
			Quotes:    []pricing.Quote{{Timestamp: at, CentsPerKWh: 21.5}},
			FetchedAt: at,
		},
		Decision:   policy.DecisionState{LastAction: policy.ActionStart, DecidedAt: at},
		Action:     policy.ActionStart,
		NextTickAt: at.Add(5 * time.Minute),
	}
}

func TestMemoryStoreEmptyUntilFirstPut(t *testing.T) {
	store := NewMemoryStore()

	snapshot, found, err := store.GetLatest(context.Background())
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if found {
		t.Error("GetLatest() found = true before first Put, want false")
	}
	if snapshot.Outcome != "" {
		t.Error("GetLatest() returned non-zero snapshot before first Put")
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	want := tickSnapshot(now, OutcomeOK)
	if err := store.Put(context.Background(), want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.GetLatest(context.Background())
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if !found {
		t.Fatal("GetLatest() found = false, want true")
	}
	if !got.TickedAt.Equal(want.TickedAt) || got.Outcome != want.Outcome {
		t.Errorf("GetLatest() = %+v, want %+v", got, want)
	}
	if got.Forecast == nil || got.Forecast.Quotes[0].CentsPerKWh != 21.5 {
		t.Errorf("forecast not preserved: %+v", got.Forecast)
	}
}

func TestMemoryStorePutReplaces(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	if err := store.Put(context.Background(), tickSnapshot(now, OutcomePriceError)); err != nil {
		t.Fatalf("Put() first error = %v", err)
	}
	if err := store.Put(context.Background(), tickSnapshot(now.Add(time.Minute), OutcomeOK)); err != nil {
		t.Fatalf("Put() second error = %v", err)
	}

	got, found, err := store.GetLatest(context.Background())
	if err != nil || !found {
		t.Fatalf("GetLatest() = found %v, err %v", found, err)
	}
	if got.Outcome != OutcomeOK {
		t.Errorf("outcome = %q, want latest snapshot's %q", got.Outcome, OutcomeOK)
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, tickSnapshot(time.Now(), OutcomeOK)); err == nil {
		t.Error("Put() with canceled context should fail")
	}
	if _, _, err := store.GetLatest(ctx); err == nil {
		t.Error("GetLatest() with canceled context should fail")
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStoreWithTTL(50 * time.Millisecond)

	old := tickSnapshot(time.Now().Add(-time.Second), OutcomeOK)
	if err := store.Put(context.Background(), old); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, found, _ := store.GetLatest(context.Background()); found {
		t.Error("expired snapshot should not be served")
	}

	fresh := tickSnapshot(time.Now(), OutcomeOK)
	if err := store.Put(context.Background(), fresh); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, found, _ := store.GetLatest(context.Background()); !found {
		t.Error("fresh snapshot should be served")
	}
}

func TestMemoryStoreTTLPanicsOnZero(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewMemoryStoreWithTTL should panic with zero TTL")
		}
	}()
	NewMemoryStoreWithTTL(0)
}

func TestMemoryStoreConcurrent(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := store.Put(context.Background(), tickSnapshot(time.Now(), OutcomeOK)); err != nil {
				t.Errorf("concurrent Put() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, _, err := store.GetLatest(context.Background()); err != nil {
				t.Errorf("concurrent GetLatest() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if _, found, _ := store.GetLatest(context.Background()); !found {
		t.Error("GetLatest() found = false after concurrent writes")
	}
}

func BenchmarkMemoryStoreConcurrentAccess(b *testing.B) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), tickSnapshot(time.Now(), OutcomeOK)); err != nil {
		b.Fatalf("Put() error = %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				_ = store.Put(context.Background(), tickSnapshot(time.Now(), OutcomeOK))
			} else {
				_, _, _ = store.GetLatest(context.Background())
			}
			i++
		}
	})
}
