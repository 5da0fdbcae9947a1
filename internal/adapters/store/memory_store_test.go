package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(zap.NewNop(), time.Hour)
	t.Cleanup(s.Stop)
	return s
}

func TestMemoryStoreTemplateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tpl := &core.Template{
		ID:       "tpl-1",
		Name:     "Shipping FAQ",
		Category: core.IntentFAQShipping,
		Body:     "We ship within 2 days.",
		Active:   true,
	}
	if err := s.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}

	got, err := s.Get(ctx, "tpl-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Shipping FAQ" {
		t.Errorf("Name = %q, want Shipping FAQ", got.Name)
	}

	// The store hands out copies, not the stored instance.
	got.Name = "mutated"
	again, err := s.Get(ctx, "tpl-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Name != "Shipping FAQ" {
		t.Error("mutating a returned template leaked into the store")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("Get(missing) = %v, want ErrTemplateNotFound", err)
	}
}

func TestMemoryStoreListActiveFiltersInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTemplate(ctx, &core.Template{ID: "a", Active: true}); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	if err := s.SaveTemplate(ctx, &core.Template{ID: "b", Active: false}); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a" {
		t.Errorf("ListActive = %v, want only template a", active)
	}
}

func TestMemoryStoreRecordUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTemplate(ctx, &core.Template{ID: "tpl-1", Active: true}); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}

	usedAt := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if err := s.RecordUsage(ctx, "tpl-1", usedAt); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := s.RecordUsage(ctx, "tpl-1", usedAt.Add(time.Hour)); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	got, err := s.Get(ctx, "tpl-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UsageCount != 2 {
		t.Errorf("UsageCount = %d, want 2", got.UsageCount)
	}
	if !got.LastUsedAt.Equal(usedAt.Add(time.Hour)) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, usedAt.Add(time.Hour))
	}

	if err := s.RecordUsage(ctx, "missing", usedAt); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("RecordUsage(missing) = %v, want ErrTemplateNotFound", err)
	}
}

func TestMemoryStoreCounterStopsAtCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, err := s.IncrementIfBelow(ctx, day, 3)
		if err != nil {
			t.Fatalf("IncrementIfBelow: %v", err)
		}
		if !ok {
			t.Fatalf("increment %d rejected below the cap", i)
		}
	}

	ok, err := s.IncrementIfBelow(ctx, day, 3)
	if err != nil {
		t.Fatalf("IncrementIfBelow: %v", err)
	}
	if ok {
		t.Error("increment admitted at the cap")
	}

	count, err := s.Current(ctx, day)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if count != 3 {
		t.Errorf("Current = %d, want 3", count)
	}

	// A different day starts from zero.
	next, err := s.Current(ctx, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if next != 0 {
		t.Errorf("Current(next day) = %d, want 0", next)
	}
}

func TestMemoryStoreCounterIsAtomicUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

	const (
		workers = 20
		limit   = 7
	)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.IncrementIfBelow(ctx, day, limit)
			if err != nil {
				t.Errorf("IncrementIfBelow: %v", err)
				return
			}
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted = %d, want exactly %d", admitted, limit)
	}
	count, err := s.Current(ctx, day)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if count != limit {
		t.Errorf("Current = %d, want %d", count, limit)
	}
}

func TestMemoryStoreTriageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cls := &core.ClassificationResult{IntentCategory: core.IntentOrderIssue}
	pri := &core.PriorityResult{Score: 21.5, Band: core.BandP1}
	if err := s.SaveTriage(ctx, "conv-1", cls, pri); err != nil {
		t.Fatalf("SaveTriage: %v", err)
	}

	gotCls, gotPri, ok := s.GetTriage("conv-1")
	if !ok {
		t.Fatal("GetTriage(conv-1) not found")
	}
	if gotCls.IntentCategory != core.IntentOrderIssue {
		t.Errorf("category = %s, want order_issue", gotCls.IntentCategory)
	}
	if gotPri.Band != core.BandP1 {
		t.Errorf("band = %s, want P1", gotPri.Band)
	}

	if _, _, ok := s.GetTriage("missing"); ok {
		t.Error("GetTriage(missing) reported a record")
	}
}

func TestMemoryStoreCleanupDropsStaleCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := time.Now().Add(-30 * 24 * time.Hour)
	fresh := time.Now()

	if _, err := s.IncrementIfBelow(ctx, stale, 10); err != nil {
		t.Fatalf("IncrementIfBelow: %v", err)
	}
	if _, err := s.IncrementIfBelow(ctx, fresh, 10); err != nil {
		t.Fatalf("IncrementIfBelow: %v", err)
	}

	if err := s.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	staleCount, err := s.Current(ctx, stale)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if staleCount != 0 {
		t.Errorf("stale counter = %d, want 0 after cleanup", staleCount)
	}

	freshCount, err := s.Current(ctx, fresh)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if freshCount != 1 {
		t.Errorf("fresh counter = %d, want 1 after cleanup", freshCount)
	}
}
