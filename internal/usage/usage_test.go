package usage

import (
	"context"
	"testing"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/counter"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/store/memstore"
)

func TestBounds(t *testing.T) {
	// Wednesday, mid-month.
	now := time.Date(2026, 3, 18, 15, 30, 0, 0, time.UTC)

	for _, tc := range []struct {
		window    model.Window
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			model.WindowDaily,
			time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 19, 0, 0, 0, 0, time.UTC),
		},
		{
			model.WindowWeekly,
			time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC),
		},
		{
			model.WindowMonthly,
			time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{model.WindowAll, time.Time{}, time.Time{}},
	} {
		start, end := Bounds(tc.window, now, time.UTC)
		if !start.Equal(tc.wantStart) || !end.Equal(tc.wantEnd) {
			t.Errorf("Bounds(%s) = [%v, %v), want [%v, %v)",
				tc.window, start, end, tc.wantStart, tc.wantEnd)
		}
	}
}

func TestBoundsSundayWeekly(t *testing.T) {
	// Sunday belongs to the week that started the previous Monday.
	now := time.Date(2026, 3, 22, 10, 0, 0, 0, time.UTC)
	start, _ := Bounds(model.WindowWeekly, now, time.UTC)
	want := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("weekly start = %v, want %v", start, want)
	}
}

func TestRecordMessageExempt(t *testing.T) {
	st := memstore.New()
	c := NewCounter(st, nil)
	ctx := context.Background()

	res, err := c.RecordMessage(ctx, "u1", "hola")
	if err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	if res.Counted {
		t.Error("greeting should be exempt")
	}

	total, err := c.WindowTotal(ctx, "u1", model.ResourceMessage, model.WindowDaily)
	if err != nil {
		t.Fatalf("WindowTotal: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

func TestRecordMessageCounted(t *testing.T) {
	st := memstore.New()
	c := NewCounter(st, nil)
	ctx := context.Background()

	res, err := c.RecordMessage(ctx, "u1", "cuéntame qué pasó ayer en tu mundo")
	if err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	if !res.Counted {
		t.Error("substantive message should count")
	}
	if res.EventID == "" {
		t.Error("counted message should have an event ID")
	}

	total, err := c.WindowTotal(ctx, "u1", model.ResourceMessage, model.WindowDaily)
	if err != nil {
		t.Fatalf("WindowTotal: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestWindowTotalExcludesYesterday(t *testing.T) {
	st := memstore.New()

	current := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	c := NewCounter(st, nil, WithNowFunc(now))
	ctx := context.Background()

	if _, err := c.Record(ctx, "u1", model.ResourceMessage, 1, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	current = current.AddDate(0, 0, 1)
	if _, err := c.Record(ctx, "u1", model.ResourceMessage, 1, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	daily, err := c.WindowTotal(ctx, "u1", model.ResourceMessage, model.WindowDaily)
	if err != nil {
		t.Fatalf("WindowTotal: %v", err)
	}
	if daily != 1 {
		t.Errorf("daily = %d, want 1", daily)
	}

	monthly, err := c.WindowTotal(ctx, "u1", model.ResourceMessage, model.WindowMonthly)
	if err != nil {
		t.Fatalf("WindowTotal: %v", err)
	}
	if monthly != 2 {
		t.Errorf("monthly = %d, want 2", monthly)
	}
}

func TestWindowTotalCacheHit(t *testing.T) {
	st := memstore.New()
	cache := counter.NewMemoryBackend()
	c := NewCounter(st, nil, WithCache(cache, time.Minute))
	ctx := context.Background()

	if _, err := c.Record(ctx, "u1", model.ResourceVoiceMessage, 3, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	first, err := c.WindowTotal(ctx, "u1", model.ResourceVoiceMessage, model.WindowDaily)
	if err != nil {
		t.Fatalf("WindowTotal: %v", err)
	}
	if first != 3 {
		t.Errorf("first = %d, want 3", first)
	}

	// Write behind the cache; the cached total is served until invalidation.
	if err := st.RecordUsage(ctx, &model.UsageEvent{
		ID: "ev-x", UserID: "u1", Kind: model.ResourceVoiceMessage,
		Quantity: 2, OccurredAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	second, err := c.WindowTotal(ctx, "u1", model.ResourceVoiceMessage, model.WindowDaily)
	if err != nil {
		t.Fatalf("WindowTotal: %v", err)
	}
	if second != 3 {
		t.Errorf("cached total = %d, want 3", second)
	}

	// Recording through the counter invalidates and the next read is fresh.
	if _, err := c.Record(ctx, "u1", model.ResourceVoiceMessage, 1, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	third, err := c.WindowTotal(ctx, "u1", model.ResourceVoiceMessage, model.WindowDaily)
	if err != nil {
		t.Fatalf("WindowTotal: %v", err)
	}
	if third != 6 {
		t.Errorf("fresh total = %d, want 6", third)
	}
}

func TestSnapshot(t *testing.T) {
	st := memstore.New()
	c := NewCounter(st, nil)
	ctx := context.Background()

	if _, err := c.Record(ctx, "u1", model.ResourceMessage, 4, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	snap, err := c.Snapshot(ctx, "u1", model.TierFree, catalog.Default())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var found bool
	for _, ru := range snap {
		if ru.Kind == model.ResourceMessage && ru.Window == model.WindowDaily {
			found = true
			if ru.Used != 4 {
				t.Errorf("Used = %d, want 4", ru.Used)
			}
			if ru.Remaining != ru.Limit-4 {
				t.Errorf("Remaining = %d, want %d", ru.Remaining, ru.Limit-4)
			}
		}
	}
	if !found {
		t.Fatal("snapshot missing message/daily entry")
	}
}
