package cooldown

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/counter"
	"github.com/calyxlabs/calyx/internal/model"
)

// flakyBackend wraps a memory backend and fails while down is set, to
// simulate a networked backend outage and recovery.
type flakyBackend struct {
	inner *counter.MemoryBackend
	down  bool
}

func (f *flakyBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if f.down {
		return "", false, model.ErrBackendUnavailable
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.down {
		return model.ErrBackendUnavailable
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *flakyBackend) Delete(ctx context.Context, key string) error {
	if f.down {
		return model.ErrBackendUnavailable
	}
	return f.inner.Delete(ctx, key)
}

func (f *flakyBackend) Name() string { return "flaky" }

func newTestTracker(t *testing.T, primary counter.Backend) (*Tracker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(primary, counter.NewMemoryBackend(), catalog.Default(), slog.Default())
	tr.SetNowFunc(func() time.Time { return now })
	return tr, &now
}

func TestCheckAllowedWithNoMark(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	st := tr.Check(context.Background(), "u1", catalog.ActionMessage, model.TierFree)
	if !st.Allowed {
		t.Error("check with no mark should allow")
	}
}

func TestCheckDeniedImmediatelyAfterTrack(t *testing.T) {
	tr, now := newTestTracker(t, nil)
	ctx := context.Background()

	tr.Track(ctx, "u1", catalog.ActionMessage, model.TierFree)

	st := tr.Check(ctx, "u1", catalog.ActionMessage, model.TierFree)
	if st.Allowed {
		t.Fatal("check immediately after track should deny")
	}
	if st.WaitRemaining <= 0 || st.WaitRemaining > 5*time.Second {
		t.Errorf("WaitRemaining = %s, want in (0, 5s]", st.WaitRemaining)
	}

	// Free tier message cooldown is 5s.
	*now = now.Add(5 * time.Second)
	if st := tr.Check(ctx, "u1", catalog.ActionMessage, model.TierFree); !st.Allowed {
		t.Errorf("check after cooldown elapsed should allow, got wait %s", st.WaitRemaining)
	}
}

func TestZeroCooldownAlwaysAllowed(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	ctx := context.Background()

	// Free tier has no voice message cooldown configured.
	tr.Track(ctx, "u1", catalog.ActionVoiceMessage, model.TierFree)
	if st := tr.Check(ctx, "u1", catalog.ActionVoiceMessage, model.TierFree); !st.Allowed {
		t.Error("zero-duration cooldown should always allow")
	}
}

func TestCooldownIsPerUserAndKind(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	ctx := context.Background()

	tr.Track(ctx, "u1", catalog.ActionMessage, model.TierFree)

	if st := tr.Check(ctx, "u2", catalog.ActionMessage, model.TierFree); !st.Allowed {
		t.Error("another user's mark should not block u2")
	}
	if st := tr.Check(ctx, "u1", catalog.ActionImageAnalysis, model.TierFree); !st.Allowed {
		t.Error("a mark for message should not block image analysis")
	}
}

func TestFallbackTransparency(t *testing.T) {
	primary := &flakyBackend{inner: counter.NewMemoryBackend()}
	tr, now := newTestTracker(t, primary)
	ctx := context.Background()

	// Primary down: track lands on the fallback and check still works.
	primary.down = true
	tr.Track(ctx, "u1", catalog.ActionMessage, model.TierFree)
	if st := tr.Check(ctx, "u1", catalog.ActionMessage, model.TierFree); st.Allowed {
		t.Fatal("fallback-tracked mark should deny the next action")
	}

	// Primary recovers: the very next call uses it again with no reset.
	primary.down = false
	*now = now.Add(10 * time.Second)
	tr.Track(ctx, "u1", catalog.ActionMessage, model.TierFree)
	if _, found, _ := primary.inner.Get(ctx, "cooldown:u1:message"); !found {
		t.Error("recovered primary should receive the next mark")
	}
}

func TestTotalFailureFailsOpen(t *testing.T) {
	primary := &flakyBackend{inner: counter.NewMemoryBackend(), down: true}
	fallback := &flakyBackend{inner: counter.NewMemoryBackend(), down: true}
	tr := New(primary, fallback, catalog.Default(), slog.Default())
	ctx := context.Background()

	// Neither call may panic or surface an error; the check allows.
	tr.Track(ctx, "u1", catalog.ActionMessage, model.TierFree)
	if st := tr.Check(ctx, "u1", catalog.ActionMessage, model.TierFree); !st.Allowed {
		t.Error("check with all backends down should fail open")
	}
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	ctx := context.Background()

	tr.Track(ctx, "u1", catalog.ActionMessage, model.TierFree)
	tr.Track(ctx, "u1", catalog.ActionImageAnalysis, model.TierFree)

	tr.Reset(ctx, "u1", catalog.ActionMessage)
	if st := tr.Check(ctx, "u1", catalog.ActionMessage, model.TierFree); !st.Allowed {
		t.Error("reset kind should allow immediately")
	}
	if st := tr.Check(ctx, "u1", catalog.ActionImageAnalysis, model.TierFree); st.Allowed {
		t.Error("other kind should still be cooling down")
	}

	// Empty kind resets everything.
	tr.Reset(ctx, "u1", "")
	if st := tr.Check(ctx, "u1", catalog.ActionImageAnalysis, model.TierFree); !st.Allowed {
		t.Error("reset-all should clear every kind")
	}
}

func TestGarbageMarkFailsOpen(t *testing.T) {
	fallback := counter.NewMemoryBackend()
	tr := New(nil, fallback, catalog.Default(), slog.Default())
	ctx := context.Background()

	_ = fallback.Set(ctx, "cooldown:u1:message", "not-a-timestamp", time.Minute)
	if st := tr.Check(ctx, "u1", catalog.ActionMessage, model.TierFree); !st.Allowed {
		t.Error("unparseable mark should not block the user")
	}
}

func TestParseMarkRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	got, err := parseMark(formatMark(at))
	if err != nil {
		t.Fatalf("parseMark: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("round trip = %s, want %s", got, at)
	}
	if _, err := parseMark("zzz"); err == nil {
		t.Error("expected error for garbage mark")
	}
}
