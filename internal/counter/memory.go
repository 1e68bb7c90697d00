package counter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultSweepInterval is how often the background sweeper scans for
// expired keys.
const defaultSweepInterval = 30 * time.Second

// MemoryBackend implements Backend with an in-process map. Expired keys are
// dropped lazily on read and reclaimed by a single periodic sweep, not by
// per-key timers, so heavy key churn cannot leak timers.
//
// Each MemoryBackend is an owned instance; tests create isolated ones.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	now func() time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Compile-time check that MemoryBackend implements Backend.
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetNowFunc overrides the time source. Test hook.
func (b *MemoryBackend) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	now := b.now()
	b.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		// Lazy expiry; the sweeper will reclaim the entry.
		return "", false, nil
	}
	return e.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.entries[key] = e
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

// Len returns the number of stored entries, including not-yet-swept expired
// ones.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// StartSweeper launches a background goroutine that periodically removes
// expired entries. Call Stop to shut it down. interval <= 0 uses the default.
func (b *MemoryBackend) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	b.sweepStop = make(chan struct{})
	b.sweepDone = make(chan struct{})

	go b.sweepLoop(interval)
}

// Stop shuts down the sweeper goroutine if one is running.
func (b *MemoryBackend) Stop() {
	if b.sweepStop != nil {
		close(b.sweepStop)
		<-b.sweepDone
		b.sweepStop = nil
		b.sweepDone = nil
	}
}

func (b *MemoryBackend) sweepLoop(interval time.Duration) {
	defer close(b.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.sweepStop:
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				slog.Debug("counter: swept expired entries", "backend", b.Name(), "count", n)
			}
		}
	}
}

// Sweep removes all expired entries and returns how many were dropped.
func (b *MemoryBackend) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	dropped := 0
	for key, e := range b.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(b.entries, key)
			dropped++
		}
	}
	return dropped
}
