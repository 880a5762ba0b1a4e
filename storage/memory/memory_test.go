package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/internal/testutil"
	"github.com/rosterhub/authsession/storage"
)

func newTestStore(t *testing.T) (*Store, *testutil.MockTime) {
	t.Helper()

	clock := testutil.NewMockTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(WithClock(clock.Now))
	t.Cleanup(s.Stop)
	return s, clock
}

func TestStore_SetGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v1", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || got != "v1" {
		t.Errorf("Get() = %q, %v, want %q, nil", got, err, "v1")
	}

	// Overwrite replaces the value
	if err := s.Set(ctx, "k", "v2", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != "v2" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "v2")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		advance time.Duration
		want    bool
	}{
		{name: "before expiry", ttl: 10 * time.Second, advance: 9999 * time.Millisecond, want: true},
		{name: "at expiry", ttl: 10 * time.Second, advance: 10 * time.Second, want: false},
		{name: "after expiry", ttl: 10 * time.Second, advance: 11 * time.Second, want: false},
		{name: "no ttl", ttl: 0, advance: 24 * time.Hour, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestStore(t)
			ctx := context.Background()

			if err := s.Set(ctx, "k", "v", tt.ttl); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			clock.Advance(tt.advance)

			_, err := s.Get(ctx, "k")
			if got := err == nil; got != tt.want {
				t.Errorf("Get() found = %v, want %v (err = %v)", got, tt.want, err)
			}
			if !tt.want && s.Len() != 0 {
				t.Errorf("Len() = %d after expired read, want 0", s.Len())
			}
		})
	}
}

func TestStore_SetOverwritesTTL(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", "v", time.Second)
	_ = s.Set(ctx, "k", "v", 0)
	clock.Advance(time.Hour)

	if _, err := s.Get(ctx, "k"); err != nil {
		t.Errorf("Get() error = %v, want nil: Set without TTL must clear the old expiry", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", "v", 0)
	if removed, err := s.Delete(ctx, "k"); err != nil || !removed {
		t.Errorf("Delete() = %v, %v, want true, nil", removed, err)
	}
	if removed, _ := s.Delete(ctx, "k"); removed {
		t.Error("second Delete() = true, want false")
	}

	_ = s.Set(ctx, "short", "v", time.Second)
	clock.Advance(2 * time.Second)
	if removed, _ := s.Delete(ctx, "short"); removed {
		t.Error("Delete() of expired key = true, want false")
	}
}

func TestStore_Incr(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
		if got != want {
			t.Errorf("Incr() = %d, want %d", got, want)
		}
	}

	// TTL survives an increment
	if ok, _ := s.Expire(ctx, "counter", time.Minute); !ok {
		t.Fatal("Expire() = false, want true")
	}
	_, _ = s.Incr(ctx, "counter")
	clock.Advance(time.Minute + time.Millisecond)
	if got, _ := s.Incr(ctx, "counter"); got != 1 {
		t.Errorf("Incr() after window = %d, want 1", got)
	}

	_ = s.Set(ctx, "garbage", "abc", 0)
	if _, err := s.Incr(ctx, "garbage"); !errors.Is(err, storage.ErrNotInteger) {
		t.Errorf("Incr(garbage) error = %v, want %v", err, storage.ErrNotInteger)
	}
	if got, _ := s.Get(ctx, "garbage"); got != "abc" {
		t.Errorf("garbage value = %q after failed Incr, want unchanged", got)
	}

	_ = s.Set(ctx, "max", strconv.FormatInt(1<<63-1, 10), 0)
	if _, err := s.Incr(ctx, "max"); !errors.Is(err, storage.ErrNotInteger) {
		t.Errorf("Incr(max) error = %v, want %v", err, storage.ErrNotInteger)
	}
}

func TestStore_IncrConcurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Incr(ctx, "race"); err != nil {
				t.Errorf("Incr() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "race")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != strconv.Itoa(n) {
		t.Errorf("counter = %s, want %d", got, n)
	}
}

func TestStore_Expire(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if ok, err := s.Expire(ctx, "missing", time.Second); err != nil || ok {
		t.Errorf("Expire(missing) = %v, %v, want false, nil", ok, err)
	}

	_ = s.Set(ctx, "k", "v", time.Hour)
	if ok, _ := s.Expire(ctx, "k", time.Second); !ok {
		t.Error("Expire() = false, want true")
	}
	clock.Advance(2 * time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after shortened TTL error = %v, want %v", err, storage.ErrNotFound)
	}

	_ = s.Set(ctx, "gone", "v", 0)
	if ok, _ := s.Expire(ctx, "gone", 0); !ok {
		t.Error("Expire(ttl=0) = false, want true")
	}
	if _, err := s.Get(ctx, "gone"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after Expire(0) error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStore_Keys(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "blacklist:tok1", "1", time.Hour)
	_ = s.Set(ctx, "blacklist:tok2", "1", 2*time.Hour)
	_ = s.Set(ctx, "refresh:u1", "[]", 0)

	got, err := s.Keys(ctx, "blacklist:*")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "blacklist:tok1" || got[1] != "blacklist:tok2" {
		t.Errorf("Keys() = %v, want [blacklist:tok1 blacklist:tok2]", got)
	}

	clock.Advance(time.Hour + time.Second)
	if _, err := s.Get(ctx, "blacklist:tok1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(tok1) error = %v, want %v", err, storage.ErrNotFound)
	}

	got, _ = s.Keys(ctx, "blacklist:*")
	if len(got) != 1 || got[0] != "blacklist:tok2" {
		t.Errorf("Keys() after expiry = %v, want [blacklist:tok2]", got)
	}

	// Anchored: no partial matches
	if got, _ := s.Keys(ctx, "blacklist"); len(got) != 0 {
		t.Errorf("Keys(blacklist) = %v, want none", got)
	}
	if got, _ := s.Keys(ctx, "refresh:u?"); len(got) != 1 {
		t.Errorf("Keys(refresh:u?) = %v, want [refresh:u1]", got)
	}
}

func TestStore_Update(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	appendA := func(current string, exists bool) (string, bool, error) {
		return current + "A", true, nil
	}

	// Absent key is created without expiry
	if err := s.Update(ctx, "k", appendA); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != "A" {
		t.Errorf("Get() = %q, want %q", got, "A")
	}

	// Existing TTL is kept
	_, _ = s.Expire(ctx, "k", time.Minute)
	_ = s.Update(ctx, "k", appendA)
	clock.Advance(30 * time.Second)
	if got, _ := s.Get(ctx, "k"); got != "AA" {
		t.Errorf("Get() = %q, want %q", got, "AA")
	}
	clock.Advance(31 * time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after TTL error = %v, want %v", err, storage.ErrNotFound)
	}

	// Error aborts without writing
	_ = s.Set(ctx, "k", "keep", 0)
	boom := errors.New("boom")
	err := s.Update(ctx, "k", func(string, bool) (string, bool, error) { return "lost", true, boom })
	if !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want %v", err, boom)
	}
	if got, _ := s.Get(ctx, "k"); got != "keep" {
		t.Errorf("Get() = %q after aborted update, want %q", got, "keep")
	}

	// keep=false deletes
	_ = s.Update(ctx, "k", func(string, bool) (string, bool, error) { return "", false, nil })
	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after delete-update error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestStore_UpdateConcurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "list", func(current string, _ bool) (string, bool, error) {
				return current + "x", true, nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "list")
	if len(got) != n {
		t.Errorf("len(value) = %d, want %d", len(got), n)
	}
}

func TestStore_PingAndStop(t *testing.T) {
	s := New()
	ctx := context.Background()

	if got, err := s.Ping(ctx); err != nil || got != storage.PongReply {
		t.Errorf("Ping() = %q, %v, want %q, nil", got, err, storage.PongReply)
	}

	s.Stop()
	s.Stop() // idempotent

	if _, err := s.Ping(ctx); !errors.Is(err, storage.ErrStoreClosed) {
		t.Errorf("Ping() after Stop error = %v, want %v", err, storage.ErrStoreClosed)
	}
	if err := s.Set(ctx, "k", "v", 0); !errors.Is(err, storage.ErrStoreClosed) {
		t.Errorf("Set() after Stop error = %v, want %v", err, storage.ErrStoreClosed)
	}
}

func TestStore_Cleanup(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "a", "1", time.Second)
	_ = s.Set(ctx, "b", "1", time.Second)
	_ = s.Set(ctx, "c", "1", 0)
	clock.Advance(2 * time.Second)

	if got := s.Cleanup(); got != 2 {
		t.Errorf("Cleanup() = %d, want 2", got)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestNewWithCleanup_SweepsInBackground(t *testing.T) {
	s := NewWithCleanup(10 * time.Millisecond)
	defer s.Stop()

	_ = s.Set(context.Background(), "k", "v", time.Millisecond)

	testutil.Eventually(t, time.Second, func() bool { return s.Len() == 0 },
		"expired entry was not swept")
}

func TestStore_Instrumentation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	s, _ := newTestStore(t)
	s.SetInstrumentation(inst)
	ctx := context.Background()

	_ = s.Set(ctx, "a", "1", 0)
	_, _ = s.Incr(ctx, "b")
	_, _ = s.Get(ctx, "missing")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var ops, keys int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == "storage.operation.total" {
					for _, dp := range data.DataPoints {
						ops += dp.Value
					}
				}
			case metricdata.Gauge[int64]:
				if m.Name == "storage.keys" {
					for _, dp := range data.DataPoints {
						keys += dp.Value
					}
				}
			}
		}
	}

	if ops != 3 {
		t.Errorf("storage.operation.total = %d, want 3", ops)
	}
	if keys != 2 {
		t.Errorf("storage.keys = %d, want 2", keys)
	}
}
