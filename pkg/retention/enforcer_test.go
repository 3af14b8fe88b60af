package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/healthguard-ai/platform/pkg/common/logger"
)

func init() {
	logger.Init()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedAppend struct {
	recordType string
	patientRef string
}

type fakeRecorder struct {
	mu      sync.Mutex
	seq     int64
	appends []recordedAppend
}

func (r *fakeRecorder) Append(ctx context.Context, recordType, patientRef string, payload map[string]interface{}) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.appends = append(r.appends, recordedAppend{recordType: recordType, patientRef: patientRef})
	return r.seq, nil
}

func (r *fakeRecorder) count(recordType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appends {
		if a.recordType == recordType {
			n++
		}
	}
	return n
}

func TestSweepDestroysOnlyPastDeadline(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	recorder := &fakeRecorder{}
	enforcer := NewEnforcer(60*time.Second, clock.Now, recorder)
	ctx := context.Background()

	enforcer.Register("p1", "photo", []byte{1, 2, 3})

	clock.Advance(59 * time.Second)
	if n := enforcer.Sweep(ctx); n != 0 {
		t.Fatalf("sweep at t=59s destroyed %d assets", n)
	}
	if enforcer.Pending() != 1 {
		t.Fatal("asset destroyed before deadline")
	}

	clock.Advance(2 * time.Second)
	if n := enforcer.Sweep(ctx); n != 1 {
		t.Fatalf("sweep at t=61s destroyed %d assets, want 1", n)
	}
	if enforcer.Pending() != 0 {
		t.Fatal("asset survived its deadline")
	}
	if recorder.count("retention_violation") != 1 {
		t.Fatal("expected a retention violation record")
	}
}

func TestReleaseIsPromptAndIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	recorder := &fakeRecorder{}
	enforcer := NewEnforcer(60*time.Second, clock.Now, recorder)
	ctx := context.Background()

	payload := []byte{9, 9, 9}
	asset := enforcer.Register("p1", "voice", payload)
	enforcer.Release(ctx, asset.ID)

	if enforcer.Pending() != 0 {
		t.Fatal("release did not destroy the asset")
	}
	if recorder.count("media_destroyed") != 1 {
		t.Fatal("expected one destruction record")
	}

	// Second destruction is a no-op with no second audit record.
	enforcer.Release(ctx, asset.ID)
	if recorder.count("media_destroyed") != 1 {
		t.Fatal("idempotent release produced a second audit record")
	}

	// The payload is wiped in place, not merely dropped.
	for _, b := range payload {
		if b != 0 {
			t.Fatal("payload bytes not zeroed")
		}
	}
}

func TestReleasedAssetNotSweptAgain(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	recorder := &fakeRecorder{}
	enforcer := NewEnforcer(60*time.Second, clock.Now, recorder)
	ctx := context.Background()

	asset := enforcer.Register("p1", "photo", []byte{1})
	enforcer.Release(ctx, asset.ID)

	clock.Advance(2 * time.Minute)
	if n := enforcer.Sweep(ctx); n != 0 {
		t.Fatalf("sweep destroyed %d already-released assets", n)
	}
	if recorder.count("retention_violation") != 0 {
		t.Fatal("released asset flagged as violation")
	}
}
