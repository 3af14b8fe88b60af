// Package retention guarantees that transient raw media (audio, photo
// bytes) is destroyed within its time-to-live, whether or not the
// analysis that consumed it ever finished. Assets live only in memory;
// nothing here touches durable storage.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/healthguard-ai/platform/pkg/audit"
	"github.com/healthguard-ai/platform/pkg/common/logger"
)

// Clock supplies wall-clock time. Deadlines are checked against it
// directly so a stalled analysis call can never extend an asset's life.
type Clock func() time.Time

// Recorder is the audit sink. *audit.Log satisfies it.
type Recorder interface {
	Append(ctx context.Context, recordType, patientRef string, payload map[string]interface{}) (int64, error)
}

type Asset struct {
	ID         string
	PatientRef string
	Kind       string
	CreatedAt  time.Time
	Deadline   time.Time

	data []byte
}

// Bytes exposes the payload for the analysis hand-off.
func (a *Asset) Bytes() []byte {
	return a.data
}

type Enforcer struct {
	ttl      time.Duration
	clock    Clock
	recorder Recorder

	mu     sync.Mutex
	assets map[string]*Asset
}

func NewEnforcer(ttl time.Duration, clock Clock, recorder Recorder) *Enforcer {
	if clock == nil {
		clock = time.Now
	}
	return &Enforcer{
		ttl:      ttl,
		clock:    clock,
		recorder: recorder,
		assets:   make(map[string]*Asset),
	}
}

// Register tracks a new raw-media handle. Its deadline is fixed at
// registration; no later call moves it.
func (e *Enforcer) Register(patientRef, kind string, data []byte) *Asset {
	now := e.clock().UTC()
	asset := &Asset{
		ID:         uuid.New().String(),
		PatientRef: patientRef,
		Kind:       kind,
		CreatedAt:  now,
		Deadline:   now.Add(e.ttl),
		data:       data,
	}

	e.mu.Lock()
	e.assets[asset.ID] = asset
	e.mu.Unlock()

	logger.Log.WithFields(map[string]interface{}{
		"asset_id": asset.ID,
		"kind":     kind,
		"ttl":      e.ttl.String(),
	}).Debug("raw media registered")

	return asset
}

// Release destroys the asset after a successful hand-off. Destroying an
// asset that is already gone is a no-op: no error, no second audit
// record.
func (e *Enforcer) Release(ctx context.Context, assetID string) {
	e.mu.Lock()
	asset, ok := e.assets[assetID]
	if ok {
		delete(e.assets, assetID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	e.destroy(asset)
	e.record(ctx, audit.TypeMediaDestroyed, asset, false)
}

// Sweep forcibly destroys every registered asset whose deadline has
// passed, regardless of release state. An asset still alive past its
// deadline indicates a systemic bug and is logged as a retention
// violation.
func (e *Enforcer) Sweep(ctx context.Context) int {
	now := e.clock().UTC()

	e.mu.Lock()
	var expired []*Asset
	for id, asset := range e.assets {
		if !now.Before(asset.Deadline) {
			expired = append(expired, asset)
			delete(e.assets, id)
		}
	}
	e.mu.Unlock()

	for _, asset := range expired {
		e.destroy(asset)
		e.record(ctx, audit.TypeRetentionViolation, asset, true)
	}
	return len(expired)
}

// Pending reports how many assets are currently tracked.
func (e *Enforcer) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.assets)
}

func (e *Enforcer) destroy(asset *Asset) {
	for i := range asset.data {
		asset.data[i] = 0
	}
	asset.data = nil
}

func (e *Enforcer) record(ctx context.Context, recordType string, asset *Asset, violation bool) {
	if e.recorder == nil {
		return
	}
	payload := map[string]interface{}{
		"asset_id": asset.ID,
		"kind":     asset.Kind,
		"deadline": asset.Deadline.Format(time.RFC3339),
	}
	if _, err := e.recorder.Append(ctx, recordType, asset.PatientRef, payload); err != nil {
		logger.Log.WithError(err).Error("failed to audit media destruction")
	}
	if violation {
		logger.Log.WithFields(map[string]interface{}{
			"asset_id": asset.ID,
			"kind":     asset.Kind,
		}).Error("raw media outlived its deadline, force-destroyed")
	}
}
