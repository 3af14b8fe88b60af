package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// DedupGuard suppresses repeat alerts for the same condition inside the
// cooldown window. The key is claimed with SET NX, so the first caller
// wins and the TTL bounds the window without any cleanup pass.
type DedupGuard struct {
	client   *redis.Client
	cooldown time.Duration
}

func NewDedupGuard(client *redis.Client, cooldown time.Duration) *DedupGuard {
	return &DedupGuard{client: client, cooldown: cooldown}
}

// Claim returns false when an identical condition already claimed the
// window. A Redis failure is treated as no duplicate: suppressing a
// real alert is worse than repeating one.
func (g *DedupGuard) Claim(ctx context.Context, key string) bool {
	if g == nil || g.client == nil {
		return true
	}
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.cooldown).Result()
	if err != nil {
		logger.Log.WithError(err).Warn("dedup store unavailable, alert passes through")
		return true
	}
	return ok
}

// DedupKey identifies a condition: patient, severity bucket, and the
// triggering rule. Two distinct critical conditions for one patient
// never share a key, so a new emergency is never suppressed by an
// earlier, different one.
func DedupKey(patientID string, severity int, rule string) string {
	if rule == "" {
		rule = "none"
	}
	return fmt.Sprintf("alert:dedup:%s:%d:%s", patientID, severity, rule)
}
