package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"esachat/internal/kvstore"
	"esachat/internal/services"
)

// IndexCleanupJob prunes recency-index members whose session document
// has expired. The indexes themselves carry a TTL but are refreshed on
// every save, so stale members would otherwise accumulate.
type IndexCleanupJob struct {
	store    kvstore.Store
	schedule cron.Schedule
	clock    clockwork.Clock
}

// NewIndexCleanupJob parses a five-field cron expression
func NewIndexCleanupJob(store kvstore.Store, expr string, clock clockwork.Clock) (*IndexCleanupJob, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", expr, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IndexCleanupJob{store: store, schedule: schedule, clock: clock}, nil
}

// Run scans every index and removes dangling members
func (j *IndexCleanupJob) Run(ctx context.Context) error {
	start := j.clock.Now()

	keys, err := j.store.Scan(ctx, services.IndexKeyPattern)
	if err != nil {
		return fmt.Errorf("scan indexes: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.prune(ctx, key)
		if err != nil {
			log.Printf("⚠️  [INDEX-CLEANUP] Failed to prune %s: %v", key, err)
			continue
		}
		removed += n
	}

	log.Printf("[INDEX-CLEANUP] Checked %d indexes, removed %d stale entries in %v",
		len(keys), removed, j.clock.Since(start))
	return nil
}

func (j *IndexCleanupJob) prune(ctx context.Context, key string) (int, error) {
	members, err := j.store.ZRevRangeWithScores(ctx, key)
	if err != nil {
		return 0, err
	}

	var candidates []kvstore.ScoredMember
	for _, m := range members {
		ok, err := j.store.Exists(ctx, m.Member)
		if err != nil {
			return 0, err
		}
		if !ok {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	// A save between the scan and here bumps the score or recreates the
	// document; ZRemStale skips such members.
	return j.store.ZRemStale(ctx, key, candidates)
}

// GetNextRunTime returns the next cron activation
func (j *IndexCleanupJob) GetNextRunTime() time.Time {
	return j.schedule.Next(j.clock.Now())
}
