package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPruneSchedule runs retention pruning every ten minutes.
const DefaultPruneSchedule = "@every 10m"

// Pruner drops finished jobs older than a retention window.
type Pruner struct {
	store     JobStore
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewPruner creates a pruner over store.
func NewPruner(store JobStore, retention time.Duration, log zerolog.Logger) *Pruner {
	return &Pruner{store: store, retention: retention, log: log, now: time.Now}
}

// Prune removes terminal jobs completed before now minus the retention window.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneFinished(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("Prune: %w", err)
	}
	if n > 0 {
		p.log.Info().Int("pruned", n).Time("cutoff", cutoff).Msg("Pruned finished jobs")
	}
	return n, nil
}

// Schedule registers Prune on c with the given cron spec.
func (p *Pruner) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := p.Prune(ctx); err != nil {
			p.log.Error().Err(err).Msg("Job retention pruning failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("Schedule: invalid spec %q: %w", spec, err)
	}
	return id, nil
}
