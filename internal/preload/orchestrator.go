package preload

import (
	"context"
	"time"

	"github.com/nordaqua/fieldsync/internal/cache"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
)

// Result summarizes one store's warm-up.
type Result struct {
	Store models.StoreName `json:"store"`
	Count int              `json:"count"`
	Err   error            `json:"-"`
}

// Summary aggregates a full preload run.
type Summary struct {
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Failed returns the stores whose warm-up failed.
func (s *Summary) Failed() []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Orchestrator warms the read-through stores after login so the app
// can go offline immediately. Stores are fetched sequentially to keep
// load on the backend bounded.
type Orchestrator struct {
	readers []*cache.Reader
	logger  *events.Logger
}

// New creates an orchestrator over the given readers.
func New(readers []*cache.Reader, logger *events.Logger) *Orchestrator {
	return &Orchestrator{
		readers: readers,
		logger:  logger.WithField("component", "preload"),
	}
}

// Run force-refreshes every reader. A failing store does not stop the
// rest; its error lands in the summary.
func (o *Orchestrator) Run(ctx context.Context, scope models.Scope) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	for _, r := range o.readers {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		envs, err := r.Read(ctx, scope, cache.Filters{}, true)
		res := Result{Store: r.Store(), Count: len(envs), Err: err}
		if err != nil {
			o.logger.WithError(err).WithField("store", string(r.Store())).Warn("Preload failed for store")
		} else {
			o.logger.WithFields(map[string]interface{}{
				"store": string(r.Store()),
				"count": len(envs),
			}).Debug("Preloaded store")
		}
		summary.Results = append(summary.Results, res)
	}

	summary.Duration = time.Since(start)
	o.logger.WithFields(map[string]interface{}{
		"stores":   len(summary.Results),
		"failed":   len(summary.Failed()),
		"duration": summary.Duration.String(),
	}).Info("Preload finished")
	return summary, nil
}

// ShouldRefresh reports whether any read-through store has gone stale
// for the scope, so callers can decide to re-run the preload.
func (o *Orchestrator) ShouldRefresh(scope models.Scope) bool {
	for _, r := range o.readers {
		if r.IsStale(scope) {
			return true
		}
	}
	return false
}
