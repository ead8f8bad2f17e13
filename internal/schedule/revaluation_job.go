package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/derivscript/internal/config"
	"github.com/aristath/derivscript/internal/pricing"
	"github.com/aristath/derivscript/internal/store"
	"github.com/rs/zerolog"
)

// RevaluationJob re-prices one saved request on a schedule. It skips the
// work entirely when the request's hash (market data, script, scenario
// controls) is unchanged since the last run — a scheduled tick against
// unmoved market data would just reproduce the previous row.
type RevaluationJob struct {
	name string
	req  pricing.Request
	cfg  *config.Config
	log  zerolog.Logger
	db   *store.Store

	mu       sync.Mutex
	lastHash string
}

// NewRevaluationJob binds a named pricing request to the store it writes
// its results into.
func NewRevaluationJob(name string, req pricing.Request, cfg *config.Config, log zerolog.Logger, db *store.Store) *RevaluationJob {
	return &RevaluationJob{name: name, req: req, cfg: cfg, log: log, db: db}
}

// Name implements Job.
func (j *RevaluationJob) Name() string { return j.name }

// Run implements Job: re-price and persist, unless the request hasn't
// changed since the last successful run.
func (j *RevaluationJob) Run() error {
	hash, err := store.HashRequest(j.req)
	if err != nil {
		return fmt.Errorf("schedule: hashing request for job %s: %w", j.name, err)
	}

	j.mu.Lock()
	unchanged := j.lastHash != "" && j.lastHash == hash
	j.mu.Unlock()
	if unchanged {
		j.log.Debug().Str("job", j.name).Msg("request unchanged since last run, skipping")
		return nil
	}

	ctx := context.Background()
	resp, err := pricing.Price(ctx, j.cfg, j.log, j.req)
	if err != nil {
		return fmt.Errorf("schedule: pricing job %s: %w", j.name, err)
	}

	if _, err := j.db.SaveRun(ctx, j.req, resp); err != nil {
		return fmt.Errorf("schedule: saving run for job %s: %w", j.name, err)
	}

	j.mu.Lock()
	j.lastHash = hash
	j.mu.Unlock()
	return nil
}
