package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/modules/optimization"
)

// DefaultStaleRunAge is how long a scenario may sit in RUNNING before the
// reaper assumes the worker died.
const DefaultStaleRunAge = 30 * time.Minute

// StaleRunReaper fails scenarios abandoned mid-run by a crashed or
// restarted process.
type StaleRunReaper struct {
	scenarios *optimization.ScenarioRepository
	maxAge    time.Duration
	log       zerolog.Logger
}

// NewStaleRunReaper creates the reaper job. maxAge <= 0 falls back to
// DefaultStaleRunAge.
func NewStaleRunReaper(scenarios *optimization.ScenarioRepository, maxAge time.Duration, log zerolog.Logger) *StaleRunReaper {
	if maxAge <= 0 {
		maxAge = DefaultStaleRunAge
	}
	return &StaleRunReaper{
		scenarios: scenarios,
		maxAge:    maxAge,
		log:       log.With().Str("component", "stale_run_reaper").Logger(),
	}
}

// Name implements Job.
func (j *StaleRunReaper) Name() string { return "stale_run_reaper" }

// Run implements Job.
func (j *StaleRunReaper) Run() error {
	cutoff := time.Now().UTC().Add(-j.maxAge)
	count, err := j.scenarios.FailStale(context.Background(), cutoff)
	if err != nil {
		return err
	}
	if count > 0 {
		j.log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("Reaped stale scenarios")
	}
	return nil
}

// FuncJob adapts a plain function into a Job.
type FuncJob struct {
	JobName string
	Fn      func() error
}

// Name implements Job.
func (j FuncJob) Name() string { return j.JobName }

// Run implements Job.
func (j FuncJob) Run() error { return j.Fn() }
