// Package scheduler runs ReplyPipe's periodic maintenance jobs.
//
// Jobs are registered with 5-field cron expressions (min, hour, dom, month,
// dow). The only job today prunes old inbound dedup records so the table
// does not grow without bound.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/ReplyPipe/internal/store"
)

// Defaults for the dedup retention job.
const (
	DefaultPruneSchedule  = "*/30 * * * *"
	DefaultDedupRetention = 72 * time.Hour
	pruneTimeout          = 30 * time.Second
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Panicking jobs are
// recovered and logged.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(logger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// PruneDedupJob returns a job that deletes dedup records older than
// retention.
func PruneDedupJob(repo store.DedupRepo, retention time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		cutoff := time.Now().Add(-retention)
		n, err := repo.PruneInbound(ctx, cutoff)
		if err != nil {
			slog.Error("scheduler.PruneDedupJob: prune failed", "error", err)
			return
		}
		slog.Debug("scheduler.PruneDedupJob: pruned dedup records", "removed", n, "cutoff", cutoff)
	}
}
