// Package scheduler runs periodic maintenance, such as pruning old webhook
// dedup records, on cron expressions.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultPruneSchedule runs dedup pruning at the top of every hour.
	DefaultPruneSchedule = "@hourly"
	// DefaultDedupRetention is how long an event ID is remembered. LINE
	// redelivers for at most a day, so this leaves a wide margin.
	DefaultDedupRetention = 72 * time.Hour
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a stopped scheduler that accepts standard 5-field
// expressions and descriptors such as @hourly. A panicking job is logged and
// does not stop the others.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := slogLogger{}
	c := cron.New(cron.WithParser(parser), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	return &Scheduler{cron: c}
}

// AddJob schedules task under expr. It returns an error if the expression is
// invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return err
	}
	slog.Debug("Scheduler.AddJob: scheduled", "job", name, "expr", expr, "entry_id", id)
	return nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Pruner deletes dedup records older than a cutoff.
type Pruner interface {
	PruneBefore(cutoff time.Time) (int64, error)
}

// PruneDedupJob returns a job that forgets event IDs received more than
// retention ago.
func PruneDedupJob(repo Pruner, retention time.Duration, now func() time.Time) func() {
	if now == nil {
		now = time.Now
	}
	return func() {
		cutoff := now().Add(-retention)
		n, err := repo.PruneBefore(cutoff)
		if err != nil {
			slog.Error("scheduler.PruneDedupJob: prune failed", "cutoff", cutoff, "error", err)
			return
		}
		slog.Info("scheduler.PruneDedupJob: pruned dedup records", "removed", n, "cutoff", cutoff)
	}
}

// slogLogger routes cron's own logging into slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
