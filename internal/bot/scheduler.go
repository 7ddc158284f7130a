package bot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nexguard/nexbot/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobRunner runs a named job. Jobs satisfies it.
type JobRunner interface {
	Run(ctx context.Context, name string) error
}

// Scheduler triggers the periodic jobs on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// NewScheduler registers every job with a non-empty schedule. Jobs run with
// ctx; an invalid expression is an error.
func NewScheduler(ctx context.Context, sc config.ScheduleConfig, jobs JobRunner) (*Scheduler, error) {
	c := cron.New(cron.WithParser(cronParser))
	s := &Scheduler{cron: c, entries: make(map[string]cron.EntryID)}
	specs := []struct{ name, expr string }{
		{JobDailyReport, sc.DailyReport},
		{JobExpiryCheck, sc.ExpiryCheck},
		{JobReauth, sc.Reauth},
		{JobBackup, sc.Backup},
		{JobCleanup, sc.Cleanup},
	}
	for _, spec := range specs {
		if spec.expr == "" {
			continue
		}
		name := spec.name
		id, err := c.AddFunc(spec.expr, func() {
			_ = jobs.Run(ctx, name)
		})
		if err != nil {
			return nil, fmt.Errorf("bot: schedule %s %q: %w", name, spec.expr, err)
		}
		s.entries[name] = id
	}
	return s, nil
}

// Jobs returns the sorted names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns the next fire time of a scheduled job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.entries)).Msg("bot: scheduler started")
}

// Stop stops firing jobs and waits for running ones to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
