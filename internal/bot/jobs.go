package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/nexguard/nexbot/internal/store"
	"github.com/rs/zerolog/log"
)

// Job names, used in logs and metrics.
const (
	JobDailyReport = "daily_report"
	JobExpiryCheck = "expiry_check"
	JobReauth      = "reauth"
	JobBackup      = "backup"
	JobCleanup     = "cleanup"
)

// Jobs holds the handlers run by the scheduler. Each handler is safe to
// run concurrently with message processing.
type Jobs struct {
	admin      string
	core       *Core
	sender     Sender
	panel      Provisioner
	store      store.Store
	backupDir  string
	backupKeep int
	idleAfter  time.Duration
	maxHistory int
	metrics    *metrics.Recorder
	now        func() time.Time
}

// JobsOpts holds parameters for creating Jobs.
type JobsOpts struct {
	AdminIdentity  string
	Core           *Core
	Sender         Sender
	Panel          Provisioner // optional; reauth is skipped without it
	Store          store.Store
	BackupDir      string
	BackupKeep     int           // defaults to 4
	IdleAfter      time.Duration // defaults to 24h
	MaxChatHistory int           // defaults to 5
	Metrics        *metrics.Recorder
	Now            func() time.Time
}

// NewJobs creates Jobs.
func NewJobs(opts JobsOpts) (*Jobs, error) {
	if opts.Core == nil {
		return nil, fmt.Errorf("bot: jobs: core is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("bot: jobs: sender is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: jobs: store is required")
	}
	j := &Jobs{
		admin:      opts.AdminIdentity,
		core:       opts.Core,
		sender:     opts.Sender,
		panel:      opts.Panel,
		store:      opts.Store,
		backupDir:  opts.BackupDir,
		backupKeep: opts.BackupKeep,
		idleAfter:  opts.IdleAfter,
		maxHistory: opts.MaxChatHistory,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if j.backupDir == "" {
		j.backupDir = "backups"
	}
	if j.backupKeep <= 0 {
		j.backupKeep = 4
	}
	if j.idleAfter <= 0 {
		j.idleAfter = 24 * time.Hour
	}
	if j.maxHistory <= 0 {
		j.maxHistory = 5
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j, nil
}

// Run executes the named job and records its outcome.
func (j *Jobs) Run(ctx context.Context, name string) error {
	var err error
	switch name {
	case JobDailyReport:
		err = j.DailyReport(ctx)
	case JobExpiryCheck:
		err = j.ExpiryReminder(ctx)
	case JobReauth:
		err = j.Reauthenticate(ctx)
	case JobBackup:
		_, err = j.Backup(ctx)
	case JobCleanup:
		j.Cleanup(ctx)
	default:
		err = fmt.Errorf("bot: unknown job %q", name)
	}
	j.metrics.Job(name, err)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("bot: job failed")
	} else {
		log.Info().Str("job", name).Msg("bot: job finished")
	}
	return err
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Report renders the daily report for the calendar day containing now:
// that day's messages and orders plus cumulative totals.
func Report(c *Core, now time.Time) string {
	today := startOfDay(now)
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily Report - %s*\n\n", today.Format("2006-01-02"))
	fmt.Fprintf(&b, "*Messages:* %d\n", c.Messages.CountSince(today))
	fmt.Fprintf(&b, "*Orders:* %d\n\n", c.Orders.CountSince(today))
	fmt.Fprintf(&b, "*Total Users:* %d\n", c.Sessions.Len())
	fmt.Fprintf(&b, "*Total Orders:* %d", c.Orders.Total())
	return b.String()
}

// DailyReport sends the daily report to the admin.
func (j *Jobs) DailyReport(ctx context.Context) error {
	return j.sendAdmin(ctx, Report(j.core, j.now()))
}

// ExpiryReminder reminds the admin to review expiring accounts.
func (j *Jobs) ExpiryReminder(ctx context.Context) error {
	return j.sendAdmin(ctx, "*Expiring Accounts Reminder*\n\nPlease check the panel for accounts expiring soon.")
}

func (j *Jobs) sendAdmin(ctx context.Context, text string) error {
	if err := j.sender.Send(ctx, OutboundMessage{To: j.admin, Text: text}); err != nil {
		return fmt.Errorf("bot: send to admin: %w", err)
	}
	return nil
}

// Reauthenticate replaces the cached panel credential with a fresh one.
func (j *Jobs) Reauthenticate(ctx context.Context) error {
	if j.panel == nil {
		return nil
	}
	if err := j.panel.Login(ctx); err != nil {
		return fmt.Errorf("bot: reauth: %w", err)
	}
	return nil
}

// Backup flushes every ledger, snapshots them into the backup directory and
// prunes old snapshots. It returns the snapshot paths written.
func (j *Jobs) Backup(ctx context.Context) ([]string, error) {
	if err := j.core.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("bot: flush before backup")
	}
	written, err := store.Backup(ctx, j.store, j.backupDir, j.now())
	if err != nil {
		return written, err
	}
	removed, err := store.Prune(j.backupDir, j.backupKeep)
	if err != nil {
		return written, err
	}
	log.Info().Int("written", len(written)).Int("pruned", len(removed)).Str("dir", j.backupDir).Msg("bot: backup complete")
	return written, nil
}

// Cleanup reclaims idle sessions and bounds chat histories and message logs.
// Orders and promotions are never touched.
func (j *Jobs) Cleanup(ctx context.Context) {
	reclaimed := j.core.Sessions.Reclaim(ctx, j.idleAfter, j.maxHistory)
	dropped := j.core.Messages.Trim(ctx)
	log.Info().Int("reclaimed", reclaimed).Int("log_dropped", dropped).Msg("bot: cleanup complete")
}
