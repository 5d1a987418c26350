package scheduler

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/phoen-ix/bank-of-tina/internal/email"
	"github.com/phoen-ix/bank-of-tina/internal/services"
)

// Job names used for install/replace.
const (
	EmailJob  = "email_job"
	CommonJob = "common_job"
	BackupJob = "backup_job"
)

// Jobs wires the recurring work to the settings-driven schedules.
type Jobs struct {
	sched    *Scheduler
	settings *services.Settings
	emails   *email.Service
	collect  *services.AutoCollect
	backups  BackupService
}

// BackupService is the subset of the backup service the jobs need.
type BackupService interface {
	Run(ctx context.Context) (string, error)
	Prune(keep int) (int, error)
	Count() (int, error)
}

func NewJobs(sched *Scheduler, settings *services.Settings, emails *email.Service, collect *services.AutoCollect, backups BackupService) *Jobs {
	return &Jobs{
		sched:    sched,
		settings: settings,
		emails:   emails,
		collect:  collect,
		backups:  backups,
	}
}

func (j *Jobs) intSetting(ctx context.Context, key string, def int) int {
	n, err := strconv.Atoi(j.settings.Get(ctx, key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return n
}

// InstallEmailJob (re)schedules the weekly email batch.
func (j *Jobs) InstallEmailJob(ctx context.Context) error {
	spec := JobSpec{
		Day:      j.settings.Get(ctx, "schedule_day", "mon"),
		Hour:     j.intSetting(ctx, "schedule_hour", 9),
		Minute:   j.intSetting(ctx, "schedule_minute", 0),
		Location: j.settings.Timezone(ctx),
	}
	return j.sched.Install(EmailJob, spec, func() {
		if _, err := j.emails.SendAll(context.Background()); err != nil {
			slog.Error("Scheduled email batch failed", "error", err)
		}
	})
}

// InstallCommonJob (re)schedules the suggestion auto-collect pass.
func (j *Jobs) InstallCommonJob(ctx context.Context) error {
	spec := JobSpec{
		Day:      j.settings.Get(ctx, "common_auto_day", "*"),
		Hour:     j.intSetting(ctx, "common_auto_hour", 2),
		Minute:   j.intSetting(ctx, "common_auto_minute", 0),
		Location: j.settings.Timezone(ctx),
	}
	return j.sched.Install(CommonJob, spec, func() {
		if _, err := j.collect.Run(context.Background()); err != nil {
			slog.Error("Scheduled auto-collect failed", "error", err)
		}
	})
}

// InstallBackupJob (re)schedules the backup run with pruning and the
// optional admin report.
func (j *Jobs) InstallBackupJob(ctx context.Context) error {
	spec := JobSpec{
		Day:      j.settings.Get(ctx, "backup_day", "*"),
		Hour:     j.intSetting(ctx, "backup_hour", 3),
		Minute:   j.intSetting(ctx, "backup_minute", 0),
		Location: j.settings.Timezone(ctx),
	}
	return j.sched.Install(BackupJob, spec, func() {
		ctx := context.Background()
		keep := j.intSetting(ctx, "backup_keep", 7)

		filename, err := j.backups.Run(ctx)
		ok := err == nil
		result := filename
		if err != nil {
			result = err.Error()
			slog.Error("Scheduled backup failed", "error", err)
		}

		pruned := 0
		if ok && keep > 0 {
			if pruned, err = j.backups.Prune(keep); err != nil {
				slog.Error("Backup prune failed", "error", err)
			}
		}

		kept, err := j.backups.Count()
		if err != nil {
			slog.Error("Backup count failed", "error", err)
		}
		j.emails.SendBackupReport(ctx, ok, result, kept, pruned)
	})
}

func (j *Jobs) RemoveEmailJob()  { j.sched.Remove(EmailJob) }
func (j *Jobs) RemoveCommonJob() { j.sched.Remove(CommonJob) }
func (j *Jobs) RemoveBackupJob() { j.sched.Remove(BackupJob) }

// Restore reinstalls the enabled jobs from settings. Called once at
// startup so schedules survive restarts.
func (j *Jobs) Restore(ctx context.Context) error {
	if j.settings.Get(ctx, "schedule_enabled", "0") == "1" {
		if err := j.InstallEmailJob(ctx); err != nil {
			return err
		}
	}
	if j.settings.Get(ctx, "common_auto_enabled", "0") == "1" {
		if err := j.InstallCommonJob(ctx); err != nil {
			return err
		}
	}
	if j.settings.Get(ctx, "backup_enabled", "0") == "1" {
		if err := j.InstallBackupJob(ctx); err != nil {
			return err
		}
	}
	return nil
}
