// Package scheduler runs the recurring jobs (weekly emails, common
// value auto-collect, backups) on cron schedules kept in settings.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobSpec is a settings-panel schedule: a day-of-week token ("mon",
// "tue", ..., or "*" for every day), an hour and a minute, evaluated in
// the given timezone.
type JobSpec struct {
	Day      string
	Hour     int
	Minute   int
	Location *time.Location
}

func (s JobSpec) cronSpec() string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s",
		s.Location.String(), s.Minute, s.Hour, s.Day)
}

// Scheduler wraps a cron runner with named, replaceable jobs.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Install registers fn under name, replacing any previous job with the
// same name.
func (s *Scheduler) Install(name string, spec JobSpec, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
	id, err := s.cron.AddFunc(spec.cronSpec(), fn)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs[name] = id
	slog.Info("Job scheduled",
		"job", name, "day", spec.Day, "hour", spec.Hour,
		"minute", spec.Minute, "tz", spec.Location.String())
	return nil
}

// Remove unschedules the named job. Removing an unknown name is a
// no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
		slog.Info("Job removed", "job", name)
	}
}

// Has reports whether a job with the given name is scheduled.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}
