// Package schedule runs the pipelines as a long-lived cron daemon.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calshift/internal/log"
)

// Job is one named pipeline run.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobStatus is the observable state of one job.
type JobStatus struct {
	Name         string    `json:"name"`
	Spec         string    `json:"spec"`
	Next         time.Time `json:"next"`
	Running      bool      `json:"running"`
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// cronLogger adapts internal/log to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// Scheduler wraps a cron instance. A job whose previous run is still in
// progress skips its tick.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
	ids  map[string]cron.EntryID
	// ctx is handed to every run; set by Run.
	ctx context.Context

	mu     sync.Mutex
	order  []string
	status map[string]*JobStatus
}

// New registers jobs in loc. Every job must have a valid spec.
func New(loc *time.Location, jobs ...Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s := &Scheduler{
		cron:   c,
		loc:    loc,
		ids:    make(map[string]cron.EntryID, len(jobs)),
		ctx:    context.Background(),
		status: make(map[string]*JobStatus, len(jobs)),
	}
	var errs []error
	for _, j := range jobs {
		if j.Run == nil {
			errs = append(errs, fmt.Errorf("job %s has no run func", j.Name))
			continue
		}
		if _, dup := s.ids[j.Name]; dup {
			errs = append(errs, fmt.Errorf("job %s registered twice", j.Name))
			continue
		}
		id, err := c.AddFunc(j.Spec, s.wrap(j))
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Spec, err))
			continue
		}
		s.ids[j.Name] = id
		s.order = append(s.order, j.Name)
		s.status[j.Name] = &JobStatus{Name: j.Name, Spec: j.Spec}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// wrap turns a job into a cron func. Failures are logged; the next tick is
// the retry.
func (s *Scheduler) wrap(j Job) func() {
	return func() {
		start := time.Now()
		s.markStarted(j.Name, start)
		appLog.Info("job started", "job", j.Name)

		err := j.Run(s.ctx)
		s.markFinished(j.Name, time.Now(), err)
		if err != nil {
			appLog.Error("job failed", err, "job", j.Name, "elapsed", time.Since(start).String())
			return
		}
		appLog.Info("job finished", "job", j.Name, "elapsed", time.Since(start).String())
	}
}

func (s *Scheduler) markStarted(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		return
	}
	st.Running = true
	st.LastStarted = at
}

func (s *Scheduler) markFinished(name string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		return
	}
	st.Running = false
	st.Runs++
	st.LastFinished = at
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
}

// Next returns the first activation of each job after now, keyed by name.
func (s *Scheduler) Next(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.ids))
	for name, id := range s.ids {
		out[name] = s.cron.Entry(id).Schedule.Next(now.In(s.loc))
	}
	return out
}

// Statuses returns a snapshot of every job in registration order.
func (s *Scheduler) Statuses(now time.Time) []JobStatus {
	next := s.Next(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		st := *s.status[name]
		st.Next = next[name]
		out = append(out, st)
	}
	return out
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish. Running jobs see ctx cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for name, next := range s.Next(time.Now()) {
		appLog.Info("job scheduled", "job", name, "next", next.Format(time.RFC3339))
	}

	<-ctx.Done()
	appLog.Info("scheduler stopping, waiting for running jobs")
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}
