// Package scheduler runs registered jobs on cron or interval triggers from a
// single timer loop, with manual triggering and a point in time status view.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading_scheduler/metrics"
	"trading_scheduler/services/calendar"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned by TriggerNow while the job is executing
	ErrJobRunning = errors.New("job already executing")
	// ErrSkipped is returned (wrapped) by handlers whose preconditions do not hold
	ErrSkipped = errors.New("job skipped")
)

// idleWait bounds the sleep when no job has a next run
const idleWait = time.Hour

// Handler is the body of a job
type Handler func(ctx context.Context) error

// Job states
const (
	StateIdle      = "idle"
	StateExecuting = "executing"
)

// RunInfo describes the last finished execution of a job
type RunInfo struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Skipped    bool      `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

type job struct {
	id        string
	name      string
	trigger   Trigger
	handler   Handler
	next      time.Time
	state     string
	triggered bool
	last      *RunInfo
	runs      int
	errors    int
}

// Scheduler owns the jobs and the timer loop. All methods are safe for
// concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	jobs     []*job
	index    map[string]*job
	running  bool
	start    time.Time
	stop     chan struct{}
	loopDone chan struct{}
	kick     chan struct{}
	inflight *sync.WaitGroup // handlers started since the last Start

	calendar *calendar.Calendar
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a stopped scheduler. The calendar supplies the clock and the
// market fields of Status.
func New(cal *calendar.Calendar, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		index:    make(map[string]*job),
		kick:     make(chan struct{}, 1),
		calendar: cal,
		metrics:  m,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Register adds a job, or replaces the trigger and handler of the job with
// the same id while keeping its position and counters.
func (s *Scheduler) Register(id, name string, trigger Trigger, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.index[id]
	if !ok {
		j = &job{id: id, state: StateIdle}
		s.index[id] = j
		s.jobs = append(s.jobs, j)
	}
	j.name = name
	j.trigger = trigger
	j.handler = handler
	if s.running && !j.triggered {
		j.next = trigger.Next(s.start, s.calendar.Now())
	}
	s.logger.Info("job registered", zap.String("job", id), zap.String("trigger", trigger.String()), zap.Bool("replaced", ok))
	s.notify()
}

// Start computes the first run of every job and starts the timer loop. It is a
// no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.running = true
	s.start = s.calendar.Now()
	for _, j := range s.jobs {
		if j.triggered {
			j.next = s.start
			continue
		}
		j.next = j.trigger.Next(s.start, s.start)
	}
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.inflight = &sync.WaitGroup{}
	go s.loop(s.stop, s.loopDone)

	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop ends the timer loop and waits for running handlers, up to ctx. Running
// handlers are not cancelled. A later Start may run while they finish. It is a no-op when not running.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	loopDone := s.loopDone
	inflight := s.inflight
	s.mu.Unlock()

	<-loopDone

	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// Running reports whether the timer loop is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerNow makes the job due immediately. It returns ErrJobNotFound for an
// unknown id and ErrJobRunning while the job is executing (HTTP 409).
func (s *Scheduler) TriggerNow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.state == StateExecuting {
		return fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	j.triggered = true
	j.next = s.calendar.Now()
	s.logger.Info("job triggered manually", zap.String("job", id))
	s.notify()
	return nil
}

func (s *Scheduler) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	for {
		wait := s.dispatchDue()
		timer.Reset(wait)

		select {
		case <-stop:
			return
		case <-timer.C:
		case <-s.kick:
		}
	}
}

// dispatchDue starts every due job in registration order and returns how long
// to sleep until the next one
func (s *Scheduler) dispatchDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return idleWait
	}

	now := s.calendar.Now()
	for _, j := range s.jobs {
		if j.next.IsZero() || j.next.After(now) {
			continue
		}
		if j.state == StateExecuting {
			s.logger.Warn("job still executing, skipping run", zap.String("job", j.id))
			s.metrics.ObserveJob(j.id, "skipped", 0)
			j.next = j.trigger.Next(s.start, now)
			continue
		}

		j.state = StateExecuting
		j.triggered = false
		j.next = j.trigger.Next(s.start, now)
		s.inflight.Add(1)
		go s.execute(s.inflight, j, j.handler)
	}

	wait := idleWait
	for _, j := range s.jobs {
		if j.next.IsZero() {
			continue
		}
		if d := j.next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) execute(inflight *sync.WaitGroup, j *job, handler Handler) {
	defer inflight.Done()

	log := s.logger.With(zap.String("job", j.id))
	started := s.calendar.Now()
	log.Info("job started")

	err := runHandler(context.Background(), handler)
	finished := s.calendar.Now()
	skipped := errors.Is(err, ErrSkipped)

	s.mu.Lock()
	j.state = StateIdle
	j.runs++
	j.last = &RunInfo{StartedAt: started, FinishedAt: finished, Skipped: skipped}
	if err != nil && !skipped {
		j.errors++
		j.last.Error = err.Error()
	}
	j.next = j.trigger.Next(s.start, finished)
	s.mu.Unlock()

	status := "success"
	switch {
	case skipped:
		status = "skipped"
		log.Info("job skipped", zap.String("reason", err.Error()))
	case err != nil:
		status = "error"
		log.Error("job failed", zap.Error(err), zap.Duration("duration", finished.Sub(started)))
	default:
		log.Info("job completed", zap.Duration("duration", finished.Sub(started)))
	}
	s.metrics.ObserveJob(j.id, status, finished.Sub(started))
	s.notify()
}

func runHandler(ctx context.Context, h Handler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx)
}

// JobStatus is a snapshot of one job
type JobStatus struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Trigger     string     `json:"trigger"`
	State       string     `json:"state"`
	NextRunTime *time.Time `json:"next_run_time"`
	LastRun     *RunInfo   `json:"last_run,omitempty"`
	RunCount    int        `json:"run_count"`
	ErrorCount  int        `json:"error_count"`
}

// Status is a snapshot of the scheduler and the market
type Status struct {
	Running     bool        `json:"running"`
	CurrentTime time.Time   `json:"current_time"`
	Timezone    string      `json:"timezone"`
	MarketOpen  bool        `json:"market_open"`
	TradingDay  bool        `json:"trading_day"`
	Jobs        []JobStatus `json:"jobs"`
}

// Status returns a side effect free snapshot
func (s *Scheduler) Status() Status {
	now := s.calendar.Now()
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return Status{
		Running:     running,
		CurrentTime: now,
		Timezone:    s.calendar.Location().String(),
		MarketOpen:  s.calendar.IsMarketOpen(now),
		TradingDay:  s.calendar.IsTradingDay(now),
		Jobs:        s.Jobs(),
	}
}

// Jobs lists the jobs in registration order
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			ID:         j.id,
			Name:       j.name,
			Trigger:    j.trigger.String(),
			State:      j.state,
			RunCount:   j.runs,
			ErrorCount: j.errors,
		}
		if !j.next.IsZero() {
			next := j.next
			st.NextRunTime = &next
		}
		if j.last != nil {
			last := *j.last
			st.LastRun = &last
		}
		out = append(out, st)
	}
	return out
}
