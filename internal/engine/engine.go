// Package engine runs backtests for the service layer: it bounds how many
// runs execute at once, applies the run timeout, consults the result cache
// and tracks asynchronous jobs.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketintel/internal/backtest"
	"marketintel/internal/cache"
	"marketintel/internal/telemetry"
)

// Backtester executes one run. *backtest.Runner implements it.
type Backtester interface {
	Run(ctx context.Context, req backtest.Request) (*backtest.Result, error)
	Options() backtest.Options
}

// Config holds the engine limits.
type Config struct {
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	JobRetention      time.Duration `yaml:"job_retention"` // finished jobs older than this are dropped
	Limits            Limits        `yaml:"limits"`
}

// DefaultConfig returns the stock engine limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRuns: 4,
		RunTimeout:        10 * time.Minute,
		JobRetention:      24 * time.Hour,
		Limits:            DefaultLimits(),
	}
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// JobStatus is the lifecycle state of an asynchronous run.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is an asynchronous backtest.
type Job struct {
	ID        string           `json:"id"`
	Status    JobStatus        `json:"status"`
	Request   backtest.Request `json:"request"`
	Submitted time.Time        `json:"submitted_at"`
	Started   time.Time        `json:"started_at"`
	Finished  time.Time        `json:"finished_at"`
	Error     string           `json:"error,omitempty"`
	Cached    bool             `json:"cached"`
	Result    *backtest.Result `json:"result,omitempty"`

	err error
}

// Err returns the error a failed job ended with.
func (j Job) Err() error { return j.err }

// Event is published on every job state change.
type Event struct {
	Type   string    `json:"type"` // "job"
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Publisher receives job events. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine runs backtests synchronously or as jobs. It is safe for concurrent
// use.
type Engine struct {
	runner  Backtester
	cfg     Config
	cache   cache.Cache
	metrics *telemetry.Metrics
	pub     Publisher
	log     zerolog.Logger

	sem chan struct{}

	mu   sync.RWMutex
	jobs map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache serves and stores results through c.
func WithCache(c cache.Cache) Option { return func(e *Engine) { e.cache = c } }

// WithMetrics records run metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithPublisher sends job events to p.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log.With().Str("component", "engine").Logger() }
}

// NewEngine creates an Engine around runner.
func NewEngine(runner Backtester, cfg Config, opts ...Option) *Engine {
	d := DefaultConfig()
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = d.MaxConcurrentRuns
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = d.RunTimeout
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = d.JobRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		runner: runner,
		cfg:    cfg,
		log:    zerolog.Nop(),
		sem:    make(chan struct{}, cfg.MaxConcurrentRuns),
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes req and waits for the result. cached reports whether it
// came from the cache.
func (e *Engine) Run(ctx context.Context, req backtest.Request) (res *backtest.Result, cached bool, err error) {
	if err := e.admit(req); err != nil {
		return nil, false, err
	}
	fp := cache.Fingerprint(req, e.runner.Options())

	if e.cache != nil {
		res, ok, err := e.cache.Get(ctx, fp)
		if err != nil {
			e.log.Warn().Err(err).Str("fingerprint", fp).Msg("cache lookup failed")
		}
		e.metrics.CacheLookup(ok)
		if ok {
			return res, true, nil
		}
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	defer func() { <-e.sem }()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	began := time.Now()
	e.metrics.RunStarted()
	res, err = e.runner.Run(runCtx, req)
	e.metrics.RunFinished(req.Normalized().ModelType, err, time.Since(began))
	if err != nil {
		return nil, false, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, fp, res); err != nil {
			e.log.Warn().Err(err).Str("fingerprint", fp).Msg("cache store failed")
		}
	}
	return res, false, nil
}

// Submit validates req and starts it as a job.
func (e *Engine) Submit(req backtest.Request) (Job, error) {
	if err := e.admit(req); err != nil {
		return Job{}, err
	}
	if err := e.ctx.Err(); err != nil {
		return Job{}, fmt.Errorf("engine closed: %w", err)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobQueued,
		Request:   req,
		Submitted: time.Now().UTC(),
	}
	e.mu.Lock()
	e.pruneLocked(job.Submitted)
	e.jobs[job.ID] = job
	snapshot := *job
	e.mu.Unlock()
	e.publish(snapshot)

	e.wg.Add(1)
	go e.runJob(job.ID, req)
	return snapshot, nil
}

func (e *Engine) runJob(id string, req backtest.Request) {
	defer e.wg.Done()

	e.update(id, func(j *Job) {
		j.Status = JobRunning
		j.Started = time.Now().UTC()
	})

	res, cached, err := e.Run(e.ctx, req)

	e.update(id, func(j *Job) {
		j.Finished = time.Now().UTC()
		j.Cached = cached
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
			j.err = err
			return
		}
		j.Status = JobDone
		j.Result = res
	})
	if err != nil {
		e.log.Warn().Err(err).Str("job", id).Msg("job failed")
	} else {
		e.log.Info().Str("job", id).Bool("cached", cached).Msg("job done")
	}
}

func (e *Engine) update(id string, fn func(*Job)) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	fn(j)
	snapshot := *j
	e.mu.Unlock()
	e.publish(snapshot)
}

func (e *Engine) publish(j Job) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(Event{Type: "job", JobID: j.ID, Status: j.Status, Error: j.Error, Time: time.Now().UTC()})
}

// pruneLocked drops finished jobs older than the retention period.
func (e *Engine) pruneLocked(now time.Time) {
	for id, j := range e.jobs {
		if (j.Status == JobDone || j.Status == JobFailed) && now.Sub(j.Finished) > e.cfg.JobRetention {
			delete(e.jobs, id)
		}
	}
}

// Job returns a snapshot of the job with id.
func (e *Engine) Job(id string) (Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns snapshots of all tracked jobs, newest first.
func (e *Engine) Jobs() []Job {
	e.mu.RLock()
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, *j)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Submitted.After(out[k].Submitted) })
	return out
}

// Wait blocks until every submitted job has finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels running jobs and waits for them to stop or ctx to end.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	return e.Wait(ctx)
}

func (e *Engine) admit(req backtest.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return e.cfg.Limits.Check(req.Normalized())
}
