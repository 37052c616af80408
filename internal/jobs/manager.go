package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/text-extraction-service/internal/extractor"
	"github.com/toricodesthings/text-extraction-service/internal/metrics"
	"github.com/toricodesthings/text-extraction-service/internal/types"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 100
	DefaultRetention = 24 * time.Hour

	progressStarted = 10
	progressDone    = 100
)

// Extractor runs the pipeline for one document. *hybrid.Processor
// satisfies it.
type Extractor interface {
	Extract(ctx context.Context, doc extractor.Document, q types.Quality) types.ExtractionResult
}

// Notifier delivers terminal job states. *webhook.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, job types.Job) error
}

type Options struct {
	Workers       int
	QueueSize     int
	Retention     time.Duration
	SweepSchedule string        // cron spec; empty disables the scheduled sweep
	JobTimeout    time.Duration // 0 means no per-job deadline
	Now           func() time.Time
}

type SubmitRequest struct {
	Document    extractor.Document
	Quality     types.Quality
	CallbackURL string
}

type task struct {
	id  string
	req SubmitRequest
}

// update is one state transition, applied by the single applier goroutine.
type update struct {
	id       string
	status   types.JobStatus
	progress int
	at       time.Time
	result   *types.ExtractionResult
	errMsg   *string
	reply    chan *types.Job // stored job, or nil when the update was dropped
}

type Manager struct {
	store     Store
	extractor Extractor
	notifier  Notifier
	metrics   *metrics.Metrics
	opts      Options
	now       func() time.Time

	tasks   chan task
	updates chan update
	cron    *cron.Cron

	mu      sync.RWMutex // guards started, closed and sends on tasks
	started bool
	closed  bool

	ctx         context.Context
	cancel      context.CancelFunc
	workers     sync.WaitGroup
	notifies    sync.WaitGroup
	applierDone chan struct{}
}

// NewManager wires a manager. notifier and m may be nil. Call Start to
// begin processing.
func NewManager(store Store, ex Extractor, notifier Notifier, m *metrics.Metrics, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       store,
		extractor:   ex,
		notifier:    notifier,
		metrics:     m,
		opts:        opts,
		now:         now,
		tasks:       make(chan task, opts.QueueSize),
		updates:     make(chan update),
		ctx:         ctx,
		cancel:      cancel,
		applierDone: make(chan struct{}),
	}
}

// Start launches the applier, the worker pool and the expiry schedule.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return nil
	}

	if m.opts.SweepSchedule != "" {
		parser := cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)
		m.cron = cron.New(cron.WithParser(parser))
		if _, err := m.cron.AddFunc(m.opts.SweepSchedule, m.scheduledSweep); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", m.opts.SweepSchedule, err)
		}
	}

	m.started = true
	go m.applyLoop()
	for i := 0; i < m.opts.Workers; i++ {
		m.workers.Add(1)
		go m.worker()
	}
	if m.cron != nil {
		m.cron.Start()
	}

	log.Info().
		Int("workers", m.opts.Workers).
		Int("queue", m.opts.QueueSize).
		Dur("retention", m.opts.Retention).
		Str("sweep", m.opts.SweepSchedule).
		Msg("job manager started")
	return nil
}

// Stop refuses new submissions, lets queued and running jobs finish, and
// waits for pending webhooks. When ctx ends first, running extractions are
// cancelled and Stop still waits for the workers to return.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	close(m.tasks)
	m.mu.Unlock()

	if m.cron != nil {
		<-m.cron.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		m.notifies.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("job manager shutdown deadline reached, cancelling running jobs")
		m.cancel()
		<-done
		err = ctx.Err()
	}
	m.cancel()

	if started {
		close(m.updates)
		<-m.applierDone
	}
	log.Info().Msg("job manager stopped")
	return err
}

// Submit records a pending job and queues it. It never waits for a worker.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Document == nil {
		return "", errors.New("document required")
	}
	if req.Quality == "" {
		req.Quality = types.QualityBalanced
	}

	if _, err := m.SweepExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("lazy job sweep failed")
	}

	job := &types.Job{
		ID:          uuid.NewString(),
		Status:      types.JobPending,
		FileName:    req.Document.Name(),
		Quality:     req.Quality,
		CreatedAt:   m.now().UTC(),
		CallbackURL: req.CallbackURL,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		_ = m.store.Delete(ctx, job.ID)
		return "", ErrShuttingDown
	}
	select {
	case m.tasks <- task{id: job.ID, req: req}:
	default:
		_ = m.store.Delete(ctx, job.ID)
		return "", ErrQueueFull
	}

	m.metrics.RecordJob(types.JobPending)
	m.metrics.SetJobsQueued(len(m.tasks))
	log.Info().Str("job_id", job.ID).Str("file", job.FileName).Str("quality", string(job.Quality)).Msg("job submitted")
	return job.ID, nil
}

// Status returns the job, or ErrJobNotFound when it is unknown or past the
// retention window.
func (m *Manager) Status(ctx context.Context, id string) (*types.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.expired(job) {
		if err := m.store.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("job_id", id).Msg("delete expired job")
		}
		m.metrics.RecordJobsExpired(1)
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Result returns the extraction result of a completed job. A failed job
// yields an error wrapping ErrJobFailed; an unfinished one ErrJobNotReady.
func (m *Manager) Result(ctx context.Context, id string) (*types.ExtractionResult, error) {
	job, err := m.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case types.JobCompleted:
		return job.Result, nil
	case types.JobFailed:
		msg := "unknown error"
		if job.Error != nil {
			msg = *job.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, msg)
	default:
		return nil, ErrJobNotReady
	}
}

// SweepExpired deletes every job older than the retention window, whatever
// its state, and returns how many were removed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	ids, err := m.store.ListExpired(ctx, m.now().Add(-m.opts.Retention))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := m.store.Delete(ctx, id); err != nil {
			return n, fmt.Errorf("delete job %s: %w", id, err)
		}
		n++
	}
	m.metrics.RecordJobsExpired(n)
	if n > 0 {
		log.Info().Int("count", n).Msg("expired jobs removed")
	}
	return n, nil
}

func (m *Manager) scheduledSweep() {
	ctx, cancel := context.WithTimeout(m.ctx, time.Minute)
	defer cancel()
	if _, err := m.SweepExpired(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled job sweep failed")
	}
}

func (m *Manager) expired(job *types.Job) bool {
	return job.CreatedAt.Before(m.now().Add(-m.opts.Retention))
}

func (m *Manager) worker() {
	defer m.workers.Done()
	for t := range m.tasks {
		m.metrics.SetJobsQueued(len(m.tasks))
		m.run(t)
	}
}

func (m *Manager) run(t task) {
	if _, ok := m.apply(update{id: t.id, status: types.JobProcessing, progress: progressStarted, at: m.now().UTC()}); !ok {
		return
	}

	ctx := m.ctx
	if m.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.JobTimeout)
		defer cancel()
	}

	u := update{id: t.id, progress: progressDone}
	res, err := m.extract(ctx, t)
	switch {
	case err != nil:
		msg := err.Error()
		u.status, u.errMsg = types.JobFailed, &msg
	case !res.Success:
		msg := "extraction failed"
		if res.Error != nil {
			msg = *res.Error
		}
		u.status, u.errMsg = types.JobFailed, &msg
	default:
		u.status, u.result = types.JobCompleted, &res
	}
	u.at = m.now().UTC()

	job, ok := m.apply(u)
	if !ok || job.CallbackURL == "" || m.notifier == nil {
		return
	}
	m.notifies.Add(1)
	go func() {
		defer m.notifies.Done()
		_ = m.notifier.Notify(context.Background(), *job)
	}()
}

func (m *Manager) extract(ctx context.Context, t task) (res types.ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", t.id).Interface("panic", r).Msg("extraction panicked")
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()
	return m.extractor.Extract(ctx, t.req.Document, t.req.Quality), nil
}

func (m *Manager) apply(u update) (*types.Job, bool) {
	u.reply = make(chan *types.Job, 1)
	m.updates <- u
	job := <-u.reply
	return job, job != nil
}

func (m *Manager) applyLoop() {
	defer close(m.applierDone)
	for u := range m.updates {
		u.reply <- m.applyOne(u)
	}
}

func (m *Manager) applyOne(u update) *types.Job {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := m.store.Get(ctx, u.id)
	if err != nil {
		log.Warn().Err(err).Str("job_id", u.id).Str("status", string(u.status)).Msg("job vanished before update")
		return nil
	}
	if !job.Status.CanTransition(u.status) {
		log.Warn().Str("job_id", u.id).Str("from", string(job.Status)).Str("to", string(u.status)).Msg("illegal job transition dropped")
		return nil
	}

	job.Status = u.status
	if u.progress > job.Progress {
		job.Progress = u.progress
	}
	at := u.at
	if u.status == types.JobProcessing {
		job.StartedAt = &at
	} else {
		job.CompletedAt = &at
		job.Result = u.result
		job.Error = u.errMsg
	}

	if err := m.store.Update(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", u.id).Msg("persist job update")
		return nil
	}
	m.metrics.RecordJob(u.status)

	ev := log.Info()
	if u.status == types.JobFailed {
		ev = log.Warn().Str("error", *u.errMsg)
	}
	ev.Str("job_id", u.id).Str("status", string(u.status)).Int("progress", job.Progress).Msg("job updated")
	return job
}
