// Package engine executes queued jobs on a fixed worker pool. A worker
// claims a job, takes the account's run lease, drives one runner
// invocation to a terminal state, and folds the outcome back into the
// store. The lease is the only cross-worker coordination: whoever fails
// to take it drops the job.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"runbot/internal/account"
	"runbot/internal/eventbus"
	"runbot/internal/history"
	"runbot/internal/notify"
	"runbot/internal/queue"
	"runbot/internal/runner"
	"runbot/internal/runtime/supervisor"
	"runbot/internal/secret"
	"runbot/internal/store"
	logx "runbot/pkg/logx"
)

const (
	defaultWorkers  = 2
	defaultLeaseTTL = 5 * time.Minute
)

type Config struct {
	Workers  int
	LeaseTTL time.Duration

	// LaunchDelay paces job starts across the pool so a burst of due
	// accounts does not start every runner at once. Zero disables.
	LaunchDelay time.Duration
}

type Service struct {
	log     logx.Logger
	cfg     Config
	store   *store.Store
	queue   *queue.Queue
	adapter runner.Adapter
	cipher  *secret.Cipher
	sink    notify.Sink
	hist    history.Store
	bus     eventbus.Bus

	limiter *rate.Limiter

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	running map[string]string // account key -> job ID
}

func New(cfg Config, st *store.Store, q *queue.Queue, ad runner.Adapter, cipher *secret.Cipher, sink notify.Sink, hist history.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if sink == nil {
		sink = notify.Noop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		cfg:     cfg,
		store:   st,
		queue:   q,
		adapter: ad,
		cipher:  cipher,
		sink:    sink,
		hist:    hist,
		bus:     bus,
		running: map[string]string{},
	}
	if cfg.LaunchDelay > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.LaunchDelay), 1)
	}
	return s
}

// Start spins up the worker pool. Idempotent while running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	for i := 0; i < s.cfg.Workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		s.sup.GoRestart(name, s.workerLoop, 500*time.Millisecond, 10*time.Second)
	}
	s.log.Info("worker pool started", logx.Int("workers", s.cfg.Workers))
}

// Stop cancels the workers and waits for in-flight jobs until ctx
// expires. Jobs still queued stay queued.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	_ = sup.Stop(ctx)
	s.log.Info("worker pool stopped")
}

// ActiveJobs reports how many jobs are executing right now.
func (s *Service) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// RunningFor reports the job currently executing for an account, if any.
func (s *Service) RunningFor(owner, accountID string) (string, bool) {
	key := (&account.Account{ID: accountID, Owner: owner}).Key()
	s.mu.Lock()
	id, ok := s.running[key]
	s.mu.Unlock()
	return id, ok
}

func (s *Service) workerLoop(ctx context.Context) error {
	for {
		job, err := s.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		s.execute(ctx, job)
	}
}

func (s *Service) execute(ctx context.Context, job queue.Job) {
	log := s.log.With(
		logx.String("job", job.ID),
		logx.String("account", job.AccountID),
		logx.String("mode", string(job.Mode)),
		logx.String("trigger", string(job.Trigger)),
	)

	now := time.Now()
	acct, acquired, err := s.store.TryAcquireLease(job.Owner, job.AccountID, now, s.cfg.LeaseTTL)
	if err != nil {
		log.Warn("job dropped", logx.Err(err))
		s.record(ctx, job, account.RunResult{}, err, 0)
		return
	}
	if !acquired {
		// Another run holds the account. The job is terminal, not
		// requeued; the next schedule slot or manual trigger decides.
		log.Info("job skipped, account busy",
			logx.Time("lease_until", acct.SyncLeaseExpiresAt))
		s.record(ctx, job, account.RunResult{}, errAccountBusy, 0)
		return
	}

	key := acct.Key()
	s.mu.Lock()
	s.running[key] = job.ID
	s.mu.Unlock()
	s.publish(eventbus.TypeRunStarted, job, nil)
	defer func() {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()
	}()

	password := acct.Credentials
	if s.cipher != nil {
		// Decrypt falls back to the stored form for legacy plaintext rows.
		password = s.cipher.Decrypt(acct.Credentials)
	}

	req := runner.Request{
		AccountID:      acct.ID,
		Owner:          acct.Owner,
		Phone:          account.DisplayPhone(acct.ID),
		Password:       password,
		Iterations:     job.Params.Iterations,
		ReviewText:     job.Params.ReviewText,
		Viewport:       job.Params.Viewport,
		Headless:       job.Params.Headless,
		SyncOnly:       job.Mode == queue.ModeSync,
		TimeoutSeconds: job.Params.TimeoutSeconds,
	}

	sink, closeSink := s.openLogSink(log, job.LogPath)
	started := time.Now()
	result, runErr := s.runAdapter(ctx, req, sink)
	took := time.Since(started)
	closeSink()

	if runErr != nil {
		log.Warn("run failed", logx.Err(runErr), logx.Duration("took", took))
		s.persist(log, func() error { return s.store.ReleaseLease(job.Owner, job.AccountID) })
		s.record(ctx, job, account.RunResult{}, runErr, took)
		s.report(ctx, job, acct, account.RunResult{}, runErr, took)
		s.publish(eventbus.TypeRunFinished, job, runErr)
		return
	}

	if result.Income == 0 && result.Total > 0 && result.Completed >= result.Total {
		// Income is a fixed per-tier rate; fill it in when the scrape
		// missed it but the day's task loop finished.
		result.Income = acct.Tier.DailyRate()
	}

	log.Info("run finished",
		logx.Int("completed", result.Completed),
		logx.Int("total", result.Total),
		logx.Duration("took", took))
	s.persist(log, func() error {
		return s.store.MergeResult(job.Owner, job.AccountID, account.DateKey(now), result)
	})
	s.record(ctx, job, result, nil, took)
	s.report(ctx, job, acct, result, nil, took)
	s.publish(eventbus.TypeRunFinished, job, nil)
}

func (s *Service) publish(typ string, job queue.Job, runErr error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.RunEvent{
		JobID:     job.ID,
		Owner:     job.Owner,
		AccountID: job.AccountID,
		Mode:      string(job.Mode),
		Trigger:   string(job.Trigger),
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

var errAccountBusy = fmt.Errorf("account busy: run lease held")

// runAdapter shields the pool from a panicking adapter; the panic
// becomes a failed run for that one job.
func (s *Service) runAdapter(ctx context.Context, req runner.Request, sink io.Writer) (result account.RunResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner panicked: %v", p)
		}
	}()
	return s.adapter.Run(ctx, req, sink)
}

// persist runs a store write and retries once; the store logs details.
func (s *Service) persist(log logx.Logger, fn func() error) {
	if err := fn(); err != nil {
		time.Sleep(100 * time.Millisecond)
		if err := fn(); err != nil {
			log.Error("store write failed after retry", logx.Err(err))
		}
	}
}

func (s *Service) openLogSink(log logx.Logger, path string) (io.Writer, func()) {
	if path == "" {
		return io.Discard, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("run log dir create failed", logx.String("path", path), logx.Err(err))
		return io.Discard, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn("run log open failed", logx.String("path", path), logx.Err(err))
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}

func (s *Service) record(ctx context.Context, job queue.Job, result account.RunResult, runErr error, took time.Duration) {
	if s.hist == nil {
		return
	}
	rec := history.Record{
		At:        time.Now(),
		JobID:     job.ID,
		Owner:     job.Owner,
		AccountID: job.AccountID,
		Mode:      string(job.Mode),
		Trigger:   string(job.Trigger),
		Completed: result.Completed,
		Total:     result.Total,
		TookMS:    took.Milliseconds(),
		LogPath:   job.LogPath,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.hist.Append(actx, rec); err != nil {
		s.log.Warn("history append failed", logx.String("job", job.ID), logx.Err(err))
	}
}

// report publishes the outcome of full runs. Sync runs are silent.
func (s *Service) report(ctx context.Context, job queue.Job, acct account.Account, result account.RunResult, runErr error, took time.Duration) {
	if job.Mode != queue.ModeFull {
		return
	}
	ev := notify.Event{
		Owner:     job.Owner,
		AccountID: job.AccountID,
		Phone:     acct.ID,
		Mode:      string(job.Mode),
		Trigger:   string(job.Trigger),
		Success:   runErr == nil,
		Result:    result,
		Took:      took,
	}
	if runErr != nil {
		ev.Err = runErr.Error()
	}
	s.sink.Publish(ctx, ev)
}
