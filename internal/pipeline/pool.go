package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/envutil"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
)

type Task func(ctx context.Context)

type PoolConfig struct {
	// Baseline workers run for the pool's lifetime.
	Baseline int
	// Burst caps total concurrent workers; transient workers spin up under
	// backlog and exit when the queue drains.
	Burst int
	// QueueDepth bounds buffered work. Beyond it, Submit blocks and
	// TrySubmit rejects; work is never silently dropped.
	QueueDepth int
	// DrainTimeout bounds the graceful-shutdown wait for in-flight notes.
	DrainTimeout time.Duration
}

func PoolConfigFromEnv() PoolConfig {
	baseline := envutil.BoundedInt("WORKER_BASELINE", 1, 64, 5)
	burst := envutil.BoundedInt("WORKER_BURST", baseline, 128, 10)
	return PoolConfig{
		Baseline:     baseline,
		Burst:        burst,
		QueueDepth:   envutil.BoundedInt("WORKER_QUEUE_DEPTH", 1, 1024, 25),
		DrainTimeout: time.Duration(envutil.BoundedInt("WORKER_DRAIN_TIMEOUT_SECONDS", 1, 600, 30)) * time.Second,
	}
}

// Pool is a bounded worker pool with burst capacity. Tasks run on a context
// detached from both the submitter's and Start's: an HTTP request ending or
// the shutdown signal firing never cancels work already accepted. The task
// context is cancelled only once a shutdown drain gives up.
type Pool struct {
	cfg   PoolConfig
	queue chan Task
	// burst permits beyond the baseline workers
	burstSem *semaphore.Weighted
	log      *logger.Logger

	mu        sync.RWMutex
	closed    bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

func NewPool(cfg PoolConfig, baseLog *logger.Logger) *Pool {
	if cfg.Baseline < 1 {
		cfg.Baseline = 1
	}
	if cfg.Burst < cfg.Baseline {
		cfg.Burst = cfg.Baseline
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	return &Pool{
		cfg:      cfg,
		queue:    make(chan Task, cfg.QueueDepth),
		burstSem: semaphore.NewWeighted(int64(cfg.Burst - cfg.Baseline)),
		log:      baseLog.With("component", "WorkerPool"),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	// Keep Start's values but shed its cancellation: in-flight notes must
	// outlive the signal context through the shutdown drain.
	p.runCtx, p.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.cfg.Baseline; i++ {
		p.wg.Add(1)
		go p.baselineWorker(p.runCtx)
	}
	p.log.Info("worker pool started",
		"baseline", p.cfg.Baseline, "burst", p.cfg.Burst, "queue_depth", p.cfg.QueueDepth)
}

// Submit enqueues a task, blocking until there is room or ctx ends.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return apperrors.ErrQueueFull
	}
	select {
	case p.queue <- task:
		p.maybeBurst()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues without blocking; a full queue is the caller's problem.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return apperrors.ErrQueueFull
	}
	select {
	case p.queue <- task:
		p.maybeBurst()
		return nil
	default:
		return apperrors.ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued and in-flight tasks, bounded
// by DrainTimeout. The task context stays alive through the drain; it is
// cancelled only when the wait expires.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancelRun := p.cancelRun
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if cancelRun != nil {
			cancelRun()
		}
		p.log.Info("worker pool drained")
		return nil
	case <-time.After(p.cfg.DrainTimeout):
		if cancelRun != nil {
			cancelRun()
		}
		p.log.Warn("worker pool drain timed out", "timeout", p.cfg.DrainTimeout)
		return context.DeadlineExceeded
	}
}

func (p *Pool) baselineWorker(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(ctx, task)
	}
}

// maybeBurst spins up a transient worker when there is backlog and burst
// headroom. Callers hold at least a read lock.
func (p *Pool) maybeBurst() {
	if len(p.queue) == 0 || p.runCtx == nil {
		return
	}
	if !p.burstSem.TryAcquire(1) {
		return
	}
	p.wg.Add(1)
	go p.transientWorker(p.runCtx)
}

func (p *Pool) transientWorker(ctx context.Context) {
	defer p.wg.Done()
	defer p.burstSem.Release(1)
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, task)
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "panic", r)
		}
	}()
	task(ctx)
}
