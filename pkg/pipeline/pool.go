package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/observability/metrics"
)

var (
	ErrPoolClosed      = errors.New("pipeline: pool is closed")
	ErrSessionNotFound = errors.New("pipeline: no such in-flight session")
)

// Result is delivered once per submitted session.
type Result struct {
	SessionID string
	Report    *models.Report
	Err       error
}

type task struct {
	ctx     context.Context
	session *models.Session
	req     Request
	done    chan Result
}

// Pool runs sessions on a fixed number of workers fed by a bounded queue.
// Sessions share nothing but the stores behind the orchestrator.
type Pool struct {
	orch  *Orchestrator
	tasks chan *task
	quit  chan struct{}

	mu       sync.Mutex
	closed   bool
	inflight map[string]context.CancelFunc
	running  int

	senders sync.WaitGroup
	workers sync.WaitGroup
}

func NewPool(orch *Orchestrator, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		orch:     orch,
		tasks:    make(chan *task, queueSize),
		quit:     make(chan struct{}),
		inflight: make(map[string]context.CancelFunc),
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.work()
	}
	return p
}

// Submit records a pending session and queues it. It blocks while the queue
// is full until ctx is done. The returned channel yields exactly one Result.
//
// The session runs under a context derived from ctx; callers that return
// before the session finishes should pass a context that outlives them.
func (p *Pool) Submit(ctx context.Context, req Request) (string, <-chan Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", nil, ErrPoolClosed
	}
	p.senders.Add(1)
	p.mu.Unlock()
	defer p.senders.Done()

	session, err := p.orch.Accept(ctx, &req)
	if err != nil {
		return "", nil, err
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &task{ctx: tctx, session: session, req: req, done: make(chan Result, 1)}
	p.mu.Lock()
	p.inflight[session.ID] = cancel
	p.mu.Unlock()

	select {
	case p.tasks <- t:
		p.observe()
		return session.ID, t.done, nil
	case <-ctx.Done():
		p.abandon(t, models.Cancelled("enqueue", ctx.Err()))
		return "", nil, models.Cancelled("enqueue", ctx.Err())
	case <-p.quit:
		p.abandon(t, models.Cancelled("enqueue", ErrPoolClosed))
		return "", nil, ErrPoolClosed
	}
}

// Cancel signals an in-flight or queued session. The session is recorded as
// failed with code CANCELLED at its next stage boundary.
func (p *Pool) Cancel(sessionID string) error {
	p.mu.Lock()
	cancel, ok := p.inflight[sessionID]
	p.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	cancel()
	logger.ForSession(sessionID).Info("Cancellation requested")
	return nil
}

// Close stops accepting work and waits for queued sessions to finish. If
// ctx ends first, every remaining session is cancelled and Close still
// waits for the workers to record them.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	p.senders.Wait()
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		for _, cancel := range p.inflight {
			cancel()
		}
		p.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// Stats returns the number of running and queued sessions.
func (p *Pool) Stats() (running, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.tasks)
}

func (p *Pool) work() {
	defer p.workers.Done()
	for t := range p.tasks {
		p.mu.Lock()
		p.running++
		p.mu.Unlock()
		p.observe()

		report, err := p.orch.Run(t.ctx, t.session, t.req)

		p.mu.Lock()
		p.running--
		cancel := p.inflight[t.session.ID]
		delete(p.inflight, t.session.ID)
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.observe()

		t.done <- Result{SessionID: t.session.ID, Report: report, Err: err}
		close(t.done)
	}
}

// abandon records a session that was accepted but never queued.
func (p *Pool) abandon(t *task, err error) {
	p.mu.Lock()
	cancel := p.inflight[t.session.ID]
	delete(p.inflight, t.session.ID)
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.orch.Fail(t.ctx, t.session, err)
}

func (p *Pool) observe() {
	running, queued := p.Stats()
	metrics.ObservePool(running, queued)
}
