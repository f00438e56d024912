package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/obs"
	pkglog "github.com/example/orcid-service/pkg/log"
)

var (
	ErrQueueFull = errors.New("deposit queue full")
	ErrClosed    = errors.New("deposit queue closed")
)

type Executor interface {
	Execute(ctx context.Context, unit domain.DepositUnit) (domain.DepositState, error)
}

// Result is reported once per unit, after its last attempt.
type Result struct {
	Unit     domain.DepositUnit
	State    domain.DepositState
	Attempts int
	Took     time.Duration
	Err      error
}

type Reporter func(Result)

type Options struct {
	Workers int
	Buffer  int

	// Zero RetryMaxElapsed disables retries of transient failures.
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

// Pool runs deposit units on a fixed set of goroutines. Units share nothing,
// so a failing unit never holds back its siblings.
type Pool struct {
	exec   Executor
	opts   Options
	report Reporter
	logger pkglog.Logger

	units  chan domain.DepositUnit
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewPool(exec Executor, opts Options, logger pkglog.Logger, report Reporter) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1
	}
	logger = pkglog.Component(logger, "deposit-worker")
	if report == nil {
		report = LogReporter(logger)
	}
	return &Pool{
		exec:   exec,
		opts:   opts,
		report: report,
		logger: logger,
		units:  make(chan domain.DepositUnit, opts.Buffer),
	}
}

// Start launches the workers. They exit once Stop has drained the queue.
// In-flight units are not cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for unit := range p.units {
				p.Process(ctx, unit)
			}
		}()
	}
	p.logger.Info().Int("workers", p.opts.Workers).Int("buffer", p.opts.Buffer).Msg("deposit workers started")
}

// Enqueue hands a unit to the pool without waiting. A full buffer is reported as ErrQueueFull.
func (p *Pool) Enqueue(_ context.Context, unit domain.DepositUnit) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.units <- unit:
		p.logEnqueued(unit)
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit waits for buffer space. Used by transports that can apply back-pressure.
func (p *Pool) Submit(ctx context.Context, unit domain.DepositUnit) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.units <- unit:
		p.logEnqueued(unit)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new units, lets the workers finish what is buffered and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.units)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Process executes one unit, retrying transient failures with exponential backoff.
func (p *Pool) Process(ctx context.Context, unit domain.DepositUnit) Result {
	start := time.Now()
	res := Result{Unit: unit, State: domain.StateExecuting}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if p.opts.RetryMaxElapsed > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.opts.RetryInitial
		exp.MaxElapsedTime = p.opts.RetryMaxElapsed
		bo = exp
	}

	op := func() error {
		res.Attempts++
		res.State, res.Err = p.exec.Execute(ctx, unit)
		switch {
		case res.State == domain.StateFailedTransient:
			return res.Err
		case res.Err != nil:
			return backoff.Permanent(res.Err)
		}
		return nil
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		p.logger.Warn().Err(err).Str("unit_id", unit.ID).Int("attempt", res.Attempts).Dur("wait", wait).Msg("deposit retry scheduled")
	})

	res.Took = time.Since(start)
	p.report(res)
	return res
}

func (p *Pool) logEnqueued(unit domain.DepositUnit) {
	p.logger.Debug().Str("unit_id", unit.ID).Str("kind", string(unit.Kind)).
		Str("state", string(domain.StateEnqueued)).Msg("deposit unit accepted")
}

// LogReporter logs the outcome of every unit and records it in metrics.
// Deposit failures are never surfaced anywhere else.
func LogReporter(logger pkglog.Logger) Reporter {
	return func(r Result) {
		obs.ObserveDeposit(string(r.Unit.Kind), string(r.State), r.Took)
		ev := logger.Info()
		if r.Err != nil {
			ev = logger.Error().Err(r.Err)
		}
		ev.Str("unit_id", r.Unit.ID).
			Str("kind", string(r.Unit.Kind)).
			Str("orcid", r.Unit.Orcid).
			Str("identity_kind", string(r.Unit.Identity.Kind)).
			Str("identity_id", r.Unit.Identity.ID).
			Str("state", string(r.State)).
			Int("attempts", r.Attempts).
			Dur("took", r.Took).
			Msg("deposit finished")
	}
}
