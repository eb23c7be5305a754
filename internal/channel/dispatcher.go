package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/metrics"
)

const defaultWorkers = 4

// Processor runs one message through the agent.
type Processor interface {
	Process(ctx context.Context, msg domain.Message) (*domain.EngineResult, error)
}

type DispatcherConfig struct {
	Bus            domain.MessageBus
	Processor      Processor
	Workers        int
	ProcessTimeout time.Duration // 0 = no limit
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
}

// Dispatcher drains the bus with a fixed pool of workers. Failures are
// logged and counted, never retried.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, logger: cfg.Logger}
}

// Start launches the workers. They stop when the bus is closed; ctx only
// carries values into processing, its cancellation does not abort a run
// already in flight.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	inbound := d.cfg.Bus.Subscribe()
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			for msg := range inbound {
				d.process(base, worker, msg)
			}
		}(i)
	}
	d.logger.Info("dispatcher started", "workers", d.cfg.Workers)
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, worker int, msg domain.Message) {
	if d.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ProcessTimeout)
		defer cancel()
	}

	d.cfg.Metrics.InflightInc()
	defer d.cfg.Metrics.InflightDec()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("agent processing panicked", "messageId", msg.ID, "worker", worker, "panic", r)
			d.cfg.Metrics.EngineRun("error", time.Since(start))
		}
	}()

	res, err := d.cfg.Processor.Process(ctx, msg)
	if err != nil {
		d.logger.Error("agent processing failed", "messageId", msg.ID, "worker", worker, "error", err)
		d.cfg.Metrics.EngineRun("error", time.Since(start))
		return
	}
	d.cfg.Metrics.EngineRun("ok", time.Since(start))
	d.logger.Debug("agent processing finished",
		"messageId", msg.ID,
		"steps", res.Steps,
		"text_len", len(res.Text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
