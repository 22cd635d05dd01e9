package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/config"
	"github.com/safestrip/safestrip/internal/metrics"
)

// asyncEvalTimeout bounds one background evaluation.
const asyncEvalTimeout = 30 * time.Second

// IngestOutcome reports what happened to one submitted reading.
// EvaluationError is set when the reading was stored but evaluating it failed;
// the reading can be replayed.
type IngestOutcome struct {
	Stored          *StoredReading
	Decisions       int
	Transitions     []Transition
	Queued          bool
	EvaluationError error
}

// Pipeline chains ingestion, evaluation and the alert lifecycle. In async
// mode evaluation runs on workers sharded by device, so one device's
// readings are evaluated in arrival order.
type Pipeline struct {
	ingestor  *Ingestor
	evaluator *Evaluator
	lifecycle *LifecycleManager
	mode      config.EvaluationMode
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu      sync.RWMutex
	shards  []chan *StoredReading
	running bool
	wg      sync.WaitGroup
}

// PipelineOptions configures dispatch.
type PipelineOptions struct {
	Mode      config.EvaluationMode
	Workers   int
	QueueSize int
}

func NewPipeline(ingestor *Ingestor, evaluator *Evaluator, lifecycle *LifecycleManager, opts PipelineOptions, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	p := &Pipeline{
		ingestor:  ingestor,
		evaluator: evaluator,
		lifecycle: lifecycle,
		mode:      opts.Mode,
		metrics:   m,
		log:       log.Named("pipeline"),
	}
	if p.mode == config.EvaluationAsync {
		workers := opts.Workers
		if workers < 1 {
			workers = 1
		}
		queue := opts.QueueSize
		if queue < 1 {
			queue = 1
		}
		p.shards = make([]chan *StoredReading, workers)
		for i := range p.shards {
			p.shards[i] = make(chan *StoredReading, queue)
		}
	}
	return p
}

// Start launches the async workers. It is a no-op in sync mode.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || len(p.shards) == 0 {
		return
	}
	p.running = true
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.worker(i, ch)
	}
	p.log.Info("Evaluation workers started", zap.Int("workers", len(p.shards)))
}

// Stop drains the queues and waits for the workers to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("Evaluation workers stopped")
}

func (p *Pipeline) worker(id int, jobs <-chan *StoredReading) {
	defer p.wg.Done()
	for stored := range jobs {
		p.metrics.QueueDepth(-1)
		ctx, cancel := context.WithTimeout(context.Background(), asyncEvalTimeout)
		if _, _, err := p.Process(ctx, stored); err != nil {
			p.log.Warn("Async evaluation failed",
				zap.Int("worker", id),
				zap.String("reading_id", stored.Reading.ID),
				zap.Error(err))
		}
		cancel()
	}
}

// Submit ingests raw and evaluates it inline (sync) or hands it to its
// device's shard (async). Ingestion errors are returned; evaluation errors
// are reported in the outcome because the reading is already stored.
func (p *Pipeline) Submit(ctx context.Context, raw RawReading) (*IngestOutcome, error) {
	stored, err := p.ingestor.Ingest(ctx, raw)
	if err != nil {
		return nil, err
	}
	out := &IngestOutcome{Stored: stored}

	if p.enqueue(stored) {
		out.Queued = true
		return out, nil
	}

	decisions, transitions, err := p.Process(ctx, stored)
	out.Decisions = decisions
	out.Transitions = transitions
	out.EvaluationError = err
	return out, nil
}

// enqueue places stored on its shard. It returns false in sync mode, after
// Stop, or when the shard is full; the caller then evaluates inline.
func (p *Pipeline) enqueue(stored *StoredReading) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return false
	}

	ch := p.shards[shardFor(stored.Reading.DeviceID, len(p.shards))]
	select {
	case ch <- stored:
		p.metrics.QueueDepth(1)
		return true
	default:
		p.metrics.InlineFallback()
		p.log.Warn("Evaluation queue full, evaluating inline", zap.String("device_id", stored.Reading.DeviceID))
		return false
	}
}

func shardFor(deviceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}

// Process evaluates a stored reading and applies every decision. Decisions
// are applied even when some rules failed to evaluate.
func (p *Pipeline) Process(ctx context.Context, stored *StoredReading) (int, []Transition, error) {
	start := time.Now()

	decisions, evalErr := p.evaluator.Evaluate(ctx, stored)
	errs := []error{evalErr}

	var transitions []Transition
	for _, d := range decisions {
		t, err := p.lifecycle.Apply(ctx, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t != nil {
			transitions = append(transitions, *t)
		}
	}

	err := errors.Join(errs...)
	p.metrics.Evaluation(time.Since(start), err == nil)
	return len(decisions), transitions, err
}

// Replay re-evaluates a stored reading synchronously. Effects are idempotent:
// the breach timer applies a reading at its last observed time again, and
// alert writes are conditional.
func (p *Pipeline) Replay(ctx context.Context, readingID string) (*IngestOutcome, error) {
	stored, err := p.ingestor.Reload(ctx, readingID)
	if err != nil {
		return nil, err
	}
	decisions, transitions, err := p.Process(ctx, stored)
	return &IngestOutcome{
		Stored:          stored,
		Decisions:       decisions,
		Transitions:     transitions,
		EvaluationError: err,
	}, nil
}
