package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/trobanga/oaiharvest/internal/harvester"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/services"
	"golang.org/x/sync/semaphore"
)

// RunObserverFunc returns the observers of the harvest at position i of
// the job's parameter list.
type RunObserverFunc func(i int, params models.HarvestParams) []harvester.Observer

// HarvestJob runs one Harvester per parameter set as producers feeding a
// shared bounded queue. A single consumer drains the queue and writes
// batches to the sink.
type HarvestJob struct {
	cfg           models.JobConfig
	doer          harvester.HTTPDoer
	sink          services.RecordSink
	parser        harvester.ResponseParser
	params        []models.HarvestParams
	observers     []harvester.Observer
	runObservers  RunObserverFunc
	harvesterOpts []harvester.Option
	executor      Executor
	logger        *lib.Logger
	clock         func() time.Time
	limit         *semaphore.Weighted

	queue   *recordQueue
	running atomic.Bool

	mu     sync.Mutex
	active map[*harvester.Harvester]models.HarvestParams

	consumed      atomic.Int64
	written       atomic.Int64
	rejected      atomic.Int64
	batches       atomic.Int64
	failedBatches atomic.Int64
	dropped       atomic.Int64
}

// Stats is a snapshot of a job's counters
type Stats struct {
	RecordsConsumed int64
	RecordsWritten  int64
	RecordsRejected int64
	RecordsDropped  int64
	BatchesFlushed  int64
	FailedFlushes   int64
}

// JobOption configures a HarvestJob
type JobOption func(*HarvestJob)

// WithParams sets the parameter sets to harvest, one producer each
func WithParams(params ...models.HarvestParams) JobOption {
	return func(j *HarvestJob) { j.params = append(j.params, params...) }
}

// WithObservers attaches observers to every harvester of the job
func WithObservers(observers ...harvester.Observer) JobOption {
	return func(j *HarvestJob) { j.observers = append(j.observers, observers...) }
}

// WithRunObservers attaches observers built per harvest
func WithRunObservers(fn RunObserverFunc) JobOption {
	return func(j *HarvestJob) { j.runObservers = fn }
}

// WithExecutor replaces the default GroupExecutor
func WithExecutor(executor Executor) JobOption {
	return func(j *HarvestJob) { j.executor = executor }
}

// WithParser replaces the default OAI-PMH parser
func WithParser(parser harvester.ResponseParser) JobOption {
	return func(j *HarvestJob) { j.parser = parser }
}

// WithLogger sets the logger
func WithLogger(logger *lib.Logger) JobOption {
	return func(j *HarvestJob) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithClock sets the time source for batch timestamps
func WithClock(clock func() time.Time) JobOption {
	return func(j *HarvestJob) { j.clock = clock }
}

// WithHarvesterOptions passes options to every harvester the job builds
func WithHarvesterOptions(opts ...harvester.Option) JobOption {
	return func(j *HarvestJob) { j.harvesterOpts = append(j.harvesterOpts, opts...) }
}

// NewHarvestJob creates a job. Zero fields of cfg take their defaults.
func NewHarvestJob(cfg models.JobConfig, doer harvester.HTTPDoer, sink services.RecordSink, opts ...JobOption) (*HarvestJob, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, lib.ErrInvalidConfig("job", err.Error())
	}
	if doer == nil {
		return nil, errors.New("harvest job needs an HTTP client")
	}
	if sink == nil {
		return nil, errors.New("harvest job needs a record sink")
	}

	j := &HarvestJob{
		cfg:      cfg,
		doer:     doer,
		sink:     sink,
		executor: NewGroupExecutor(),
		logger:   lib.DefaultLogger,
		clock:    time.Now,
		queue:    newRecordQueue(cfg.QueueCapacity),
		active:   make(map[*harvester.Harvester]models.HarvestParams),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.parser == nil {
		j.parser = services.NewOAIParser(j.logger)
	}
	if cfg.MaxConcurrent > 0 {
		j.limit = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	j.logger = j.logger.Named("job")
	return j, nil
}

// Start runs the job and returns once the consumer is done. Producers run
// on the executor; the calling goroutine consumes. Starting a running job
// or a job without parameter sets does nothing.
//
// The consumer keeps going while the job runs, at least one harvester is
// active and ctx is not done. On the way out it stops the remaining
// harvesters, drains what is already queued and flushes the last partial
// batch.
func (j *HarvestJob) Start(ctx context.Context) error {
	if len(j.params) == 0 {
		return nil
	}
	if !j.running.CompareAndSwap(false, true) {
		return nil
	}

	harvesters := make([]*harvester.Harvester, len(j.params))
	j.mu.Lock()
	for i, p := range j.params {
		harvesters[i] = j.newHarvester(i, p)
		j.active[harvesters[i]] = p
	}
	j.mu.Unlock()

	j.logger.Info("Harvest job started", "harvests", len(j.params), lib.FieldBatchSize, j.cfg.BatchSize)

	for i, h := range harvesters {
		p := j.params[i]
		h := h
		j.executor.Go(func() { j.produce(ctx, h, p) })
	}

	j.consume(ctx)

	stats := j.Stats()
	j.logger.Info("Harvest job finished",
		"consumed", stats.RecordsConsumed,
		"written", stats.RecordsWritten,
		"rejected", stats.RecordsRejected,
		"dropped", stats.RecordsDropped,
		"batches", stats.BatchesFlushed,
		"failed_batches", stats.FailedFlushes,
	)
	return nil
}

func (j *HarvestJob) newHarvester(i int, p models.HarvestParams) *harvester.Harvester {
	observers := append([]harvester.Observer(nil), j.observers...)
	if j.runObservers != nil {
		observers = append(observers, j.runObservers(i, p)...)
	}
	opts := append([]harvester.Option{harvester.WithLogger(j.logger)}, j.harvesterOpts...)
	opts = append(opts, harvester.WithObservers(observers...))
	return harvester.New(j.doer, j.parser, opts...)
}

// produce runs one harvest. Whatever happens, the harvester leaves the
// active set and nothing propagates to the other producers.
func (j *HarvestJob) produce(ctx context.Context, h *harvester.Harvester, p models.HarvestParams) {
	logger := j.logger.With(lib.FieldBaseURI, p.BaseURL(), lib.FieldVerb, string(p.Verb()))
	defer j.deregister(h)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Producer panicked", "panic", r)
		}
	}()

	if j.limit != nil {
		if err := j.limit.Acquire(ctx, 1); err != nil {
			return
		}
		defer j.limit.Release(1)
	}
	if !j.running.Load() {
		return
	}

	err := h.Start(ctx, p, NewRecordQueueHandler(j, p.BaseURL()))
	switch {
	case err == nil:
	case errors.Is(err, lib.ErrJobStopped):
		logger.Warn("Harvest ended early, job stopped while records were pending", lib.FieldError, err)
	default:
		logger.Error("Harvest failed", lib.FieldError, err)
	}
}

// offer hands a record to the consumer. While the job runs, a full queue is
// retried every offer timeout; after that the record is dropped.
func (j *HarvestJob) offer(rec *models.HarvestedRecord) error {
	for {
		if j.queue.offer(rec, j.cfg.OfferTimeout()) {
			return nil
		}
		if !j.running.Load() {
			j.dropped.Add(1)
			j.logger.Warn("Dropping record, job is no longer running",
				lib.FieldBaseURI, rec.BaseURL, lib.FieldIdentifier, rec.Identifier)
			return lib.ErrJobStopped
		}
	}
}

func (j *HarvestJob) consume(ctx context.Context) {
	batch := make([]*models.HarvestedRecord, 0, j.cfg.BatchSize)

	for j.running.Load() && j.activeCount() > 0 && ctx.Err() == nil {
		rec, ok := j.queue.poll(ctx, j.cfg.PollTimeout())
		if !ok {
			continue
		}
		j.consumed.Add(1)
		batch = append(batch, rec)
		if len(batch) == j.cfg.BatchSize {
			j.flush(ctx, batch)
			batch = make([]*models.HarvestedRecord, 0, j.cfg.BatchSize)
		}
	}

	j.running.Store(false)
	j.stopActive()

	// Drain what is already queued. Records offered after this point are lost.
	for {
		rec, ok := j.queue.tryPoll()
		if !ok {
			break
		}
		j.consumed.Add(1)
		batch = append(batch, rec)
		if len(batch) == j.cfg.BatchSize {
			j.flush(ctx, batch)
			batch = make([]*models.HarvestedRecord, 0, j.cfg.BatchSize)
		}
	}
	if len(batch) > 0 {
		j.flush(ctx, batch)
	}
}

// flush writes one batch. Every record gets the same timestamp. Sink
// failures are logged and counted; the records are not re-queued.
func (j *HarvestJob) flush(ctx context.Context, batch []*models.HarvestedRecord) {
	now := j.clock()
	for _, rec := range batch {
		rec.HarvestedAt = now
	}

	start := time.Now()
	rejected, err := j.sink.BatchWrite(context.WithoutCancel(ctx), batch)
	if err != nil {
		j.failedBatches.Add(1)
		j.logger.Error("Batch write failed, its records may or may not be stored",
			lib.FieldBatchSize, len(batch), lib.FieldError, err)
		return
	}

	for _, r := range rejected {
		lib.LogBatchRejected(j.logger, r.Record.BaseURL, r.Record.Identifier, r.Reason)
	}
	j.batches.Add(1)
	j.rejected.Add(int64(len(rejected)))
	j.written.Add(int64(len(batch) - len(rejected)))
	lib.LogBatchWritten(j.logger, len(batch), len(rejected), time.Since(start))
}

// Stop asks every active harvester to stop and stops the consumer. Records
// already queued are still written by the consumer on its way out.
func (j *HarvestJob) Stop() {
	j.running.Store(false)
	j.stopActive()
}

// Wait blocks until all producers have returned, if the executor supports it
func (j *HarvestJob) Wait() error {
	if w, ok := j.executor.(interface{ Wait() error }); ok {
		return w.Wait()
	}
	return nil
}

// Running reports whether the job is running
func (j *HarvestJob) Running() bool {
	return j.running.Load()
}

// Stats returns a snapshot of the job counters
func (j *HarvestJob) Stats() Stats {
	return Stats{
		RecordsConsumed: j.consumed.Load(),
		RecordsWritten:  j.written.Load(),
		RecordsRejected: j.rejected.Load(),
		RecordsDropped:  j.dropped.Load(),
		BatchesFlushed:  j.batches.Load(),
		FailedFlushes:   j.failedBatches.Load(),
	}
}

// Active returns the parameters of the harvests still running
func (j *HarvestJob) Active() []models.HarvestParams {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.HarvestParams, 0, len(j.active))
	for _, p := range j.active {
		out = append(out, p)
	}
	return out
}

func (j *HarvestJob) deregister(h *harvester.Harvester) {
	j.mu.Lock()
	delete(j.active, h)
	j.mu.Unlock()
}

func (j *HarvestJob) activeCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.active)
}

func (j *HarvestJob) stopActive() {
	j.mu.Lock()
	handles := make([]harvester.Handle, 0, len(j.active))
	for h := range j.active {
		handles = append(handles, h)
	}
	j.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}
