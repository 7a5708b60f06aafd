package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/bfx-stream/internal/connection"
	"github.com/rickgao/bfx-stream/internal/metrics"
	"github.com/rickgao/bfx-stream/internal/queue"
)

const insertEvent = `
	INSERT INTO connection_events (instance_id, kind, occurred_at, close_code, reason, attempts, downtime_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Config controls batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // queued records kept before the oldest are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Sender is satisfied by *pgxpool.Pool.
type Sender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Stats tracks writer activity.
type Stats struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64
}

type row struct {
	Kind       string
	OccurredAt time.Time
	CloseCode  *int
	Reason     *string
	Attempts   int
	DowntimeMs int64
}

// Journal batches lifecycle records into connection_events.
type Journal struct {
	cfg      Config
	instance string
	logger   *slog.Logger
	metrics  *metrics.Collectors

	input *queue.Queue[connection.Lifecycle]

	db Sender

	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker
	dropped     int64

	ctx      context.Context
	cancel   context.CancelFunc
	consumed chan struct{}
	wg       sync.WaitGroup

	stats Stats
}

// New creates a Journal writing rows tagged with instance.
func New(cfg Config, instance string, db Sender, m *metrics.Collectors, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Journal{
		cfg:      cfg,
		instance: instance,
		logger:   logger,
		metrics:  m,
		input:    queue.New[connection.Lifecycle](min(cfg.BatchSize, 1024), cfg.BufferSize),
		db:       db,
		batch:    make([]row, 0, cfg.BatchSize),
		consumed: make(chan struct{}),
	}
}

// Record queues l. It never blocks, so it can be passed to
// connection.WithLifecycle directly.
func (j *Journal) Record(l connection.Lifecycle) {
	if !j.input.Push(l) {
		j.logger.Debug("journal closed, lifecycle record discarded", "kind", l.Kind)
	}
}

// Start begins consuming records and writing to the database.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("connection journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued records, writes them and stops the writer.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping connection journal")

	j.input.Close()

	if j.cancel != nil {
		select {
		case <-j.consumed:
		case <-ctx.Done():
			j.logger.Warn("connection journal drain timed out", "queued", j.input.Len())
		}

		j.cancel()
		j.flushTicker.Stop()
		j.wg.Wait()
	}

	j.flush(ctx)
	j.logger.Info("connection journal stopped")
	return nil
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.stats
}

func (j *Journal) consumeLoop() {
	defer close(j.consumed)

	for {
		l, ok := j.input.Pop()
		if !ok {
			return
		}
		j.handle(l)
	}
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.ctx)
		}
	}
}

func (j *Journal) handle(l connection.Lifecycle) {
	r := transform(l)

	j.batchMu.Lock()
	j.batch = append(j.batch, r)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(j.ctx)
	}
}

// transform converts a lifecycle record to a row. Zero close codes and empty
// reasons are stored as NULL.
func transform(l connection.Lifecycle) row {
	r := row{
		Kind:       l.Kind,
		OccurredAt: l.At.UTC(),
		Attempts:   l.Attempts,
		DowntimeMs: l.Downtime.Milliseconds(),
	}
	if l.Code != 0 {
		code := l.Code
		r.CloseCode = &code
	}
	if l.Reason != "" {
		reason := l.Reason
		r.Reason = &reason
	}
	return r
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	j.recordDropped()

	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]row, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	if err := j.batchInsert(ctx, batch); err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.stats.Inserts += int64(len(batch))
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed connection events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (j *Journal) batchInsert(ctx context.Context, rows []row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, j.instance, r.Kind, r.OccurredAt, r.CloseCode, r.Reason, r.Attempts, r.DowntimeMs)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// recordDropped reports records the queue evicted since the last call.
func (j *Journal) recordDropped() {
	dropped := j.input.Stats().Dropped

	j.batchMu.Lock()
	delta := dropped - j.dropped
	j.dropped = dropped
	j.stats.Dropped = dropped
	j.batchMu.Unlock()

	if delta > 0 {
		j.metrics.Dropped("journal", delta)
		j.logger.Warn("connection journal dropped records", "count", delta)
	}
}
