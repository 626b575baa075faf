package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/bidsync/internal/model"
)

// DB is the subset of *pgxpool.Pool the archive uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns default writer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// loopFlushTimeout bounds a flush started by the background loops.
const loopFlushTimeout = 10 * time.Second

// Stats tracks writer performance.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

const (
	insertBid = `
		INSERT INTO bids (bid_id, auction_id, bidder_id, bidder, amount, placed_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bid_id) DO NOTHING`
	insertMessage = `
		INSERT INTO chat_messages (message_id, conversation_id, sender_id, sender, content, sent_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING`
	insertNotification = `
		INSERT INTO notifications (identity, user_id, kind, subject, payload, surfaced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity) DO NOTHING`
)

// row is one queued insert.
type row struct {
	sql  string
	args []any
}

// Writer batches archive records into PostgreSQL.
type Writer struct {
	cfg    Config
	db     DB
	logger *slog.Logger
	now    func() time.Time

	// Input
	queue chan row

	// Batching
	batch   []row
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	stats Stats
}

// NewWriter creates a Writer. Zero config fields take defaults.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    time.Now,
		queue:  make(chan row, cfg.BufferSize),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// ArchiveEntries queues confirmed entries. Provisional entries are skipped.
func (w *Writer) ArchiveEntries(topic model.Topic, kind model.Kind, entries []model.Entry) {
	receivedAt := w.now()
	for _, e := range entries {
		if e.Provisional || e.ID == "" {
			continue
		}
		r, ok := entryRow(topic, kind, e, receivedAt)
		if !ok {
			continue
		}
		w.enqueue(r)
	}
}

// ArchiveNotification queues a surfaced notification.
func (w *Writer) ArchiveNotification(n model.Notification) {
	w.enqueue(notificationRow(n, w.now()))
}

// Start begins consuming queued records and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer and flushes whatever is queued.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		return ctx.Err()
	}

	// Final drain and flush
drain:
	for {
		select {
		case r := <-w.queue:
			w.batchMu.Lock()
			w.batch = append(w.batch, r)
			w.batchMu.Unlock()
		default:
			break drain
		}
	}
	w.flush(ctx)

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) enqueue(r row) {
	select {
	case w.queue <- r:
	default:
		w.batchMu.Lock()
		w.stats.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("archive queue full, dropping record")
	}
}

// consumeLoop reads from the queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case r := <-w.queue:
			w.batchMu.Lock()
			w.batch = append(w.batch, r)
			shouldFlush := len(w.batch) >= w.cfg.BatchSize
			w.batchMu.Unlock()

			if shouldFlush {
				w.loopFlush()
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.loopFlush()
		}
	}
}

// loopFlush flushes on a context detached from w.ctx, so a batch already in
// flight when Stop cancels the loops still completes.
func (w *Writer) loopFlush() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), loopFlushTimeout)
	defer cancel()
	w.flush(ctx)
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("archive batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed archive batch",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends rows as one pgx.Batch. Rows already archived count as conflicts.
func (w *Writer) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(r.sql, r.args...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// entryRow converts a confirmed entry into an insert for its table.
func entryRow(topic model.Topic, kind model.Kind, e model.Entry, receivedAt time.Time) (row, bool) {
	actor := e.Payload.Actor
	switch kind {
	case model.KindBid:
		return row{sql: insertBid, args: []any{
			string(e.ID), topic.ID(), string(actor.ID), actor.Username,
			int64(e.Payload.Amount), e.Timestamp, receivedAt,
		}}, true
	case model.KindChat:
		return row{sql: insertMessage, args: []any{
			string(e.ID), topic.ID(), string(actor.ID), actor.Username,
			e.Payload.Content, e.Timestamp, receivedAt,
		}}, true
	default:
		return row{}, false
	}
}

func notificationRow(n model.Notification, surfacedAt time.Time) row {
	var payload []byte
	if len(n.Raw) > 0 {
		payload = n.Raw
	}
	return row{sql: insertNotification, args: []any{
		n.Identity(), string(n.UserID), string(n.Kind), n.Subject, payload, surfacedAt,
	}}
}
