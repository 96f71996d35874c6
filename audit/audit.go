// Package audit records administrative actions (manual job runs,
// verifications, review decisions) in a SQLite audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/idgen"
	"github.com/GGPrompts/vibe4vets-sub003/kit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id    TEXT PRIMARY KEY,
	timestamp   INTEGER NOT NULL,
	action      TEXT NOT NULL,
	transport   TEXT NOT NULL DEFAULT '',
	trace_id    TEXT NOT NULL DEFAULT '',
	parameters  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, timestamp DESC);
`

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	batchSize     = 32
	flushInterval = 2 * time.Second
)

// Entry is one audited action. Timestamp is unix millis.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
	Transport  string `json:"transport"`
	TraceID    string `json:"trace_id,omitempty"`
	Parameters string `json:"parameters,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Filter narrows Query. Zero values match everything.
type Filter struct {
	Action string
	Status string
	Limit  int // default 100
}

// SQLiteLogger persists entries. LogAsync batches writes on a background
// goroutine; Close drains it.
type SQLiteLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger

	ch       chan *Entry
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets the entry ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *SQLiteLogger) { l.now = now }
}

// WithLogger sets the logger for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *SQLiteLogger) { l.logger = logger }
}

// NewSQLiteLogger starts the flush goroutine. Call Init before logging.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:     db,
		newID:  idgen.Default,
		now:    time.Now,
		logger: slog.Default(),
		ch:     make(chan *Entry, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the audit_log table.
func (l *SQLiteLogger) Init() error {
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	return nil
}

// Log inserts an entry synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(e)
	return l.insert(ctx, l.db, e)
}

// LogAsync queues an entry. A full buffer falls back to a synchronous
// insert.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	l.fillDefaults(e)
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("audit: buffer full, writing synchronously", "action", e.Action)
		if err := l.insert(context.Background(), l.db, e); err != nil {
			l.logger.Error("audit: insert failed", "error", err, "entry_id", e.EntryID)
		}
	}
}

// Query returns entries newest first.
func (l *SQLiteLogger) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, action, transport, trace_id, parameters, status, error, duration_ms
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.Action, &e.Transport, &e.TraceID,
			&e.Parameters, &e.Status, &e.Error, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Purge deletes entries older than cutoff (unix millis).
func (l *SQLiteLogger) Purge(ctx context.Context, cutoff int64) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	return res.RowsAffected()
}

// Close drains queued entries and stops the flush goroutine. Safe to call
// more than once.
func (l *SQLiteLogger) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *SQLiteLogger) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = l.now().UnixMilli()
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *SQLiteLogger) insert(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, action, transport, trace_id, parameters, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Timestamp, e.Action, e.Transport, e.TraceID, e.Parameters, e.Status, e.Error, e.DurationMs)
	return err
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	batch := make([]*Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			l.logger.Error("audit: begin tx", "error", err, "dropped", len(batch))
			batch = batch[:0]
			return
		}
		for _, e := range batch {
			if err := l.insert(ctx, tx, e); err != nil {
				l.logger.Error("audit: insert failed", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			l.logger.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Middleware audits every call of an endpoint under action. The request is
// stored as JSON parameters; transport and trace ID come from the context.
func Middleware(l *SQLiteLogger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			e := &Entry{
				Action:     action,
				Transport:  kit.GetTransport(ctx),
				TraceID:    kit.GetTraceID(ctx),
				DurationMs: time.Since(start).Milliseconds(),
			}
			if req != nil {
				if b, jerr := json.Marshal(req); jerr == nil {
					e.Parameters = string(b)
				}
			}
			if err != nil {
				e.Error = err.Error()
			}
			l.LogAsync(e)
			return resp, err
		}
	}
}
