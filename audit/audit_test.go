package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
	"github.com/GGPrompts/vibe4vets-sub003/idgen"
	"github.com/GGPrompts/vibe4vets-sub003/kit"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*sql.DB, *SQLiteLogger) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l := NewSQLiteLogger(db,
		WithIDGenerator(idgen.Sequence("audit")),
		WithClock(func() time.Time { return t0 }))
	t.Cleanup(func() { l.Close() })
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	return db, l
}

func TestInit_CreatesTable(t *testing.T) {
	db, l := setup(t)
	if err := l.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='audit_log'").Scan(&n)
	if n != 1 {
		t.Fatal("audit_log table not created")
	}
}

func TestLog_FillsDefaults(t *testing.T) {
	_, l := setup(t)
	e := &Entry{Action: "mark_verified", Parameters: `{"id":"r1"}`}
	if err := l.Log(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.EntryID != "audit-1" || e.Timestamp != t0.UnixMilli() || e.Status != StatusSuccess || e.Transport != "http" {
		t.Fatalf("defaults: %+v", e)
	}

	failed := &Entry{Action: "run_job", Error: "boom"}
	l.Log(context.Background(), failed)
	if failed.Status != StatusError {
		t.Fatalf("status = %q", failed.Status)
	}
}

func TestLogAsync_FlushedOnClose(t *testing.T) {
	// WHAT: Queued entries are written before Close returns.
	// WHY: Shutdown must not lose the record of the last admin action.
	_, l := setup(t)
	for i := 0; i < batchSize+5; i++ {
		l.LogAsync(&Entry{Action: "resolve_review"})
	}
	l.Close()

	got, err := l.Query(context.Background(), Filter{Action: "resolve_review", Limit: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != batchSize+5 {
		t.Fatalf("entries = %d, want %d", len(got), batchSize+5)
	}
}

func TestQuery_FiltersNewestFirst(t *testing.T) {
	_, l := setup(t)
	ctx := context.Background()
	l.Log(ctx, &Entry{Action: "run_job", Timestamp: 1})
	l.Log(ctx, &Entry{Action: "run_job", Timestamp: 3, Error: "x"})
	l.Log(ctx, &Entry{Action: "mark_verified", Timestamp: 2})

	all, _ := l.Query(ctx, Filter{})
	if len(all) != 3 || all[0].Timestamp != 3 || all[2].Timestamp != 1 {
		t.Fatalf("order: %+v", all)
	}
	errs, _ := l.Query(ctx, Filter{Status: StatusError})
	if len(errs) != 1 || errs[0].Action != "run_job" {
		t.Fatalf("status filter: %+v", errs)
	}
	jobs, _ := l.Query(ctx, Filter{Action: "run_job", Limit: 1})
	if len(jobs) != 1 || jobs[0].Timestamp != 3 {
		t.Fatalf("action filter: %+v", jobs)
	}
}

func TestPurge(t *testing.T) {
	_, l := setup(t)
	ctx := context.Background()
	l.Log(ctx, &Entry{Action: "old", Timestamp: 100})
	l.Log(ctx, &Entry{Action: "new", Timestamp: 300})
	n, err := l.Purge(ctx, 200)
	if err != nil || n != 1 {
		t.Fatalf("purged %d, err %v", n, err)
	}
	left, _ := l.Query(ctx, Filter{})
	if len(left) != 1 || left[0].Action != "new" {
		t.Fatalf("left: %+v", left)
	}
}

func TestMiddleware(t *testing.T) {
	_, l := setup(t)
	errFail := errors.New("resource not found")
	ok := Middleware(l, "mark_verified")(func(context.Context, any) (any, error) { return "done", nil })
	bad := Middleware(l, "resolve_review")(func(context.Context, any) (any, error) { return nil, errFail })

	ctx := kit.WithTraceID(kit.WithTransport(context.Background(), "mcp"), "t-1")
	if resp, err := ok(ctx, map[string]string{"id": "r1"}); err != nil || resp != "done" {
		t.Fatalf("ok: %v %v", resp, err)
	}
	if _, err := bad(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("bad: %v", err)
	}
	l.Close()

	got, err := l.Query(context.Background(), Filter{Limit: 10})
	if err != nil || len(got) != 2 {
		t.Fatalf("entries: %+v %v", got, err)
	}
	byAction := map[string]*Entry{}
	for _, e := range got {
		byAction[e.Action] = e
	}
	v := byAction["mark_verified"]
	if v == nil || v.Transport != "mcp" || v.TraceID != "t-1" || v.Parameters != `{"id":"r1"}` || v.Status != StatusSuccess {
		t.Fatalf("success entry: %+v", v)
	}
	r := byAction["resolve_review"]
	if r == nil || r.Transport != "http" || r.Status != StatusError || r.Error != "resource not found" {
		t.Fatalf("error entry: %+v", r)
	}
}
