package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/jobs"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fnJob struct {
	name string
	fn   func(context.Context, jobs.Params) (jobs.Outcome, error)
}

func (j fnJob) Name() string        { return j.name }
func (j fnJob) Description() string { return j.name + " job" }
func (j fnJob) Execute(ctx context.Context, p jobs.Params) (jobs.Outcome, error) {
	return j.fn(ctx, p)
}

func counter(name string, n *atomic.Int32) fnJob {
	return fnJob{name, func(context.Context, jobs.Params) (jobs.Outcome, error) {
		return jobs.Outcome{Message: fmt.Sprintf("run %d", n.Add(1))}, nil
	}}
}

// blocker signals started, then waits for release.
func blocker(name string, started chan<- struct{}, release <-chan struct{}) fnJob {
	return fnJob{name, func(context.Context, jobs.Params) (jobs.Outcome, error) {
		started <- struct{}{}
		<-release
		return jobs.Outcome{Message: "released"}, nil
	}}
}

func newScheduler(t *testing.T, clock *fakeClock, js ...jobs.Job) *Scheduler {
	t.Helper()
	s := New(Config{Now: clock.Now, CheckInterval: 10 * time.Millisecond}, nil)
	for _, j := range js {
		if err := s.Register(j); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(s.Stop)
	return s
}

func wait(t *testing.T, ch <-chan *jobs.Result) *jobs.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete")
		return nil
	}
}

func TestParseSchedule(t *testing.T) {
	// WHAT: Only five-field expressions are accepted.
	// WHY: A bad schedule must fail at registration, not at 3am.
	tests := []struct {
		expr string
		ok   bool
	}{
		{"0 3 * * *", true},
		{"*/15 * * * 1-5", true},
		{"  30   5 * * *  ", true},
		{"* * * *", false},
		{"0 0 3 * * *", false},
		{"@daily", false},
		{"61 * * * *", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := ParseSchedule(tt.expr)
		if tt.ok && err != nil {
			t.Errorf("%q: %v", tt.expr, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("%q: err = %v, want ErrInvalidSchedule", tt.expr, err)
		}
	}
}

func TestRegistration(t *testing.T) {
	var n atomic.Int32
	s := newScheduler(t, &fakeClock{now: t0}, counter("refresh", &n))
	if err := s.Register(counter("refresh", &n)); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := s.AddSchedule("nope", "0 3 * * *"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("unknown job: %v", err)
	}
	if err := s.AddSchedule("refresh", "0 3 * *"); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("bad cron: %v", err)
	}
	if _, err := s.RunJob(context.Background(), "nope", nil); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("run unknown: %v", err)
	}
	if !s.Has("refresh") || s.Has("nope") {
		t.Error("Has")
	}
}

func TestTick_FiresDueSchedules(t *testing.T) {
	// WHAT: A schedule fires once its next time passes, then advances.
	var n atomic.Int32
	clock := &fakeClock{now: t0}
	s := newScheduler(t, clock, counter("refresh", &n), counter("cleanup", &n))
	if err := s.AddSchedule("refresh", "0 3 * * *"); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	s.tick(ctx, time.Date(2026, 3, 2, 2, 59, 0, 0, time.UTC))
	s.runs.Wait()
	if n.Load() != 0 {
		t.Fatal("fired early")
	}

	s.tick(ctx, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))
	s.runs.Wait()
	hist := s.GetHistory(10)
	if len(hist) != 1 || hist[0].JobName != "refresh" || hist[0].Trigger != jobs.TriggerScheduled {
		t.Fatalf("history: %+v", hist)
	}

	list := s.GetScheduledJobs()
	if len(list) != 2 || list[0].Name != "refresh" || list[1].Name != "cleanup" {
		t.Fatalf("scheduled jobs: %+v", list)
	}
	want := time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)
	if list[0].NextRun == nil || !list[0].NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", list[0].NextRun, want)
	}
	if list[1].NextRun != nil || len(list[1].Schedules) != 0 {
		t.Errorf("unscheduled job: %+v", list[1])
	}
}

func TestRunJob_Reschedules(t *testing.T) {
	// WHAT: A manual run pushes the next firing past now.
	// WHY: An overdue firing right after a manual run would redo the work.
	var n atomic.Int32
	clock := &fakeClock{now: t0}
	s := newScheduler(t, clock, counter("refresh", &n))
	if err := s.AddSchedule("refresh", "0 3 * * *"); err != nil {
		t.Fatal(err)
	}

	late := time.Date(2026, 3, 2, 3, 0, 30, 0, time.UTC)
	clock.Set(late)
	ch, err := s.RunJob(context.Background(), "refresh", jobs.Params{"dry_run": true})
	if err != nil {
		t.Fatal(err)
	}
	if res := wait(t, ch); res.Status != jobs.StatusCompleted || res.Trigger != jobs.TriggerManual {
		t.Fatalf("manual run: %+v", res)
	}

	s.tick(context.Background(), late.Add(time.Second))
	s.runs.Wait()
	if got := n.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	next := s.GetScheduledJobs()[0].NextRun
	if want := time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next run = %v, want %v", next, want)
	}
}

func TestTick_SkipsBusyJob(t *testing.T) {
	// WHAT: A scheduled firing during a manual run of the same job is skipped.
	clock := &fakeClock{now: t0}
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := newScheduler(t, clock, blocker("link_checker", started, release))
	if err := s.AddSchedule("link_checker", "* * * * *"); err != nil {
		t.Fatal(err)
	}

	ch, err := s.RunJob(context.Background(), "link_checker", nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if !s.GetScheduledJobs()[0].Running {
		t.Error("job should report running")
	}

	s.tick(context.Background(), t0.Add(time.Minute))
	close(release)
	wait(t, ch)
	s.runs.Wait()

	hist := s.GetHistory(0)
	if len(hist) != 1 || hist[0].Trigger != jobs.TriggerManual {
		t.Fatalf("history: %+v", hist)
	}
	if len(started) != 0 {
		t.Error("scheduled run should have been skipped")
	}
}

func TestRunJob_WaitsForInProgressRun(t *testing.T) {
	// WHAT: Two manual runs of one job never overlap.
	// WHY: Source health has a single writer per run.
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s := newScheduler(t, &fakeClock{now: t0}, blocker("refresh", started, release))
	ctx := context.Background()

	first, _ := s.RunJob(ctx, "refresh", nil)
	<-started
	second, _ := s.RunJob(ctx, "refresh", nil)
	select {
	case <-started:
		t.Fatal("second run started while the first was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wait(t, first)
	wait(t, second)
	if hist := s.GetHistory(0); len(hist) != 2 {
		t.Fatalf("history: %d results", len(hist))
	}
}

func TestHistory_BoundedNewestFirst(t *testing.T) {
	var n atomic.Int32
	s := New(Config{Now: (&fakeClock{now: t0}).Now, HistorySize: 3}, nil)
	if err := s.Register(counter("freshness", &n)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		ch, err := s.RunJob(context.Background(), "freshness", nil)
		if err != nil {
			t.Fatal(err)
		}
		wait(t, ch)
	}

	hist := s.GetHistory(0)
	if len(hist) != 3 {
		t.Fatalf("kept %d results, want 3", len(hist))
	}
	for i, want := range []string{"run 5", "run 4", "run 3"} {
		if hist[i].Message != want {
			t.Errorf("history[%d] = %q, want %q", i, hist[i].Message, want)
		}
	}
	if got := s.GetHistory(2); len(got) != 2 || got[0].Message != "run 5" {
		t.Errorf("limited history: %+v", got)
	}
}

func TestRunJob_PanicBecomesFailedResult(t *testing.T) {
	s := newScheduler(t, &fakeClock{now: t0}, fnJob{"cleanup", func(context.Context, jobs.Params) (jobs.Outcome, error) {
		var m map[string]int
		m["x"]++
		return jobs.Outcome{}, nil
	}})
	ch, _ := s.RunJob(context.Background(), "cleanup", nil)
	res := wait(t, ch)
	if res.Status != jobs.StatusFailed || res.Error == "" {
		t.Fatalf("panic run: %+v", res)
	}
	if hist := s.GetHistory(1); len(hist) != 1 || hist[0] != res {
		t.Fatal("failed run not recorded")
	}
}

func TestStartStop(t *testing.T) {
	// WHAT: A started scheduler fires due schedules from its own loop and
	// Stop waits for the run.
	var n atomic.Int32
	clock := &fakeClock{now: t0}
	s := newScheduler(t, clock, counter("freshness", &n))
	if err := s.AddSchedule("freshness", "* * * * *"); err != nil {
		t.Fatal(err)
	}
	if s.IsRunning() {
		t.Fatal("running before Start")
	}

	clock.Set(t0.Add(time.Minute))
	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Fatal("not running after Start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if s.IsRunning() {
		t.Fatal("running after Stop")
	}
	if n.Load() != 1 {
		t.Fatalf("runs = %d, want 1", n.Load())
	}
	if hist := s.GetHistory(0); len(hist) != 1 || hist[0].Trigger != jobs.TriggerScheduled {
		t.Fatalf("history: %+v", hist)
	}
}

func TestRunJob_RefusedAfterStop(t *testing.T) {
	// WHAT: Once Stop returns, RunJob fails with ErrStopped and Start is a
	// no-op.
	// WHY: A run counted after Stop began waiting would race the WaitGroup.
	var n atomic.Int32
	s := newScheduler(t, &fakeClock{now: t0}, counter("freshness", &n))
	s.Stop()

	if _, err := s.RunJob(context.Background(), "freshness", nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if _, err := s.RunJob(context.Background(), "nope", nil); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("unknown job after Stop: err = %v", err)
	}
	s.Start(context.Background())
	if s.IsRunning() {
		t.Fatal("restarted after Stop")
	}
	if n.Load() != 0 {
		t.Fatalf("runs = %d, want 0", n.Load())
	}
}

func TestRunJob_ConcurrentWithStop(t *testing.T) {
	// WHAT: Every run accepted before Stop completes before Stop returns;
	// the rest are refused.
	// WHY: Run accounting and Stop's wait share the scheduler mutex.
	var n atomic.Int32
	s := newScheduler(t, &fakeClock{now: t0}, counter("freshness", &n))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunJob(context.Background(), "freshness", nil)
			switch {
			case err == nil:
				accepted.Add(1)
			case !errors.Is(err, ErrStopped):
				t.Errorf("RunJob: %v", err)
			}
		}()
	}
	s.Stop()
	done := n.Load()
	wg.Wait()

	if got := n.Load(); got != done {
		t.Fatalf("%d runs finished after Stop returned", got-done)
	}
	if n.Load() != accepted.Load() {
		t.Fatalf("runs = %d, accepted = %d", n.Load(), accepted.Load())
	}
}
