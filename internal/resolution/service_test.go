package resolution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/settle/internal/alert"
	"github.com/linnemanlabs/settle/internal/correlate"
)

// mockSource returns a fixed ticket batch.
type mockSource struct {
	mu      sync.Mutex
	tickets []alert.Ticket
	err     error
	since   time.Time
	calls   int
}

func (m *mockSource) FetchTickets(_ context.Context, since time.Time) ([]alert.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.since = since
	if m.err != nil {
		return nil, m.err
	}
	return m.tickets, nil
}

// mockCloser records closures and fails for configured IDs.
type mockCloser struct {
	mu     sync.Mutex
	fail   map[int64]bool
	closed []int64
	notes  map[int64]string
}

func newMockCloser(fail ...int64) *mockCloser {
	m := &mockCloser{fail: map[int64]bool{}, notes: map[int64]string{}}
	for _, id := range fail {
		m.fail[id] = true
	}
	return m
}

func (m *mockCloser) CloseTicket(_ context.Context, id int64, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[id] {
		return errors.New("helpdesk returned 500")
	}
	m.closed = append(m.closed, id)
	m.notes[id] = note
	return nil
}

type mockNotifier struct {
	mu      sync.Mutex
	reports []*Report
	err     error
}

func (m *mockNotifier) Notify(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return m.err
}

type mockPublisher struct {
	mu   sync.Mutex
	runs []*Run
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return m.err
}

// mockStore implements Store for testing.
type mockStore struct {
	mu     sync.Mutex
	runs   map[string]*Run
	order  []string
	putErr error
}

func newMockStore() *mockStore {
	return &mockStore{runs: make(map[string]*Run)}
}

func (m *mockStore) Put(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	cp := *r
	m.runs[r.ID] = &cp
	m.order = append(m.order, r.ID)
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (m *mockStore) List(_ context.Context, limit int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Run
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.runs[m.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// fixtureTickets yields one auto-close pair (101/102), one manual review
// pair (201/202) and one unclassified ticket.
func fixtureTickets() []alert.Ticket {
	return []alert.Ticket{
		{ID: 101, Subject: "[FIRING:1] Disk usage warning on server-01", CreatedAt: "2025-01-01T00:00:00Z"},
		{ID: 102, Subject: "[RESOLVED] Disk usage warning on server-01", CreatedAt: "2025-01-01T00:03:00Z"},
		{ID: 201, Subject: "ALERT-CRITICAL: db-07 connection lost", CreatedAt: "2025-01-01T00:00:00Z"},
		{ID: 202, Subject: "RESOLVED: db-07 connection restored", CreatedAt: "2025-01-01T00:40:00Z"},
		{ID: 301, Subject: "Weekly maintenance window", CreatedAt: "2025-01-01T00:00:00Z"},
	}
}

func newTestService(deps Deps, hooks Hooks) *Service {
	engine := correlate.NewEngine(correlate.Config{}, log.Nop(), correlate.Hooks{})
	return NewService(Config{}, engine, deps, log.Nop(), hooks)
}

func TestPreview_NoSideEffects(t *testing.T) {
	t.Parallel()

	closer := newMockCloser()
	notifier := &mockNotifier{}
	pub := &mockPublisher{}
	store := newMockStore()
	svc := newTestService(Deps{
		Source:    &mockSource{tickets: fixtureTickets()},
		Closer:    closer,
		Notifier:  notifier,
		Publisher: pub,
		Store:     store,
	}, Hooks{})

	run := svc.Preview(context.Background(), 0)

	if run.Mode != ModePreview || run.Status != StatusComplete {
		t.Errorf("mode/status = %s/%s, want preview/complete", run.Mode, run.Status)
	}
	if run.LookbackHours != DefaultLookbackHours {
		t.Errorf("lookback = %d, want %d", run.LookbackHours, DefaultLookbackHours)
	}
	if len(run.AutoClose) != 1 || len(run.ManualReview) != 1 {
		t.Fatalf("auto/manual = %d/%d, want 1/1", len(run.AutoClose), len(run.ManualReview))
	}
	if run.Summary.Total != 5 || run.Summary.MatchedCount != 2 || run.Summary.ClosedCount != 0 {
		t.Errorf("summary = %+v", run.Summary)
	}
	if len(closer.closed) != 0 || len(notifier.reports) != 0 || len(pub.runs) != 0 || len(store.order) != 0 {
		t.Error("preview must not close, notify, publish or persist")
	}
	if run.Closed == nil || run.FailedClosures == nil {
		t.Error("closed and failed slices should be empty, not nil")
	}
}

func TestResolve_FullPipeline(t *testing.T) {
	t.Parallel()

	src := &mockSource{tickets: fixtureTickets()}
	closer := newMockCloser()
	notifier := &mockNotifier{}
	pub := &mockPublisher{}
	store := newMockStore()

	var mu sync.Mutex
	outcomes := map[string]int{}
	var completed *Run
	hooks := Hooks{
		OnClose: func(o string) {
			mu.Lock()
			outcomes["close_"+o]++
			mu.Unlock()
		},
		OnNotify: func(o string) {
			mu.Lock()
			outcomes["notify_"+o]++
			mu.Unlock()
		},
		OnPublish: func(o string) {
			mu.Lock()
			outcomes["publish_"+o]++
			mu.Unlock()
		},
		OnComplete: func(r *Run) { completed = r },
	}
	svc := newTestService(Deps{Source: src, Closer: closer, Notifier: notifier, Publisher: pub, Store: store}, hooks)
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	run := svc.Resolve(context.Background(), 6)

	if run.Status != StatusComplete || run.Summary.Error != "" {
		t.Fatalf("status = %s, error = %q", run.Status, run.Summary.Error)
	}
	if want := now.Add(-6 * time.Hour); !src.since.Equal(want) {
		t.Errorf("since = %v, want %v", src.since, want)
	}
	if len(closer.closed) != 2 || closer.closed[0] != 101 || closer.closed[1] != 102 {
		t.Errorf("closed = %v, want [101 102]", closer.closed)
	}
	if want := ClosureNote(102, 5*time.Minute); closer.notes[101] != want {
		t.Errorf("note = %q, want %q", closer.notes[101], want)
	}
	if run.Summary.ClosedCount != 1 || len(run.Closed) != 1 {
		t.Errorf("closed count = %d, want 1", run.Summary.ClosedCount)
	}
	if !run.Summary.Notified || len(notifier.reports) != 1 {
		t.Fatalf("notified = %v, reports = %d", run.Summary.Notified, len(notifier.reports))
	}
	rep := notifier.reports[0]
	if rep.Subject != "Alert Resolution: 1 Ticket Pairs Need Manual Review" {
		t.Errorf("subject = %q", rep.Subject)
	}
	if rep.RunID != run.ID || len(rep.Pairs) != 1 || rep.Pairs[0].FiringID != 201 {
		t.Errorf("report = %+v", rep)
	}

	stored, ok, err := svc.Get(context.Background(), run.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if stored.Status != StatusComplete || stored.Summary.ClosedCount != 1 {
		t.Errorf("stored = %+v", stored)
	}
	if len(pub.runs) != 1 || pub.runs[0].ID != run.ID {
		t.Error("run should be published once")
	}
	if completed != run {
		t.Error("OnComplete should receive the returned run")
	}
	if outcomes["close_ok"] != 2 || outcomes["notify_ok"] != 1 || outcomes["publish_ok"] != 1 {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestResolve_PartialClosure(t *testing.T) {
	t.Parallel()

	closer := newMockCloser(102)
	svc := newTestService(Deps{Source: &mockSource{tickets: fixtureTickets()}, Closer: closer}, Hooks{})

	run := svc.Resolve(context.Background(), 0)

	if run.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", run.Status)
	}
	if run.Summary.ClosedCount != 0 || len(run.FailedClosures) != 1 {
		t.Errorf("closed = %d, failed = %d, want 0/1", run.Summary.ClosedCount, len(run.FailedClosures))
	}
	// firing side stays closed, nothing is rolled back
	if len(closer.closed) != 1 || closer.closed[0] != 101 {
		t.Errorf("closed = %v, want [101]", closer.closed)
	}
	if !strings.Contains(run.Summary.Error, "1 of 1 pairs failed") {
		t.Errorf("error = %q", run.Summary.Error)
	}
}

func TestResolve_IdempotentClosureWithinRun(t *testing.T) {
	t.Parallel()

	tickets := []alert.Ticket{
		{ID: 1, Subject: "[FIRING:1] disk full on web-01", CreatedAt: "2025-01-01T00:00:00Z"},
		{ID: 2, Subject: "[RESOLVED] disk full on web-01", CreatedAt: "2025-01-01T00:01:00Z"},
		{ID: 3, Subject: "[RESOLVED] disk full on web-01", CreatedAt: "2025-01-01T00:02:00Z"},
	}
	closer := newMockCloser()
	var skipped int
	svc := newTestService(Deps{Source: &mockSource{tickets: tickets}, Closer: closer}, Hooks{
		OnClose: func(o string) {
			if o == OutcomeSkipped {
				skipped++
			}
		},
	})

	run := svc.Resolve(context.Background(), 0)

	if run.Summary.ClosedCount != 2 {
		t.Errorf("closed pairs = %d, want 2", run.Summary.ClosedCount)
	}
	if len(closer.closed) != 3 {
		t.Errorf("remote closures = %v, want each ticket once", closer.closed)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestResolve_FetchFailureDegrades(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(Deps{
		Source: &mockSource{err: errors.New("connection refused")},
		Closer: newMockCloser(),
		Store:  store,
	}, Hooks{})

	run := svc.Resolve(context.Background(), 0)

	if run.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", run.Status)
	}
	if !strings.Contains(run.Summary.Error, "fetch tickets: connection refused") {
		t.Errorf("error = %q", run.Summary.Error)
	}
	if run.Summary.Total != 0 || run.Summary.MatchedCount != 0 {
		t.Errorf("summary = %+v, want zero counts", run.Summary)
	}
	stored, ok, _ := store.Get(context.Background(), run.ID)
	if !ok || stored.Status != StatusDegraded || stored.Summary.Error == "" {
		t.Error("degraded run should be persisted with its error")
	}
}

func TestResolve_MissingCollaborators(t *testing.T) {
	t.Parallel()

	svc := newTestService(Deps{Source: &mockSource{tickets: fixtureTickets()}}, Hooks{})

	run := svc.Resolve(context.Background(), 0)

	if run.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", run.Status)
	}
	if !strings.Contains(run.Summary.Error, errNoCloser.Error()) {
		t.Errorf("error = %q", run.Summary.Error)
	}
	if len(run.FailedClosures) != 1 {
		t.Errorf("failed = %d, want 1", len(run.FailedClosures))
	}
	if run.Summary.Notified {
		t.Error("notified without a notifier")
	}

	none := newTestService(Deps{}, Hooks{}).Preview(context.Background(), 0)
	if none.Status != StatusDegraded || !strings.Contains(none.Summary.Error, errNoSource.Error()) {
		t.Errorf("preview without source = %s %q", none.Status, none.Summary.Error)
	}
}

func TestResolve_NotifyAndPersistFailures(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.putErr = errors.New("disk full")
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := newTestService(Deps{
		Source:    &mockSource{tickets: fixtureTickets()},
		Closer:    newMockCloser(),
		Notifier:  &mockNotifier{err: errors.New("smtp 554")},
		Publisher: pub,
		Store:     store,
	}, Hooks{})

	run := svc.Resolve(context.Background(), 0)

	if run.Status != StatusDegraded || run.Summary.Notified {
		t.Errorf("status = %s, notified = %v", run.Status, run.Summary.Notified)
	}
	for _, want := range []string{"notify: smtp 554", "persist run: disk full"} {
		if !strings.Contains(run.Summary.Error, want) {
			t.Errorf("error %q missing %q", run.Summary.Error, want)
		}
	}
	if strings.Contains(run.Summary.Error, "broker down") {
		t.Error("publish failures should not change the run")
	}
	if len(pub.runs) != 1 {
		t.Error("publish should still be attempted")
	}
}

func TestResolve_ClampsLookback(t *testing.T) {
	t.Parallel()

	svc := newTestService(Deps{Source: &mockSource{}}, Hooks{})
	if got := svc.Preview(context.Background(), 10_000).LookbackHours; got != MaxLookbackHours {
		t.Errorf("lookback = %d, want %d", got, MaxLookbackHours)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(Deps{Source: &mockSource{tickets: fixtureTickets()}, Closer: newMockCloser(), Store: store}, Hooks{})

	first := svc.Resolve(context.Background(), 0)
	second := svc.Resolve(context.Background(), 0)

	runs, err := svc.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID || runs[1].ID != first.ID {
		t.Errorf("list order wrong: got %d runs", len(runs))
	}

	empty, err := newTestService(Deps{}, Hooks{}).List(context.Background(), 5)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("List without store = %v, %v", empty, err)
	}
	if _, ok, err := newTestService(Deps{}, Hooks{}).Get(context.Background(), "x"); ok || err != nil {
		t.Error("Get without store should report not found")
	}
}

func TestClosureNote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5 minutes"},
		{time.Minute, "1 minute"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		if got := ThresholdText(tt.d); got != tt.want {
			t.Errorf("ThresholdText(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}

	want := "Auto-closed by alert resolution. Matched with ticket #42 as an alert-resolution pair that resolved within 5 minutes."
	if got := ClosureNote(42, 5*time.Minute); got != want {
		t.Errorf("note = %q", got)
	}
}
