package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventrelay/internal/application/entity"
	"eventrelay/pkg/config"

	"go.uber.org/zap"
)

// ===== fakes =====

type fakeRepo struct {
	mu     sync.Mutex
	saved  map[string]entity.OutboxRecord
	counts map[entity.OutboxStatus]int64

	countErr error
	saveErr  error

	deleteBatches []int64 // scripted per-call results for DeleteOlderThan
	deleteCutoffs []time.Time
	deleteErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		saved:  make(map[string]entity.OutboxRecord),
		counts: make(map[entity.OutboxStatus]int64),
	}
}

func (f *fakeRepo) Insert(ctx context.Context, r *entity.OutboxRecord) error {
	return f.Save(ctx, r)
}

func (f *fakeRepo) Save(_ context.Context, r *entity.OutboxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[r.EventID] = *r
	return nil
}

func (f *fakeRepo) ClaimPendingBatch(context.Context, time.Duration, int) ([]entity.OutboxRecord, error) {
	return nil, nil
}

func (f *fakeRepo) CountByStatus(_ context.Context, status entity.OutboxStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[status], nil
}

func (f *fakeRepo) DeleteOlderThan(_ context.Context, _ entity.OutboxStatus, before time.Time, _ int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleteCutoffs = append(f.deleteCutoffs, before)
	if len(f.deleteBatches) == 0 {
		return 0, nil
	}
	n := f.deleteBatches[0]
	f.deleteBatches = f.deleteBatches[1:]
	return n, nil
}

func (f *fakeRepo) Get(_ context.Context, eventID string) (*entity.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.saved[eventID]; ok {
		cp := r
		return &cp, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeRepo) ReplayFailed(context.Context, string) error { return nil }
func (f *fakeRepo) HealthCheck(context.Context) error          { return nil }

func (f *fakeRepo) savedRecord(t *testing.T, eventID string) entity.OutboxRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.saved[eventID]
	if !ok {
		t.Fatalf("record %s was never saved", eventID)
	}
	return r
}

type fakeTx struct {
	mu        sync.Mutex
	records   []entity.OutboxRecord
	claimErr  error
	lastLimit int
	calls     int
}

func (f *fakeTx) EnqueueWithin(ctx context.Context, rec *entity.OutboxRecord, domainWrite func(ctx context.Context) error) error {
	if domainWrite != nil {
		if err := domainWrite(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeTx) ClaimPendingBatch(_ context.Context, _ time.Duration, limit int) ([]entity.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLimit = limit
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	out := f.records
	f.records = nil
	return out, nil
}

type sentMsg struct {
	topic string
	key   string
	value []byte
}

// fakeBrokerSend fails a key for a scripted number of calls, then succeeds.
type fakeBrokerSend struct {
	mu       sync.Mutex
	sent     []sentMsg
	failures map[string]int // remaining failures per key
	err      error          // unconditional failure when set
}

func newFakeBrokerSend() *fakeBrokerSend {
	return &fakeBrokerSend{failures: make(map[string]int)}
}

func (f *fakeBrokerSend) Send(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if n := f.failures[key]; n > 0 {
		f.failures[key] = n - 1
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, sentMsg{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeBrokerSend) HealthCheck(context.Context) error { return nil }

func (f *fakeBrokerSend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// ===== helpers =====

func testDispatcherConfig() *config.Dispatcher {
	return &config.Dispatcher{
		Workers:        2,
		BatchSize:      10,
		MaxBatchSize:   40,
		DynamicBatch:   false,
		HighWatermark:  100,
		LowWatermark:   5,
		Lease:          30 * time.Second,
		PollPeriod:     5 * time.Millisecond,
		MaxRetries:     3,
		BaseRetryDelay: time.Second,
		MaxRetryDelay:  30 * time.Minute,
		SendTimeout:    time.Second,
		Breaker: config.Breaker{
			Enabled:          true,
			FailureThreshold: 5,
			OpenDuration:     time.Minute,
		},
	}
}

func newTestDispatcher(repo *fakeRepo, tx *fakeTx, pub *fakeBrokerSend, cfg *config.Dispatcher) *Dispatcher {
	d := NewDispatcher(repo, tx, pub, zap.NewNop().Sugar(), cfg, nil)
	d.now = func() time.Time { return time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC) }
	return d
}

func pendingRecord(t *testing.T, eventID string) entity.OutboxRecord {
	t.Helper()
	rec, err := entity.NewOutboxRecord(eventID, "order", "agg-"+eventID, "order_created", []byte(`{"n":1}`), time.Date(2026, 1, 20, 11, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewOutboxRecord: %v", err)
	}
	return *rec
}

// ===== tests =====

func TestProcessOneSuccess(t *testing.T) {
	repo := newFakeRepo()
	pub := newFakeBrokerSend()
	d := newTestDispatcher(repo, &fakeTx{}, pub, testDispatcherConfig())

	rec := pendingRecord(t, "evt-1")
	d.ProcessOne(context.Background(), 0, "orders", rec)

	saved := repo.savedRecord(t, "evt-1")
	if saved.Status != entity.OutboxPublished {
		t.Errorf("status = %s, want PUBLISHED", saved.Status)
	}
	if saved.PublishedAt == nil {
		t.Error("publishedAt must be set")
	}
	if saved.NextRetryAt != nil || saved.ErrorMessage != nil {
		t.Error("published record must carry no retry state")
	}
	if pub.sentCount() != 1 {
		t.Errorf("sent = %d, want 1", pub.sentCount())
	}
	if got := d.session.published.Load(); got != 1 {
		t.Errorf("session published = %d, want 1", got)
	}
}

func TestProcessOneKeysByAggregateID(t *testing.T) {
	repo := newFakeRepo()
	pub := newFakeBrokerSend()
	d := newTestDispatcher(repo, &fakeTx{}, pub, testDispatcherConfig())

	rec := pendingRecord(t, "evt-1")
	d.ProcessOne(context.Background(), 0, "orders", rec)

	if pub.sent[0].key != rec.AggregateID {
		t.Errorf("message key = %q, want aggregate id %q", pub.sent[0].key, rec.AggregateID)
	}
	if pub.sent[0].topic != "orders" {
		t.Errorf("topic = %q, want orders", pub.sent[0].topic)
	}
}

func TestProcessOneSkipsNonPending(t *testing.T) {
	repo := newFakeRepo()
	pub := newFakeBrokerSend()
	d := newTestDispatcher(repo, &fakeTx{}, pub, testDispatcherConfig())

	rec := pendingRecord(t, "evt-1")
	rec.Status = entity.OutboxPublished
	d.ProcessOne(context.Background(), 0, "orders", rec)

	if pub.sentCount() != 0 {
		t.Error("non-pending record must not be sent")
	}
}

func TestProcessOneSchedulesRetryWithBackoff(t *testing.T) {
	repo := newFakeRepo()
	pub := newFakeBrokerSend()
	pub.failures["agg-evt-1"] = 100
	cfg := testDispatcherConfig()
	d := newTestDispatcher(repo, &fakeTx{}, pub, cfg)

	now := d.now()
	rec := pendingRecord(t, "evt-1")

	// first failure: retryCount 0 -> 1, backoff = base
	d.ProcessOne(context.Background(), 0, "orders", rec)
	saved := repo.savedRecord(t, "evt-1")
	if saved.Status != entity.OutboxPending {
		t.Fatalf("status = %s, want PENDING", saved.Status)
	}
	if saved.RetryCount != 1 {
		t.Fatalf("retryCount = %d, want 1", saved.RetryCount)
	}
	if want := now.Add(cfg.BaseRetryDelay); !saved.NextRetryAt.Equal(want) {
		t.Errorf("nextRetryAt = %v, want %v", saved.NextRetryAt, want)
	}
	if saved.ErrorMessage == nil || *saved.ErrorMessage == "" {
		t.Error("retry must record the failure reason")
	}

	// second failure: retryCount 1 -> 2, backoff doubles
	d.ProcessOne(context.Background(), 0, "orders", saved)
	saved = repo.savedRecord(t, "evt-1")
	if saved.RetryCount != 2 {
		t.Fatalf("retryCount = %d, want 2", saved.RetryCount)
	}
	if want := now.Add(2 * cfg.BaseRetryDelay); !saved.NextRetryAt.Equal(want) {
		t.Errorf("nextRetryAt = %v, want %v", saved.NextRetryAt, want)
	}
}

func TestProcessOneMarksFailedAfterMaxRetries(t *testing.T) {
	repo := newFakeRepo()
	pub := newFakeBrokerSend()
	pub.failures["agg-evt-1"] = 100
	d := newTestDispatcher(repo, &fakeTx{}, pub, testDispatcherConfig()) // MaxRetries = 3

	rec := pendingRecord(t, "evt-1")
	rec.RetryCount = 2 // the next failure is the third and last attempt

	d.ProcessOne(context.Background(), 0, "orders", rec)

	saved := repo.savedRecord(t, "evt-1")
	if saved.Status != entity.OutboxFailed {
		t.Fatalf("status = %s, want FAILED", saved.Status)
	}
	if saved.ErrorMessage == nil || *saved.ErrorMessage == "" {
		t.Error("FAILED record must carry the last failure reason")
	}
	if saved.NextRetryAt != nil {
		t.Error("FAILED record must not be eligible for another claim")
	}
	if got := d.session.failed.Load(); got != 1 {
		t.Errorf("session failed = %d, want 1", got)
	}
}

func TestProcessOnePublishedAfterRetriesKeepsCount(t *testing.T) {
	repo := newFakeRepo()
	pub := newFakeBrokerSend()
	pub.failures["agg-evt-1"] = 2 // fail twice, then succeed
	d := newTestDispatcher(repo, &fakeTx{}, pub, testDispatcherConfig())

	rec := pendingRecord(t, "evt-1")
	for i := 0; i < 3; i++ {
		d.ProcessOne(context.Background(), 0, "orders", rec)
		rec = repo.savedRecord(t, "evt-1")
	}

	if rec.Status != entity.OutboxPublished {
		t.Fatalf("status = %s, want PUBLISHED", rec.Status)
	}
	if rec.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2 (history preserved)", rec.RetryCount)
	}
	if rec.ErrorMessage != nil {
		t.Error("errorMessage must be cleared on publish")
	}
}

func TestProcessOneFailureIsolation(t *testing.T) {
	repo := newFakeRepo()
	pub := newFakeBrokerSend()
	pub.failures["agg-evt-bad"] = 100
	d := newTestDispatcher(repo, &fakeTx{}, pub, testDispatcherConfig())

	d.ProcessOne(context.Background(), 0, "orders", pendingRecord(t, "evt-bad"))
	d.ProcessOne(context.Background(), 0, "orders", pendingRecord(t, "evt-good"))

	if got := repo.savedRecord(t, "evt-bad").Status; got != entity.OutboxPending {
		t.Errorf("bad record status = %s, want PENDING (scheduled retry)", got)
	}
	if got := repo.savedRecord(t, "evt-good").Status; got != entity.OutboxPublished {
		t.Errorf("good record status = %s, want PUBLISHED", got)
	}
}

func TestPollOnceFeedsClaimedRecords(t *testing.T) {
	repo := newFakeRepo()
	tx := &fakeTx{records: []entity.OutboxRecord{pendingRecord(t, "evt-1"), pendingRecord(t, "evt-2")}}
	d := newTestDispatcher(repo, tx, newFakeBrokerSend(), testDispatcherConfig())

	jobs := make(chan entity.OutboxRecord, 10)
	d.pollOnce(context.Background(), jobs)

	if len(jobs) != 2 {
		t.Errorf("jobs queued = %d, want 2", len(jobs))
	}
	if tx.lastLimit != 10 {
		t.Errorf("claim limit = %d, want base batch size 10", tx.lastLimit)
	}
}

func TestPollOnceClaimErrorCountsAsBreakerFailure(t *testing.T) {
	repo := newFakeRepo()
	tx := &fakeTx{claimErr: errors.New("db down")}
	d := newTestDispatcher(repo, tx, newFakeBrokerSend(), testDispatcherConfig())

	jobs := make(chan entity.OutboxRecord, 10)
	d.pollOnce(context.Background(), jobs)

	if len(jobs) != 0 {
		t.Error("failed claim must feed no jobs")
	}
	if d.breaker.ConsecutiveFailures() != 1 {
		t.Errorf("breaker failures = %d, want 1", d.breaker.ConsecutiveFailures())
	}
}

func TestPollOnceSkippedWhileBreakerOpen(t *testing.T) {
	repo := newFakeRepo()
	tx := &fakeTx{records: []entity.OutboxRecord{pendingRecord(t, "evt-1")}}
	cfg := testDispatcherConfig()
	cfg.Breaker.FailureThreshold = 1
	d := newTestDispatcher(repo, tx, newFakeBrokerSend(), cfg)

	d.breaker.RecordFailure() // opens immediately

	jobs := make(chan entity.OutboxRecord, 10)
	d.pollOnce(context.Background(), jobs)

	if tx.calls != 0 {
		t.Error("open breaker must suppress the claim entirely")
	}
}

func TestPollOnceEmptyClaimDoesNotConsumeProbe(t *testing.T) {
	repo := newFakeRepo()
	tx := &fakeTx{}
	cfg := testDispatcherConfig()
	cfg.Breaker.FailureThreshold = 1
	d := newTestDispatcher(repo, tx, newFakeBrokerSend(), cfg)

	clock := &fakeClock{t: d.now()}
	d.breaker.WithClock(clock.now)

	d.breaker.RecordFailure() // opens immediately
	clock.advance(cfg.Breaker.OpenDuration)

	// probe cycle against an empty backlog
	jobs := make(chan entity.OutboxRecord, 10)
	d.pollOnce(context.Background(), jobs)
	if tx.calls != 1 {
		t.Fatalf("claim calls = %d, want 1 (the probe cycle)", tx.calls)
	}

	// records arrive later; the dispatcher must claim again
	tx.records = []entity.OutboxRecord{pendingRecord(t, "evt-1")}
	for i := 0; i < 5; i++ {
		d.pollOnce(context.Background(), jobs)
	}

	if tx.calls < 2 {
		t.Fatal("dispatcher never claimed again after an empty half-open cycle")
	}
	if len(jobs) != 1 {
		t.Errorf("jobs queued = %d, want 1", len(jobs))
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	tests := []struct {
		name    string
		dynamic bool
		pending int64
		want    int
	}{
		{"static", false, 1000, 10},
		{"steady state", true, 50, 10},
		{"backlog doubles", true, 150, 20},
		{"drained halves", true, 2, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.counts[entity.OutboxPending] = tt.pending
			cfg := testDispatcherConfig()
			cfg.DynamicBatch = tt.dynamic
			d := newTestDispatcher(repo, &fakeTx{}, newFakeBrokerSend(), cfg)

			if got := d.effectiveBatchSize(context.Background()); got != tt.want {
				t.Errorf("effectiveBatchSize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEffectiveBatchSizeCappedAtMax(t *testing.T) {
	repo := newFakeRepo()
	repo.counts[entity.OutboxPending] = 10000
	cfg := testDispatcherConfig()
	cfg.DynamicBatch = true
	cfg.BatchSize = 30
	cfg.MaxBatchSize = 40
	d := newTestDispatcher(repo, &fakeTx{}, newFakeBrokerSend(), cfg)

	if got := d.effectiveBatchSize(context.Background()); got != 40 {
		t.Errorf("effectiveBatchSize = %d, want MaxBatchSize 40", got)
	}
}

func TestEffectiveBatchSizeFallsBackOnCountError(t *testing.T) {
	repo := newFakeRepo()
	repo.countErr = errors.New("db hiccup")
	cfg := testDispatcherConfig()
	cfg.DynamicBatch = true
	d := newTestDispatcher(repo, &fakeTx{}, newFakeBrokerSend(), cfg)

	if got := d.effectiveBatchSize(context.Background()); got != cfg.BatchSize {
		t.Errorf("effectiveBatchSize = %d, want base %d", got, cfg.BatchSize)
	}
}

func TestRunDrainsWorkersOnShutdown(t *testing.T) {
	repo := newFakeRepo()
	tx := &fakeTx{records: []entity.OutboxRecord{pendingRecord(t, "evt-1")}}
	pub := newFakeBrokerSend()
	d := newTestDispatcher(repo, tx, pub, testDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, "orders")
		close(done)
	}()

	// wait for the claimed record to go through a poll cycle
	deadline := time.After(2 * time.Second)
	for pub.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("record was never published")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := repo.savedRecord(t, "evt-1").Status; got != entity.OutboxPublished {
		t.Errorf("status = %s, want PUBLISHED", got)
	}
}

func TestStatsSnapshot(t *testing.T) {
	repo := newFakeRepo()
	repo.counts[entity.OutboxPending] = 3
	repo.counts[entity.OutboxPublished] = 10
	repo.counts[entity.OutboxFailed] = 1
	d := newTestDispatcher(repo, &fakeTx{}, newFakeBrokerSend(), testDispatcherConfig())

	d.session.recordPublished(d.now().Add(-42 * time.Second))
	d.session.recordFailed()

	stats, err := d.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if stats.PendingTotal != 3 || stats.PublishedTotal != 10 || stats.FailedTotal != 1 {
		t.Errorf("totals = %d/%d/%d, want 3/10/1", stats.PendingTotal, stats.PublishedTotal, stats.FailedTotal)
	}
	if stats.SessionPublished != 1 || stats.SessionFailed != 1 {
		t.Errorf("session = %d/%d, want 1/1", stats.SessionPublished, stats.SessionFailed)
	}
	if stats.BreakerState != "CLOSED" {
		t.Errorf("breakerState = %s, want CLOSED", stats.BreakerState)
	}
	if stats.SinceLastSuccessSecs != 42 {
		t.Errorf("sinceLastSuccessSecs = %d, want 42", stats.SinceLastSuccessSecs)
	}
}

func TestStatsNoSuccessYet(t *testing.T) {
	d := newTestDispatcher(newFakeRepo(), &fakeTx{}, newFakeBrokerSend(), testDispatcherConfig())

	stats, err := d.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.SinceLastSuccessSecs != -1 {
		t.Errorf("sinceLastSuccessSecs = %d, want -1", stats.SinceLastSuccessSecs)
	}
}

func TestResetStats(t *testing.T) {
	cfg := testDispatcherConfig()
	cfg.Breaker.FailureThreshold = 1
	d := newTestDispatcher(newFakeRepo(), &fakeTx{}, newFakeBrokerSend(), cfg)

	d.session.recordPublished(d.now())
	d.session.recordFailed()
	d.breaker.RecordFailure()
	if d.breaker.State() != BreakerOpen {
		t.Fatal("breaker should be open before reset")
	}

	d.ResetStats()

	if d.session.published.Load() != 0 || d.session.failed.Load() != 0 {
		t.Error("session counters must be zeroed")
	}
	if d.breaker.State() != BreakerClosed {
		t.Error("breaker must be force-closed by reset")
	}
}
