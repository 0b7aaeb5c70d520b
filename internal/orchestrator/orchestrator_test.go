package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/internal/notify"
	"quoteflow/internal/router"
	"quoteflow/internal/saga"
	"quoteflow/models"
	"quoteflow/storage/relational"
	"quoteflow/storage/timeseries"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeFetcher returns one daily bar per day of the requested window.
type fakeFetcher struct {
	fail      map[string]bool
	failChunk func(symbol string, start time.Time) bool
	panicOn   string
	delay     time.Duration
	// spelled maps a unit to the symbol the provider writes into its bars.
	spelled map[string]string

	active    atomic.Int32
	maxActive atomic.Int32
	calls     atomic.Int32
}

func (f *fakeFetcher) Execute(_ context.Context, _ []string, op models.Operation, p adapter.Params) (*models.FetchResult, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if p.Symbol == f.panicOn && f.panicOn != "" {
		panic("provider returned garbage")
	}
	if f.fail[p.Symbol] {
		return nil, fmt.Errorf("all adapters exhausted for %s", p.Symbol)
	}
	if f.failChunk != nil && f.failChunk(p.Symbol, p.Start) {
		return nil, errors.New("timeout")
	}

	if !op.Windowed() {
		return &models.FetchResult{Provider: "reference", Operation: op, Rows: []models.Row{
			{models.ColSymbol: "BTCUSDT", models.ColName: "Bitcoin"},
			{models.ColSymbol: "ETHUSDT", models.ColName: "Ether"},
		}}, nil
	}

	var rows []models.Row
	for ts := p.Start; ts.Before(p.End); ts = ts.Add(24 * time.Hour) {
		row := models.Row{
			models.ColTimestamp: ts,
			models.ColOpen:      "10",
			models.ColHigh:      "12",
			models.ColLow:       "9",
			models.ColClose:     "11",
			models.ColVolume:    "100",
		}
		if sym, ok := f.spelled[p.Symbol]; ok {
			row[models.ColSymbol] = sym
		}
		rows = append(rows, row)
	}
	return &models.FetchResult{Provider: "binance", Operation: op, Rows: rows}, nil
}

type env struct {
	orch *Orchestrator
	ts   *timeseries.MemoryStore
	rel  *relational.MemoryStore
}

func newEnv(t *testing.T, fetch Fetcher, opts ...Option) *env {
	t.Helper()
	routing, err := config.DefaultRouting()
	if err != nil {
		t.Fatalf("DefaultRouting: %v", err)
	}
	rt, err := router.New(routing)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	ts := timeseries.NewMemoryStore()
	rel := relational.NewMemoryStore()
	return &env{
		orch: New(rt, fetch, saga.New(ts, rel), ts, rel, opts...),
		ts:   ts,
		rel:  rel,
	}
}

func units(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%02d", i)
	}
	return out
}

func dailyJob(u []string, concurrency int) Job {
	return Job{
		Classification: models.DailyKline,
		Operation:      models.OpPriceHistory,
		Units:          u,
		MaxConcurrency: concurrency,
		Start:          day0,
		End:            day0.Add(3 * 24 * time.Hour),
	}
}

func TestRunIsolatesFailedUnits(t *testing.T) {
	u := units(20)
	fetch := &fakeFetcher{
		fail:  map[string]bool{u[3]: true, u[7]: true, u[12]: true},
		delay: 5 * time.Millisecond,
	}
	e := newEnv(t, fetch)

	stats, err := e.orch.Run(context.Background(), dailyJob(u, 5))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.TotalUnits != 20 || stats.FailedUnits != 3 || stats.SucceededUnits != 17 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.TotalRecords != 17*3 || stats.SagaCommits != 17 || stats.SagaRollbacks != 0 {
		t.Fatalf("unexpected records/saga counts %+v", stats)
	}
	if got := fetch.maxActive.Load(); got > 5 {
		t.Fatalf("concurrency bound exceeded: %d", got)
	}
	if stats.MaxConcurrency != 5 || len(stats.Units) != 20 {
		t.Fatalf("unexpected stats shape %+v", stats)
	}
	if keys := stats.FailedKeys(); len(keys) != 3 || keys[0] != u[3] || keys[1] != u[7] || keys[2] != u[12] {
		t.Fatalf("unexpected failed keys %v", keys)
	}

	var partial *models.PartialSyncFailure
	if !errors.As(stats.Err(), &partial) || partial.Failed != 3 {
		t.Fatalf("expected PartialSyncFailure, got %v", stats.Err())
	}

	if rows := e.ts.Rows("kline_daily"); len(rows) != 17*3 {
		t.Fatalf("expected %d stored bars, got %d", 17*3, len(rows))
	}
	status := e.rel.Rows(config.DefaultSyncStatusTable)
	if len(status) != 17 {
		t.Fatalf("expected 17 sync status rows, got %d", len(status))
	}
	if status[0]["record_count"] != int64(3) {
		t.Fatalf("unexpected sync status row %v", status[0])
	}
}

func TestRunDefaultsConcurrency(t *testing.T) {
	e := newEnv(t, &fakeFetcher{})
	stats, err := e.orch.Run(context.Background(), dailyJob(units(3), 0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.MaxConcurrency != config.DefaultMaxConcurrency || stats.JobID == "" {
		t.Fatalf("defaults not applied: %+v", stats)
	}
}

func TestRunDeduplicatesUnits(t *testing.T) {
	fetch := &fakeFetcher{}
	e := newEnv(t, fetch)
	stats, err := e.orch.Run(context.Background(), dailyJob([]string{"BTCUSDT", "ETHUSDT", "BTCUSDT"}, 3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.TotalUnits != 2 || len(stats.Units) != 2 || stats.SagaCommits != 2 {
		t.Fatalf("duplicate unit ran twice: %+v", stats)
	}
	if got := fetch.calls.Load(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
	if rows := e.ts.Rows("kline_daily"); len(rows) != 6 {
		t.Fatalf("expected 6 stored bars, got %d", len(rows))
	}
}

func TestRunChunksProducePartialUnits(t *testing.T) {
	fetch := &fakeFetcher{failChunk: func(symbol string, start time.Time) bool {
		return symbol == "BTCUSDT" && start.Equal(day0.Add(2*24*time.Hour))
	}}
	e := newEnv(t, fetch)
	job := dailyJob([]string{"BTCUSDT", "ETHUSDT"}, 2)
	job.End = day0.Add(4 * 24 * time.Hour)
	job.ChunkSize = 2 * 24 * time.Hour

	stats, err := e.orch.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.PartialUnits != 1 || stats.SucceededUnits != 1 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	btc := stats.Units[0]
	if btc.Unit != "BTCUSDT" || btc.Status != models.UnitPartial || btc.SubOpSucceeded != 1 || btc.SubOpFailed != 1 || btc.Records != 2 {
		t.Fatalf("unexpected partial unit %+v", btc)
	}
	if stats.SagaCommits != 3 {
		t.Fatalf("expected one commit per successful chunk, got %d", stats.SagaCommits)
	}
}

func TestRunRollsBackOnMetadataFailure(t *testing.T) {
	e := newEnv(t, &fakeFetcher{}, WithMetadataFunc(func(_ context.Context, _ relational.Tx, a *saga.Attempt) error {
		if a.Symbol == "ETHUSDT" {
			return errors.New("sync status locked")
		}
		return nil
	}))

	stats, err := e.orch.Run(context.Background(), dailyJob([]string{"BTCUSDT", "ETHUSDT"}, 2))
	if err != nil {
		t.Fatalf("rollbacks must not escalate: %v", err)
	}
	if stats.SagaCommits != 1 || stats.SagaRollbacks != 1 || stats.FailedUnits != 1 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	for _, r := range e.ts.Rows("kline_daily") {
		if r.String(models.ColSymbol) == "ETHUSDT" {
			t.Fatalf("rolled back bars still stored")
		}
	}
}

func TestRunRollsBackBarsSpelledByProvider(t *testing.T) {
	fetch := &fakeFetcher{spelled: map[string]string{"BTCUSDT": "btc-usdt", "ETHUSDT": "eth-usdt"}}
	e := newEnv(t, fetch, WithMetadataFunc(func(_ context.Context, _ relational.Tx, a *saga.Attempt) error {
		if a.Symbol == "BTCUSDT" {
			return errors.New("sync status locked")
		}
		return nil
	}))

	stats, err := e.orch.Run(context.Background(), dailyJob([]string{"BTCUSDT", "ETHUSDT"}, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.SagaRollbacks != 1 || stats.CompensationFailures != 0 || stats.SagaCommits != 1 {
		t.Fatalf("unexpected saga counts %+v", stats)
	}
	rows := e.ts.Rows("kline_daily")
	if len(rows) != 3 {
		t.Fatalf("expected only the committed unit's 3 bars, got %d", len(rows))
	}
	for _, r := range rows {
		if r.String(models.ColSymbol) != "ETHUSDT" {
			t.Fatalf("bar stored under %q", r.String(models.ColSymbol))
		}
	}
}

type brokenDeleteStore struct {
	*timeseries.MemoryStore
}

func (brokenDeleteStore) Delete(context.Context, string, timeseries.Matcher) (int, error) {
	return 0, errors.New("mutation failed")
}

type capturePublisher struct {
	mu     sync.Mutex
	jobs   []models.SyncJobStats
	alerts int
}

func (p *capturePublisher) JobCompleted(_ context.Context, s models.SyncJobStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, s)
	return nil
}

func (p *capturePublisher) Alert(context.Context, notify.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts++
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestRunEscalatesCompensationFailures(t *testing.T) {
	routing, _ := config.DefaultRouting()
	rt, _ := router.New(routing)
	ts := brokenDeleteStore{timeseries.NewMemoryStore()}
	rel := relational.NewMemoryStore()
	pub := &capturePublisher{}
	orch := New(rt, &fakeFetcher{}, saga.New(ts, rel), ts, rel,
		WithPublisher(pub),
		WithMetadataFunc(func(context.Context, relational.Tx, *saga.Attempt) error { return errors.New("boom") }),
	)

	stats, err := orch.Run(context.Background(), dailyJob([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, 3))
	var cerr *saga.CompensationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CompensationError, got %v", err)
	}
	if stats == nil || stats.CompensationFailures != 3 || stats.FailedUnits != 3 {
		t.Fatalf("stats must be complete alongside the error: %+v", stats)
	}
	if pub.alerts != 3 || len(pub.jobs) != 1 {
		t.Fatalf("expected 3 alerts and 1 job event, got %d/%d", pub.alerts, len(pub.jobs))
	}
}

func TestRunRecoversPanickingUnit(t *testing.T) {
	e := newEnv(t, &fakeFetcher{panicOn: "ETHUSDT"})
	stats, err := e.orch.Run(context.Background(), dailyJob([]string{"BTCUSDT", "ETHUSDT"}, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FailedUnits != 1 || stats.SucceededUnits != 1 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.Units[1].Unit != "ETHUSDT" || stats.Units[1].Error == "" {
		t.Fatalf("panic not recorded: %+v", stats.Units[1])
	}
}

func TestRunUnitTimeout(t *testing.T) {
	e := newEnv(t, &blockingFetcher{}, WithUnitTimeout(20*time.Millisecond))
	stats, err := e.orch.Run(context.Background(), dailyJob([]string{"BTCUSDT"}, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FailedUnits != 1 {
		t.Fatalf("expected timed out unit to fail: %+v", stats)
	}
}

type blockingFetcher struct{}

func (b *blockingFetcher) Execute(ctx context.Context, _ []string, _ models.Operation, _ adapter.Params) (*models.FetchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunDirectRelationalRoute(t *testing.T) {
	e := newEnv(t, &fakeFetcher{})
	stats, err := e.orch.Run(context.Background(), Job{
		Classification: models.SymbolsInfo,
		Operation:      models.OpBasicInfo,
		Units:          []string{"ignored"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.TotalUnits != 1 || stats.SucceededUnits != 1 || stats.TotalRecords != 2 || stats.SagaCommits != 0 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if rows := e.rel.Rows("symbols_info"); len(rows) != 2 {
		t.Fatalf("expected 2 upserted rows, got %v", rows)
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	routing, err := config.ParseRouting([]byte(`
stores:
  symbols_info: {backend: relational, table: symbols_info, conflict_keys: [symbol]}
adapters:
  default: [a]
`), "test.yml")
	if err != nil {
		t.Fatalf("ParseRouting: %v", err)
	}
	rt, _ := router.New(routing)
	orch := New(rt, &fakeFetcher{}, nil, timeseries.NewMemoryStore(), relational.NewMemoryStore())

	var cfgErr *config.ConfigurationError
	if _, err := orch.Run(context.Background(), dailyJob([]string{"BTCUSDT"}, 1)); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for unrouted classification, got %v", err)
	}

	fetch := &fakeFetcher{}
	e := newEnv(t, fetch)
	job := dailyJob([]string{"BTCUSDT"}, 1)
	job.End = job.Start
	if _, err := e.orch.Run(context.Background(), job); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for empty window, got %v", err)
	}
	if fetch.calls.Load() != 0 {
		t.Fatalf("no unit may run after a configuration error")
	}
}

func TestSplitWindow(t *testing.T) {
	w := splitWindow(day0, day0.Add(5*time.Hour), 2*time.Hour)
	if len(w) != 3 || !w[2].end.Equal(day0.Add(5*time.Hour)) || !w[1].start.Equal(day0.Add(2*time.Hour)) {
		t.Fatalf("unexpected windows %+v", w)
	}
	if one := splitWindow(day0, day0.Add(time.Hour), 0); len(one) != 1 {
		t.Fatalf("zero chunk size must yield one window")
	}
}
