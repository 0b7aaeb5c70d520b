// Package orchestrator fans a sync job out over its units with a bounded
// worker pool. Each unit resolves its provider chain, fetches, normalizes
// and writes independently; one unit failing never stops the others.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/internal/notify"
	"quoteflow/internal/router"
	"quoteflow/internal/saga"
	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/storage/relational"
	"quoteflow/storage/timeseries"
)

// AllUnits is the unit key of operations that are not per symbol.
const AllUnits = "*"

// Fetcher is satisfied by *failover.Executor.
type Fetcher interface {
	Execute(ctx context.Context, chain []string, op models.Operation, p adapter.Params) (*models.FetchResult, error)
}

// Job describes one sync run.
type Job struct {
	ID             string
	Classification models.DataClassification
	Operation      models.Operation
	Units          []string
	MaxConcurrency int

	// Windowed operations fetch [Start, End) in ChunkSize pieces. A zero
	// ChunkSize fetches the window at once.
	Start     time.Time
	End       time.Time
	ChunkSize time.Duration
	Period    string
}

type Option func(*Orchestrator)

// WithMetadataFunc replaces the sync status upsert run by saga routes.
func WithMetadataFunc(fn saga.MetadataFunc) Option {
	return func(o *Orchestrator) { o.metaFn = fn }
}

// WithUnitTimeout bounds each unit. Zero disables the deadline.
func WithUnitTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.unitTimeout = d }
}

func WithPublisher(p notify.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithSyncStatusTable names the table of the default metadata step.
func WithSyncStatusTable(table string) Option {
	return func(o *Orchestrator) { o.statusTable = table }
}

// WithJobObserver is called with every finished job's snapshot.
func WithJobObserver(fn func(*models.SyncJobStats)) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

type Orchestrator struct {
	router      *router.Router
	fetcher     Fetcher
	coordinator *saga.Coordinator
	timeseries  timeseries.Store
	relational  relational.Store
	publisher   notify.Publisher
	metaFn      saga.MetadataFunc
	statusTable string
	unitTimeout time.Duration
	observers   []func(*models.SyncJobStats)
	now         func() time.Time
	log         *logger.Entry
}

func New(rt *router.Router, fetcher Fetcher, coord *saga.Coordinator, ts timeseries.Store, rel relational.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:      rt,
		fetcher:     fetcher,
		coordinator: coord,
		timeseries:  ts,
		relational:  rel,
		statusTable: config.DefaultSyncStatusTable,
		now:         time.Now,
		log:         logger.GetLogger().WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.publisher == nil {
		o.publisher = notify.NewLogPublisher()
	}
	if o.metaFn == nil {
		o.metaFn = o.syncStatus
	}
	return o
}

// plan is everything a unit needs, resolved once per job.
type plan struct {
	job    Job
	route  router.Route
	chain  []string
	chunks []window
}

type window struct {
	start, end time.Time
}

// Run executes job and returns its statistics. Per-unit failures are
// recorded in the stats and never returned. The error is non-nil only for
// a configuration problem found before any unit ran, or when one or more
// saga compensations failed; the latter joins every *saga.CompensationError
// and still comes with complete stats.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*models.SyncJobStats, error) {
	p, err := o.plan(job)
	if err != nil {
		return nil, err
	}
	job = p.job

	log := o.log.WithFields(logger.Fields{
		"job_id":          job.ID,
		"classification":  string(job.Classification),
		"operation":       string(job.Operation),
		"units":           len(job.Units),
		"max_concurrency": job.MaxConcurrency,
		"chain":           p.chain,
		"table":           p.route.Table,
		"saga":            p.route.Saga,
	})
	log.Info("sync job started")

	acc := &accumulator{stats: models.SyncJobStats{
		JobID:          job.ID,
		Classification: job.Classification,
		Operation:      job.Operation,
		MaxConcurrency: job.MaxConcurrency,
		TotalUnits:     len(job.Units),
		StartedAt:      o.now().UTC(),
	}}

	wp := pool.New().WithMaxGoroutines(job.MaxConcurrency)
	for _, unit := range job.Units {
		wp.Go(func() {
			res, compErrs := o.runUnit(ctx, p, unit)
			acc.merge(res, compErrs)
		})
	}
	wp.Wait()

	stats, compErrs := acc.finish(o.now().UTC())
	o.report(ctx, log, stats)

	if len(compErrs) > 0 {
		return stats, errors.Join(compErrs...)
	}
	return stats, nil
}

func (o *Orchestrator) plan(job Job) (plan, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxConcurrency <= 0 {
		job.MaxConcurrency = config.DefaultMaxConcurrency
	}

	route, err := o.router.ResolveStore(job.Classification)
	if err != nil {
		return plan{}, err
	}
	chain, err := o.router.ResolveAdapterChain(job.Classification, job.Operation)
	if err != nil {
		return plan{}, err
	}
	if route.Saga && o.coordinator == nil {
		return plan{}, &config.ConfigurationError{Key: "stores." + string(job.Classification), Err: errors.New("saga route without a coordinator")}
	}

	if !job.Operation.PerSymbol() {
		job.Units = []string{AllUnits}
	} else {
		job.Units = uniqueUnits(job.Units)
	}

	chunks := []window{{}}
	if job.Operation.Windowed() {
		if job.Start.IsZero() || !job.Start.Before(job.End) {
			return plan{}, &config.ConfigurationError{Key: "job.window", Err: fmt.Errorf("%s needs start before end", job.Operation)}
		}
		chunks = splitWindow(job.Start, job.End, job.ChunkSize)
	}
	if job.Operation == models.OpIntradayBars && job.Period == "" {
		job.Period = "1m"
	}
	if job.Operation == models.OpPriceHistory {
		job.Period = adapter.DailyPeriod
	}

	return plan{job: job, route: route, chain: chain, chunks: chunks}, nil
}

// uniqueUnits drops repeated unit keys, keeping first-seen order.
func uniqueUnits(units []string) []string {
	seen := make(map[string]struct{}, len(units))
	out := make([]string, 0, len(units))
	for _, u := range units {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func splitWindow(start, end time.Time, size time.Duration) []window {
	if size <= 0 {
		return []window{{start: start, end: end}}
	}
	var out []window
	for s := start; s.Before(end); s = s.Add(size) {
		e := s.Add(size)
		if e.After(end) {
			e = end
		}
		out = append(out, window{start: s, end: e})
	}
	return out
}

// accumulator is the only state shared between unit tasks.
type accumulator struct {
	mu       sync.Mutex
	stats    models.SyncJobStats
	compErrs []error
}

func (a *accumulator) merge(r models.SyncUnitResult, compErrs []error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Merge(r)
	a.compErrs = append(a.compErrs, compErrs...)
}

func (a *accumulator) finish(at time.Time) (*models.SyncJobStats, []error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.FinishedAt = at
	a.stats.Duration = at.Sub(a.stats.StartedAt)
	return a.stats.Snapshot(), append([]error(nil), a.compErrs...)
}

func (o *Orchestrator) report(ctx context.Context, log *logger.Entry, stats *models.SyncJobStats) {
	fields := logger.Fields{
		"total_units":           stats.TotalUnits,
		"succeeded_units":       stats.SucceededUnits,
		"partial_units":         stats.PartialUnits,
		"failed_units":          stats.FailedUnits,
		"total_records":         stats.TotalRecords,
		"saga_commits":          stats.SagaCommits,
		"saga_rollbacks":        stats.SagaRollbacks,
		"compensation_failures": stats.CompensationFailures,
		"duration":              stats.Duration.String(),
	}
	entry := log.WithFields(fields)
	if err := stats.Err(); err != nil {
		entry.WithError(err).Warn("sync job finished with failures")
	} else {
		entry.Info("sync job finished")
	}
	logger.LogPerformanceEntry(log, "orchestrator", "run", stats.Duration, logger.Fields{
		"units": stats.TotalUnits,
	})
	log.LogMetric("orchestrator", "failed_units", stats.FailedUnits, "gauge", logger.Fields{"classification": string(stats.Classification)})

	if err := o.publisher.JobCompleted(context.WithoutCancel(ctx), *stats); err != nil {
		log.WithError(err).Warn("failed to publish job stats")
	}
	for _, fn := range o.observers {
		fn(stats.Snapshot())
	}
}
