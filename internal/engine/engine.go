// Package engine orchestrates import runs: it fetches marketplace search
// pages, extracts listing candidates, folds each candidate through the
// processing pipeline and imports the results in bounded concurrent chunks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/parser"
	"github.com/akoreshkov/modaflow/internal/storage"
	"github.com/akoreshkov/modaflow/internal/types"
)

// searchPageSize is how many product cards one search page shows at most.
// Follow-up pages are only fetched while the limit is unmet.
const searchPageSize = 60

// Progress milestones: collection pins 30, chunk processing scales up to
// 80, completion pins 100.
const (
	progressCollected int32 = 30
	progressProcessed int32 = 80
	progressDone      int32 = 100
)

// Fetcher retrieves search result pages.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) (*types.Response, error)
}

// Extractor turns a fetched page into listing candidates.
type Extractor interface {
	Extract(resp *types.Response, limit int) ([]types.RawListing, types.ExtractionMethod, []string, error)
}

// Processor folds one candidate through normalization, classification,
// enrichment and scoring. A nil listing with a nil error means the
// candidate was dropped.
type Processor interface {
	Run(ctx context.Context, raw types.RawListing, method types.ExtractionMethod) (*types.EnrichedListing, error)
}

// Importer persists one processed listing into the catalog.
type Importer interface {
	Import(ctx context.Context, l *types.EnrichedListing) types.ImportOutcome
}

// ExtractorFactory builds the extractor for a storefront.
type ExtractorFactory func(store parser.Storefront) Extractor

// ImportRequest describes one import run.
type ImportRequest struct {
	Query  string
	Limit  int
	Domain string
}

// Engine is the import orchestrator. Collaborators are attached with the
// Set methods before the first run starts.
type Engine struct {
	cfg     *config.Config
	metrics *observability.Metrics
	logger  *slog.Logger

	fetcher    Fetcher
	extractors ExtractorFactory
	processor  Processor
	importer   Importer
	archive    storage.Archive

	runs *Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// New creates an Engine with the default extraction chain per storefront.
func New(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "engine"),
		runs:    NewRegistry(cfg.Import.RunHistory),
		ctx:     ctx,
		cancel:  cancel,
	}

	bounds := parser.PriceBounds{Min: cfg.Import.PriceMin, Max: cfg.Import.PriceMax}
	if bounds.Max <= 0 {
		bounds = parser.DefaultPriceBounds
	}
	e.extractors = func(store parser.Storefront) Extractor {
		return parser.NewChain(store, bounds, metrics, logger)
	}
	return e
}

// SetFetcher sets the page fetcher.
func (e *Engine) SetFetcher(f Fetcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetcher = f
}

// SetProcessor sets the candidate processor.
func (e *Engine) SetProcessor(p Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processor = p
}

// SetImporter sets the catalog importer.
func (e *Engine) SetImporter(i Importer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.importer = i
}

// SetArchive sets the optional raw snapshot archive.
func (e *Engine) SetArchive(a storage.Archive) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.archive = a
}

// SetExtractorFactory overrides the per-storefront extractor.
func (e *Engine) SetExtractorFactory(f ExtractorFactory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extractors = f
}

// Runs exposes the run registry.
func (e *Engine) Runs() *Registry {
	return e.runs
}

// Status returns the status of a registered run.
func (e *Engine) Status(id string) (RunStatus, error) {
	run, ok := e.runs.Get(id)
	if !ok {
		return RunStatus{}, types.ErrRunNotFound
	}
	return run.Status(), nil
}

// RecentRuns returns up to n run statuses, newest first.
func (e *Engine) RecentRuns(n int) []RunStatus {
	return e.runs.Recent(n)
}

// StartRun registers a run and executes it in the background. The returned
// id can be polled through Status.
func (e *Engine) StartRun(req ImportRequest) (string, error) {
	run, store, err := e.register(req)
	if err != nil {
		return "", err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(e.ctx, run, store)
	}()
	return run.ID, nil
}

// Execute registers a run and executes it synchronously. The returned
// status carries the summary; a failed run is also reported as an error.
func (e *Engine) Execute(ctx context.Context, req ImportRequest) (RunStatus, error) {
	run, store, err := e.register(req)
	if err != nil {
		return RunStatus{}, err
	}

	e.execute(ctx, run, store)

	st := run.Status()
	if st.State == types.RunFailed {
		return st, fmt.Errorf("run %s failed: %s", run.ID, st.Error)
	}
	return st, nil
}

// Close cancels background runs and waits for them to finish.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// register validates the request, normalizes defaults and adds a pending
// run to the registry.
func (e *Engine) register(req ImportRequest) (*Run, parser.Storefront, error) {
	e.mu.RLock()
	fetch, proc, imp := e.fetcher, e.processor, e.importer
	e.mu.RUnlock()
	if fetch == nil || proc == nil || imp == nil {
		return nil, parser.Storefront{}, fmt.Errorf("engine is missing collaborators: fetcher, processor and importer must be set")
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, parser.Storefront{}, fmt.Errorf("import query is required")
	}
	if req.Limit <= 0 {
		req.Limit = e.cfg.Import.DefaultLimit
	}
	if e.cfg.Import.MaxLimit > 0 && req.Limit > e.cfg.Import.MaxLimit {
		req.Limit = e.cfg.Import.MaxLimit
	}
	if req.Domain == "" {
		req.Domain = e.cfg.Import.Domain
	}
	store, err := parser.StorefrontFor(req.Domain)
	if err != nil {
		return nil, parser.Storefront{}, err
	}

	run := newRun(uuid.NewString(), req.Query, store.Domain, req.Limit)
	e.runs.Add(run)
	e.metrics.RunsStarted.Add(1)
	return run, store, nil
}

// execute drives one run from pending to completed or failed.
func (e *Engine) execute(ctx context.Context, run *Run, store parser.Storefront) {
	logger := e.logger.With("run_id", run.ID, "query", run.Query, "domain", run.Domain)

	if !run.start() {
		logger.Warn("run is not pending, skipping execution", "state", run.State().String())
		return
	}
	logger.Info("run started", "limit", run.Limit)

	raw, method, warnings, err := e.collect(ctx, run, store, logger)
	if err != nil {
		e.finishFailed(run, logger, err, nil)
		return
	}
	if len(raw) == 0 {
		e.finishFailed(run, logger, types.ErrNoListings, nil)
		return
	}
	run.setProgress(progressCollected)
	logger.Info("collection complete", "candidates", len(raw), "method", string(method))

	if w := e.archiveSnapshot(ctx, run, method, raw, logger); w != "" {
		warnings = append(warnings, w)
	}

	summary := e.processAll(ctx, run, raw, method, logger)
	summary.Warnings = append(warnings, summary.Warnings...)
	summary.Elapsed = time.Since(run.startedAt)

	if err := ctx.Err(); err != nil {
		e.finishFailed(run, logger, err, summary)
		return
	}

	run.complete(summary)
	e.metrics.RunsCompleted.Add(1)
	logger.Info("run completed",
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"elapsed", summary.Elapsed,
	)
}

func (e *Engine) finishFailed(run *Run, logger *slog.Logger, err error, summary *types.ImportSummary) {
	run.fail(err, summary)
	e.metrics.RunsFailed.Add(1)
	logger.Error("run failed", "error", err)
}

// collect fetches search pages until the limit is met or results run out.
// A first-page failure fails the run; follow-up page failures only add a
// warning and stop pagination. Candidates repeating an earlier SKU or
// brand+name pair across pages are dropped.
func (e *Engine) collect(ctx context.Context, run *Run, store parser.Storefront, logger *slog.Logger) ([]types.RawListing, types.ExtractionMethod, []string, error) {
	e.mu.RLock()
	extractor := e.extractors(store)
	e.mu.RUnlock()

	var (
		collected []types.RawListing
		method    types.ExtractionMethod
		warnings  []string
	)
	seenSKU := make(map[string]bool)
	seenName := make(map[string]bool)

	// One slack page absorbs cross-page duplicates.
	maxPages := (run.Limit-1)/searchPageSize + 2

	for page := 1; page <= maxPages && len(collected) < run.Limit; page++ {
		if err := ctx.Err(); err != nil {
			return nil, "", warnings, err
		}

		resp, err := e.fetchPage(ctx, store, run.Query, page)
		if err != nil {
			if page == 1 {
				return nil, "", warnings, fmt.Errorf("search fetch failed: %w", err)
			}
			warnings = append(warnings, fmt.Sprintf("page %d fetch failed: %v", page, err))
			break
		}

		// Extract the whole page; duplicates are dropped before the limit
		// truncates the take, so repeats never displace fresh candidates.
		listings, m, warns, err := extractor.Extract(resp, searchPageSize)
		warnings = append(warnings, warns...)
		if err != nil {
			if page == 1 {
				return nil, "", warnings, fmt.Errorf("extraction failed: %w", err)
			}
			warnings = append(warnings, fmt.Sprintf("page %d extraction failed: %v", page, err))
			break
		}
		if len(listings) == 0 {
			break
		}
		if method == "" {
			method = m
		}

		added := 0
		for _, l := range listings {
			if l.SourceID != "" && seenSKU[l.SourceID] {
				continue
			}
			nameKey := strings.ToLower(l.Brand + ":" + l.Name)
			if seenName[nameKey] {
				continue
			}
			if l.SourceID != "" {
				seenSKU[l.SourceID] = true
			}
			seenName[nameKey] = true
			collected = append(collected, l)
			added++
		}
		logger.Debug("page collected",
			"page", page,
			"found", len(listings),
			"kept", added,
			"total", len(collected),
		)
		if added == 0 {
			// Page repeated earlier results; the site is out of fresh pages.
			break
		}
	}

	if len(collected) > run.Limit {
		collected = collected[:run.Limit]
	}
	return collected, method, warnings, nil
}

func (e *Engine) fetchPage(ctx context.Context, store parser.Storefront, query string, page int) (*types.Response, error) {
	e.mu.RLock()
	f := e.fetcher
	e.mu.RUnlock()
	return f.Fetch(ctx, store.SearchURL(), store.SearchParams(query, page))
}

// archiveSnapshot stores the raw extraction when an archive is configured.
// Archive failures never fail the run; the returned warning is non-empty
// when the write did not land.
func (e *Engine) archiveSnapshot(ctx context.Context, run *Run, method types.ExtractionMethod, raw []types.RawListing, logger *slog.Logger) string {
	e.mu.RLock()
	arch := e.archive
	e.mu.RUnlock()
	if arch == nil {
		return ""
	}

	snap := storage.RunSnapshot{
		RunID:     run.ID,
		Query:     run.Query,
		Domain:    run.Domain,
		Method:    string(method),
		FetchedAt: time.Now().UTC(),
		Listings:  raw,
	}
	if err := arch.SaveSnapshot(ctx, snap); err != nil {
		logger.Warn("snapshot archive failed", "error", err)
		return fmt.Sprintf("snapshot archive failed: %v", err)
	}
	return ""
}

// processAll imports candidates in chunks. Items within a chunk run
// concurrently; chunks run in order with a pacing delay between them.
func (e *Engine) processAll(ctx context.Context, run *Run, raw []types.RawListing, method types.ExtractionMethod, logger *slog.Logger) *types.ImportSummary {
	chunkSize := e.cfg.Import.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 10
	}

	outcomes := make([]types.ImportOutcome, len(raw))

	for start := 0; start < len(raw); start += chunkSize {
		if ctx.Err() != nil {
			for i := start; i < len(raw); i++ {
				outcomes[i] = types.ErrorOutcome(raw[i].SourceID, ctx.Err())
			}
			break
		}

		end := min(start+chunkSize, len(raw))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = e.processOne(ctx, raw[i], method)
			}(i)
		}
		wg.Wait()

		run.setProgress(chunkProgress(end, len(raw)))
		logger.Debug("chunk processed", "done", end, "total", len(raw))

		if end < len(raw) && e.cfg.Import.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.Import.ChunkDelay):
			}
		}
	}

	summary := &types.ImportSummary{}
	for _, o := range outcomes {
		summary.Add(o)
	}
	return summary
}

// processOne runs a single candidate through the pipeline and the importer.
// Panics are contained to an error outcome so one bad candidate never takes
// down the run.
func (e *Engine) processOne(ctx context.Context, raw types.RawListing, method types.ExtractionMethod) (out types.ImportOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.ItemErrors.Add(1)
			e.logger.Error("candidate processing panicked",
				"source_id", raw.SourceID,
				"panic", r,
			)
			out = types.ErrorOutcome(raw.SourceID, fmt.Errorf("panic: %v", r))
		}
	}()

	e.mu.RLock()
	proc, imp := e.processor, e.importer
	e.mu.RUnlock()

	enriched, err := proc.Run(ctx, raw, method)
	if err != nil {
		e.metrics.ItemErrors.Add(1)
		return types.ErrorOutcome(raw.SourceID, err)
	}
	if enriched == nil {
		e.metrics.ListingsDropped.Add(1)
		return types.ImportOutcome{
			Action:   types.ActionSkipped,
			SourceID: raw.SourceID,
			Warnings: []string{fmt.Sprintf("candidate %q dropped during processing", raw.Name)},
		}
	}

	return imp.Import(ctx, enriched)
}

func chunkProgress(done, total int) int32 {
	if total <= 0 {
		return progressProcessed
	}
	span := int(progressProcessed - progressCollected)
	return progressCollected + int32(span*done/total)
}
