// Package integration exercises the full import path against a local
// storefront fixture: real HTTP fetch, the extraction chain, the
// processing pipeline, catalog upsert and the REST API.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akoreshkov/modaflow/internal/api"
	"github.com/akoreshkov/modaflow/internal/catalog"
	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/engine"
	"github.com/akoreshkov/modaflow/internal/fetcher"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/pipeline"
	"github.com/akoreshkov/modaflow/internal/storage"
	"github.com/akoreshkov/modaflow/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// searchFixture is a storefront search page with an embedded catalog
// payload of four products.
const searchFixture = `<!DOCTYPE html>
<html>
<head><title>Поиск</title>
<script>
window.__CATALOG__ = {"payload":{"products":[
{"sku":"NI002XW0KZT1","name":"Кроссовки Air Zoom Pegasus","brand":{"name":"Nike"},"price_amount":42990,"old_price_amount":49990,"url":"/p/ni002xw0kzt1/krossovki-nike/","thumbnail":"/N/I/NI002XW0KZT1_1.jpg","gallery":["//a.lmcdn.ru/N/I/NI002XW0KZT1_2.jpg"],"sizes":["40","41","42"]},
{"sku":"AD002XM4QWE2","name":"Футболка спортивная","brand":{"name":"Adidas"},"price_amount":8490,"url":"/p/ad002xm4qwe2/futbolka-adidas/","sizes":["M","L"]},
{"sku":"PU004AW1RTY3","name":"Худи оверсайз","brand":"Puma","price":"15 990","url":"/p/pu004aw1rty3/hudi-puma/"},
{"sku":"RE004AW5UIO4","name":"Шорты трикотажные","brand":"Reebok","price_amount":7990,"url":"/p/re004aw5uio4/shorty-reebok/"}
]}};
</script>
</head>
<body><div>Каталог</div></body>
</html>`

// rewriteFetcher sends storefront URLs to the local fixture server while
// keeping the real HTTP client stack in the loop.
type rewriteFetcher struct {
	inner engine.Fetcher
	base  *url.URL
}

func (r rewriteFetcher) Fetch(ctx context.Context, rawURL string, params url.Values) (*types.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = r.base.Scheme
	u.Host = r.base.Host
	return r.inner.Fetch(ctx, u.String(), params)
}

type harness struct {
	cfg     *config.Config
	metrics *observability.Metrics
	store   *storage.MemoryStore
	eng     *engine.Engine
	pages   *atomic.Int64
}

// newHarness assembles a complete import stack over a fixture storefront
// and an in-memory catalog.
func newHarness(t *testing.T) *harness {
	t.Helper()

	var pages atomic.Int64
	fixture := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, searchFixture)
	}))
	t.Cleanup(fixture.Close)

	cfg := config.DefaultConfig()
	cfg.Import.ChunkDelay = 0
	cfg.Fetcher.MinDelay = 0
	cfg.Fetcher.MaxDelay = 0
	cfg.Fetcher.RatePerSecond = 100
	cfg.Fetcher.RateBurst = 100

	metrics := observability.NewMetrics(testLogger)
	store := storage.NewMemoryStore()

	eng := engine.New(cfg, metrics, testLogger)
	t.Cleanup(eng.Close)

	hf, err := fetcher.NewHTTPFetcher(&cfg.Fetcher, metrics, testLogger)
	if err != nil {
		t.Fatalf("create fetcher: %v", err)
	}
	t.Cleanup(func() { hf.Close() })

	base, err := url.Parse(fixture.URL)
	if err != nil {
		t.Fatalf("parse fixture url: %v", err)
	}
	eng.SetFetcher(rewriteFetcher{inner: hf, base: base})
	eng.SetProcessor(pipeline.Default(cfg, nil, metrics, testLogger))
	eng.SetImporter(catalog.NewImporter(store, metrics, testLogger))

	return &harness{cfg: cfg, metrics: metrics, store: store, eng: eng, pages: &pages}
}

func TestImportEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.eng.Execute(ctx, engine.ImportRequest{Query: "кроссовки nike", Limit: 3})
	if err != nil {
		t.Fatalf("import run: %v", err)
	}
	if st.State != types.RunCompleted {
		t.Fatalf("state = %s, want completed", st.State)
	}
	if st.Progress != 100 {
		t.Errorf("progress = %d, want 100", st.Progress)
	}

	s := st.Summary
	if s == nil {
		t.Fatal("summary missing")
	}
	if s.Created != 3 || s.Updated != 0 || s.Skipped != 0 || s.Errors != 0 {
		t.Fatalf("summary = %+v, want 3 created", *s)
	}
	if h.pages.Load() < 1 {
		t.Error("fixture server was never hit")
	}

	// The first fixture product lands fully materialized.
	item, err := h.store.FindByArticle(ctx, "NI002XW0KZT1")
	if err != nil {
		t.Fatalf("find by article: %v", err)
	}
	if item == nil {
		t.Fatal("Nike item not found by article")
	}
	if item.Name != "Кроссовки Air Zoom Pegasus" {
		t.Errorf("name = %q", item.Name)
	}
	if item.Brand != "Nike" {
		t.Errorf("brand = %q, want Nike", item.Brand)
	}
	if item.Price == nil || *item.Price != 42990 {
		t.Errorf("price = %v, want 42990", item.Price)
	}
	if item.Category != types.CategoryFootwear {
		t.Errorf("category = %s, want footwear", item.Category)
	}
	if item.Description == "" {
		t.Error("template enrichment left description empty")
	}
	wantImage := "https://a.lmcdn.ru/img600x866/N/I/NI002XW0KZT1_1.jpg"
	if item.ImageURL != wantImage {
		t.Errorf("image = %q, want %q", item.ImageURL, wantImage)
	}

	images, err := h.store.ImagesByItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("images: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("got %d images, want 2", len(images))
	}
	for i, img := range images {
		if img.Position != i {
			t.Errorf("image %d has position %d", i, img.Position)
		}
	}

	// One base variant carrying the first size, plus one per extra size.
	variants, err := h.store.VariantsByItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if len(variants) != 3 {
		t.Fatalf("got %d variants, want 3", len(variants))
	}
	bySKU := make(map[string]types.ItemVariant, len(variants))
	for _, v := range variants {
		bySKU[v.SKU] = v
	}
	if v, ok := bySKU["NI002XW0KZT1"]; !ok || v.Stock != 10 {
		t.Errorf("base variant = %+v", v)
	}
	if v, ok := bySKU["NI002XW0KZT1_41"]; !ok || v.Size != "41" || v.Stock != 5 {
		t.Errorf("size variant = %+v", v)
	}

	// Price arrives from a spaced string for the third product.
	hoodie, err := h.store.FindByArticle(ctx, "PU004AW1RTY3")
	if err != nil || hoodie == nil {
		t.Fatalf("Puma item missing: %v", err)
	}
	if hoodie.Price == nil || *hoodie.Price != 15990 {
		t.Errorf("hoodie price = %v, want 15990", hoodie.Price)
	}

	stats, err := h.store.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalItems != 3 {
		t.Errorf("total items = %d, want 3", stats.TotalItems)
	}
}

func TestReimportIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.eng.Execute(ctx, engine.ImportRequest{Query: "худи", Limit: 3})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Summary.Created != 3 {
		t.Fatalf("first run created %d, want 3", first.Summary.Created)
	}

	second, err := h.eng.Execute(ctx, engine.ImportRequest{Query: "худи", Limit: 3})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	s := second.Summary
	if s.Created != 0 || s.Updated != 0 || s.Skipped != 3 {
		t.Fatalf("second run summary = %+v, want 3 skipped", *s)
	}

	stats, err := h.store.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalItems != 3 {
		t.Errorf("re-import grew the catalog to %d items", stats.TotalItems)
	}
}

type runStatusDoc struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Summary  *struct {
		Created int `json:"created"`
		Updated int `json:"updated"`
		Skipped int `json:"skipped"`
		Errors  int `json:"errors"`
	} `json:"summary"`
	Error string `json:"error"`
}

func getJSON(t *testing.T, rawURL string, out any) {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", rawURL, err)
	}
}

func TestAPIFlow(t *testing.T) {
	h := newHarness(t)

	handler := api.NewHandler(h.eng, h.store, h.metrics, testLogger)
	srv := api.NewServer(h.cfg.Server, handler, h.metrics, testLogger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	var health struct {
		Status string `json:"status"`
	}
	getJSON(t, ts.URL+"/health", &health)
	if health.Status != "ok" {
		t.Fatalf("health = %q", health.Status)
	}

	// Launch a background run through the API.
	body := strings.NewReader(`{"query":"кроссовки nike","limit":3}`)
	resp, err := http.Post(ts.URL+"/api/v1/imports", "application/json", body)
	if err != nil {
		t.Fatalf("POST imports: %v", err)
	}
	var created struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST imports: status %d", resp.StatusCode)
	}
	if created.RunID == "" {
		t.Fatal("run_id missing")
	}

	// Poll until the run settles.
	var doc runStatusDoc
	deadline := time.Now().Add(5 * time.Second)
	for {
		getJSON(t, ts.URL+"/api/v1/imports/"+created.RunID, &doc)
		if doc.State == "completed" || doc.State == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run stuck in state %s at %d%%", doc.State, doc.Progress)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if doc.State != "completed" {
		t.Fatalf("run failed: %s", doc.Error)
	}
	if doc.Progress != 100 {
		t.Errorf("progress = %d, want 100", doc.Progress)
	}
	if doc.Summary == nil || doc.Summary.Created != 3 {
		t.Fatalf("summary = %+v, want 3 created", doc.Summary)
	}

	var list struct {
		Runs  []runStatusDoc `json:"runs"`
		Total int            `json:"total"`
	}
	getJSON(t, ts.URL+"/api/v1/imports", &list)
	if list.Total != 1 || len(list.Runs) != 1 {
		t.Fatalf("list = %d runs (total %d), want 1", len(list.Runs), list.Total)
	}
	if list.Runs[0].ID != created.RunID {
		t.Errorf("listed run id = %s, want %s", list.Runs[0].ID, created.RunID)
	}

	var stats struct {
		Catalog struct {
			TotalItems int64 `json:"total_items"`
		} `json:"catalog"`
		Metrics map[string]int64 `json:"metrics"`
	}
	getJSON(t, ts.URL+"/api/v1/stats", &stats)
	if stats.Catalog.TotalItems != 3 {
		t.Errorf("catalog total = %d, want 3", stats.Catalog.TotalItems)
	}
	if stats.Metrics["runs_completed"] != 1 {
		t.Errorf("runs_completed = %d, want 1", stats.Metrics["runs_completed"])
	}
}
