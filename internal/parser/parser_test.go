package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testStore(t *testing.T) Storefront {
	t.Helper()
	store, err := StorefrontFor("kz")
	if err != nil {
		t.Fatalf("storefront: %v", err)
	}
	return store
}

func makeResp(url, body string) *types.Response {
	return &types.Response{
		URL:         url,
		StatusCode:  200,
		Body:        []byte(body),
		ContentType: "text/html",
	}
}

const embeddedHTML = `<!DOCTYPE html>
<html>
<head><title>Поиск: nike</title>
<script>
window.__CATALOG__ = {"payload":{"products":[
{"sku":"MP002XW1F8U9","name":"Кроссовки Air Max 90","brand":{"name":"Nike"},"price_amount":34990,"old_price_amount":39990,"url":"/p/mp002xw1f8u9/krossovki-nike/","thumbnail":"/M/P/MP002XW1F8U9_1.jpg","gallery":["//a.lmcdn.ru/M/P/MP002XW1F8U9_2.jpg"],"sizes":["40","41"]},
{"sku":"RE004AW5C3X1","name":"Футболка классическая","brand":"Reebok","price":"5 990","url":"https://www.lamoda.kz/p/re004aw5c3x1/futbolka/"},
{"name":"Без цены","brand":"Demix"}
]}};
</script>
</head>
<body><div>Каталог</div></body>
</html>`

const stateHTML = `<!DOCTYPE html>
<html>
<head>
<script>var analytics = {};</script>
<script>
window.__INITIAL_STATE__ = {"app":{"listing":{"items":[
{"sku":"LE306EMDFN01","name":"Джинсы прямые","brand":{"name":"Levi's"},"price_amount":24990,"url":"/p/le306emdfn01/dzhinsy/"}
]}},"user":null};
</script>
</head>
<body></body>
</html>`

const catalogHTML = `<!DOCTYPE html>
<html><body>
<script>
window.__NUXT__ = {"state":{"catalog":{"page":1,"items":[
{"sku":"NI002XW0ABCD","name":"Шорты беговые","brand":{"name":"Nike"},"price_amount":12990}
]}}};
</script>
</body></html>`

const domHTML = `<!DOCTYPE html>
<html>
<body>
<div class="grid">
<a href="/p/mp002xw1f8u9/krossovki-nike/"><img src="//a.lmcdn.ru/M/P/MP002XW1F8U9_1.jpg"><span class="product-card__brand-name">Nike</span><div class="product-card__product-name">Кроссовки Air Max 90</div><span class="price-current">34 990 ₸</span><span class="price-old">39 990 ₸</span></a>
<a href="/p/ad002xm4klmn/futbolka-adidas/"><img data-src="//a.lmcdn.ru/A/D/AD002XM4KLMN_1.jpg"><span class="product-card__brand-name">Adidas</span><div class="product-card__product-name">Футболка спортивная</div><span class="price-current">8 490 ₸</span></a>
<a href="/p/pu004aw1qrst/hudi-puma/"><span class="product-card__brand-name">Puma</span><div class="product-card__product-name">Худи оверсайз</div><span class="price-current">15 990 ₸</span></a>
<a href="/p/re004aw5c3x1/shorty-reebok/"><span class="product-card__brand-name">Reebok</span><div class="product-card__product-name">Шорты трикотажные</div>7 990 ₸</a>
<a href="/p/no000price00/bez-ceny/"><div class="product-card__product-name">Без цены</div></a>
</div>
</body>
</html>`

const textHTML = `<!DOCTYPE html>
<html>
<head><style>.x{color:red}</style><script>var price = "99 999 ₸";</script></head>
<body>
<div>34 990 ₸ Nike Кроссовки Air Max</div>
<div>12 490 ₸ Adidas Футболка спортивная</div>
</body>
</html>`

const textTailHTML = `<!DOCTYPE html>
<html><body>
<p>Puma Худи флисовое 11 490 ₸</p>
</body></html>`

// --- Storefront Tests ---

func TestStorefrontFor(t *testing.T) {
	tests := []struct {
		domain   string
		host     string
		currency string
	}{
		{"ru", "https://www.lamoda.ru", "₽"},
		{"kz", "https://www.lamoda.kz", "₸"},
		{"by", "https://www.lamoda.by", "р."},
		{"KZ", "https://www.lamoda.kz", "₸"},
	}

	for _, tt := range tests {
		store, err := StorefrontFor(tt.domain)
		if err != nil {
			t.Errorf("StorefrontFor(%q) error: %v", tt.domain, err)
			continue
		}
		if store.Host != tt.host {
			t.Errorf("StorefrontFor(%q) host = %q, want %q", tt.domain, store.Host, tt.host)
		}
		if store.Currency != tt.currency {
			t.Errorf("StorefrontFor(%q) currency = %q, want %q", tt.domain, store.Currency, tt.currency)
		}
	}

	if _, err := StorefrontFor("de"); err == nil {
		t.Error("expected error for unsupported domain")
	}
}

func TestSearchParams(t *testing.T) {
	store := testStore(t)

	params := store.SearchParams("nike", 1)
	if got := params.Get("q"); got != "nike" {
		t.Errorf("q = %q, want nike", got)
	}
	if got := params.Get("submit"); got != "y" {
		t.Errorf("submit = %q, want y", got)
	}
	if params.Has("p") {
		t.Error("page 1 must not set p")
	}

	params = store.SearchParams("adidas", 3)
	if got := params.Get("p"); got != "3" {
		t.Errorf("p = %q, want 3", got)
	}
}

func TestProductURL(t *testing.T) {
	store := testStore(t)

	got := store.ProductURL("MP002XW1F8U9", "krossovki-nike")
	want := "https://www.lamoda.kz/p/mp002xw1f8u9/krossovki-nike/"
	if got != want {
		t.Errorf("ProductURL = %q, want %q", got, want)
	}

	got = store.ProductURL("MP002XW1F8U9", "")
	want = "https://www.lamoda.kz/p/mp002xw1f8u9/"
	if got != want {
		t.Errorf("ProductURL without tail = %q, want %q", got, want)
	}
}

func TestResolveURL(t *testing.T) {
	store := testStore(t)

	tests := []struct {
		href string
		want string
	}{
		{"//a.lmcdn.ru/M/P/X.jpg", "https://a.lmcdn.ru/M/P/X.jpg"},
		{"/p/abc/", "https://www.lamoda.kz/p/abc/"},
		{"https://example.com/x", "https://example.com/x"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := store.ResolveURL(tt.href); got != tt.want {
			t.Errorf("ResolveURL(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

// --- Price Tests ---

func TestParsePrice(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"12 990 ₸", 12990, true},
		{"12 990", 12990, true},
		{"1 234 567 ₽", 1234567, true},
		{"5990 тг", 5990, true},
		{"0890 ₸", 890, true},
		{"50 ₸", 0, false},
		{"99999999", 0, false},
		{"абвгд", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParsePrice(tt.text, DefaultPriceBounds)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParsePrice(%q) = (%v, %v), want (%v, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPriceBoundsContains(t *testing.T) {
	b := PriceBounds{Min: 100, Max: 1000}
	if !b.Contains(100) || !b.Contains(1000) {
		t.Error("bounds must be inclusive")
	}
	if b.Contains(99) || b.Contains(1001) {
		t.Error("values outside bounds accepted")
	}
}

func TestPriceFromAny(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{34990.0, 34990},
		{"5 990", 5990},
		{"7990.50", 7990.5},
		{"", 0},
		{nil, 0},
		{[]any{}, 0},
	}

	for _, tt := range tests {
		if got := priceFromAny(tt.in); got != tt.want {
			t.Errorf("priceFromAny(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// --- Image Tests ---

func TestCanonicalImageURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"//a.lmcdn.ru/M/P/X_1.jpg", "https://a.lmcdn.ru/img600x866/M/P/X_1.jpg", true},
		{"/R/T/RTLAEF651001_1.jpg", "https://a.lmcdn.ru/img600x866/R/T/RTLAEF651001_1.jpg", true},
		{"https://a.lmcdn.ru/img600x866/R/T/X.jpg", "https://a.lmcdn.ru/img600x866/R/T/X.jpg", true},
		{"https://www.lamoda.kz/media/b.png", "https://www.lamoda.kz/media/b.png", true},
		{"https://cdn.example.com/x.jpg", "", false},
		{"https://a.lmcdn.ru/promo/video.mp4", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := CanonicalImageURL(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("CanonicalImageURL(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCanonicalImageURLIdempotent(t *testing.T) {
	first, ok := CanonicalImageURL("/M/P/X_1.jpg")
	if !ok {
		t.Fatal("first pass rejected")
	}
	second, ok := CanonicalImageURL(first)
	if !ok || second != first {
		t.Errorf("second pass = (%q, %v), want (%q, true)", second, ok, first)
	}
}

func TestImageWalkerCap(t *testing.T) {
	w := newImageWalker()
	for i := 0; i < maxListingImages+4; i++ {
		w.add(fmt.Sprintf("/M/P/IMG_%d.jpg", i))
	}
	if len(w.found) != maxListingImages {
		t.Errorf("found %d images, want %d", len(w.found), maxListingImages)
	}
}

func TestImageWalkerPriorityKeys(t *testing.T) {
	w := newImageWalker()
	w.walk(map[string]any{
		"zzz": "/M/P/LAST.jpg",
		"url": "/M/P/FIRST.jpg",
	}, 0)

	if len(w.found) != 2 {
		t.Fatalf("found %d images, want 2", len(w.found))
	}
	if !strings.Contains(w.found[0], "FIRST") {
		t.Errorf("priority key not walked first: %v", w.found)
	}
}

func TestCollectItemImagesThumbnailPrepend(t *testing.T) {
	// The walk fills the cap before the thumbnail field, so the prepend
	// displaces the last image instead of growing past the cap.
	var imgs []any
	for i := 0; i < maxListingImages; i++ {
		imgs = append(imgs, fmt.Sprintf("/M/P/G_%d.jpg", i))
	}
	item := map[string]any{
		"images":    imgs,
		"thumbnail": "/M/P/MAIN.jpg",
	}

	got := collectItemImages(item)
	if len(got) != maxListingImages {
		t.Fatalf("got %d images, want %d", len(got), maxListingImages)
	}
	if !strings.Contains(got[0], "MAIN") {
		t.Errorf("thumbnail not prepended: %v", got[0])
	}
}

func TestCollectItemImagesThumbnailAlreadySeen(t *testing.T) {
	// A thumbnail collected during the field walk keeps its walk position.
	item := map[string]any{
		"images":    []any{"/M/P/A_1.jpg", "/M/P/T_1.jpg"},
		"thumbnail": "/M/P/T_1.jpg",
	}

	got := collectItemImages(item)
	if len(got) != 2 {
		t.Fatalf("got %d images, want 2", len(got))
	}
	if !strings.Contains(got[0], "A_1") {
		t.Errorf("walk order not preserved: %v", got)
	}
}

// --- Embedded Strategy Tests ---

func TestEmbeddedStrategyProductsArray(t *testing.T) {
	s := NewEmbeddedStrategy(testStore(t), testLogger)
	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", embeddedHTML)

	listings, warnings, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}
	if len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1 (priceless candidate)", len(warnings))
	}

	first := listings[0]
	if first.SourceID != "MP002XW1F8U9" {
		t.Errorf("SourceID = %q", first.SourceID)
	}
	if first.Name != "Кроссовки Air Max 90" {
		t.Errorf("Name = %q", first.Name)
	}
	if first.Brand != "Nike" {
		t.Errorf("Brand = %q", first.Brand)
	}
	if first.Price != 34990 || first.OldPrice != 39990 {
		t.Errorf("Price = %v, OldPrice = %v", first.Price, first.OldPrice)
	}
	if first.SourceURL != "https://www.lamoda.kz/p/mp002xw1f8u9/krossovki-nike/" {
		t.Errorf("SourceURL = %q", first.SourceURL)
	}
	if len(first.ImageURLs) != 2 {
		t.Fatalf("ImageURLs = %v", first.ImageURLs)
	}
	if first.ImageURLs[0] != "https://a.lmcdn.ru/img600x866/M/P/MP002XW1F8U9_1.jpg" {
		t.Errorf("primary image = %q", first.ImageURLs[0])
	}
	if len(first.Sizes) != 2 || first.Sizes[0] != "40" {
		t.Errorf("Sizes = %v", first.Sizes)
	}

	second := listings[1]
	if second.Brand != "Reebok" {
		t.Errorf("string brand = %q", second.Brand)
	}
	if second.Price != 5990 {
		t.Errorf("string price = %v", second.Price)
	}
}

func TestEmbeddedStrategyStateObject(t *testing.T) {
	s := NewEmbeddedStrategy(testStore(t), testLogger)
	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=levis", stateHTML)

	listings, _, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].SourceID != "LE306EMDFN01" {
		t.Errorf("SourceID = %q", listings[0].SourceID)
	}
	if listings[0].Brand != "Levi's" {
		t.Errorf("Brand = %q", listings[0].Brand)
	}
	if listings[0].Price != 24990 {
		t.Errorf("Price = %v", listings[0].Price)
	}
}

func TestEmbeddedStrategyCatalogItems(t *testing.T) {
	s := NewEmbeddedStrategy(testStore(t), testLogger)
	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", catalogHTML)

	listings, _, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].SourceID != "NI002XW0ABCD" {
		t.Errorf("SourceID = %q", listings[0].SourceID)
	}
	// No url field in the payload, so the product URL is synthesized.
	want := "https://www.lamoda.kz/p/ni002xw0abcd/"
	if listings[0].SourceURL != want {
		t.Errorf("SourceURL = %q, want %q", listings[0].SourceURL, want)
	}
}

func TestEmbeddedStrategyLimit(t *testing.T) {
	s := NewEmbeddedStrategy(testStore(t), testLogger)
	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", embeddedHTML)

	listings, _, err := s.Extract(resp, 1)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 1 {
		t.Errorf("got %d listings, want 1", len(listings))
	}
}

func TestEmbeddedStrategyNoPayload(t *testing.T) {
	s := NewEmbeddedStrategy(testStore(t), testLogger)
	resp := makeResp("https://www.lamoda.kz/", `<html><body><p>пусто</p></body></html>`)

	listings, _, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 0 {
		t.Errorf("got %d listings, want 0", len(listings))
	}
}

func TestBalancedSliceAfter(t *testing.T) {
	tests := []struct {
		content string
		from    int
		want    byte
		out     string
	}{
		{`: [1, [2, 3], {"a": "]"}] tail`, 0, '[', `[1, [2, 3], {"a": "]"}]`},
		{`= {"a": {"b": 1}};`, 0, 0, `{"a": {"b": 1}}`},
		{`= {"s": "brace } in string"};`, 0, 0, `{"s": "brace } in string"}`},
		{`no json here`, 0, '[', ""},
		{`{"unterminated": 1`, 0, 0, ""},
	}

	for _, tt := range tests {
		if got := balancedSliceAfter(tt.content, tt.from, tt.want); got != tt.out {
			t.Errorf("balancedSliceAfter(%q) = %q, want %q", tt.content, got, tt.out)
		}
	}
}

// --- DOM Strategy Tests ---

func TestDOMStrategyCards(t *testing.T) {
	s := NewDOMStrategy(testStore(t), DefaultPriceBounds, testLogger)
	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", domHTML)

	listings, warnings, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 4 {
		t.Fatalf("got %d listings, want 4", len(listings))
	}
	if len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1 (priceless card)", len(warnings))
	}

	first := listings[0]
	if first.SourceID != "MP002XW1F8U9" {
		t.Errorf("SourceID = %q", first.SourceID)
	}
	if first.Name != "Кроссовки Air Max 90" {
		t.Errorf("Name = %q", first.Name)
	}
	if first.Brand != "Nike" {
		t.Errorf("Brand = %q", first.Brand)
	}
	if first.Price != 34990 || first.OldPrice != 39990 {
		t.Errorf("Price = %v, OldPrice = %v", first.Price, first.OldPrice)
	}
	if first.SourceURL != "https://www.lamoda.kz/p/mp002xw1f8u9/krossovki-nike/" {
		t.Errorf("SourceURL = %q", first.SourceURL)
	}
	if len(first.ImageURLs) != 1 || first.ImageURLs[0] != "https://a.lmcdn.ru/img600x866/M/P/MP002XW1F8U9_1.jpg" {
		t.Errorf("ImageURLs = %v", first.ImageURLs)
	}

	// Lazy-loaded image behind data-src.
	if len(listings[1].ImageURLs) != 1 {
		t.Errorf("data-src image not picked up: %v", listings[1].ImageURLs)
	}

	// No price markup on the last card, so the text fallback supplies it.
	last := listings[3]
	if last.Price != 7990 {
		t.Errorf("text fallback price = %v, want 7990", last.Price)
	}
	if last.OldPrice != 0 {
		t.Errorf("OldPrice = %v, want 0", last.OldPrice)
	}
}

func TestDOMStrategyNoCards(t *testing.T) {
	s := NewDOMStrategy(testStore(t), DefaultPriceBounds, testLogger)
	resp := makeResp("https://www.lamoda.kz/", `<html><body><p>пусто</p></body></html>`)

	listings, _, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 0 {
		t.Errorf("got %d listings, want 0", len(listings))
	}
}

func TestFindCardsXPath(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "<article>товар %d</article>", i)
	}
	b.WriteString("</body></html>")

	cards, expr, err := findCardsXPath([]byte(b.String()))
	if err != nil {
		t.Fatalf("xpath error: %v", err)
	}
	if len(cards) != 5 {
		t.Fatalf("got %d cards, want 5", len(cards))
	}
	if !strings.Contains(expr, "article") {
		t.Errorf("matched expression = %q", expr)
	}
}

func TestSkuFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.lamoda.kz/p/mp002xw1f8u9/krossovki-nike/", "MP002XW1F8U9"},
		{"https://www.lamoda.kz/p/re004aw5c3x1/?from=search", "RE004AW5C3X1"},
		{"https://www.lamoda.kz/catalog/rtlaef651001/", "RTLAEF651001"},
		{"https://www.lamoda.kz/brands/nike/", ""},
		{"https://www.lamoda.kz/p/ab/short/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := skuFromURL(tt.url); got != tt.want {
			t.Errorf("skuFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

// --- Text Strategy Tests ---

func TestTextStrategyPriceFirst(t *testing.T) {
	s := NewTextStrategy(testStore(t), DefaultPriceBounds, testLogger)
	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", textHTML)

	listings, _, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}

	first := listings[0]
	if first.SourceID != "TXTKZ0001" {
		t.Errorf("SourceID = %q", first.SourceID)
	}
	if first.Brand != "Nike" {
		t.Errorf("Brand = %q", first.Brand)
	}
	if first.Name != "Кроссовки Air Max" {
		t.Errorf("Name = %q", first.Name)
	}
	if first.Price != 34990 {
		t.Errorf("Price = %v", first.Price)
	}

	if listings[1].Price != 12490 {
		t.Errorf("second price = %v", listings[1].Price)
	}
}

func TestTextStrategyPriceLast(t *testing.T) {
	s := NewTextStrategy(testStore(t), DefaultPriceBounds, testLogger)
	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=puma", textTailHTML)

	listings, _, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	if listings[0].Brand != "Puma" || listings[0].Name != "Худи флисовое" {
		t.Errorf("listing = %+v", listings[0])
	}
	if listings[0].Price != 11490 {
		t.Errorf("price = %v", listings[0].Price)
	}
	if listings[0].SourceID != "TXTKZ0001" {
		t.Errorf("SourceID = %q", listings[0].SourceID)
	}
}

func TestTextStrategySkipsScripts(t *testing.T) {
	s := NewTextStrategy(testStore(t), DefaultPriceBounds, testLogger)
	resp := makeResp("https://www.lamoda.kz/", textHTML)

	listings, _, err := s.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	// The script block carries a 99 999 price that must not be matched.
	for _, l := range listings {
		if l.Price == 99999 {
			t.Fatal("price from script block leaked into extraction")
		}
	}
}

func TestVisibleText(t *testing.T) {
	text, err := visibleText([]byte(textHTML))
	if err != nil {
		t.Fatalf("visibleText: %v", err)
	}
	if strings.Contains(text, "99 999") {
		t.Error("script content present in visible text")
	}
	if strings.Contains(text, "color:red") {
		t.Error("style content present in visible text")
	}
	if !strings.Contains(text, "Кроссовки Air Max") {
		t.Error("body text missing")
	}
}

// --- Chain Tests ---

func TestChainDefaultOrder(t *testing.T) {
	c := NewChain(testStore(t), DefaultPriceBounds, observability.NewMetrics(testLogger), testLogger)

	want := []string{"embedded", "dom", "text"}
	got := c.Strategies()
	if len(got) != len(want) {
		t.Fatalf("got %d strategies, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.Name() != want[i] {
			t.Errorf("strategy[%d] = %q, want %q", i, s.Name(), want[i])
		}
	}
}

func TestChainShortCircuit(t *testing.T) {
	metrics := observability.NewMetrics(testLogger)
	c := NewChain(testStore(t), DefaultPriceBounds, metrics, testLogger)

	tests := []struct {
		name   string
		body   string
		method types.ExtractionMethod
		count  int
	}{
		{"embedded wins", embeddedHTML, types.MethodStructured, 2},
		{"dom wins", domHTML, types.MethodDOM, 4},
		{"text wins", textHTML, types.MethodText, 2},
	}

	for _, tt := range tests {
		resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", tt.body)
		listings, method, _, err := c.Extract(resp, 0)
		if err != nil {
			t.Fatalf("%s: extract error: %v", tt.name, err)
		}
		if method != tt.method {
			t.Errorf("%s: method = %q, want %q", tt.name, method, tt.method)
		}
		if len(listings) != tt.count {
			t.Errorf("%s: got %d listings, want %d", tt.name, len(listings), tt.count)
		}
	}
}

func TestChainNoMatch(t *testing.T) {
	c := NewChain(testStore(t), DefaultPriceBounds, observability.NewMetrics(testLogger), testLogger)
	resp := makeResp("https://www.lamoda.kz/", `<html><body><p>пусто</p></body></html>`)

	listings, method, _, err := c.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 0 || method != "" {
		t.Errorf("got %d listings, method %q; want none", len(listings), method)
	}
}

type stubStrategy struct {
	name     string
	method   types.ExtractionMethod
	listings []types.RawListing
	err      error
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Method() types.ExtractionMethod { return s.method }

func (s *stubStrategy) Extract(_ *types.Response, _ int) ([]types.RawListing, []string, error) {
	return s.listings, nil, s.err
}

func TestChainStrategyFailureFallsThrough(t *testing.T) {
	broken := &stubStrategy{name: "broken", method: types.MethodStructured, err: errors.New("boom")}
	working := &stubStrategy{
		name:     "working",
		method:   types.MethodText,
		listings: []types.RawListing{{SourceID: "X1", Name: "Товар", Price: 1000}},
	}

	c := NewChainWith(observability.NewMetrics(testLogger), testLogger, broken, working)
	resp := makeResp("https://www.lamoda.kz/", "<html></html>")

	listings, method, warnings, err := c.Extract(resp, 0)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(listings) != 1 || method != types.MethodText {
		t.Fatalf("got %d listings, method %q", len(listings), method)
	}

	found := false
	for _, w := range warnings {
		if strings.Contains(w, "broken") {
			found = true
		}
	}
	if !found {
		t.Errorf("failure warning missing: %v", warnings)
	}
}

func TestChainMetrics(t *testing.T) {
	metrics := observability.NewMetrics(testLogger)
	c := NewChain(testStore(t), DefaultPriceBounds, metrics, testLogger)

	resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", embeddedHTML)
	if _, _, _, err := c.Extract(resp, 0); err != nil {
		t.Fatalf("extract error: %v", err)
	}

	if got := metrics.PagesParsed.Load(); got != 1 {
		t.Errorf("PagesParsed = %d, want 1", got)
	}
	if got := metrics.ListingsExtracted.Load(); got != 2 {
		t.Errorf("ListingsExtracted = %d, want 2", got)
	}
}

// --- Dedup Tests ---

func TestDedupeListings(t *testing.T) {
	in := []types.RawListing{
		{SourceID: "A1", Brand: "Nike", Name: "Кроссовки"},
		{SourceID: "A1", Brand: "Nike", Name: "Другое"},
		{SourceID: "B2", Brand: "nike", Name: "кроссовки"},
		{SourceID: "C3", Brand: "Puma", Name: "Худи"},
	}

	kept, dropped := dedupeListings(in, 0)
	if len(kept) != 2 || dropped != 2 {
		t.Fatalf("kept %d dropped %d, want 2/2", len(kept), dropped)
	}
	if kept[0].SourceID != "A1" || kept[1].SourceID != "C3" {
		t.Errorf("order not preserved: %+v", kept)
	}
}

func TestDedupeListingsLimit(t *testing.T) {
	in := []types.RawListing{
		{SourceID: "A1", Brand: "Nike", Name: "Первый"},
		{SourceID: "B2", Brand: "Puma", Name: "Второй"},
		{SourceID: "C3", Brand: "Asics", Name: "Третий"},
	}

	kept, dropped := dedupeListings(in, 2)
	if len(kept) != 2 || dropped != 1 {
		t.Errorf("kept %d dropped %d, want 2/1", len(kept), dropped)
	}
}

// --- Benchmarks ---

func BenchmarkChainExtractEmbedded(b *testing.B) {
	store, _ := StorefrontFor("kz")
	c := NewChain(store, DefaultPriceBounds, observability.NewMetrics(testLogger), testLogger)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", embeddedHTML)
		if _, _, _, err := c.Extract(resp, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDOMStrategy(b *testing.B) {
	store, _ := StorefrontFor("kz")
	s := NewDOMStrategy(store, DefaultPriceBounds, testLogger)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp := makeResp("https://www.lamoda.kz/catalogsearch/result/?q=nike", domHTML)
		if _, _, err := s.Extract(resp, 0); err != nil {
			b.Fatal(err)
		}
	}
}
