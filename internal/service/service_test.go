package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/M-sasank/finsight/internal/cache"
	"github.com/M-sasank/finsight/internal/completion"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/refresh"
	"github.com/M-sasank/finsight/internal/storage"
)

const (
	acmeDetail = "<think>looking up ACME</think>\n```json\n" +
		`{"price":10.5,"movement":1.2,"reason":"Strong earnings","sector":"Industrials","news":"New plant","price_history":[10,10,10,10,10,10.5]}` +
		"\n```"
	acmeRisk = `<think>x</think>{"asset_symbol":"ACME","asset_name":"Acme Corp","risk_level":"Moderate",
"factors":{"volatility_score":0.4,"sector_trend_score":0.6,"dip_count_last_month":2,"sentiment_class":"Neutral"},
"risk_breakdown":{"volatility":"v","sector":"s","sentiment":"n"},"confidence":0.7,"recommendation":"Hold."}`
	newsFeed = `<think>x</think>{"news_items":[{"title":"Rates hold","summary":"Central bank holds rates."}],"last_updated":"2025-06-10"}`
	recPick  = `<think>x</think>{"stock_name":"Bolt Motors","ticker_symbol":"BOLT","current_price":42.129,"risk_label":"Moderate"}`
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeCompleter records requests and answers by requested schema.
type fakeCompleter struct {
	mu      sync.Mutex
	calls   []completion.Request
	respond func(req completion.Request) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, req completion.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(req)
	}
	return defaultResponse(req)
}

func (f *fakeCompleter) setRespond(fn func(req completion.Request) (string, error)) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

// callsFor counts requests whose schema has the same type as schema.
func (f *fakeCompleter) callsFor(schema any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if reflect.TypeOf(c.Schema) == reflect.TypeOf(schema) {
			n++
		}
	}
	return n
}

func (f *fakeCompleter) last() completion.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func defaultResponse(req completion.Request) (string, error) {
	switch req.Schema.(type) {
	case extract.AssetDetail:
		return acmeDetail, nil
	case extract.RiskAnalysis:
		return acmeRisk, nil
	case extract.NewsFeed:
		return newsFeed, nil
	case extract.StockRecommendation:
		return recPick, nil
	case nil:
		return "<think>consider basics</think>\nDiversify across sectors.", nil
	default:
		return "", fmt.Errorf("unexpected schema %T", req.Schema)
	}
}

func failWith(status int) func(completion.Request) (string, error) {
	return func(req completion.Request) (string, error) {
		return "", &completion.CompletionError{Model: req.Model, Status: status, Err: errors.New("upstream down")}
	}
}

type testEnv struct {
	store     *storage.Store
	completer *fakeCompleter
	clock     *testClock
	deps      Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &testClock{t: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
	store.SetClock(clock.Now)

	tpl, err := prompt.Default()
	if err != nil {
		t.Fatalf("loading prompts: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := &fakeCompleter{}
	return &testEnv{
		store:     store,
		completer: fc,
		clock:     clock,
		deps: Deps{
			Store:     store,
			Completer: fc,
			Prompts:   prompt.NewAssembler(tpl, store),
			Extractor: extract.New(logger),
			Models:    Models{Fast: "sonar-pro", Deep: "sonar-deep-research", SearchDomains: []string{"bloomberg.com"}},
			Logger:    logger,
			Now:       clock.Now,
		},
	}
}

func TestAssetCreate_StoresFetchedDetail(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)

	res, err := svc.Create(context.Background(), "u1", "acme", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Source != refresh.SourceFresh {
		t.Errorf("Source = %s, want fresh", res.Source)
	}

	stored, err := env.store.GetAssetBySymbol(context.Background(), "u1", "ACME")
	if err != nil {
		t.Fatalf("GetAssetBySymbol: %v", err)
	}
	if stored.ID != res.Value.ID {
		t.Errorf("returned id %q, stored id %q", res.Value.ID, stored.ID)
	}
	if stored.Name != "Acme Corp" || stored.Price != 10.5 || stored.Movement != 1.2 {
		t.Errorf("stored = %+v", stored)
	}
	if len(stored.PriceHistory) != storage.HistoryLen || stored.PriceHistory[5] != 10.5 {
		t.Errorf("PriceHistory = %v", stored.PriceHistory)
	}
	if req := env.completer.last(); !reflect.DeepEqual(req.SearchDomains, []string{"bloomberg.com"}) {
		t.Errorf("asset detail should use the domain allow-list, got %v", req.SearchDomains)
	}
}

func TestAssetCreate_SecondCreateWithinTTLIsCached(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	ctx := context.Background()

	first, err := svc.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.clock.Advance(23 * time.Hour)

	second, err := svc.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.Source != refresh.SourceCache {
		t.Errorf("Source = %s, want cache", second.Source)
	}
	if second.Value.ID != first.Value.ID || second.Value.Price != first.Value.Price {
		t.Errorf("second create returned %+v, want existing row %+v", second.Value, first.Value)
	}
	if n := env.completer.callsFor(extract.AssetDetail{}); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestAssetCreate_FailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	env.completer.setRespond(failWith(503))
	svc := NewAssetService(env.deps, 24*time.Hour)

	_, err := svc.Create(context.Background(), "u1", "ACME", "Acme Corp")
	var ce *completion.CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if _, err := env.store.GetAssetBySymbol(context.Background(), "u1", "ACME"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed create left a row behind: %v", err)
	}
}

func TestAssetCreate_ExtractionFailureSurfaces(t *testing.T) {
	env := newTestEnv(t)
	env.completer.setRespond(func(completion.Request) (string, error) {
		return "</think>not json at all", nil
	})
	svc := NewAssetService(env.deps, 24*time.Hour)

	_, err := svc.Create(context.Background(), "u1", "ACME", "")
	if !extract.IsParse(err) {
		t.Errorf("expected parse failure, got %v", err)
	}
}

func TestAssetCreate_EmptySymbol(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	if _, err := svc.Create(context.Background(), "u1", "  ", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAssetCreate_HistoryPadding(t *testing.T) {
	tests := []struct {
		name    string
		history string
	}{
		{"too short", `"price_history":[1,2],`},
		{"too long", `"price_history":[1,2,3,4,5,6,7],`},
		{"wrong type", `"price_history":"rising",`},
		{"null", `"price_history":null,`},
		{"missing", ``},
		{"mixed elements", `"price_history":[1,2,"x",4,5,6],`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.completer.setRespond(func(completion.Request) (string, error) {
				return `</think>{` + tt.history + `"price":12.345,"movement":-0.5,"reason":"r","sector":"Tech","news":"n"}`, nil
			})
			svc := NewAssetService(env.deps, 24*time.Hour)

			res, err := svc.Create(context.Background(), "u1", "ACME", "Acme Corp")
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			want := []float64{12.35, 12.35, 12.35, 12.35, 12.35, 12.35}
			if !reflect.DeepEqual(res.Value.PriceHistory, want) {
				t.Errorf("PriceHistory = %v, want %v", res.Value.PriceHistory, want)
			}
		})
	}
}

func TestAssetCreate_NameFallsBackToModelThenSymbol(t *testing.T) {
	env := newTestEnv(t)
	env.completer.setRespond(func(completion.Request) (string, error) {
		return `</think>{"name":"Bolt Motors Inc","price":42,"movement":0,"reason":"r","sector":"Auto","news":"n","price_history":[1,2,3,4,5,6]}`, nil
	})
	svc := NewAssetService(env.deps, 24*time.Hour)

	res, err := svc.Create(context.Background(), "u1", "bolt", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Value.Name != "Bolt Motors Inc" {
		t.Errorf("Name = %q", res.Value.Name)
	}
}

func TestAssetList_RefreshesStaleRows(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := svc.List(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
	if n := env.completer.callsFor(extract.AssetDetail{}); n != 1 {
		t.Errorf("fresh list triggered a refresh: calls = %d", n)
	}

	env.clock.Advance(25 * time.Hour)
	env.completer.setRespond(func(completion.Request) (string, error) {
		return `</think>{"price":11,"movement":4.76,"reason":"r","sector":"Industrials","news":"n","price_history":[10,10,10,10,10.5,11]}`, nil
	})
	list, err = svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list[0].Price != 11 || list[0].ID != created.Value.ID || list[0].Name != "Acme Corp" {
		t.Errorf("refreshed row = %+v", list[0])
	}
	if !list[0].CreatedAt.Equal(created.Value.CreatedAt) {
		t.Errorf("refresh changed CreatedAt: %v -> %v", created.Value.CreatedAt, list[0].CreatedAt)
	}
}

func TestAssetList_FailedRefreshServesStoredRow(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	ctx := context.Background()

	for _, sym := range []string{"ACME", "BOLT", "CRUX"} {
		if _, err := svc.Create(ctx, "u1", sym, ""); err != nil {
			t.Fatalf("Create %s: %v", sym, err)
		}
	}
	env.clock.Advance(48 * time.Hour)
	env.completer.setRespond(failWith(500))

	list, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List must not fail on refresh errors: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for _, a := range list {
		if a.Price != 10.5 {
			t.Errorf("%s: price = %v, want stored 10.5", a.Symbol, a.Price)
		}
	}
}

func TestAssetRefresh(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := svc.Refresh(ctx, "u1", created.Value.ID, false)
	if err != nil || res.Source != refresh.SourceCache {
		t.Errorf("unforced refresh of fresh row = %v, %v; want cache", res.Source, err)
	}

	res, err = svc.Refresh(ctx, "u1", created.Value.ID, true)
	if err != nil || res.Source != refresh.SourceFresh {
		t.Errorf("forced refresh = %v, %v; want fresh", res.Source, err)
	}
	if n := env.completer.callsFor(extract.AssetDetail{}); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}

	if _, err := svc.Refresh(ctx, "intruder", created.Value.ID, true); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("refresh by another owner: err = %v, want ErrNotFound", err)
	}

	env.completer.setRespond(failWith(502))
	if _, err := svc.Refresh(ctx, "u1", created.Value.ID, true); err == nil {
		t.Error("explicit refresh must surface upstream failure")
	}
}

func TestAssetDelete(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Delete(ctx, "u2", created.Value.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("delete by another owner: err = %v", err)
	}
	deleted, err := svc.Delete(ctx, "u1", created.Value.ID)
	if err != nil || deleted.Symbol != "ACME" {
		t.Fatalf("Delete = %+v, %v", deleted, err)
	}
	if _, err := env.store.GetAsset(ctx, "u1", created.Value.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("asset still present: %v", err)
	}
}

// holdCompleter makes every request block until release is closed. entered
// is closed when the first request arrives.
func holdCompleter(fc *fakeCompleter) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	fc.setRespond(func(req completion.Request) (string, error) {
		once.Do(func() { close(entered) })
		<-release
		return defaultResponse(req)
	})
	return entered, release
}

func TestAssetRefresh_DeleteDuringFetchDoesNotResurrect(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entered, release := holdCompleter(env.completer)

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx, "u1", created.Value.ID, true)
		errc <- err
	}()
	<-entered
	if _, err := svc.Delete(ctx, "u1", created.Value.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("refresh of deleted asset: err = %v, want ErrNotFound", err)
	}
	list, err := env.store.ListAssets(ctx, "u1")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("deleted asset came back: %+v", list)
	}
}

func TestAssetRefreshStale_VanishedRowSkipsUpstream(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAssetService(env.deps, 24*time.Hour)
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Delete(ctx, "u1", created.Value.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := svc.RefreshStale(ctx, created.Value); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("RefreshStale of deleted row: err = %v, want ErrNotFound", err)
	}
	if n := env.completer.callsFor(extract.AssetDetail{}); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if _, err := env.store.GetAssetBySymbol(ctx, "u1", "ACME"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("background refresh recreated the row: %v", err)
	}
}

func TestRisk_DeleteDuringAnalysisStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	assets := NewAssetService(env.deps, 24*time.Hour)
	risk := NewRiskService(env.deps, 24*time.Hour)
	ctx := context.Background()

	created, err := assets.Create(ctx, "u1", "ACME", "Acme Corp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entered, release := holdCompleter(env.completer)

	errc := make(chan error, 1)
	go func() {
		_, err := risk.Analyze(ctx, "u1", "ACME", false)
		errc <- err
	}()
	<-entered
	if _, err := assets.Delete(ctx, "u1", created.Value.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("analysis of deleted asset: err = %v, want ErrNotFound", err)
	}
	if _, err := env.store.GetRisk(ctx, "u1", "ACME"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("orphan risk snapshot written: %v", err)
	}
}

func TestRisk_TwiceWithinTTLIsCached(t *testing.T) {
	env := newTestEnv(t)
	assets := NewAssetService(env.deps, 24*time.Hour)
	risk := NewRiskService(env.deps, 24*time.Hour)
	ctx := context.Background()

	if _, err := assets.Create(ctx, "u1", "ACME", "Acme Corp"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := risk.Analyze(ctx, "u1", "acme", false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if first.Source != refresh.SourceFresh || first.Value.RiskLevel != "Moderate" {
		t.Errorf("first = %+v", first)
	}

	env.clock.Advance(time.Hour)
	second, err := risk.Analyze(ctx, "u1", "ACME", false)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if second.Source != refresh.SourceCache {
		t.Errorf("Source = %s, want cache", second.Source)
	}
	if second.Value.Confidence != first.Value.Confidence || second.Value.Recommendation != first.Value.Recommendation {
		t.Errorf("second = %+v, want %+v", second.Value, first.Value)
	}
	if n := env.completer.callsFor(extract.RiskAnalysis{}); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if req := env.completer.last(); req.SearchDomains != nil {
		t.Errorf("risk request should not restrict domains: %v", req.SearchDomains)
	}
}

func TestRisk_UntrackedAsset(t *testing.T) {
	env := newTestEnv(t)
	risk := NewRiskService(env.deps, 24*time.Hour)
	if _, err := risk.Analyze(context.Background(), "u1", "ACME", false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if n := env.completer.callsFor(extract.RiskAnalysis{}); n != 0 {
		t.Errorf("upstream called for untracked asset")
	}
}

func TestRisk_StaleSnapshotOnFailure(t *testing.T) {
	env := newTestEnv(t)
	assets := NewAssetService(env.deps, 24*time.Hour)
	risk := NewRiskService(env.deps, 24*time.Hour)
	ctx := context.Background()

	if _, err := assets.Create(ctx, "u1", "ACME", "Acme Corp"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := risk.Analyze(ctx, "u1", "ACME", false); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	env.clock.Advance(25 * time.Hour)
	env.completer.setRespond(failWith(504))
	res, err := risk.Analyze(ctx, "u1", "ACME", false)
	if err != nil {
		t.Fatalf("Analyze with stale snapshot: %v", err)
	}
	if res.Source != refresh.SourceStale || res.Value.Recommendation != "Hold." {
		t.Errorf("res = %+v", res)
	}
}

func TestRiskSnapshotConversion(t *testing.T) {
	ra := extract.RiskAnalysis{
		AssetSymbol: "IGNORED", AssetName: "Acme Corp", RiskLevel: "High",
		Factors:       extract.RiskFactors{VolatilityScore: 0.123, SectorTrendScore: 0.5, DipCountLastMonth: 3, SentimentClass: "Negative"},
		RiskBreakdown: extract.RiskBreakdown{Volatility: "v", Sector: "s", Sentiment: "n"},
		Confidence:    0.9, Recommendation: "Trim.",
	}
	snap := SnapshotFromAnalysis("u1", "ACME", ra)
	if snap.Symbol != "ACME" || snap.VolatilityScore != 0.12 {
		t.Errorf("snap = %+v", snap)
	}
	back := AnalysisFromSnapshot(snap)
	if back.AssetSymbol != "ACME" || back.RiskBreakdown != ra.RiskBreakdown || back.Factors.DipCountLastMonth != 3 {
		t.Errorf("back = %+v", back)
	}
}

func TestNews_CachedPerOwner(t *testing.T) {
	env := newTestEnv(t)
	blobs, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	news := NewNewsService(env.deps, blobs, 3*time.Hour)
	ctx := context.Background()

	first, err := news.Feed(ctx, "u1", "semiconductors", "", false)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if first.Source != refresh.SourceFresh || first.Value.TotalItems != 1 || first.Value.TopicsCachedFor != "semiconductors" {
		t.Errorf("first = %+v", first)
	}
	if req := env.completer.last(); len(req.SearchDomains) != 1 {
		t.Errorf("fast news should send the allow-list, got %v", req.SearchDomains)
	}

	env.clock.Advance(2 * time.Hour)
	second, err := news.Feed(ctx, "u1", "", "", false)
	if err != nil || second.Source != refresh.SourceCache {
		t.Errorf("second = %v, %v; want cache", second.Source, err)
	}
	if second.Value.TopicsCachedFor != "semiconductors" {
		t.Errorf("cached feed should echo its topics, got %q", second.Value.TopicsCachedFor)
	}

	if _, err := news.Feed(ctx, "u2", "", "", false); err != nil {
		t.Fatalf("Feed u2: %v", err)
	}
	if n := env.completer.callsFor(extract.NewsFeed{}); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := news.Feed(ctx, "u1", "", "deep", false); err != nil {
		t.Fatalf("Feed deep: %v", err)
	}
	if req := env.completer.last(); req.Model != "sonar-deep-research" || req.SearchDomains != nil {
		t.Errorf("deep request = model %q domains %v", req.Model, req.SearchDomains)
	}
}

func TestNews_UnknownModel(t *testing.T) {
	env := newTestEnv(t)
	news := NewNewsService(env.deps, newMemBlobs(), 3*time.Hour)
	if _, err := news.Feed(context.Background(), "u1", "", "gpt-9", false); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRecommendation_CachedPerModel(t *testing.T) {
	env := newTestEnv(t)
	rec := NewRecommendationService(env.deps, newMemBlobs(), 6*time.Hour)
	ctx := context.Background()

	fast, err := rec.Recommend(ctx, "u1", "fast", false)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if fast.Value.TickerSymbol != "BOLT" || fast.Value.CurrentPrice != 42.13 {
		t.Errorf("fast = %+v", fast.Value)
	}
	if _, err := rec.Recommend(ctx, "u1", "deep", false); err != nil {
		t.Fatalf("Recommend deep: %v", err)
	}
	again, err := rec.Recommend(ctx, "u1", "sonar-pro", false)
	if err != nil || again.Source != refresh.SourceCache {
		t.Errorf("again = %v, %v; want cache", again.Source, err)
	}
	if n := env.completer.callsFor(extract.StockRecommendation{}); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}

	if _, err := rec.Recommend(ctx, "u1", "fast", true); err != nil {
		t.Fatalf("forced Recommend: %v", err)
	}
	if n := env.completer.callsFor(extract.StockRecommendation{}); n != 3 {
		t.Errorf("force_reload did not refetch: calls = %d", n)
	}
}

func TestChat_SendHistoryMessagesClear(t *testing.T) {
	env := newTestEnv(t)
	chat := NewChatService(env.deps)
	ctx := context.Background()

	question := "How should a beginner think about index funds?"
	reply, err := chat.Send(ctx, "u1", "newbie", question, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.ConversationID == "" || reply.Response != "Diversify across sectors." {
		t.Errorf("reply = %+v", reply)
	}

	env.clock.Advance(time.Minute)
	if _, err := chat.Send(ctx, "u1", "newbie", "And bonds?", reply.ConversationID); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	msgs := env.completer.last().Messages
	if len(msgs) != 4 || msgs[1].Content != question || msgs[2].Role != completion.RoleAssistant {
		t.Errorf("second prompt should carry history, got %+v", msgs)
	}

	history, err := chat.History(ctx, "u1")
	if err != nil || len(history) != 1 {
		t.Fatalf("History = %+v, %v", history, err)
	}
	if history[0].Title != question[:30]+"..." || history[0].Type != "newbie" {
		t.Errorf("summary = %+v", history[0])
	}

	got, err := chat.Messages(ctx, "u1", reply.ConversationID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	senders := make([]string, len(got))
	for i, m := range got {
		senders[i] = m.Sender
	}
	if !reflect.DeepEqual(senders, []string{"user", "bot", "user", "bot"}) {
		t.Errorf("senders = %v", senders)
	}
	if _, err := chat.Messages(ctx, "u2", reply.ConversationID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("foreign conversation: err = %v, want ErrNotFound", err)
	}

	n, err := chat.Clear(ctx, "u1")
	if err != nil || n != 4 {
		t.Errorf("Clear = %d, %v; want 4", n, err)
	}
}

func TestChat_InvalidRequests(t *testing.T) {
	env := newTestEnv(t)
	chat := NewChatService(env.deps)
	ctx := context.Background()

	if _, err := chat.Send(ctx, "u1", "gossip", "hi", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown type: err = %v", err)
	}
	if _, err := chat.Send(ctx, "u1", "chat", "   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty query: err = %v", err)
	}
	env.completer.setRespond(func(completion.Request) (string, error) { return "<think>hmm</think>  ", nil })
	_, err := chat.Send(ctx, "u1", "chat", "hi", "")
	var ee *extract.ExtractionError
	if !errors.As(err, &ee) || ee.Kind != extract.KindEmpty {
		t.Errorf("empty answer: err = %v", err)
	}
	if h, _ := chat.History(ctx, "u1"); len(h) != 0 {
		t.Errorf("failed exchanges must not be stored, got %+v", h)
	}
}

func TestAssetChat_ScopedToSymbol(t *testing.T) {
	env := newTestEnv(t)
	assets := NewAssetService(env.deps, 24*time.Hour)
	chat := NewAssetChatService(env.deps)
	general := NewChatService(env.deps)
	ctx := context.Background()

	if _, err := assets.Create(ctx, "u1", "ACME", "Acme Corp"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	question := strings.Repeat("Why did the share price move so much this week? ", 2)
	reply, err := chat.Send(ctx, "u1", "acme", question, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sys := env.completer.last().Messages[0].Content; !strings.Contains(sys, "Acme Corp (ACME)") {
		t.Errorf("asset context missing from system prompt: %q", sys)
	}

	history, err := chat.History(ctx, "u1", "ACME")
	if err != nil || len(history) != 1 {
		t.Fatalf("History = %+v, %v", history, err)
	}
	if got := []rune(history[0].Title); len(got) != 53 {
		t.Errorf("title = %q, want 50 runes plus ellipsis", history[0].Title)
	}
	if history[0].Type != "asset:ACME" {
		t.Errorf("Type = %q", history[0].Type)
	}

	if h, _ := general.History(ctx, "u1"); len(h) != 0 {
		t.Errorf("asset conversations leaked into chat history: %+v", h)
	}
	if _, err := chat.Messages(ctx, "u1", "BOLT", reply.ConversationID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other symbol: err = %v, want ErrNotFound", err)
	}
	msgs, err := chat.Messages(ctx, "u1", "ACME", reply.ConversationID)
	if err != nil || len(msgs) != 2 {
		t.Errorf("Messages = %+v, %v", msgs, err)
	}
}

func TestModelsResolve(t *testing.T) {
	m := Models{Fast: "sonar-pro", Deep: "sonar-deep-research"}
	tests := map[string]string{
		"":                    "sonar-pro",
		"fast":                "sonar-pro",
		"FAST":                "sonar-pro",
		"sonar-pro":           "sonar-pro",
		"deep":                "sonar-deep-research",
		"sonar-deep-research": "sonar-deep-research",
	}
	for in, want := range tests {
		got, err := m.Resolve(in)
		if err != nil || got != want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := m.Resolve("llama"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Resolve(llama) err = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 30); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

// memBlobs is an in-memory cache.BlobStore.
type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[string][]byte{}} }

func (m *memBlobs) Load(_ context.Context, key cache.Key) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key.String()]
	if !ok {
		return nil, cache.ErrMiss
	}
	return b, nil
}

func (m *memBlobs) Store(_ context.Context, key cache.Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key.String()] = data
	return nil
}

func (m *memBlobs) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string][]byte{}
	return nil
}

func (m *memBlobs) ClearOwner(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, owner+"/") {
			delete(m.data, k)
		}
	}
	return nil
}
