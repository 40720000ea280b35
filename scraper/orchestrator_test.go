package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-scraper/models"
	"realestate-scraper/storage"
	"realestate-scraper/utils"
)

func urls(paths ...string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = base + p
	}
	return out
}

func newTestOrchestrator(cfg CrawlConfig, enum Enumerator, f Fetcher, store Store, opts ...Option) *Orchestrator {
	if cfg.Site == "" {
		cfg.Site = "test"
	}
	return NewOrchestrator(cfg, enum, f, fakeExtractor{}, store, utils.NewNopLogger(), opts...)
}

func TestOrchestratorDedupPreventsRefetch(t *testing.T) {
	f := newFakeFetcher()
	store := storage.NewMemoryStore()
	enum := &fakeEnumerator{pages: [][]string{
		urls("/p/1", "/p/2"),
		urls("/p/2", "/p/3"),
	}}

	o := newTestOrchestrator(CrawlConfig{}, enum, f, store)
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, sum.State)
	assert.Equal(t, models.StopExhausted, sum.StopReason)
	assert.Equal(t, 3, sum.TotalScraped)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, f.count(base+"/p/2"))
	assert.Equal(t, 2, sum.Pages)
	assert.NotEmpty(t, sum.RunID)
}

func TestOrchestratorCycleHaltsCrawl(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/city/", 200, "text/html", indexPage("/city/page/2/", "/p/1", "/p/2"))
	f.set(base+"/city/page/2/", 200, "text/html", indexPage("/city/page/3/", "/p/3", "/p/1"))

	o := newTestOrchestrator(CrawlConfig{}, newTestWalk(f), f, storage.NewMemoryStore())
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, sum.State)
	assert.Equal(t, models.StopCycle, sum.StopReason)
	assert.Equal(t, 3, sum.TotalScraped)
	assert.Equal(t, 0, f.count(base+"/city/page/3/"), "no page is fetched after a cycle")
}

func TestOrchestratorStopsAtMaxListings(t *testing.T) {
	f := newFakeFetcher()
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2", "/p/3"), urls("/p/4")}}

	o := newTestOrchestrator(CrawlConfig{MaxListings: 2}, enum, f, storage.NewMemoryStore())
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StopMaxListings, sum.StopReason)
	assert.Equal(t, 2, sum.TotalScraped)
	assert.Equal(t, 0, f.count(base+"/p/3"))
	assert.Equal(t, 1, sum.Pages)
}

func TestOrchestratorErrorBudgetFailsRun(t *testing.T) {
	f := newFakeFetcher()
	f.defaultStatus = 404
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2", "/p/3", "/p/4")}}

	o := newTestOrchestrator(CrawlConfig{MaxErrors: 2}, enum, f, storage.NewMemoryStore())
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateFailed, sum.State)
	assert.Equal(t, models.StopErrorBudget, sum.StopReason)
	assert.Equal(t, 2, sum.ErrorCount)
	assert.Contains(t, sum.LastError, "status 404")
	assert.Equal(t, 0, f.count(base+"/p/3"))
}

func TestOrchestratorConsecutiveErrorBudget(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/p/2", 500, "text/html", "")
	f.set(base+"/p/3", 500, "text/html", "")
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2", "/p/3", "/p/4")}}

	o := newTestOrchestrator(CrawlConfig{MaxConsecutiveErrors: 2}, enum, f, storage.NewMemoryStore())
	sum, _ := o.Run(context.Background())

	assert.Equal(t, models.StateFailed, sum.State)
	assert.Equal(t, 1, sum.TotalScraped)
}

func TestOrchestratorExtractionFailureIsCounted(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/p/2", 200, "text/html", "")
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2", "/p/3")}}

	o := newTestOrchestrator(CrawlConfig{MaxErrors: 5}, enum, f, storage.NewMemoryStore())
	sum, _ := o.Run(context.Background())

	assert.Equal(t, models.StateCompleted, sum.State)
	assert.Equal(t, 2, sum.TotalScraped)
	assert.Equal(t, 1, sum.ErrorCount)
	assert.Contains(t, sum.LastError, "not parseable")
}

func TestOrchestratorFirstPageErrorFails(t *testing.T) {
	enum := &fakeEnumerator{errAt: 1, err: errors.New("dial tcp: no route to host")}

	o := newTestOrchestrator(CrawlConfig{}, enum, newFakeFetcher(), storage.NewMemoryStore())
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateFailed, sum.State)
	assert.Equal(t, models.StopEnumeratorErr, sum.StopReason)
	assert.Equal(t, 1, sum.ErrorCount)
}

func TestOrchestratorLaterPageErrorCompletes(t *testing.T) {
	enum := &fakeEnumerator{
		pages: [][]string{urls("/p/1"), urls("/p/2")},
		errAt: 2,
		err:   errors.New("index timeout"),
	}

	o := newTestOrchestrator(CrawlConfig{}, enum, newFakeFetcher(), storage.NewMemoryStore())
	sum, _ := o.Run(context.Background())

	assert.Equal(t, models.StateCompleted, sum.State)
	assert.Equal(t, models.StopEnumeratorErr, sum.StopReason)
	assert.Equal(t, 1, sum.TotalScraped)
}

type cancelAfter struct {
	nopObserver
	n      int
	seen   int
	cancel context.CancelFunc
}

func (c *cancelAfter) ListingScraped(string) {
	c.seen++
	if c.seen == c.n {
		c.cancel()
	}
}

func TestOrchestratorInterruptFlushesBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFakeFetcher()
	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2", "/p/3", "/p/4", "/p/5")}}

	o := newTestOrchestrator(CrawlConfig{Buffered: true}, enum, f, store,
		WithSinks(sink),
		WithObserver(&cancelAfter{n: 2, cancel: cancel}))

	sum, err := o.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.StateInterrupted, sum.State)
	assert.Equal(t, models.StopInterrupted, sum.StopReason)
	assert.Equal(t, 2, sum.TotalScraped)
	assert.Equal(t, 2, sum.Persisted)
	assert.Equal(t, 0, f.count(base+"/p/3"))

	rows, _ := store.FetchAll(context.Background(), "")
	assert.Len(t, rows, 2)
	assert.Len(t, sink.listings, 2)
}

func TestOrchestratorImmediateModePersistsEachListing(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2")}}

	o := newTestOrchestrator(CrawlConfig{}, enum, newFakeFetcher(), store, WithSinks(sink))
	sum, _ := o.Run(context.Background())

	assert.Equal(t, 2, sum.Persisted)
	assert.Len(t, sink.listings, 2)
	rows, _ := store.FetchAll(context.Background(), "test")
	assert.Len(t, rows, 2)
}

func TestOrchestratorBatchFailureKeepsOtherRows(t *testing.T) {
	store := storage.NewMemoryStore()
	store.FailURL = base + "/p/2"
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2", "/p/3")}}

	o := newTestOrchestrator(CrawlConfig{Buffered: true}, enum, newFakeFetcher(), store)
	sum, _ := o.Run(context.Background())

	assert.Equal(t, models.StateCompleted, sum.State)
	assert.Equal(t, 3, sum.TotalScraped)
	assert.Equal(t, 2, sum.Persisted)
	assert.Equal(t, 1, sum.ErrorCount)
}

func TestOrchestratorSkipsStoredURLs(t *testing.T) {
	f := newFakeFetcher()
	store := storage.NewMemoryStore()
	store.Seed(models.PersistedListing{Listing: models.NewListing("test", base+"/p/1")})
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2")}}

	o := newTestOrchestrator(CrawlConfig{SkipStored: true}, enum, f, store)
	sum, _ := o.Run(context.Background())

	assert.Equal(t, 1, sum.TotalScraped)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, f.count(base+"/p/1"))
}

type degradedStore struct {
	*storage.MemoryStore
	brokenChecker
}

func (d degradedStore) ExistsURL(ctx context.Context, url string) (bool, error) {
	return d.brokenChecker.ExistsURL(ctx, url)
}

func TestOrchestratorDegradedDedupKeepsCrawling(t *testing.T) {
	store := degradedStore{MemoryStore: storage.NewMemoryStore()}
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1", "/p/2")}}

	o := newTestOrchestrator(CrawlConfig{SkipStored: true, MaxErrors: 1}, enum, newFakeFetcher(), store)
	sum, _ := o.Run(context.Background())

	assert.Equal(t, models.StateCompleted, sum.State)
	assert.Equal(t, 2, sum.TotalScraped)
	assert.Equal(t, 0, sum.ErrorCount)
}

func TestOrchestratorRunsOnce(t *testing.T) {
	enum := &fakeEnumerator{pages: [][]string{urls("/p/1")}}
	o := newTestOrchestrator(CrawlConfig{}, enum, newFakeFetcher(), storage.NewMemoryStore())

	assert.Equal(t, models.StateIdle, o.State())
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, o.State())

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}
