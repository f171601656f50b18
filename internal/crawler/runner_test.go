package crawler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
	"github.com/JakeFAU/page-provenance-crawler/internal/oracle/oracletest"
	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
	pubmemory "github.com/JakeFAU/page-provenance-crawler/internal/publisher/memory"
	"github.com/JakeFAU/page-provenance-crawler/internal/store/memory"
)

const (
	linkSel   = "a[href^='https://site/#!/']"
	footerSel = "#idCorpoRodape"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() map[progress.Stage]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[progress.Stage]int{}
	for _, evt := range r.events {
		out[evt.Stage]++
	}
	return out
}

type recordingArchiver struct {
	runID string
	snaps []crawler.Snapshot
}

func (a *recordingArchiver) Archive(_ context.Context, runID string, _ time.Time, snaps []crawler.Snapshot) (crawler.ArchiveRef, error) {
	a.runID = runID
	a.snaps = snaps
	return crawler.ArchiveRef{URI: "memory://" + runID + ".csv", SHA256: "abc"}, nil
}

func footerEl(user string) *oracletest.Element {
	return &oracletest.Element{
		Text: "Atualizado em 05/06/2024 09:30 por " + user,
		Children: map[string]*oracletest.Element{
			"#data-atualizacao-pagina":    {Text: "05/06/2024 09:30"},
			"#usuario-atualizacao-pagina": {Text: user},
			"#responsavel-pagina":         {Text: "Office"},
		},
	}
}

// provenanceSite has a home page linking to two routed pages; only about
// carries a footer.
func provenanceSite() *oracletest.Site {
	site := oracletest.NewSite()
	site.Add("https://site/#!", oracletest.Document{
		footerSel: {footerEl("root")},
		linkSel:   {oracletest.Anchor("https://site/#!/about"), oracletest.Anchor("https://site/#!/contact/")},
	})
	site.Add("https://site/#!/about", oracletest.Document{
		footerSel: {footerEl("alice")},
		linkSel:   {oracletest.Anchor("https://site/#!/")},
	})
	site.Add("https://site/#!/contact", oracletest.Document{
		footerSel: {{Text: "shell", Children: map[string]*oracletest.Element{}}},
	})
	return site
}

func testConfigs() (crawler.DiscoveryConfig, crawler.ExtractConfig) {
	return crawler.DiscoveryConfig{
			StartURL:      "https://site/#!/",
			ReadySelector: footerSel,
			WaitTimeout:   time.Second,
		}, crawler.ExtractConfig{
			ContainerSelector:   footerSel,
			DateSelector:        "#data-atualizacao-pagina",
			UserSelector:        "#usuario-atualizacao-pagina",
			ResponsibleSelector: "#responsavel-pagina",
			PageLoadTimeout:     time.Second,
			OuterRetries:        3,
			InnerRetries:        3,
			Concurrency:         2,
		}
}

type harness struct {
	site      *oracletest.Site
	store     *memory.Store
	publisher *pubmemory.Publisher
	emitter   *recordingEmitter
	archiver  *recordingArchiver
	runner    *crawler.Runner
	opened    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		site:      provenanceSite(),
		store:     memory.New(),
		publisher: pubmemory.New(),
		emitter:   &recordingEmitter{},
		archiver:  &recordingArchiver{},
	}
	discovery, extract := testConfigs()
	runner, err := crawler.NewRunner(crawler.Deps{
		OpenBrowser: func(context.Context) (oracle.Browser, error) {
			h.opened++
			return h.site, nil
		},
		Store:     h.store,
		Clock:     fixedClock{now: time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)},
		IDs:       staticIDs{id: "0190a5b2-7c3e-7d4f-8a1b-2c3d4e5f6a7b"},
		Archiver:  h.archiver,
		Publisher: h.publisher,
		Emitter:   h.emitter,
	}, discovery, extract)
	require.NoError(t, err)
	h.runner = runner
	return h
}

func TestRunnerCrawlThenExtract(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	crawlSummary, err := h.runner.Crawl(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, crawlSummary.Visited)
	assert.Equal(t, 2, crawlSummary.Discovered)
	assert.Equal(t, 2, crawlSummary.Upserted)
	assert.Equal(t, "crawl", crawlSummary.Job)
	assert.True(t, h.site.Closed(), "browser released after crawl")

	refs, err := h.store.LoadActivePages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []crawler.PageRef{
		{ID: "about", URL: "https://site/#!/about"},
		{ID: "contact", URL: "https://site/#!/contact"},
	}, refs)

	extractSummary, err := h.runner.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, extractSummary.Total)
	assert.Equal(t, 1, extractSummary.Extracted)
	assert.Equal(t, 1, extractSummary.Defaulted)
	assert.Equal(t, 2, extractSummary.Persisted)
	assert.Equal(t, "memory://0190a5b2-7c3e-7d4f-8a1b-2c3d4e5f6a7b.csv", extractSummary.ArchiveURI)
	assert.Equal(t, 2, h.opened)

	history := h.store.History()
	require.Len(t, history, 2)
	assert.Equal(t, "about", history[0].PageID)
	assert.Equal(t, "alice", history[0].UpdatedBy)
	assert.Equal(t, "05/06/2024", history[0].ModifiedDate)
	assert.Equal(t, "contact", history[1].PageID)
	assert.True(t, history[1].Defaulted())
	assert.Equal(t, history, h.archiver.snaps)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 2)
	assert.IsType(t, crawler.CrawlSummary{}, msgs[0])
	assert.IsType(t, crawler.ExtractSummary{}, msgs[1])

	stages := h.emitter.stages()
	assert.Equal(t, 2, stages[progress.StageRunStart])
	assert.Equal(t, 2, stages[progress.StageRunDone])
	assert.Equal(t, 2, stages[progress.StageExtractDone])
}

func TestRunnerRecrawlIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.runner.Crawl(ctx)
	require.NoError(t, err)
	_, err = h.runner.Crawl(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.Pages())
}

func TestRunnerExtractWithNoPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	summary, err := h.runner.Extract(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Zero(t, h.opened, "no browser for an empty run")
	assert.Empty(t, h.store.History())
}

func TestRunnerExtractSkipsInactivePages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.runner.Crawl(ctx)
	require.NoError(t, err)
	require.True(t, h.store.SetActive("contact", false))

	summary, err := h.runner.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	require.Len(t, h.store.History(), 1)
	assert.Equal(t, "about", h.store.History()[0].PageID)
}

func TestRunnerExtractCanceledWritesNoHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.runner.Crawl(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := h.runner.Extract(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Total)
	assert.Zero(t, summary.Persisted)
	assert.Empty(t, h.store.History(), "no defaulted rows for unattempted pages")
	assert.Nil(t, h.archiver.snaps)
	assert.Len(t, h.publisher.Messages(), 1, "only the crawl summary is published")
}

func TestRunnerBrowserStartFailure(t *testing.T) {
	t.Parallel()

	discovery, extract := testConfigs()
	runner, err := crawler.NewRunner(crawler.Deps{
		OpenBrowser: func(context.Context) (oracle.Browser, error) {
			return nil, errors.New("chrome not found")
		},
		Store: memory.New(),
		Clock: fixedClock{now: time.Now()},
		IDs:   staticIDs{id: "0190a5b2-7c3e-7d4f-8a1b-2c3d4e5f6a7b"},
	}, discovery, extract)
	require.NoError(t, err)

	_, err = runner.Crawl(context.Background())
	require.ErrorContains(t, err, "chrome not found")
}

func TestNewRunnerRequiresDeps(t *testing.T) {
	t.Parallel()

	discovery, extract := testConfigs()
	_, err := crawler.NewRunner(crawler.Deps{}, discovery, extract)
	require.Error(t, err)
}
