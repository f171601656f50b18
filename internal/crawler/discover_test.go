package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
	"github.com/JakeFAU/page-provenance-crawler/internal/oracle/oracletest"
)

const (
	testBase     = "https://site"
	testLinkSel  = "a[href^='https://site/#!/']"
	testStartURL = "https://site/#!/"
)

func linkDoc(hrefs ...string) oracletest.Document {
	anchors := make([]*oracletest.Element, 0, len(hrefs))
	for _, h := range hrefs {
		anchors = append(anchors, oracletest.Anchor(h))
	}
	return oracletest.Document{testLinkSel: anchors}
}

// scenarioSite is the start page linking to about and contact, with about
// linking back home and down to about/team.
func scenarioSite() *oracletest.Site {
	site := oracletest.NewSite()
	site.Add("https://site/#!", linkDoc("https://site/#!/about/", "https://site/#!/contact/"))
	site.Add("https://site/#!/about", linkDoc("https://site/#!/", "https://site/#!/about/team/"))
	site.Add("https://site/#!/contact", linkDoc("https://site/#!/"))
	site.Add("https://site/#!/about/team", linkDoc("https://site/#!/about/"))
	return site
}

func newTestDiscoverer(t *testing.T, cfg DiscoveryConfig) *Discoverer {
	t.Helper()
	if cfg.StartURL == "" {
		cfg.StartURL = testStartURL
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = time.Second
	}
	d, err := NewDiscoverer(cfg, nil)
	require.NoError(t, err)
	return d
}

func TestDiscoverScenario(t *testing.T) {
	t.Parallel()

	site := scenarioSite()
	d := newTestDiscoverer(t, DiscoveryConfig{})
	page, err := site.NewPage(context.Background())
	require.NoError(t, err)

	result, err := d.Discover(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://site/#!",
		"https://site/#!/about",
		"https://site/#!/contact",
		"https://site/#!/about/team",
	}, result.Trace)
	assert.Equal(t, result.Trace, site.Visits(), "each url rendered once")

	ids := make([]string, 0, len(result.Pages))
	for _, p := range result.Pages {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"about", "contact", "about_team"}, ids)
	assert.NotContains(t, ids, "homepage")
	assert.Zero(t, result.Skipped)
}

func TestDiscoverSkipsFailingPages(t *testing.T) {
	t.Parallel()

	site := oracletest.NewSite()
	site.Add("https://site/#!", linkDoc("https://site/#!/broken", "https://site/#!/slow", "https://site/#!/ok"))
	site.FailNavigation("https://site/#!/broken", errors.New("net::ERR_ABORTED"))
	// /slow has no document, so the ready wait times out.
	site.Add("https://site/#!/ok", linkDoc("https://site/#!/ok/child"))
	site.Add("https://site/#!/ok/child", linkDoc("https://site/#!"))

	d := newTestDiscoverer(t, DiscoveryConfig{})
	page, err := site.NewPage(context.Background())
	require.NoError(t, err)

	result, err := d.Discover(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []PageRef{
		{ID: "ok", URL: "https://site/#!/ok"},
		{ID: "ok_child", URL: "https://site/#!/ok/child"},
	}, result.Pages)
	assert.Len(t, result.Trace, 5)
}

func TestDiscoverIgnoresForeignAndEmptyLinks(t *testing.T) {
	t.Parallel()

	site := oracletest.NewSite()
	site.Add("https://site/#!", oracletest.Document{testLinkSel: {
		oracletest.Anchor("https://elsewhere/#!/x"),
		{Attrs: map[string]string{}},
		oracletest.Anchor(""),
		oracletest.Anchor("https://site/#!/gone"),
		oracletest.Anchor("https://site/#!/kept"),
	}})
	site.Add("https://site/#!/kept", linkDoc())

	d := newTestDiscoverer(t, DiscoveryConfig{ReadySelector: testLinkSel})
	page, err := site.NewPage(context.Background())
	require.NoError(t, err)

	result, err := d.Discover(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://site/#!", "https://site/#!/gone", "https://site/#!/kept"}, result.Trace)
}

func TestDiscoverUsesReadySelector(t *testing.T) {
	t.Parallel()

	site := oracletest.NewSite()
	site.Add("https://site/#!", oracletest.Document{
		"#app":      {{}},
		testLinkSel: {oracletest.Anchor("https://site/#!/leaf")},
	})
	// The leaf has no links but renders the layout anchor.
	site.Add("https://site/#!/leaf", oracletest.Document{"#app": {{}}})

	d := newTestDiscoverer(t, DiscoveryConfig{ReadySelector: "#app"})
	page, err := site.NewPage(context.Background())
	require.NoError(t, err)

	result, err := d.Discover(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, []PageRef{{ID: "leaf", URL: "https://site/#!/leaf"}}, result.Pages)
}

func TestDiscoverStopsOnCancel(t *testing.T) {
	t.Parallel()

	site := scenarioSite()
	d := newTestDiscoverer(t, DiscoveryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	page := &oracletest.Page{Site: site}
	page.NavigateFn = func(_ context.Context, url string) error {
		cancel()
		return context.Canceled
	}

	result, err := d.Discover(ctx, page)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.Trace, 1)
	assert.Zero(t, result.Skipped)
}

func TestDiscoverCountsCanceledPageOnLiveContext(t *testing.T) {
	t.Parallel()

	site := scenarioSite()
	d := newTestDiscoverer(t, DiscoveryConfig{})
	page := &oracletest.Page{Site: site}
	page.NavigateFn = func(context.Context, string) error {
		return fmt.Errorf("navigate: %w", context.Canceled)
	}

	result, err := d.Discover(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped, "a dead tab is a per-url failure")
	assert.Equal(t, []string{"https://site/#!"}, result.Trace)
	assert.Empty(t, result.Pages)
}

func TestDiscoverKeepsFirstRouteForDuplicateID(t *testing.T) {
	t.Parallel()

	site := oracletest.NewSite()
	site.Add("https://site/#!", linkDoc("https://site/#!/a/b", "https://site/#!//a/b", "https://site/#!/a_b"))
	site.Add("https://site/#!/a/b", linkDoc())
	site.Add("https://site/#!//a/b", linkDoc())
	site.Add("https://site/#!/a_b", linkDoc())

	d := newTestDiscoverer(t, DiscoveryConfig{})
	page, err := site.NewPage(context.Background())
	require.NoError(t, err)

	result, err := d.Discover(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, result.Trace, 4, "every distinct url is still rendered")
	assert.Equal(t, []PageRef{{ID: "a_b", URL: "https://site/#!/a/b"}}, result.Pages)
}

func TestNewDiscovererValidates(t *testing.T) {
	t.Parallel()

	_, err := NewDiscoverer(DiscoveryConfig{WaitTimeout: time.Second}, nil)
	assert.ErrorContains(t, err, "site.start_url")
	_, err = NewDiscoverer(DiscoveryConfig{StartURL: testStartURL}, nil)
	assert.ErrorContains(t, err, "crawl.wait_timeout")
	_, err = NewDiscoverer(DiscoveryConfig{StartURL: "not a url", WaitTimeout: time.Second}, nil)
	assert.Error(t, err)
}

var _ oracle.Browser = (*oracletest.Site)(nil)
