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

func footerSite(n int) (*oracletest.Site, []PageRef) {
	site := oracletest.NewSite()
	refs := make([]PageRef, 0, n)
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://site/#!/page-%d", i)
		refs = append(refs, PageRef{ID: fmt.Sprintf("page-%d", i), URL: url})
		switch i % 3 {
		case 0:
			site.Add(url, oracletest.Document{footerSel: {footer("02/03/2024 08:00", fmt.Sprintf("user-%d", i), "office")}})
		case 1:
			site.Add(url, oracletest.Document{footerSel: {{Text: "shell", Children: map[string]*oracletest.Element{}}}})
		default:
			// No footer: the container wait times out.
		}
	}
	return site, refs
}

func TestPoolRunPreservesOrderAndDefaultsFailures(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			site, refs := footerSite(9)
			e := newTestExtractor(t)
			at := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

			result, err := NewPool(site, e, workers, nil).Run(context.Background(), refs, at)
			require.NoError(t, err)
			require.Len(t, result.Snapshots, len(refs))
			assert.Equal(t, 3, result.Extracted)
			assert.Equal(t, 3, result.Defaulted)
			assert.Equal(t, 3, result.Failed)

			for i, snap := range result.Snapshots {
				assert.Equal(t, refs[i].ID, snap.PageID)
				assert.Equal(t, at, snap.ScrapedAt)
				switch i % 3 {
				case 0:
					assert.Equal(t, fmt.Sprintf("user-%d", i), snap.UpdatedBy)
					assert.Equal(t, "02/03/2024", snap.ModifiedDate)
				default:
					assert.Equal(t, DefaultFields(), snap.Fields)
				}
			}
			assert.Equal(t, min(workers, len(refs)), site.Opened())
		})
	}
}

func TestPoolRunEmpty(t *testing.T) {
	t.Parallel()

	site := oracletest.NewSite()
	result, err := NewPool(site, newTestExtractor(t), 2, nil).Run(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Snapshots)
	assert.Zero(t, site.Opened())
}

type flakyBrowser struct {
	*oracletest.Site
	failAfter int
	opened    int
}

func (b *flakyBrowser) NewPage(ctx context.Context) (oracle.Page, error) {
	b.opened++
	if b.opened > b.failAfter {
		return nil, errors.New("tab limit reached")
	}
	return b.Site.NewPage(ctx)
}

func TestPoolSettlesForFewerPages(t *testing.T) {
	t.Parallel()

	site, refs := footerSite(4)
	browser := &flakyBrowser{Site: site, failAfter: 1}
	result, err := NewPool(browser, newTestExtractor(t), 3, nil).Run(context.Background(), refs, time.Now())
	require.NoError(t, err)
	assert.Len(t, result.Snapshots, 4)
	assert.Equal(t, 1, site.Opened())
}

func TestPoolFailsWhenNoPageOpens(t *testing.T) {
	t.Parallel()

	site, refs := footerSite(2)
	browser := &flakyBrowser{Site: site, failAfter: 0}
	_, err := NewPool(browser, newTestExtractor(t), 2, nil).Run(context.Background(), refs, time.Now())
	require.ErrorContains(t, err, "tab limit reached")
}

type scriptedBrowser struct {
	*oracletest.Site
	page *oracletest.Page
}

func (b scriptedBrowser) NewPage(context.Context) (oracle.Page, error) { return b.page, nil }

func TestPoolRunCancelledMidRunDiscardsResults(t *testing.T) {
	t.Parallel()

	site, refs := footerSite(6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page := &oracletest.Page{Site: site}
	page.NavigateFn = func(ctx context.Context, _ string) error {
		cancel()
		return ctx.Err()
	}

	result, err := NewPool(scriptedBrowser{Site: site, page: page}, newTestExtractor(t), 1, nil).
		Run(ctx, refs, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Snapshots, "pages never attempted must not be defaulted")
	navigates, _, _, _ := page.Counts()
	assert.Equal(t, 1, navigates, "no page is started after cancellation")
	assert.True(t, page.Closed)
}
