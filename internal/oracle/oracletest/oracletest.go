// Package oracletest provides an in-memory oracle for exercising discovery and
// extraction without a browser.
package oracletest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
)

// Element is a node in a fake document.
type Element struct {
	Text     string
	Attrs    map[string]string
	Hidden   bool
	Children map[string]*Element
}

// Document maps selectors to the elements they match, in document order.
type Document map[string][]*Element

// Anchor builds a link element carrying href.
func Anchor(href string) *Element {
	return &Element{Attrs: map[string]string{"href": href}}
}

// Site is a static collection of documents keyed by URL. It satisfies
// oracle.Browser so runners can open pages against it.
type Site struct {
	mu          sync.Mutex
	docs        map[string]Document
	navigateErr map[string]error
	visits      []string
	opened      int
	closed      bool
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{
		docs:        make(map[string]Document),
		navigateErr: make(map[string]error),
	}
}

// Add registers the document served at url.
func (s *Site) Add(url string, doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[url] = doc
}

// FailNavigation makes every navigation to url return err.
func (s *Site) FailNavigation(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigateErr[url] = err
}

// Visits returns every URL navigated to, in order.
func (s *Site) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// Opened reports how many pages were opened.
func (s *Site) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Closed reports whether Close was called.
func (s *Site) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// NewPage opens a Page backed by the site's documents.
func (s *Site) NewPage(context.Context) (oracle.Page, error) {
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return &Page{Site: s}, nil
}

// Close marks the site closed.
func (s *Site) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Site) navigate(url string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, url)
	if err := s.navigateErr[url]; err != nil {
		return nil, err
	}
	return s.docs[url], nil
}

// Page is a scriptable oracle.Page. Without hooks it serves the Site's
// documents; each Fn hook, when set, replaces the default behavior.
type Page struct {
	Site *Site

	NavigateFn  func(ctx context.Context, url string) error
	WaitForFn   func(ctx context.Context, selector string, timeout time.Duration) (oracle.Handle, error)
	QueryOneFn  func(ctx context.Context, parent oracle.Handle, selector string) (oracle.Handle, error)
	TextFn      func(ctx context.Context, h oracle.Handle) (string, error)
	DisplayedFn func(ctx context.Context, h oracle.Handle) (bool, error)

	mu        sync.Mutex
	current   Document
	Navigates int
	Waits     int
	QueryOnes int
	TextReads int
	Closed    bool
}

// Counts returns the navigate, wait, query-one and text-read call counts.
func (p *Page) Counts() (navigates, waits, queryOnes, textReads int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Navigates, p.Waits, p.QueryOnes, p.TextReads
}

func (p *Page) bump(counter *int) {
	p.mu.Lock()
	*counter++
	p.mu.Unlock()
}

// Navigate loads url from the Site.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.bump(&p.Navigates)
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.NavigateFn != nil {
		return p.NavigateFn(ctx, url)
	}
	if p.Site == nil {
		return nil
	}
	doc, err := p.Site.navigate(url)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.current = doc
	p.mu.Unlock()
	return nil
}

// WaitFor returns the first match or ErrTimeout; it never sleeps.
func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) (oracle.Handle, error) {
	p.bump(&p.Waits)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.WaitForFn != nil {
		return p.WaitForFn(ctx, selector, timeout)
	}
	if els := p.lookup(selector); len(els) > 0 {
		return els[0], nil
	}
	return nil, fmt.Errorf("wait for %s after %s: %w", selector, timeout, oracle.ErrTimeout)
}

// QueryAll returns every element registered under selector.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]oracle.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	els := p.lookup(selector)
	out := make([]oracle.Handle, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

// QueryOne resolves selector under parent, or under the document when nil.
func (p *Page) QueryOne(ctx context.Context, parent oracle.Handle, selector string) (oracle.Handle, error) {
	p.bump(&p.QueryOnes)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.QueryOneFn != nil {
		return p.QueryOneFn(ctx, parent, selector)
	}
	if parent == nil {
		if els := p.lookup(selector); len(els) > 0 {
			return els[0], nil
		}
		return nil, fmt.Errorf("query %s: %w", selector, oracle.ErrNotFound)
	}
	el, err := element(parent)
	if err != nil {
		return nil, err
	}
	if child, ok := el.Children[selector]; ok && child != nil {
		return child, nil
	}
	return nil, fmt.Errorf("query %s: %w", selector, oracle.ErrNotFound)
}

// Text returns the element's text.
func (p *Page) Text(ctx context.Context, h oracle.Handle) (string, error) {
	p.bump(&p.TextReads)
	if p.TextFn != nil {
		return p.TextFn(ctx, h)
	}
	el, err := element(h)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

// Attr returns the named attribute.
func (p *Page) Attr(_ context.Context, h oracle.Handle, name string) (string, bool, error) {
	el, err := element(h)
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

// Displayed reports whether the element is visible.
func (p *Page) Displayed(ctx context.Context, h oracle.Handle) (bool, error) {
	if p.DisplayedFn != nil {
		return p.DisplayedFn(ctx, h)
	}
	el, err := element(h)
	if err != nil {
		return false, err
	}
	return !el.Hidden, nil
}

// Close marks the page closed.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

func (p *Page) lookup(selector string) []*Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current[selector]
}

func element(h oracle.Handle) (*Element, error) {
	el, ok := h.(*Element)
	if !ok || el == nil {
		return nil, fmt.Errorf("unexpected handle %T", h)
	}
	return el, nil
}
