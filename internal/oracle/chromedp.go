package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChromedpConfig controls how the headless browser is launched.
type ChromedpConfig struct {
	// ExecPath overrides the Chrome binary; empty uses the one on PATH.
	ExecPath     string
	Headless     bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// MinNavInterval spaces consecutive navigations; zero disables pacing.
	MinNavInterval time.Duration
}

// ChromedpBrowser implements Browser with headless Chrome via chromedp.
type ChromedpBrowser struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	pacer           *rate.Limiter
	logger          *zap.Logger
}

// NewChromedp launches Chrome and verifies it responds. A browser that cannot
// start is returned as an error so the caller can abort before any traversal.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) (*ChromedpBrowser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var pacer *rate.Limiter
	if cfg.MinNavInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.MinNavInterval), 1)
	}
	logger.Info("Browser started",
		zap.Bool("headless", cfg.Headless),
		zap.String("exec_path", cfg.ExecPath),
	)
	return &ChromedpBrowser{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		pacer:           pacer,
		logger:          logger,
	}, nil
}

func allocatorOptions(cfg ChromedpConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	headless := any(false)
	if cfg.Headless {
		headless = "new"
	}
	width, height := cfg.WindowWidth, cfg.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(width, height),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// NewPage opens a new tab.
func (b *ChromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromedpPage{tabCtx: tabCtx, cancel: cancel, pacer: b.pacer}, nil
}

// Close tears down the browser and its allocator.
func (b *ChromedpBrowser) Close() error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocatorCancel()
	b.logger.Info("Browser closed")
	return nil
}

type chromedpPage struct {
	tabCtx context.Context
	cancel context.CancelFunc
	pacer  *rate.Limiter
}

// scope derives a context that carries the tab's chromedp executor while
// honoring the caller's cancellation and the optional per-call timeout.
func (p *chromedpPage) scope(ctx context.Context, timeout time.Duration) (context.Context, func()) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(p.tabCtx)
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		prev := cancel
		cancel = func() { cancelTimeout(); prev() }
	}
	stopForward := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stopForward()
		cancel()
	}
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	if p.pacer != nil {
		if err := p.pacer.Wait(ctx); err != nil {
			return fmt.Errorf("navigation pacing: %w", err)
		}
	}
	runCtx, done := p.scope(ctx, 0)
	defer done()
	return mapErr("navigate", chromedp.Run(runCtx, chromedp.Navigate(url)))
}

func (p *chromedpPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) (Handle, error) {
	runCtx, done := p.scope(ctx, timeout)
	defer done()
	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery)); err != nil {
		return nil, mapErr("wait for "+selector, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("wait for %s: %w", selector, ErrNotFound)
	}
	return nodes[0], nil
}

func (p *chromedpPage) QueryAll(ctx context.Context, selector string) ([]Handle, error) {
	runCtx, done := p.scope(ctx, 0)
	defer done()
	var nodes []*cdp.Node
	err := chromedp.Run(runCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, mapErr("query all "+selector, err)
	}
	out := make([]Handle, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out, nil
}

func (p *chromedpPage) QueryOne(ctx context.Context, parent Handle, selector string) (Handle, error) {
	opts := []chromedp.QueryOption{chromedp.ByQuery, chromedp.AtLeast(0)}
	if parent != nil {
		node, err := asNode(parent)
		if err != nil {
			return nil, err
		}
		opts = append(opts, chromedp.FromNode(node))
	}
	runCtx, done := p.scope(ctx, 0)
	defer done()
	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, mapErr("query "+selector, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("query %s: %w", selector, ErrNotFound)
	}
	return nodes[0], nil
}

const (
	textJS      = `function(){return {c:this.isConnected,v:this.innerText||""}}`
	displayedJS = `function(){if(!this.isConnected){return {c:false,v:false}}` +
		`var s=window.getComputedStyle(this);` +
		`return {c:true,v:this.getClientRects().length>0&&s.visibility!=="hidden"&&s.display!=="none"}}`
)

func (p *chromedpPage) Text(ctx context.Context, h Handle) (string, error) {
	out, err := callOn[string](ctx, p, h, textJS)
	if err != nil {
		return "", mapErr("text", err)
	}
	return out, nil
}

func (p *chromedpPage) Attr(ctx context.Context, h Handle, name string) (string, bool, error) {
	// Properties win over raw attributes so anchors report absolute hrefs.
	q := strconv.Quote(name)
	fn := `function(){var v=this[` + q + `];` +
		`if(v===undefined||v===null||typeof v==="object"){v=this.getAttribute(` + q + `)}` +
		`return {c:this.isConnected,v:(v===null||v===undefined)?null:String(v)}}`
	out, err := callOn[*string](ctx, p, h, fn)
	if err != nil {
		return "", false, mapErr("attr "+name, err)
	}
	if out == nil {
		return "", false, nil
	}
	return *out, true, nil
}

func (p *chromedpPage) Displayed(ctx context.Context, h Handle) (bool, error) {
	out, err := callOn[bool](ctx, p, h, displayedJS)
	if err != nil {
		return false, mapErr("displayed", err)
	}
	return out, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}

type nodeResult[T any] struct {
	Connected bool `json:"c"`
	Value     T    `json:"v"`
}

// callOn evaluates fn with `this` bound to the node behind h.
func callOn[T any](ctx context.Context, p *chromedpPage, h Handle, fn string) (T, error) {
	var zero T
	node, err := asNode(h)
	if err != nil {
		return zero, err
	}
	runCtx, done := p.scope(ctx, 0)
	defer done()

	var res nodeResult[T]
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
		val, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("call function: %w", err)
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}
		if val == nil || len(val.Value) == 0 {
			return fmt.Errorf("script returned no value")
		}
		return json.Unmarshal([]byte(val.Value), &res)
	}))
	if err != nil {
		return zero, err
	}
	if !res.Connected {
		return zero, ErrStaleReference
	}
	return res.Value, nil
}

func asNode(h Handle) (*cdp.Node, error) {
	node, ok := h.(*cdp.Node)
	if !ok || node == nil {
		return nil, fmt.Errorf("unsupported handle %T", h)
	}
	return node, nil
}

var staleMarkers = []string{
	"could not find node",
	"no node with given id",
	"node with given id does not belong",
	"cannot find context with specified id",
	"node is detached",
}

func isStaleNodeError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range staleMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleReference), errors.Is(err, ErrNotFound), errors.Is(err, ErrTimeout):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	case isStaleNodeError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrStaleReference, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil || parent.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
