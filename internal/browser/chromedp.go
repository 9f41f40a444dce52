package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-ingest/internal/policy/ratelimit"
)

// Config controls the Chrome session.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	WaitTimeout       time.Duration
	ActionsPerSecond  float64
	WindowWidth       int
	WindowHeight      int
}

// Chromedp implements Surface on a single headless Chrome tab.
type Chromedp struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	tab           context.Context
	pacer         *ratelimit.Limiter
	logger        *zap.Logger
	site          string
}

// NewChromedp starts Chrome and opens the session tab.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 15 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1366, 900
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	warmup := chromedp.Tasks{network.Enable()}
	if cfg.UserAgent != "" {
		warmup = append(warmup, emulation.SetUserAgentOverride(cfg.UserAgent))
	}
	if err := chromedp.Run(tab, warmup); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		tab:           tab,
		pacer:         ratelimit.New(ratelimit.Config{ActionsPerSecond: cfg.ActionsPerSecond}),
		logger:        logger,
	}, nil
}

// Close ends the session and stops Chrome.
func (c *Chromedp) Close() {
	if c == nil {
		return
	}
	c.browserCancel()
	c.allocCancel()
}

// Navigate loads url.
func (c *Chromedp) Navigate(ctx context.Context, url string) error {
	c.site = url
	if err := c.pace(ctx); err != nil {
		return err
	}
	err := c.run(ctx, c.cfg.NavigationTimeout, chromedp.Navigate(url))
	return mapErr(ctx, err, ErrTimeout, "navigate "+url)
}

// WaitVisible blocks until sel is visible.
func (c *Chromedp) WaitVisible(ctx context.Context, sel Selector) error {
	err := c.run(ctx, c.cfg.WaitTimeout, chromedp.WaitVisible(query(sel), queryOpts(sel)...))
	return mapErr(ctx, err, ErrTimeout, "wait visible "+sel.String())
}

// Text returns the rendered text of sel.
func (c *Chromedp) Text(ctx context.Context, sel Selector) (string, error) {
	var out string
	err := c.run(ctx, c.cfg.WaitTimeout, chromedp.Text(query(sel), &out, queryOpts(sel)...))
	return out, mapErr(ctx, err, ErrNotFound, "text "+sel.String())
}

// HTML returns the inner markup of sel.
func (c *Chromedp) HTML(ctx context.Context, sel Selector) (string, error) {
	var out string
	err := c.run(ctx, c.cfg.WaitTimeout, chromedp.InnerHTML(query(sel), &out, queryOpts(sel)...))
	return out, mapErr(ctx, err, ErrNotFound, "html "+sel.String())
}

// Attribute returns the named attribute of sel.
func (c *Chromedp) Attribute(ctx context.Context, sel Selector, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := c.run(ctx, c.cfg.WaitTimeout, chromedp.AttributeValue(query(sel), name, &value, &ok, queryOpts(sel)...))
	if err := mapErr(ctx, err, ErrNotFound, "attribute "+name+" of "+sel.String()); err != nil {
		return "", false, err
	}
	return value, ok, nil
}

// Click activates sel once it is visible.
func (c *Chromedp) Click(ctx context.Context, sel Selector) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	opts := append(queryOpts(sel), chromedp.NodeVisible)
	err := c.run(ctx, c.cfg.WaitTimeout, chromedp.Click(query(sel), opts...))
	return mapErr(ctx, err, ErrNotFound, "click "+sel.String())
}

// Fill clears the input sel and types text into it.
func (c *Chromedp) Fill(ctx context.Context, sel Selector, text string) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	opts := append(queryOpts(sel), chromedp.NodeVisible)
	err := c.run(ctx, c.cfg.WaitTimeout,
		chromedp.SetValue(query(sel), "", opts...),
		chromedp.SendKeys(query(sel), text, opts...),
	)
	return mapErr(ctx, err, ErrNotFound, "fill "+sel.String())
}

// Back navigates one history entry back.
func (c *Chromedp) Back(ctx context.Context) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	err := c.run(ctx, c.cfg.NavigationTimeout, chromedp.NavigateBack())
	return mapErr(ctx, err, ErrTimeout, "navigate back")
}

// Count evaluates how many elements sel matches right now.
func (c *Chromedp) Count(ctx context.Context, sel Selector) (int, error) {
	var n int
	err := c.run(ctx, c.cfg.WaitTimeout, chromedp.Evaluate(sel.countExpr(), &n))
	return n, mapErr(ctx, err, ErrTimeout, "count "+sel.String())
}

func (c *Chromedp) pace(ctx context.Context) error {
	return c.pacer.Wait(ctx, c.site)
}

// run executes actions on the session tab bounded by timeout. The caller's
// context cancels the task without closing the tab.
func (c *Chromedp) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(c.tab, timeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func query(sel Selector) string {
	if sel.simple() {
		return sel.css
	}
	return sel.jsPath()
}

func queryOpts(sel Selector) []chromedp.QueryOption {
	if sel.simple() {
		return []chromedp.QueryOption{chromedp.ByQuery}
	}
	return []chromedp.QueryOption{chromedp.ByJSPath}
}

// mapErr converts an exhausted wait budget into sentinel while passing
// through cancellation of the caller's context.
func mapErr(ctx context.Context, err error, sentinel error, op string) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, sentinel)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
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
