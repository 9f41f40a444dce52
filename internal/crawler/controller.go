package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-ingest/internal/browser"
	"github.com/JakeFAU/careers-ingest/internal/clock/system"
	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/metrics"
)

// Summary counts what one run did.
type Summary struct {
	RunID      string
	Pages      int
	Listings   int
	Published  int
	Duplicates int
	Skipped    int
	Failed     int
	Unfiltered int
	Filtered   int
}

// Dependencies are the collaborators of a Controller. Archive, Clock and
// IDs are optional.
type Dependencies struct {
	Surface   browser.Surface
	Publisher Publisher
	Archive   Archive
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
}

// Controller walks the result pages of one site in order, one listing at a
// time, on a single surface session.
type Controller struct {
	cfg       Config
	sel       Selectors
	surface   browser.Surface
	publisher Publisher
	archive   Archive
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// NewController validates cfg and wires the controller.
func NewController(cfg Config, deps Dependencies) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Surface == nil {
		return nil, fmt.Errorf("surface is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		sel:       cfg.Selectors,
		surface:   deps.Surface,
		publisher: deps.Publisher,
		archive:   deps.Archive,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger.Named("crawler"),
	}, nil
}

// Run performs one full crawl. It returns a non-nil error only when the run
// was aborted; listings published before the abort stay published.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	start := c.clock.Now()
	var sum Summary
	if c.ids != nil {
		id, err := c.ids.NewID()
		if err != nil {
			return sum, fmt.Errorf("generate run id: %w", err)
		}
		sum.RunID = id
	}
	logger := c.logger.With(zap.String("run_id", sum.RunID), zap.String("target_url", c.cfg.TargetURL))
	logger.Info("crawl started",
		zap.String("company", c.cfg.Company),
		zap.String("location_filter", c.cfg.LocationFilter),
		zap.String("category_filter", c.cfg.CategoryFilter))

	err := c.run(ctx, logger, &sum)

	status := "success"
	if err != nil {
		status = "error"
	}
	elapsed := c.clock.Now().Sub(start)
	metrics.ObserveRun(status, elapsed)
	fields := []zap.Field{
		zap.Int("pages", sum.Pages),
		zap.Int("listings", sum.Listings),
		zap.Int("published", sum.Published),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		logger.Error("crawl aborted", append(fields, zap.Error(err))...)
		return sum, err
	}
	logger.Info("crawl finished", fields...)
	return sum, nil
}

func (c *Controller) run(ctx context.Context, logger *zap.Logger, sum *Summary) error {
	if _, err := c.publisher.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	if err := c.surface.Navigate(ctx, c.cfg.TargetURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", c.cfg.TargetURL, err)
	}
	if err := c.applyFilters(ctx, logger, sum); err != nil {
		return err
	}

	list := browser.CSS(c.sel.ListReady)
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.surface.WaitVisible(ctx, list); err != nil {
			return fmt.Errorf("page %d: listing page not ready: %w", page, err)
		}
		sum.Pages++
		metrics.ObservePage()

		n, err := c.surface.Count(ctx, browser.CSS(c.sel.Item))
		if err != nil {
			return fmt.Errorf("page %d: count listings: %w", page, err)
		}
		pageLogger := logger.With(zap.Int("page", page))
		pageLogger.Debug("listing page loaded", zap.Int("items", n))

		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum.Listings++
			outcome, err := c.processItem(ctx, pageLogger.With(zap.Int("item", i)), i)
			if err != nil {
				return fmt.Errorf("page %d item %d: %w", page, i, err)
			}
			metrics.ObserveListing(string(outcome))
			switch outcome {
			case outcomePublished:
				sum.Published++
			case outcomeDuplicate:
				sum.Duplicates++
			case outcomeSkipped:
				sum.Skipped++
			case outcomeFailed:
				sum.Failed++
			}
		}

		if c.cfg.MaxPages > 0 && page >= c.cfg.MaxPages {
			pageLogger.Info("page limit reached", zap.Int("max_pages", c.cfg.MaxPages))
			return nil
		}
		more, err := c.hasNextPage(ctx)
		if err != nil {
			return fmt.Errorf("page %d: read next page affordance: %w", page, err)
		}
		if !more {
			pageLogger.Debug("last page reached")
			return nil
		}
		before := c.pageSignature(ctx)
		if err := c.surface.Click(ctx, browser.CSS(c.sel.NextPage)); err != nil {
			return fmt.Errorf("page %d: go to next page: %w", page, err)
		}
		advanced, err := c.awaitPageChange(ctx, before)
		if err != nil {
			return fmt.Errorf("page %d: wait for next page: %w", page, err)
		}
		if !advanced {
			pageLogger.Warn("next page did not advance; stopping",
				zap.String("first_item", before),
				zap.Duration("waited", c.pageChange()))
			return nil
		}
	}
}

// pageSignature identifies the page on screen by its first listing: the
// item id when the profile has one, else the title, else the status line.
// It is empty when none can be read.
func (c *Controller) pageSignature(ctx context.Context) string {
	first := browser.CSS(c.sel.Item).Nth(0)
	if c.sel.ItemID != "" {
		if v, ok, err := c.surface.Attribute(ctx, first.Find(c.sel.ItemID), c.sel.ItemIDAttr); err == nil && ok && v != "" {
			return "id:" + v
		}
	}
	if v, err := c.surface.Text(ctx, first.Find(c.sel.ItemTitle)); err == nil && v != "" {
		return "title:" + v
	}
	if c.sel.ResultStatus != "" {
		if v, err := c.surface.Text(ctx, browser.CSS(c.sel.ResultStatus)); err == nil && v != "" {
			return "status:" + v
		}
	}
	return ""
}

// awaitPageChange polls the list until its signature differs from before.
// It reports false when the page is unchanged once the timeout passes.
func (c *Controller) awaitPageChange(ctx context.Context, before string) (bool, error) {
	list := browser.CSS(c.sel.ListReady)
	timer := time.NewTimer(c.pageChange())
	defer timer.Stop()
	tick := time.NewTicker(c.pagePoll())
	defer tick.Stop()

	for {
		err := c.surface.WaitVisible(ctx, list)
		switch {
		case err == nil:
			if now := c.pageSignature(ctx); now != "" && now != before {
				return true, nil
			}
		case !transient(err):
			return false, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		case <-tick.C:
		}
	}
}

func (c *Controller) pageChange() time.Duration {
	if c.cfg.PageChange > 0 {
		return c.cfg.PageChange
	}
	return defaultPageChange
}

func (c *Controller) pagePoll() time.Duration {
	if c.cfg.PagePoll > 0 {
		return c.cfg.PagePoll
	}
	return defaultPagePoll
}

// hasNextPage reports whether the next affordance exists and is enabled.
func (c *Controller) hasNextPage(ctx context.Context) (bool, error) {
	next := browser.CSS(c.sel.NextPage)
	n, err := c.surface.Count(ctx, next)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	for _, attr := range []string{"disabled", "aria-disabled"} {
		value, ok, err := c.surface.Attribute(ctx, next, attr)
		if errors.Is(err, browser.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if ok && (attr == "disabled" || value == "true") {
			return false, nil
		}
	}
	return true, nil
}

// transient reports whether err concerns a single element rather than the
// session.
func transient(err error) bool {
	return errors.Is(err, browser.ErrNotFound) || errors.Is(err, browser.ErrTimeout)
}

// storeFatal reports whether a publish error must end the run.
func storeFatal(err error) bool {
	return errors.Is(err, gateway.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
