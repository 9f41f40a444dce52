package crawler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-ingest/internal/browser"
	"github.com/JakeFAU/careers-ingest/internal/normalize"
)

var resultTotal = regexp.MustCompile(`(?i)of\s+([\d,]+)\s+results`)

// parseResultTotal reads "Showing 1-20 of 1,234 results" style status text.
func parseResultTotal(text string) (int, bool) {
	m := resultTotal.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// readResultTotal returns the advertised result count, or -1 when the
// status text is missing or unreadable.
func (c *Controller) readResultTotal(ctx context.Context, logger *zap.Logger, label string) int {
	if c.sel.ResultStatus == "" {
		return -1
	}
	text, err := c.surface.Text(ctx, browser.CSS(c.sel.ResultStatus))
	if err != nil {
		logger.Warn("result count not available", zap.String("stage", label), zap.Error(err))
		return -1
	}
	n, ok := parseResultTotal(text)
	if !ok {
		logger.Warn("result count text not recognized", zap.String("stage", label), zap.String("text", text))
		return -1
	}
	logger.Debug("result count", zap.String("stage", label), zap.Int("total", n))
	return n
}

// applyFilters narrows the result set by location and category and checks
// the filtered count against the unfiltered one. A suspicious count is
// logged and the run continues.
func (c *Controller) applyFilters(ctx context.Context, logger *zap.Logger, sum *Summary) error {
	sum.Unfiltered = c.readResultTotal(ctx, logger, "unfiltered")
	if c.cfg.LocationFilter == "" && c.cfg.CategoryFilter == "" {
		sum.Filtered = sum.Unfiltered
		return nil
	}

	if c.cfg.LocationFilter != "" {
		input := browser.CSS(c.sel.LocationInput)
		if err := c.surface.Fill(ctx, input, c.cfg.LocationFilter); err != nil {
			return fmt.Errorf("fill location filter: %w", err)
		}
		if err := c.selectOption(ctx, c.cfg.LocationFilter); err != nil {
			return fmt.Errorf("select location %q: %w", c.cfg.LocationFilter, err)
		}
	}
	if c.cfg.CategoryFilter != "" {
		if err := c.surface.Click(ctx, browser.CSS(c.sel.CategoryToggle)); err != nil {
			return fmt.Errorf("open category filter: %w", err)
		}
		if err := c.selectOption(ctx, c.cfg.CategoryFilter); err != nil {
			return fmt.Errorf("select category %q: %w", c.cfg.CategoryFilter, err)
		}
	}

	if err := c.surface.WaitVisible(ctx, browser.CSS(c.sel.ListReady)); err != nil {
		return fmt.Errorf("filtered listing page not ready: %w", err)
	}
	sum.Filtered = c.readResultTotal(ctx, logger, "filtered")
	if !countsPlausible(sum.Unfiltered, sum.Filtered) {
		logger.Warn("filtered result count exceeds unfiltered count",
			zap.Int("unfiltered", sum.Unfiltered), zap.Int("filtered", sum.Filtered))
	}
	return nil
}

// countsPlausible reports whether a filtered count can follow an unfiltered
// one. Unknown counts are never flagged.
func countsPlausible(unfiltered, filtered int) bool {
	if unfiltered < 0 || filtered < 0 {
		return true
	}
	return filtered <= unfiltered
}

// selectOption clicks the open listbox option whose text equals want,
// falling back to the first option containing it.
func (c *Controller) selectOption(ctx context.Context, want string) error {
	options := browser.CSS(c.sel.FilterOption)
	if err := c.surface.WaitVisible(ctx, options); err != nil {
		return err
	}
	n, err := c.surface.Count(ctx, options)
	if err != nil {
		return err
	}
	want = normalize.Line(want)
	contains := -1
	for i := 0; i < n; i++ {
		text, err := c.surface.Text(ctx, options.Nth(i))
		if err != nil {
			if transient(err) {
				continue
			}
			return err
		}
		text = normalize.Line(text)
		if strings.EqualFold(text, want) {
			return c.surface.Click(ctx, options.Nth(i))
		}
		if contains < 0 && strings.Contains(strings.ToLower(text), strings.ToLower(want)) {
			contains = i
		}
	}
	if contains >= 0 {
		return c.surface.Click(ctx, options.Nth(contains))
	}
	return fmt.Errorf("no option matches: %w", browser.ErrNotFound)
}
