package crawler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-ingest/internal/browser"
	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
	"github.com/JakeFAU/careers-ingest/internal/normalize"
	"github.com/JakeFAU/careers-ingest/internal/storage"
)

type outcome string

const (
	outcomePublished outcome = "published"
	outcomeDuplicate outcome = "duplicate"
	outcomeSkipped   outcome = "skipped"
	outcomeFailed    outcome = "failed"
)

// extraction is the raw data read for one listing.
type extraction struct {
	externalID string
	title      string
	rawHTML    string
	dateText   string
}

// processItem extracts, builds and publishes the listing at index i of the
// current page. A returned error ends the run; every listing-level problem
// is reported through the outcome instead.
func (c *Controller) processItem(ctx context.Context, logger *zap.Logger, i int) (outcome, error) {
	ex, err := c.extract(ctx, logger, i)
	if err != nil {
		if transient(err) {
			logger.Warn("skipping listing", zap.Error(err))
			return outcomeSkipped, nil
		}
		return "", err
	}
	logger = logger.With(zap.String("job_id", ex.externalID))

	draft := listing.NewDraft(c.cfg.Company).
		WithSummary(ex.externalID, normalize.Line(ex.title)).
		WithContent(normalize.Content(ex.rawHTML))
	date, err := normalize.Date(ex.dateText)
	if err != nil {
		logger.Warn("date posted not parsed; publishing without date", zap.Error(err))
	}
	rec, err := draft.WithDate(date).Record()
	if err != nil {
		logger.Warn("skipping listing", zap.Error(err))
		return outcomeSkipped, nil
	}

	if c.cfg.Debug {
		c.archiveRaw(ctx, logger, ex)
	}

	res, err := c.publisher.PublishIfNew(ctx, rec, rec.Identity())
	switch {
	case err == nil && res == gateway.Published:
		return outcomePublished, nil
	case err == nil:
		return outcomeDuplicate, nil
	case storeFatal(err):
		return "", err
	default:
		logger.Error("publish failed", zap.Error(err))
		return outcomeFailed, nil
	}
}

// extract reads the summary from the list, opens the detail view, reads it
// and returns to the list. Element-level failures before the detail view is
// opened are transient. Once the detail view is open, failing to get back
// to a ready list is fatal because the session position is unknown.
func (c *Controller) extract(ctx context.Context, logger *zap.Logger, i int) (extraction, error) {
	var ex extraction
	item := browser.CSS(c.sel.Item).Nth(i)

	title, err := c.surface.Text(ctx, item.Find(c.sel.ItemTitle))
	if err != nil {
		return ex, fmt.Errorf("read title: %w", err)
	}
	ex.title = title

	if c.sel.ItemID != "" {
		label, ok, err := c.surface.Attribute(ctx, item.Find(c.sel.ItemID), c.sel.ItemIDAttr)
		switch {
		case err != nil && !transient(err):
			return ex, fmt.Errorf("read job id: %w", err)
		case err != nil || !ok:
			logger.Warn("job id not found", zap.NamedError("cause", err))
		default:
			ex.externalID = c.externalID(label)
		}
	}

	detail := item.Find(c.sel.DetailLink)
	n, err := c.surface.Count(ctx, detail)
	if err != nil {
		return ex, fmt.Errorf("resolve detail affordance: %w", err)
	}
	if n == 0 {
		return ex, fmt.Errorf("detail affordance for %q: %w", normalize.Line(title), browser.ErrNotFound)
	}
	if err := c.surface.Click(ctx, detail); err != nil {
		return ex, fmt.Errorf("open detail: %w", err)
	}

	readErr := c.readDetail(ctx, logger, &ex)
	if err := c.returnToList(ctx); err != nil {
		if readErr != nil {
			logger.Warn("detail read failed before session loss", zap.Error(readErr))
		}
		return ex, err
	}
	return ex, readErr
}

func (c *Controller) readDetail(ctx context.Context, logger *zap.Logger, ex *extraction) error {
	if err := c.surface.WaitVisible(ctx, browser.CSS(c.sel.DetailReady)); err != nil {
		return fmt.Errorf("detail not ready: %w", err)
	}
	raw, err := c.surface.HTML(ctx, browser.CSS(c.sel.DetailContent))
	if err != nil {
		return fmt.Errorf("read detail content: %w", err)
	}
	ex.rawHTML = raw

	if c.sel.DatePosted == "" {
		return nil
	}
	dateText, err := c.surface.Text(ctx, browser.CSS(c.sel.DatePosted))
	switch {
	case err == nil:
		ex.dateText = dateText
	case transient(err):
		logger.Warn("date posted not found", zap.Error(err))
	default:
		return fmt.Errorf("read date posted: %w", err)
	}
	return nil
}

// returnToList goes back from the detail view and waits for the list.
// Any failure here is fatal for the run.
func (c *Controller) returnToList(ctx context.Context) error {
	if err := c.surface.Back(ctx); err != nil {
		return fmt.Errorf("navigate back: %w", fatal(err))
	}
	if err := c.surface.WaitVisible(ctx, browser.CSS(c.sel.ListReady)); err != nil {
		return fmt.Errorf("listing page not ready after back: %w", fatal(err))
	}
	return nil
}

func (c *Controller) externalID(label string) string {
	id := strings.TrimSpace(label)
	if c.sel.ItemIDPrefix != "" && len(id) >= len(c.sel.ItemIDPrefix) &&
		strings.EqualFold(id[:len(c.sel.ItemIDPrefix)], c.sel.ItemIDPrefix) {
		id = strings.TrimSpace(id[len(c.sel.ItemIDPrefix):])
	}
	return id
}

func (c *Controller) archiveRaw(ctx context.Context, logger *zap.Logger, ex extraction) {
	if c.archive == nil {
		return
	}
	name := ex.externalID
	if name == "" {
		name = ex.title
	}
	path := storage.RawPath(c.clock.Now(), name)
	uri, err := c.archive.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(ex.rawHTML))
	if err != nil {
		logger.Warn("archive raw content failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("raw content archived", zap.String("uri", uri))
}

// sessionError hides element-level sentinels so that a failure to restore
// the list is never mistaken for a skippable listing problem.
type sessionError struct {
	err error
}

func (e sessionError) Error() string {
	return "session lost: " + e.err.Error()
}

func fatal(err error) error {
	return sessionError{err: err}
}
