package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/careers-ingest/internal/clock/system"
	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
	"github.com/JakeFAU/careers-ingest/internal/store/memory"
	blobmemory "github.com/JakeFAU/careers-ingest/internal/storage/memory"
)

const (
	testStream = "jobs"
	testGroup  = "workers"
	testSet    = "seen"
)

type harness struct {
	site  *fakeSite
	store *memory.Store
	logs  *observer.ObservedLogs
	ctrl  *Controller
}

func testConfig() Config {
	return Config{
		TargetURL: "https://jobs.example.com/search",
		Company:   "Microsoft",
		Selectors: testSelectors,
	}
}

func newHarness(t *testing.T, site *fakeSite, store *memory.Store, cfg Config, deps Dependencies) harness {
	t.Helper()
	if store == nil {
		store = memory.NewStore()
	}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	gw, err := gateway.New(gateway.Config{Stream: testStream, Group: testGroup, DedupSet: testSet}, store, store, logger)
	require.NoError(t, err)

	deps.Surface = site
	deps.Publisher = gw
	deps.Logger = logger
	ctrl, err := NewController(cfg, deps)
	require.NoError(t, err)
	return harness{site: site, store: store, logs: logs, ctrl: ctrl}
}

func listings(page, n int) []fakeListing {
	out := make([]fakeListing, n)
	for i := range out {
		id := fmt.Sprintf("%d%02d", page, i)
		out[i] = fakeListing{
			id:    id,
			title: fmt.Sprintf("Software Engineer %s", id),
			html:  fmt.Sprintf("<h1>Role %s</h1><p>Build &amp; ship.</p><script>x()</script>", id),
			date:  "Jan 5, 2024",
		}
	}
	return out
}

func entryTitles(entries []memory.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Fields.Map()[listing.FieldTitle]
	}
	return out
}

func TestRunPublishesEveryPageInOrder(t *testing.T) {
	t.Parallel()

	site := newFakeSite(listings(1, 2), listings(2, 2), listings(3, 2))
	h := newHarness(t, site, nil, testConfig(), Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 6, sum.Listings)
	assert.Equal(t, 6, sum.Published)
	assert.Zero(t, sum.Duplicates+sum.Skipped+sum.Failed)
	assert.Equal(t, []int{0, 1, 2}, site.visited())
	assert.Equal(t, 6, site.backCount)

	entries := h.store.Entries(testStream)
	require.Len(t, entries, 6)
	assert.Equal(t, []string{
		"Software Engineer 100", "Software Engineer 101",
		"Software Engineer 200", "Software Engineer 201",
		"Software Engineer 300", "Software Engineer 301",
	}, entryTitles(entries))

	first := entries[0].Fields.Map()
	assert.Equal(t, "100", first[listing.FieldJobID])
	assert.Equal(t, "2024-01-05", first[listing.FieldDatePosted])
	assert.Equal(t, "Microsoft", first[listing.FieldCompany])
	assert.Equal(t, "Role 100\nBuild & ship.", first[listing.FieldContent])

	offset, ok := h.store.GroupOffset(testStream, testGroup)
	require.True(t, ok)
	assert.Zero(t, offset)
}

func TestRunStopsAtPageLimit(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxPages = 2
	site := newFakeSite(listings(1, 1), listings(2, 1), listings(3, 1))
	h := newHarness(t, site, nil, cfg, Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, []int{0, 1}, site.visited())
}

func TestRunWaitsForNextPageToRender(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PagePoll = time.Millisecond
	site := newFakeSite(listings(1, 2), listings(2, 2), listings(3, 2))
	site.renderLag = 3
	h := newHarness(t, site, nil, cfg, Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 6, sum.Published)
	assert.Zero(t, sum.Duplicates)
	assert.Equal(t, []string{
		"Software Engineer 100", "Software Engineer 101",
		"Software Engineer 200", "Software Engineer 201",
		"Software Engineer 300", "Software Engineer 301",
	}, entryTitles(h.store.Entries(testStream)))
}

func TestRunStopsWhenNextPageDoesNotAdvance(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PageChange = 20 * time.Millisecond
	cfg.PagePoll = time.Millisecond
	site := newFakeSite(listings(1, 2), listings(2, 2))
	site.stuckNext = true
	h := newHarness(t, site, nil, cfg, Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 2, sum.Published)
	assert.Equal(t, []int{0, 0}, site.visited())

	warned := h.logs.FilterMessage("next page did not advance; stopping").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
	assert.Equal(t, "id:Job item 100", warned[0].ContextMap()["first_item"])
	assert.Equal(t, 1, h.logs.FilterMessage("crawl finished").Len())
}

func TestRunSkipsUnresolvableListing(t *testing.T) {
	t.Parallel()

	page := listings(1, 5)
	page[2].noDetail = true
	site := newFakeSite(page)
	h := newHarness(t, site, nil, testConfig(), Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Published)
	assert.Equal(t, 1, sum.Skipped)
	assert.Len(t, h.store.Entries(testStream), 4)
	assert.Equal(t, 1, h.logs.FilterMessage("skipping listing").Len())
	assert.NotContains(t, entryTitles(h.store.Entries(testStream)), "Software Engineer 102")
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	first := newHarness(t, newFakeSite(listings(1, 3), listings(2, 3)), store, testConfig(), Dependencies{})
	sum, err := first.ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, sum.Published)

	second := newHarness(t, newFakeSite(listings(1, 3), listings(2, 3)), store, testConfig(), Dependencies{})
	sum, err = second.ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, sum.Published)
	assert.Equal(t, 6, sum.Duplicates)
	assert.Len(t, store.Entries(testStream), 6)
	assert.Len(t, store.Members(testSet), 6)
}

func TestRunPublishesListingWithUnparseableDate(t *testing.T) {
	t.Parallel()

	page := listings(1, 2)
	page[0].date = "sometime soon"
	page[1].date = ""
	h := newHarness(t, newFakeSite(page), nil, testConfig(), Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Published)

	for _, e := range h.store.Entries(testStream) {
		assert.Empty(t, e.Fields.Map()[listing.FieldDatePosted])
	}
	assert.Equal(t, 2, h.logs.FilterMessage("date posted not parsed; publishing without date").Len())
}

func TestRunAbortsOnSurfaceFailureKeepingPublished(t *testing.T) {
	t.Parallel()

	site := newFakeSite(listings(1, 2), listings(2, 2))
	site.failListOnPage = 1
	h := newHarness(t, site, nil, testConfig(), Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errTargetCrashed)
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 2, sum.Published)
	assert.Len(t, h.store.Entries(testStream), 2)
	assert.Equal(t, 1, h.logs.FilterMessage("crawl aborted").Len())
}

func TestRunAbortsWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	h := newHarness(t, newFakeSite(listings(1, 3)), store, testConfig(), Dependencies{})
	store.FailContains(fmt.Errorf("%w: connection refused", gateway.ErrUnavailable))

	sum, err := h.ctrl.Run(context.Background())
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, 1, sum.Listings)
	assert.Zero(t, sum.Published)
}

func TestRunCountsStoreFailuresAndContinues(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	h := newHarness(t, newFakeSite(listings(1, 3)), store, testConfig(), Dependencies{})
	store.FailAppend(errors.New("stream full"))

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Failed)
	assert.Empty(t, store.Entries(testStream))
	assert.Len(t, store.Members(testSet), 3)

	store.FailAppend(nil)
	again := newHarness(t, newFakeSite(listings(1, 3)), store, testConfig(), Dependencies{})
	sum, err = again.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Duplicates)
	assert.Empty(t, store.Entries(testStream))
}

func TestRunFailsFastWhenGroupCannotBeEnsured(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	site := newFakeSite(listings(1, 1))
	h := newHarness(t, site, store, testConfig(), Dependencies{})
	store.FailCreateGroup(errors.New("WRONGTYPE"))

	_, err := h.ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, site.navigated)
}

func TestRunAppliesFilters(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LocationFilter = "United States"
	cfg.CategoryFilter = "Students and graduates"
	site := newFakeSite(listings(1, 1))
	h := newHarness(t, site, nil, cfg, Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"United States", "Students and graduates"}, site.selected)
	assert.Equal(t, 1000, sum.Unfiltered)
	assert.Equal(t, 40, sum.Filtered)
	assert.Zero(t, h.logs.FilterMessage("filtered result count exceeds unfiltered count").Len())
}

func TestRunWarnsOnImplausibleCounts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CategoryFilter = "Students"
	site := newFakeSite(listings(1, 1))
	site.filtered = 5000
	h := newHarness(t, site, nil, cfg, Dependencies{})

	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Published)
	assert.Equal(t, []string{"Students and graduates"}, site.selected)
	assert.Equal(t, 1, h.logs.FilterMessage("filtered result count exceeds unfiltered count").Len())
}

func TestRunArchivesRawContentInDebug(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Debug = true
	blobs := blobmemory.NewBlobStore()
	clock := system.Fixed(time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC))
	page := listings(1, 2)
	h := newHarness(t, newFakeSite(page), nil, cfg, Dependencies{Archive: blobs, Clock: clock})

	_, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"raw/2024-03-14/100.html", "raw/2024-03-14/101.html"}, blobs.Paths())
	raw, ok := blobs.Get("raw/2024-03-14/100.html")
	require.True(t, ok)
	assert.Equal(t, page[0].html, string(raw))
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	site := newFakeSite(listings(1, 1), listings(2, 1))
	site.cancelOnPage = 1
	site.cancel = cancel
	h := newHarness(t, site, nil, testConfig(), Dependencies{})

	sum, err := h.ctrl.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Published)
}

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

func TestRunTagsRunID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeSite(listings(1, 1)), nil, testConfig(), Dependencies{IDs: fixedIDs("run-1")})
	sum, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", sum.RunID)

	finished := h.logs.FilterMessage("crawl finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "run-1", finished[0].ContextMap()["run_id"])
}
