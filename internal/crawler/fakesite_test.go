package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/careers-ingest/internal/browser"
)

// testSelectors is a compact site profile understood by fakeSite.
var testSelectors = Selectors{
	ResultStatus:   "#status",
	LocationInput:  "#location",
	FilterOption:   ".option",
	CategoryToggle: "#category",
	ListReady:      "#list",
	Item:           ".item",
	ItemTitle:      "h2",
	ItemID:         ".job",
	ItemIDAttr:     "aria-label",
	ItemIDPrefix:   "Job item",
	DetailLink:     ".details",
	DetailReady:    "#detail",
	DetailContent:  "#content",
	DatePosted:     ".date",
	NextPage:       "#next",
}

type fakeListing struct {
	id       string
	title    string
	html     string
	date     string
	noDetail bool
}

// fakeSite is an in-memory careers site behind the browser.Surface API.
type fakeSite struct {
	mu sync.Mutex

	pages      [][]fakeListing
	unfiltered int
	filtered   int
	locations  []string
	categories []string

	// failListOnPage makes the list readiness wait fail hard on that page
	// index; -1 disables it.
	failListOnPage int
	// cancelOnPage cancels the run when that page index is reached.
	cancelOnPage int
	cancel       context.CancelFunc
	// renderLag keeps the previous page on screen for that many list
	// readiness waits after the next click.
	renderLag int
	// stuckNext leaves the next affordance enabled without advancing.
	stuckNext bool

	page          int
	stale         int
	detail        int
	options       []string
	filterApplied bool
	selected      []string
	visits        []int
	detailOpen    []string
	backCount     int
	navigated     []string
}

func newFakeSite(pages ...[]fakeListing) *fakeSite {
	return &fakeSite{
		pages:          pages,
		unfiltered:     1000,
		filtered:       40,
		locations:      []string{"United States, Redmond", "United States"},
		categories:     []string{"Professionals", "Students and graduates"},
		failListOnPage: -1,
		cancelOnPage:   -1,
		detail:         -1,
	}
}

var errTargetCrashed = errors.New("target crashed")

func (s *fakeSite) current() []fakeListing {
	if s.stale > 0 && s.page > 0 {
		return s.pages[s.page-1]
	}
	if s.page < len(s.pages) {
		return s.pages[s.page]
	}
	return nil
}

func (s *fakeSite) itemAt(sel browser.Selector) (fakeListing, bool) {
	i, ok := sel.Index()
	if !ok || s.detail >= 0 {
		return fakeListing{}, false
	}
	items := s.current()
	if i < 0 || i >= len(items) {
		return fakeListing{}, false
	}
	return items[i], true
}

func notFound(sel browser.Selector) error {
	return fmt.Errorf("%s: %w", sel, browser.ErrNotFound)
}

func (s *fakeSite) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	s.page = 0
	s.detail = -1
	s.filterApplied = false
	s.visits = append(s.visits, 0)
	return nil
}

func (s *fakeSite) WaitVisible(ctx context.Context, sel browser.Selector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sel.Query() {
	case testSelectors.ListReady:
		if s.page == s.cancelOnPage && s.cancel != nil {
			s.cancel()
			return ctx.Err()
		}
		if s.page == s.failListOnPage {
			return errTargetCrashed
		}
		if s.detail >= 0 {
			return fmt.Errorf("%s: %w", sel, browser.ErrTimeout)
		}
		if s.stale > 0 {
			s.stale--
		}
		return nil
	case testSelectors.DetailReady:
		if s.detail < 0 {
			return fmt.Errorf("%s: %w", sel, browser.ErrTimeout)
		}
		return nil
	case testSelectors.FilterOption:
		if len(s.options) == 0 {
			return fmt.Errorf("%s: %w", sel, browser.ErrTimeout)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", sel, browser.ErrTimeout)
}

func (s *fakeSite) Text(_ context.Context, sel browser.Selector) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sel.Query() {
	case testSelectors.ResultStatus:
		total := s.unfiltered
		if s.filterApplied {
			total = s.filtered
		}
		return fmt.Sprintf("Showing 1-20 of %d results", total), nil
	case testSelectors.FilterOption:
		i, _ := sel.Index()
		if i < 0 || i >= len(s.options) {
			return "", notFound(sel)
		}
		return s.options[i], nil
	case testSelectors.DatePosted:
		if s.detail < 0 {
			return "", notFound(sel)
		}
		l := s.current()[s.detail]
		if l.date == "" {
			return "", notFound(sel)
		}
		return "Job number " + l.id + "\nDate posted\n" + l.date, nil
	case testSelectors.Item:
		if sel.Child() != testSelectors.ItemTitle {
			return "", notFound(sel)
		}
		l, ok := s.itemAt(sel)
		if !ok {
			return "", notFound(sel)
		}
		return l.title, nil
	}
	return "", notFound(sel)
}

func (s *fakeSite) HTML(_ context.Context, sel browser.Selector) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel.Query() != testSelectors.DetailContent || s.detail < 0 {
		return "", notFound(sel)
	}
	return s.current()[s.detail].html, nil
}

func (s *fakeSite) Attribute(_ context.Context, sel browser.Selector, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sel.Query() {
	case testSelectors.NextPage:
		if name == "disabled" && s.page >= len(s.pages)-1 {
			return "", true, nil
		}
		return "", false, nil
	case testSelectors.Item:
		l, ok := s.itemAt(sel)
		if !ok || sel.Child() != testSelectors.ItemID || name != "aria-label" {
			return "", false, notFound(sel)
		}
		return "Job item " + l.id, true, nil
	}
	return "", false, notFound(sel)
}

func (s *fakeSite) Click(_ context.Context, sel browser.Selector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sel.Query() {
	case testSelectors.NextPage:
		if s.page >= len(s.pages)-1 {
			return fmt.Errorf("next page disabled")
		}
		if !s.stuckNext {
			s.page++
			s.stale = s.renderLag
		}
		s.visits = append(s.visits, s.page)
		return nil
	case testSelectors.CategoryToggle:
		s.options = append([]string(nil), s.categories...)
		return nil
	case testSelectors.FilterOption:
		i, _ := sel.Index()
		if i < 0 || i >= len(s.options) {
			return notFound(sel)
		}
		s.selected = append(s.selected, s.options[i])
		s.options = nil
		s.filterApplied = true
		return nil
	case testSelectors.Item:
		l, ok := s.itemAt(sel)
		if !ok || sel.Child() != testSelectors.DetailLink || l.noDetail {
			return notFound(sel)
		}
		i, _ := sel.Index()
		s.detail = i
		s.detailOpen = append(s.detailOpen, l.id)
		return nil
	}
	return notFound(sel)
}

func (s *fakeSite) Fill(_ context.Context, sel browser.Selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel.Query() != testSelectors.LocationInput {
		return notFound(sel)
	}
	s.options = nil
	if text != "" {
		s.options = append(s.options, s.locations...)
	}
	return nil
}

func (s *fakeSite) Back(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backCount++
	s.detail = -1
	return nil
}

func (s *fakeSite) Count(_ context.Context, sel browser.Selector) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sel.Query() {
	case testSelectors.Item:
		if _, indexed := sel.Index(); !indexed {
			if s.detail >= 0 {
				return 0, nil
			}
			return len(s.current()), nil
		}
		l, ok := s.itemAt(sel)
		if !ok {
			return 0, nil
		}
		if sel.Child() == testSelectors.DetailLink && l.noDetail {
			return 0, nil
		}
		return 1, nil
	case testSelectors.FilterOption:
		return len(s.options), nil
	case testSelectors.NextPage:
		return 1, nil
	}
	return 0, nil
}

func (s *fakeSite) visited() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.visits...)
}
