// Package crawler drives a paginated careers site through the rendering
// surface and feeds every listing through normalization, identity and the
// dedup-publish gateway.
package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the settings for one crawl run. It is decoupled from viper
// so the controller can be built directly in tests.
type Config struct {
	TargetURL      string
	Company        string
	LocationFilter string
	CategoryFilter string
	Debug          bool
	// MaxPages stops pagination after this many pages; zero means no limit.
	MaxPages int
	// PageChange bounds the wait for the list to show a new page after the
	// next affordance is clicked; PagePoll is how often it is re-read. Zero
	// selects the defaults.
	PageChange time.Duration
	PagePoll   time.Duration
	Selectors  Selectors
}

const (
	defaultPageChange = 15 * time.Second
	defaultPagePoll   = 250 * time.Millisecond
)

// Selectors is the site profile: the CSS queries the controller uses to
// find things on the listing and detail pages.
type Selectors struct {
	ResultStatus   string `mapstructure:"result_status"`
	LocationInput  string `mapstructure:"location_input"`
	FilterOption   string `mapstructure:"filter_option"`
	CategoryToggle string `mapstructure:"category_toggle"`
	ListReady      string `mapstructure:"list_ready"`
	Item           string `mapstructure:"item"`
	ItemTitle      string `mapstructure:"item_title"`
	ItemID         string `mapstructure:"item_id"`
	ItemIDAttr     string `mapstructure:"item_id_attribute"`
	ItemIDPrefix   string `mapstructure:"item_id_prefix"`
	DetailLink     string `mapstructure:"detail_link"`
	DetailReady    string `mapstructure:"detail_ready"`
	DetailContent  string `mapstructure:"detail_content"`
	DatePosted     string `mapstructure:"date_posted"`
	NextPage       string `mapstructure:"next_page"`
}

// DefaultSelectors returns the profile of the Microsoft careers search.
func DefaultSelectors() Selectors {
	return Selectors{
		ResultStatus:   `div[role="status"][aria-live="polite"]`,
		LocationInput:  `input[placeholder="City, state, or country/region"]`,
		FilterOption:   `[role="listbox"] [role="option"]`,
		CategoryToggle: `button[aria-label^="Experience"]`,
		ListReady:      `[aria-label="job list"] [role="listitem"]`,
		Item:           `.ms-List-cell`,
		ItemTitle:      `h2`,
		ItemID:         `div[aria-label^="Job item"]`,
		ItemIDAttr:     `aria-label`,
		ItemIDPrefix:   `Job item`,
		DetailLink:     `button[aria-label^="See details"]`,
		DetailReady:    `#main-content`,
		DetailContent:  `#main-content`,
		DatePosted:     `div[role="main"]`,
		NextPage:       `button[aria-label="Go to next page"]`,
	}
}

// Validate reports the first missing or malformed setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TargetURL) == "" {
		return fmt.Errorf("target_url is required")
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target_url %q is not an absolute URL", c.TargetURL)
	}
	if strings.TrimSpace(c.Company) == "" {
		return fmt.Errorf("company is required")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0")
	}
	if c.PageChange < 0 || c.PagePoll < 0 {
		return fmt.Errorf("page change timeout and poll interval must be >= 0")
	}
	s := c.Selectors
	required := []struct {
		key, value string
	}{
		{"selectors.list_ready", s.ListReady},
		{"selectors.item", s.Item},
		{"selectors.item_title", s.ItemTitle},
		{"selectors.detail_link", s.DetailLink},
		{"selectors.detail_ready", s.DetailReady},
		{"selectors.detail_content", s.DetailContent},
		{"selectors.next_page", s.NextPage},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}
	if c.LocationFilter != "" && (s.LocationInput == "" || s.FilterOption == "") {
		return fmt.Errorf("selectors.location_input and selectors.filter_option are required with filters.location")
	}
	if c.CategoryFilter != "" && (s.CategoryToggle == "" || s.FilterOption == "") {
		return fmt.Errorf("selectors.category_toggle and selectors.filter_option are required with filters.category")
	}
	if s.ItemID != "" && s.ItemIDAttr == "" {
		return fmt.Errorf("selectors.item_id_attribute is required with selectors.item_id")
	}
	return nil
}
