// Package browser drives the rendering surface: one interactive browser
// session that navigates, waits for elements, reads them and acts on them.
package browser

import (
	"context"
	"errors"
)

// ErrNotFound marks an element that could not be resolved within the wait
// budget. It is an item-level condition, not a session failure.
var ErrNotFound = errors.New("element not found")

// ErrTimeout marks a wait for visibility that exceeded its budget.
var ErrTimeout = errors.New("wait timed out")

// Surface is one stateful browsing session. Calls are sequential; a Surface
// is not safe for concurrent use.
type Surface interface {
	// Navigate loads url in the session.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until sel is visible or the wait budget ends.
	WaitVisible(ctx context.Context, sel Selector) error
	// Text returns the rendered text of sel.
	Text(ctx context.Context, sel Selector) (string, error)
	// HTML returns the inner markup of sel.
	HTML(ctx context.Context, sel Selector) (string, error)
	// Attribute returns the named attribute of sel and whether it is set.
	Attribute(ctx context.Context, sel Selector, name string) (string, bool, error)
	// Click activates sel.
	Click(ctx context.Context, sel Selector) error
	// Fill replaces the value of the input sel with text, as typed.
	Fill(ctx context.Context, sel Selector, text string) error
	// Back returns to the previous history entry.
	Back(ctx context.Context) error
	// Count returns how many elements sel matches without waiting.
	Count(ctx context.Context, sel Selector) (int, error)
}
