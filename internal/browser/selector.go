package browser

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Selector addresses an element on the current page: a CSS query,
// optionally narrowed to one match by position and then to a descendant.
// The zero value matches nothing.
type Selector struct {
	css     string
	index   int
	indexed bool
	child   string
}

// CSS returns a selector for the first element matching css.
func CSS(css string) Selector {
	return Selector{css: css}
}

// Nth narrows the selector to the i-th match (zero based).
func (s Selector) Nth(i int) Selector {
	s.index = i
	s.indexed = true
	return s
}

// Find narrows the selector to the first descendant matching css.
func (s Selector) Find(css string) Selector {
	s.child = css
	return s
}

// Query returns the base CSS query.
func (s Selector) Query() string {
	return s.css
}

// Index returns the match position and whether one was set.
func (s Selector) Index() (int, bool) {
	return s.index, s.indexed
}

// Child returns the descendant query, if any.
func (s Selector) Child() string {
	return s.child
}

// String renders the selector for logs.
func (s Selector) String() string {
	out := s.css
	if s.indexed {
		out += "[" + strconv.Itoa(s.index) + "]"
	}
	if s.child != "" {
		out += " >> " + s.child
	}
	return out
}

// simple reports whether the selector is a plain CSS query.
func (s Selector) simple() bool {
	return !s.indexed && s.child == ""
}

// jsPath returns a JavaScript expression evaluating to the element or
// undefined.
func (s Selector) jsPath() string {
	var expr string
	if s.indexed {
		expr = fmt.Sprintf("document.querySelectorAll(%s)[%d]", quote(s.css), s.index)
	} else {
		expr = fmt.Sprintf("document.querySelector(%s)", quote(s.css))
	}
	if s.child != "" {
		expr = fmt.Sprintf("%s?.querySelector(%s)", expr, quote(s.child))
	}
	return expr
}

// countExpr returns a JavaScript expression evaluating to the number of
// elements the selector would match if it were not narrowed to one.
func (s Selector) countExpr() string {
	switch {
	case s.child == "":
		if s.indexed {
			return fmt.Sprintf("(document.querySelectorAll(%s)[%d] ? 1 : 0)", quote(s.css), s.index)
		}
		return fmt.Sprintf("document.querySelectorAll(%s).length", quote(s.css))
	case s.indexed:
		return fmt.Sprintf("(document.querySelectorAll(%s)[%d]?.querySelectorAll(%s).length ?? 0)",
			quote(s.css), s.index, quote(s.child))
	default:
		return fmt.Sprintf("(document.querySelector(%s)?.querySelectorAll(%s).length ?? 0)",
			quote(s.css), quote(s.child))
	}
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
