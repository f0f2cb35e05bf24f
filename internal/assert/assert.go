// Package assert evaluates declarative conditions against page state.
//
// URL, title and count conditions are checked once. Presence conditions
// (element_exists, element_not_exists, element_visible) wait up to the
// timeout; element_text_contains waits for attachment and then reads the
// text once.
package assert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/domdrive/internal/page"
)

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = 5 * time.Second

// Condition kinds.
const (
	URLContains         = "url_contains"
	URLEquals           = "url_equals"
	TitleContains       = "title_contains"
	TitleEquals         = "title_equals"
	ElementExists       = "element_exists"
	ElementNotExists    = "element_not_exists"
	ElementVisible      = "element_visible"
	ElementTextContains = "element_text_contains"
	ElementCount        = "element_count"
)

// Condition is a tagged union: exactly one field should be set. When
// several are set the first in declaration order wins.
type Condition struct {
	URLContains         *string         `json:"url_contains,omitempty"`
	URLEquals           *string         `json:"url_equals,omitempty"`
	TitleContains       *string         `json:"title_contains,omitempty"`
	TitleEquals         *string         `json:"title_equals,omitempty"`
	ElementExists       *string         `json:"element_exists,omitempty"`
	ElementNotExists    *string         `json:"element_not_exists,omitempty"`
	ElementVisible      *string         `json:"element_visible,omitempty"`
	ElementTextContains *TextCondition  `json:"element_text_contains,omitempty"`
	ElementCount        *CountCondition `json:"element_count,omitempty"`
}

// TextCondition checks an element's text content.
type TextCondition struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// CountCondition checks how many elements match. Equals is exact, Min and
// Max are inclusive bounds; at least one must be set.
type CountCondition struct {
	Selector string `json:"selector"`
	Equals   *int   `json:"equals,omitempty"`
	Min      *int   `json:"min,omitempty"`
	Max      *int   `json:"max,omitempty"`
}

// Kind returns the condition's variant, or "" when none is set.
func (c Condition) Kind() string {
	switch {
	case c.URLContains != nil:
		return URLContains
	case c.URLEquals != nil:
		return URLEquals
	case c.TitleContains != nil:
		return TitleContains
	case c.TitleEquals != nil:
		return TitleEquals
	case c.ElementExists != nil:
		return ElementExists
	case c.ElementNotExists != nil:
		return ElementNotExists
	case c.ElementVisible != nil:
		return ElementVisible
	case c.ElementTextContains != nil:
		return ElementTextContains
	case c.ElementCount != nil:
		return ElementCount
	}
	return ""
}

// Result is the outcome of one check.
type Result struct {
	Success   bool   `json:"success"`
	Condition string `json:"condition"`
	Expected  string `json:"expected,omitempty"`
	Actual    string `json:"actual,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Checker evaluates conditions.
type Checker struct{}

// Check evaluates c against p. It never returns nil.
func (Checker) Check(ctx context.Context, p page.Page, c Condition, timeout time.Duration) *Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	kind := c.Kind()
	res := &Result{Condition: kind}

	switch kind {
	case URLContains, URLEquals, TitleContains, TitleEquals:
		checkLocation(ctx, p, c, res)
	case ElementExists:
		waitState(ctx, p, *c.ElementExists, page.StateAttached, timeout, res,
			fmt.Sprintf("element %q to exist", *c.ElementExists))
	case ElementNotExists:
		waitState(ctx, p, *c.ElementNotExists, page.StateDetached, timeout, res,
			fmt.Sprintf("element %q not to exist", *c.ElementNotExists))
	case ElementVisible:
		waitState(ctx, p, *c.ElementVisible, page.StateVisible, timeout, res,
			fmt.Sprintf("element %q to be visible", *c.ElementVisible))
	case ElementTextContains:
		checkText(ctx, p, *c.ElementTextContains, timeout, res)
	case ElementCount:
		checkCount(ctx, p, *c.ElementCount, res)
	default:
		res.Error = "unknown condition"
	}
	return res
}

func checkLocation(ctx context.Context, p page.Page, c Condition, res *Result) {
	info, err := p.Info(ctx)
	if err != nil {
		res.Error = fmt.Sprintf("read page info: %v", err)
		return
	}

	var field, actual, want string
	var contains bool
	switch res.Condition {
	case URLContains:
		field, actual, want, contains = "URL", info.URL, *c.URLContains, true
	case URLEquals:
		field, actual, want = "URL", info.URL, *c.URLEquals
	case TitleContains:
		field, actual, want, contains = "title", info.Title, *c.TitleContains, true
	case TitleEquals:
		field, actual, want = "title", info.Title, *c.TitleEquals
	}

	verb := "to equal"
	ok := actual == want
	if contains {
		verb = "to contain"
		ok = strings.Contains(actual, want)
	}
	res.Expected = fmt.Sprintf("%s %s %q", field, verb, want)
	res.Actual = actual
	res.Success = ok
	if !ok {
		res.Error = fmt.Sprintf("expected %s %s %q, got %q", field, verb, want, actual)
	}
}

func waitState(ctx context.Context, p page.Page, selector string, state page.ElementState, timeout time.Duration, res *Result, expected string) {
	res.Expected = expected
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.WaitFor(wctx, selector, state); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("expected %s within %dms", expected, timeout.Milliseconds())
		} else {
			res.Error = fmt.Sprintf("expected %s: %v", expected, err)
		}
		return
	}
	res.Success = true
}

func checkText(ctx context.Context, p page.Page, tc TextCondition, timeout time.Duration, res *Result) {
	res.Expected = fmt.Sprintf("element %q text to contain %q", tc.Selector, tc.Text)

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.WaitFor(wctx, tc.Selector, page.StateAttached); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("expected element %q to exist within %dms", tc.Selector, timeout.Milliseconds())
		} else {
			res.Error = fmt.Sprintf("wait for %q: %v", tc.Selector, err)
		}
		return
	}

	text, err := p.Text(ctx, tc.Selector)
	if err != nil {
		res.Error = fmt.Sprintf("read text of %q: %v", tc.Selector, err)
		return
	}
	res.Actual = text
	if !strings.Contains(text, tc.Text) {
		res.Error = fmt.Sprintf("expected %s, got %q", res.Expected, text)
		return
	}
	res.Success = true
}

func checkCount(ctx context.Context, p page.Page, cc CountCondition, res *Result) {
	if cc.Equals == nil && cc.Min == nil && cc.Max == nil {
		res.Error = "element_count requires equals, min or max"
		return
	}

	var parts []string
	if cc.Equals != nil {
		parts = append(parts, fmt.Sprintf("== %d", *cc.Equals))
	}
	if cc.Min != nil {
		parts = append(parts, fmt.Sprintf(">= %d", *cc.Min))
	}
	if cc.Max != nil {
		parts = append(parts, fmt.Sprintf("<= %d", *cc.Max))
	}
	res.Expected = fmt.Sprintf("count(%s) %s", cc.Selector, strings.Join(parts, " and "))

	n, err := p.Count(ctx, cc.Selector)
	if err != nil {
		res.Error = fmt.Sprintf("count %q: %v", cc.Selector, err)
		return
	}
	res.Actual = fmt.Sprint(n)

	ok := (cc.Equals == nil || n == *cc.Equals) &&
		(cc.Min == nil || n >= *cc.Min) &&
		(cc.Max == nil || n <= *cc.Max)
	if !ok {
		res.Error = fmt.Sprintf("expected %s, got %d", res.Expected, n)
		return
	}
	res.Success = true
}
