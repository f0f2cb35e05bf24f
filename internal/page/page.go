// Package page defines the automation interface the core drives: a Page is
// one browser tab, an Engine hands out tabs. The production implementation
// lives in internal/browser (Chrome over CDP); tests use pagetest.Fake.
package page

import (
	"context"
	"errors"
)

// ErrNoElement is returned (possibly wrapped) when a selector matches nothing.
var ErrNoElement = errors.New("page: no element matches selector")

// Info is the page's current location.
type Info struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ElementState is the DOM state a presence wait targets.
type ElementState string

const (
	StateAttached ElementState = "attached"
	StateDetached ElementState = "detached"
	StateVisible  ElementState = "visible"
)

// Page is one open tab. Methods block until the engine answers; waits
// honour ctx deadlines.
type Page interface {
	Info(ctx context.Context) (Info, error)

	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Reload(ctx context.Context) error
	// WaitLoad waits for the load event of the current document.
	WaitLoad(ctx context.Context) error

	Click(ctx context.Context, selector string) error
	// Fill replaces the value of an input; Type appends keystrokes.
	Fill(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, value string) error
	// Press sends one key. An empty selector targets the focused element.
	Press(ctx context.Context, selector, key string) error
	Hover(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error
	// SelectOption selects the option whose visible text is value.
	SelectOption(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	// Scroll scrolls the viewport one screen in direction ("up" or "down"),
	// or scrolls selector into view when it is not empty.
	Scroll(ctx context.Context, selector, direction string) error

	// WaitFor blocks until selector reaches state or ctx is done.
	WaitFor(ctx context.Context, selector string, state ElementState) error
	Count(ctx context.Context, selector string) (int, error)
	// Text returns the text content of the first match.
	Text(ctx context.Context, selector string) (string, error)
	// HTML returns the outer HTML of the first match, or of the document
	// when selector is empty.
	HTML(ctx context.Context, selector string) (string, error)

	Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error)
	// Screenshot returns PNG bytes of the viewport, the full page, or the
	// first element matching selector.
	Screenshot(ctx context.Context, selector string, fullPage bool) ([]byte, error)

	// Listen subscribes h to the page's event stream. The subscription is
	// active when Listen returns; the returned wait function blocks until
	// ctx is cancelled and the subscription is released.
	Listen(ctx context.Context, h Handlers) (wait func())

	Close() error
}

// Engine owns the browser process and creates tabs.
type Engine interface {
	NewPage(ctx context.Context, url string) (Page, error)
	Close() error
}

// Launcher starts an Engine. The session registry calls it lazily.
type Launcher func(ctx context.Context) (Engine, error)
