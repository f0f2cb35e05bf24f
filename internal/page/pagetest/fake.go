// Package pagetest provides an in-memory page.Page and page.Engine for tests.
//
// The fake keeps a flat selector → element map instead of a DOM: a selector
// matches if it was registered with SetElement. Hooks (OnClick, OnKey,
// OnNavigate) let a test script page behaviour such as a click that logs to
// the console and fires a network request.
package pagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/domdrive/internal/page"
)

// PNG is the payload returned by Fake.Screenshot.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Element is one matchable element.
type Element struct {
	Text    string
	Value   string
	HTML    string
	Hidden  bool
	Checked bool
	Options []string
	// Count is the number of matches for the selector (0 means 1).
	Count int

	OnClick func(f *Fake)
	OnKey   func(f *Fake, key string)
}

type listener struct {
	h page.Handlers
}

// Fake is a scripted page.Page. The zero value is not usable; call New.
type Fake struct {
	mu        sync.Mutex
	url       string
	title     string
	history   []string
	pos       int
	elements  map[string]*Element
	listeners map[int]*listener
	nextID    int
	calls     []string
	faults    map[string]error
	panics    map[string]bool
	closed    bool

	// OnNavigate runs after every URL change caused by Navigate/Back/Forward.
	OnNavigate func(f *Fake, url string)
	// Extraction answers Extract; nil returns URL and title only.
	Extraction func(req page.ExtractRequest) (*page.ExtractResponse, error)
	// Document is returned by HTML("").
	Document string
}

// New returns a Fake showing url with the given title.
func New(url, title string) *Fake {
	return &Fake{
		url:       url,
		title:     title,
		history:   []string{url},
		elements:  make(map[string]*Element),
		listeners: make(map[int]*listener),
		faults:    make(map[string]error),
		panics:    make(map[string]bool),
	}
}

// SetElement registers (or replaces) the element matched by selector.
func (f *Fake) SetElement(selector string, el *Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[selector] = el
}

// RemoveElement makes selector match nothing.
func (f *Fake) RemoveElement(selector string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.elements, selector)
}

// SetElementAfter registers el once d has elapsed.
func (f *Fake) SetElementAfter(selector string, el *Element, d time.Duration) {
	time.AfterFunc(d, func() { f.SetElement(selector, el) })
}

// Element returns a copy of the element matched by selector.
func (f *Fake) Element(selector string) (Element, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[selector]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

// SetTitle changes the document title.
func (f *Fake) SetTitle(title string) {
	f.mu.Lock()
	f.title = title
	f.mu.Unlock()
}

// FailWith makes the named method return err until cleared with a nil err.
func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.faults, method)
		return
	}
	f.faults[method] = err
}

// PanicOn makes the named method panic.
func (f *Fake) PanicOn(method string) {
	f.mu.Lock()
	f.panics[method] = true
	f.mu.Unlock()
}

// Calls returns the interaction log, e.g. "click #submit".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Listeners returns the number of live Listen subscriptions.
func (f *Fake) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// enter records the call and applies injected faults.
func (f *Fake) enter(method string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, strings.TrimSpace(method+" "+strings.Join(args, " ")))
	err := f.faults[method]
	p := f.panics[method]
	closed := f.closed
	f.mu.Unlock()
	if p {
		panic("pagetest: injected panic in " + method)
	}
	if closed {
		return fmt.Errorf("pagetest: page closed")
	}
	return err
}

func (f *Fake) lookup(selector string) (*Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", page.ErrNoElement, selector)
	}
	return el, nil
}

func (f *Fake) snapshotListeners() []page.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]page.Handlers, 0, len(f.listeners))
	for id := 0; id < f.nextID; id++ {
		if l, ok := f.listeners[id]; ok {
			out = append(out, l.h)
		}
	}
	return out
}

// --- page.Page ---

func (f *Fake) Info(ctx context.Context) (page.Info, error) {
	if err := f.enter("info"); err != nil {
		return page.Info{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return page.Info{URL: f.url, Title: f.title}, nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := f.enter("navigate", url); err != nil {
		return err
	}
	f.mu.Lock()
	f.history = append(f.history[:f.pos+1], url)
	f.pos = len(f.history) - 1
	f.mu.Unlock()
	f.commit(url)
	return nil
}

func (f *Fake) Back(ctx context.Context) error {
	if err := f.enter("back"); err != nil {
		return err
	}
	return f.step(-1)
}

func (f *Fake) Forward(ctx context.Context) error {
	if err := f.enter("forward"); err != nil {
		return err
	}
	return f.step(1)
}

func (f *Fake) step(delta int) error {
	f.mu.Lock()
	next := f.pos + delta
	if next < 0 || next >= len(f.history) {
		f.mu.Unlock()
		return nil
	}
	f.pos = next
	url := f.history[next]
	f.mu.Unlock()
	f.commit(url)
	return nil
}

// commit sets the URL, fires frame navigation events and the OnNavigate hook.
func (f *Fake) commit(url string) {
	f.mu.Lock()
	f.url = url
	hook := f.OnNavigate
	f.mu.Unlock()
	f.EmitNavigation(url, true)
	if hook != nil {
		hook(f, url)
	}
}

func (f *Fake) Reload(ctx context.Context) error {
	if err := f.enter("reload"); err != nil {
		return err
	}
	f.mu.Lock()
	url := f.url
	f.mu.Unlock()
	f.EmitNavigation(url, true)
	return nil
}

func (f *Fake) WaitLoad(ctx context.Context) error {
	return f.enter("wait_load")
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := f.enter("click", selector); err != nil {
		return err
	}
	el, err := f.lookup(selector)
	if err != nil {
		return err
	}
	if el.OnClick != nil {
		el.OnClick(f)
	}
	return nil
}

func (f *Fake) Fill(ctx context.Context, selector, value string) error {
	if err := f.enter("fill", selector, value); err != nil {
		return err
	}
	el, err := f.lookup(selector)
	if err != nil {
		return err
	}
	f.mu.Lock()
	el.Value = value
	f.mu.Unlock()
	return nil
}

func (f *Fake) Type(ctx context.Context, selector, value string) error {
	if err := f.enter("type", selector, value); err != nil {
		return err
	}
	el, err := f.lookup(selector)
	if err != nil {
		return err
	}
	f.mu.Lock()
	el.Value += value
	f.mu.Unlock()
	return nil
}

func (f *Fake) Press(ctx context.Context, selector, key string) error {
	if err := f.enter("press", selector, key); err != nil {
		return err
	}
	if selector == "" {
		return nil
	}
	el, err := f.lookup(selector)
	if err != nil {
		return err
	}
	if el.OnKey != nil {
		el.OnKey(f, key)
	}
	return nil
}

func (f *Fake) Hover(ctx context.Context, selector string) error {
	if err := f.enter("hover", selector); err != nil {
		return err
	}
	_, err := f.lookup(selector)
	return err
}

func (f *Fake) Focus(ctx context.Context, selector string) error {
	if err := f.enter("focus", selector); err != nil {
		return err
	}
	_, err := f.lookup(selector)
	return err
}

func (f *Fake) SelectOption(ctx context.Context, selector, value string) error {
	if err := f.enter("select", selector, value); err != nil {
		return err
	}
	el, err := f.lookup(selector)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range el.Options {
		if o == value {
			el.Value = value
			return nil
		}
	}
	return fmt.Errorf("pagetest: no option %q in %s", value, selector)
}

func (f *Fake) SetChecked(ctx context.Context, selector string, checked bool) error {
	if err := f.enter("set_checked", selector, fmt.Sprint(checked)); err != nil {
		return err
	}
	el, err := f.lookup(selector)
	if err != nil {
		return err
	}
	f.mu.Lock()
	el.Checked = checked
	f.mu.Unlock()
	return nil
}

func (f *Fake) Scroll(ctx context.Context, selector, direction string) error {
	if err := f.enter("scroll", selector, direction); err != nil {
		return err
	}
	if selector == "" {
		return nil
	}
	_, err := f.lookup(selector)
	return err
}

func (f *Fake) WaitFor(ctx context.Context, selector string, state page.ElementState) error {
	if err := f.enter("wait_for", selector, string(state)); err != nil {
		return err
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		f.mu.Lock()
		el, ok := f.elements[selector]
		var done bool
		switch state {
		case page.StateAttached:
			done = ok
		case page.StateDetached:
			done = !ok
		case page.StateVisible:
			done = ok && !el.Hidden
		}
		f.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Fake) Count(ctx context.Context, selector string) (int, error) {
	if err := f.enter("count", selector); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[selector]
	if !ok {
		return 0, nil
	}
	if el.Count > 0 {
		return el.Count, nil
	}
	return 1, nil
}

func (f *Fake) Text(ctx context.Context, selector string) (string, error) {
	if err := f.enter("text", selector); err != nil {
		return "", err
	}
	el, err := f.lookup(selector)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return el.Text, nil
}

func (f *Fake) HTML(ctx context.Context, selector string) (string, error) {
	if err := f.enter("html", selector); err != nil {
		return "", err
	}
	if selector == "" {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.Document, nil
	}
	el, err := f.lookup(selector)
	if err != nil {
		return "", err
	}
	return el.HTML, nil
}

func (f *Fake) Extract(ctx context.Context, req page.ExtractRequest) (*page.ExtractResponse, error) {
	if err := f.enter("extract", req.Mode, req.Selector); err != nil {
		return nil, err
	}
	if f.Extraction != nil {
		return f.Extraction(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &page.ExtractResponse{Version: page.ExtractVersion, Title: f.title, URL: f.url}, nil
}

func (f *Fake) Screenshot(ctx context.Context, selector string, fullPage bool) ([]byte, error) {
	if err := f.enter("screenshot", selector); err != nil {
		return nil, err
	}
	if selector != "" {
		if _, err := f.lookup(selector); err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), PNG...), nil
}

func (f *Fake) Listen(ctx context.Context, h page.Handlers) (wait func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = &listener{h: h}
	f.mu.Unlock()

	return func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// --- event emission ---

// EmitConsole delivers a console message to every listener.
func (f *Fake) EmitConsole(typ, text string) {
	for _, h := range f.snapshotListeners() {
		if h.OnConsole != nil {
			h.OnConsole(page.ConsoleMessage{Type: typ, Text: text})
		}
	}
}

// EmitNavigation delivers a frame navigation to every listener.
func (f *Fake) EmitNavigation(url string, topLevel bool) {
	for _, h := range f.snapshotListeners() {
		if h.OnFrameNavigation != nil {
			h.OnFrameNavigation(page.FrameNavigation{TopLevel: topLevel, URL: url})
		}
	}
}

// InFlight is a request announced with StartRequest.
type InFlight struct {
	method string
	url    string
	pairs  []pair
}

type pair struct {
	h  page.Handlers
	id string
}

// StartRequest announces a request to every listener and returns a handle
// to finish it.
func (f *Fake) StartRequest(method, url string) *InFlight {
	r := &InFlight{method: method, url: url}
	for _, h := range f.snapshotListeners() {
		if h.OnRequest == nil {
			continue
		}
		if id := h.OnRequest(page.Request{Method: method, URL: url}); id != "" {
			r.pairs = append(r.pairs, pair{h: h, id: id})
		}
	}
	return r
}

// Respond completes the request with status.
func (r *InFlight) Respond(status int) {
	for _, p := range r.pairs {
		if p.h.OnResponse != nil {
			p.h.OnResponse(page.Response{CorrelationID: p.id, Status: status, URL: r.url})
		}
	}
}

// Redirect ends the current hop with status and continues the request at
// url. Each listener gets a response for the old hop and a new request for
// the next one, as Chrome reports redirects.
func (r *InFlight) Redirect(status int, url string) {
	prev := r.url
	r.url = url
	next := r.pairs[:0]
	for _, p := range r.pairs {
		if p.h.OnResponse != nil {
			p.h.OnResponse(page.Response{CorrelationID: p.id, Status: status, URL: prev})
		}
		if id := p.h.OnRequest(page.Request{Method: r.method, URL: url}); id != "" {
			next = append(next, pair{h: p.h, id: id})
		}
	}
	r.pairs = next
}

// Fail completes the request with an error.
func (r *InFlight) Fail(text string) {
	for _, p := range r.pairs {
		if p.h.OnRequestFailed != nil {
			p.h.OnRequestFailed(page.RequestFailure{CorrelationID: p.id, ErrorText: text})
		}
	}
}

// Fetch is StartRequest followed by Respond.
func (f *Fake) Fetch(method, url string, status int) {
	f.StartRequest(method, url).Respond(status)
}
