package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domdrive/internal/page"
)

//go:embed extract.js
var extractJS string

// pollInterval paces WaitFor.
const pollInterval = 100 * time.Millisecond

// Tab is one Chrome tab. It implements page.Page.
type Tab struct {
	page   *rod.Page
	router *rod.HijackRouter
	logger *slog.Logger
}

var _ page.Page = (*Tab)(nil)

func (t *Tab) p(ctx context.Context) *rod.Page {
	return t.page.Context(ctx)
}

// element returns the first match of selector without waiting.
func (t *Tab) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := t.p(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", page.ErrNoElement, selector)
	}
	return el, nil
}

func (t *Tab) Info(ctx context.Context) (page.Info, error) {
	info, err := t.p(ctx).Info()
	if err != nil {
		return page.Info{}, err
	}
	return page.Info{URL: info.URL, Title: info.Title}, nil
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.p(ctx).Navigate(url)
}

func (t *Tab) Back(ctx context.Context) error {
	return t.p(ctx).NavigateBack()
}

func (t *Tab) Forward(ctx context.Context) error {
	return t.p(ctx).NavigateForward()
}

func (t *Tab) Reload(ctx context.Context) error {
	return t.p(ctx).Reload()
}

func (t *Tab) WaitLoad(ctx context.Context) error {
	return t.p(ctx).WaitLoad()
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	el, err := t.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	el, err := t.element(ctx, selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`function() { if ('value' in this) this.value = ''; }`); err != nil {
		return err
	}
	return el.Input(value)
}

func (t *Tab) Type(ctx context.Context, selector, value string) error {
	el, err := t.element(ctx, selector)
	if err != nil {
		return err
	}
	// Put the caret at the end so typing appends.
	if _, err := el.Eval(`function() {
		if (typeof this.setSelectionRange === 'function' && typeof this.value === 'string') {
			const n = this.value.length;
			try { this.setSelectionRange(n, n); } catch (e) {}
		}
	}`); err != nil {
		return err
	}
	return el.Input(value)
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"space":      input.Key(' '),
}

func keyFor(name string) (input.Key, error) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return input.Key(r), nil
	}
	return 0, fmt.Errorf("browser: unknown key %q", name)
}

func (t *Tab) Press(ctx context.Context, selector, key string) error {
	k, err := keyFor(key)
	if err != nil {
		return err
	}
	if selector != "" {
		el, err := t.element(ctx, selector)
		if err != nil {
			return err
		}
		if err := el.Focus(); err != nil {
			return err
		}
	}
	return t.p(ctx).Keyboard.Type(k)
}

func (t *Tab) Hover(ctx context.Context, selector string) error {
	el, err := t.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (t *Tab) Focus(ctx context.Context, selector string) error {
	el, err := t.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Focus()
}

func (t *Tab) SelectOption(ctx context.Context, selector, value string) error {
	el, err := t.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Select([]string{value}, true, rod.SelectorTypeText)
}

func (t *Tab) SetChecked(ctx context.Context, selector string, checked bool) error {
	el, err := t.element(ctx, selector)
	if err != nil {
		return err
	}
	prop, err := el.Property("checked")
	if err != nil {
		return err
	}
	if prop.Bool() == checked {
		return nil
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (t *Tab) Scroll(ctx context.Context, selector, direction string) error {
	if selector != "" {
		el, err := t.element(ctx, selector)
		if err != nil {
			return err
		}
		return el.ScrollIntoView()
	}
	dir := 1
	if direction == "up" {
		dir = -1
	}
	_, err := t.p(ctx).Eval(`(d) => window.scrollBy(0, d * window.innerHeight)`, dir)
	return err
}

func (t *Tab) WaitFor(ctx context.Context, selector string, state page.ElementState) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		done, err := t.reached(ctx, selector, state)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
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

func (t *Tab) reached(ctx context.Context, selector string, state page.ElementState) (bool, error) {
	has, el, err := t.p(ctx).Has(selector)
	if err != nil {
		return false, err
	}
	switch state {
	case page.StateAttached:
		return has, nil
	case page.StateDetached:
		return !has, nil
	case page.StateVisible:
		if !has {
			return false, nil
		}
		return el.Visible()
	}
	return false, fmt.Errorf("browser: unknown element state %q", state)
}

func (t *Tab) Count(ctx context.Context, selector string) (int, error) {
	els, err := t.p(ctx).Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	el, err := t.element(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (t *Tab) HTML(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		return t.p(ctx).HTML()
	}
	el, err := t.element(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.HTML()
}

// extractReply is the script's answer; Error is set when it refused the
// request.
type extractReply struct {
	page.ExtractResponse
	Error string `json:"error,omitempty"`
}

func (t *Tab) Extract(ctx context.Context, req page.ExtractRequest) (*page.ExtractResponse, error) {
	res, err := t.p(ctx).Eval(extractJS, req)
	if err != nil {
		return nil, fmt.Errorf("browser: extract: %w", err)
	}
	var reply extractReply
	if err := json.Unmarshal([]byte(res.Value.Str()), &reply); err != nil {
		return nil, fmt.Errorf("browser: extract: decode: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("browser: extract: %s", reply.Error)
	}
	return &reply.ExtractResponse, nil
}

func (t *Tab) Screenshot(ctx context.Context, selector string, fullPage bool) ([]byte, error) {
	if selector != "" {
		el, err := t.element(ctx, selector)
		if err != nil {
			return nil, err
		}
		return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	}
	return t.p(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Listen subscribes h through one CDP event subscription. Network
// correlation ids returned by OnRequest are kept per CDP request id and
// handed back on the matching response or failure.
func (t *Tab) Listen(ctx context.Context, h page.Handlers) (wait func()) {
	if h.Empty() {
		return func() { <-ctx.Done() }
	}

	var cbs []any
	if h.OnConsole != nil {
		cbs = append(cbs, func(e *proto.RuntimeConsoleAPICalled) {
			h.OnConsole(page.ConsoleMessage{Type: string(e.Type), Text: consoleText(e.Args)})
		})
	}
	if h.OnFrameNavigation != nil {
		cbs = append(cbs, func(e *proto.PageFrameNavigated) {
			h.OnFrameNavigation(page.FrameNavigation{TopLevel: e.Frame.ParentID == "", URL: e.Frame.URL})
		})
	}
	if h.OnRequest != nil {
		ids := &requestIDs{h: h, ids: make(map[proto.NetworkRequestID]string)}
		cbs = append(cbs, func(e *proto.NetworkRequestWillBeSent) {
			var redirect *page.Response
			if r := e.RedirectResponse; r != nil {
				redirect = &page.Response{Status: r.Status, URL: r.URL}
			}
			ids.sent(e.RequestID, page.Request{Method: e.Request.Method, URL: e.Request.URL}, redirect)
		})
		cbs = append(cbs, func(e *proto.NetworkResponseReceived) {
			ids.received(e.RequestID, page.Response{Status: e.Response.Status, URL: e.Response.URL})
		})
		cbs = append(cbs, func(e *proto.NetworkLoadingFailed) {
			ids.failed(e.RequestID, e.ErrorText)
		})
	}
	return t.p(ctx).EachEvent(cbs...)
}

// requestIDs maps CDP request ids to the correlation ids handed out by
// OnRequest. Chrome reuses one request id across a redirect chain, so each
// hop is closed before the next is registered.
type requestIDs struct {
	h   page.Handlers
	mu  sync.Mutex
	ids map[proto.NetworkRequestID]string
}

func (r *requestIDs) sent(id proto.NetworkRequestID, req page.Request, redirect *page.Response) {
	if redirect != nil {
		r.received(id, *redirect)
	}
	cid := r.h.OnRequest(req)
	if cid == "" {
		return
	}
	r.mu.Lock()
	r.ids[id] = cid
	r.mu.Unlock()
}

func (r *requestIDs) received(id proto.NetworkRequestID, resp page.Response) {
	cid, ok := r.take(id)
	if ok && r.h.OnResponse != nil {
		resp.CorrelationID = cid
		r.h.OnResponse(resp)
	}
}

func (r *requestIDs) failed(id proto.NetworkRequestID, text string) {
	cid, ok := r.take(id)
	if ok && r.h.OnRequestFailed != nil {
		r.h.OnRequestFailed(page.RequestFailure{CorrelationID: cid, ErrorText: text})
	}
}

func (r *requestIDs) take(id proto.NetworkRequestID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cid, ok := r.ids[id]
	delete(r.ids, id)
	return cid, ok
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a.Type == proto.RuntimeRemoteObjectTypeString:
			parts = append(parts, a.Value.Str())
		case a.Description != "":
			parts = append(parts, a.Description)
		default:
			parts = append(parts, a.Value.JSON("", ""))
		}
	}
	return strings.Join(parts, " ")
}

// Close stops resource blocking and closes the tab.
func (t *Tab) Close() error {
	var errs []error
	if t.router != nil {
		errs = append(errs, t.router.Stop())
	}
	if t.page != nil {
		errs = append(errs, t.page.Close())
	}
	return errors.Join(errs...)
}
