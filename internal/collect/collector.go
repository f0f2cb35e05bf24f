package collect

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/internal/page"
)

// DefaultBuffer is the event channel capacity when none is configured.
const DefaultBuffer = 256

// Options selects which collectors run.
type Options struct {
	Console    ConsoleOptions    `json:"console"`
	Network    NetworkOptions    `json:"network"`
	Navigation NavigationOptions `json:"navigation"`
}

// ConsoleOptions configures console capture. Level is the minimum severity:
// "all" (default), "warn" or "error". Filter is a regexp on the message.
type ConsoleOptions struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level,omitempty"`
	Filter  string `json:"filter,omitempty"`
}

// NetworkOptions configures network capture. Filter is a regexp on the URL.
type NetworkOptions struct {
	Enabled bool   `json:"enabled"`
	Filter  string `json:"filter,omitempty"`
}

// NavigationOptions configures top-level navigation capture.
type NavigationOptions struct {
	Enabled bool `json:"enabled"`
}

var priority = map[string]int{
	"debug": 0,
	"log":   1,
	"info":  2,
	"warn":  3,
	"error": 4,
}

// ConsoleLevel normalises an engine console type: "warning" becomes "warn"
// and anything unrecognised becomes "log".
func ConsoleLevel(typ string) string {
	if typ == "warning" {
		return "warn"
	}
	if _, ok := priority[typ]; ok {
		return typ
	}
	return "log"
}

// minPriority maps a console level option to the lowest priority kept.
func minPriority(level string, logger *slog.Logger) int {
	switch level {
	case "", "all":
		return 0
	case "warning":
		return priority["warn"]
	}
	if p, ok := priority[level]; ok {
		return p
	}
	logger.Warn("collect: unknown console level, capturing all", "level", level)
	return 0
}

// compileFilter returns nil for an empty or invalid pattern. An invalid
// pattern is logged and treated as "accept everything".
func compileFilter(pattern, which string, logger *slog.Logger) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Warn("collect: invalid filter ignored", "collector", which, "filter", pattern, "error", err)
		return nil
	}
	return re
}

// emitter hands events to the sequence loop. Sends give up once the
// collector set is stopped so a late callback never blocks the engine.
type emitter struct {
	ctx context.Context
	out chan<- Event
}

func (e emitter) emit(ev Event) {
	select {
	case e.out <- ev:
	case <-e.ctx.Done():
	}
}

type consoleCollector struct {
	emitter
	min    int
	filter *regexp.Regexp
}

func (c *consoleCollector) handlers() page.Handlers {
	return page.Handlers{OnConsole: c.onConsole}
}

func (c *consoleCollector) onConsole(m page.ConsoleMessage) {
	level := ConsoleLevel(m.Type)
	if priority[level] < c.min {
		return
	}
	if c.filter != nil && !c.filter.MatchString(m.Text) {
		return
	}
	c.emit(Event{Type: TypeConsole, Level: level, Message: m.Text})
}

type pendingRequest struct {
	method string
	url    string
	start  time.Time
}

type networkCollector struct {
	emitter
	filter *regexp.Regexp
	newID  idgen.Generator

	mu      sync.Mutex
	pending map[string]pendingRequest
}

func (c *networkCollector) handlers() page.Handlers {
	return page.Handlers{
		OnRequest:       c.onRequest,
		OnResponse:      c.onResponse,
		OnRequestFailed: c.onFailed,
	}
}

func (c *networkCollector) onRequest(r page.Request) string {
	if c.filter != nil && !c.filter.MatchString(r.URL) {
		return ""
	}
	id := c.newID()
	c.mu.Lock()
	c.pending[id] = pendingRequest{method: r.Method, url: r.URL, start: time.Now()}
	c.mu.Unlock()
	return id
}

func (c *networkCollector) take(id string) (pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return p, ok
}

func (c *networkCollector) onResponse(r page.Response) {
	p, ok := c.take(r.CorrelationID)
	if !ok {
		return
	}
	ms := time.Since(p.start).Milliseconds()
	c.emit(Event{Type: TypeNetwork, Method: p.method, URL: p.url, Status: r.Status, Timing: &ms})
}

func (c *networkCollector) onFailed(f page.RequestFailure) {
	p, ok := c.take(f.CorrelationID)
	if !ok {
		return
	}
	ms := time.Since(p.start).Milliseconds()
	c.emit(Event{Type: TypeNetwork, Method: p.method, URL: p.url, Error: f.ErrorText, Timing: &ms})
}

// unresolved returns how many requests never completed.
func (c *networkCollector) unresolved() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

type navigationCollector struct {
	emitter
	mu   sync.Mutex
	last string
}

func (c *navigationCollector) handlers() page.Handlers {
	return page.Handlers{OnFrameNavigation: c.onFrameNavigation}
}

func (c *navigationCollector) onFrameNavigation(n page.FrameNavigation) {
	if !n.TopLevel {
		return
	}
	c.mu.Lock()
	from := c.last
	if n.URL == from {
		c.mu.Unlock()
		return
	}
	c.last = n.URL
	c.mu.Unlock()
	c.emit(Event{Type: TypeNavigation, From: from, To: n.URL})
}
