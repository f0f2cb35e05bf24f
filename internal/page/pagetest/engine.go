package pagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domdrive/internal/page"
)

// Engine is a fake page.Engine whose tabs are Fakes.
type Engine struct {
	mu     sync.Mutex
	pages  []*Fake
	closed bool

	// Setup, when set, prepares every new tab.
	Setup func(f *Fake)
}

// NewPage opens a Fake at url.
func (e *Engine) NewPage(ctx context.Context, url string) (page.Page, error) {
	f := New(url, "")
	if e.Setup != nil {
		e.Setup(f)
	}
	e.mu.Lock()
	e.pages = append(e.pages, f)
	e.mu.Unlock()
	return f, nil
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Pages returns the tabs opened so far.
func (e *Engine) Pages() []*Fake {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Fake(nil), e.pages...)
}

// Launcher counts launches and hands out a fresh Engine each time.
type Launcher struct {
	launches atomic.Int32
	mu       sync.Mutex
	engines  []*Engine

	// Delay slows every launch down, to widen race windows in tests.
	Delay time.Duration
	Setup func(f *Fake)
}

// Launch implements page.Launcher.
func (l *Launcher) Launch(ctx context.Context) (page.Engine, error) {
	l.launches.Add(1)
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &Engine{Setup: l.Setup}
	l.mu.Lock()
	l.engines = append(l.engines, e)
	l.mu.Unlock()
	return e, nil
}

// Launches returns how many times Launch ran.
func (l *Launcher) Launches() int {
	return int(l.launches.Load())
}

// Engines returns every engine launched so far.
func (l *Launcher) Engines() []*Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Engine(nil), l.engines...)
}
