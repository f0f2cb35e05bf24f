// Package session owns the named browser tabs an agent works with and the
// browser engine behind them.
//
// The engine is launched on the first Open and shut down when the last
// session closes or on Shutdown. Each Registry is independent, so tests and
// embedders can run several side by side.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/internal/observability"
	"github.com/hazyhaar/domdrive/internal/page"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
	ErrInvalid  = errors.New("invalid session id")
)

// Session ids end up in file names, so they are restricted to a safe set.
var validID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidID reports whether id may name a session.
func ValidID(id string) bool {
	return validID.MatchString(id) && id != "." && id != ".."
}

// Error carries the session id of a lookup or registration failure.
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrExists):
		return fmt.Sprintf("Session '%s' already exists", e.ID)
	case errors.Is(e.Err, ErrInvalid):
		return fmt.Sprintf("Session id %q is invalid: use 1-64 letters, digits, '.', '_' or '-'", e.ID)
	}
	return fmt.Sprintf("Session '%s' not found", e.ID)
}

func (e *Error) Unwrap() error { return e.Err }

// Session is one open tab.
type Session struct {
	ID      string
	Page    page.Page
	Created time.Time

	turn chan struct{}
}

// Acquire waits for exclusive use of the session's page. Tools that drive
// the page hold it so two sequences never interleave on one tab.
func (s *Session) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.turn <- struct{}{}:
		return func() { <-s.turn }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Config configures a Registry.
type Config struct {
	// Launch starts the browser engine. Required.
	Launch page.Launcher
	// StartURL is opened when Open gets an empty URL. Default: about:blank.
	StartURL string
	// NewID generates ids for Open calls without one. Default: idgen.Session.
	NewID   idgen.Generator
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.StartURL == "" {
		c.StartURL = "about:blank"
	}
	if c.NewID == nil {
		c.NewID = idgen.Session
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registry maps session ids to open tabs.
type Registry struct {
	cfg    Config
	launch singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
	reserved map[string]struct{}
	engine   page.Engine
}

// New creates an empty Registry. No browser is started until the first Open.
func New(cfg Config) *Registry {
	cfg.defaults()
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		reserved: make(map[string]struct{}),
	}
}

// Open creates session id showing url. An empty id is generated. Opening
// an id that exists, or that a concurrent Open is still creating, fails
// with ErrExists. Ids outside [A-Za-z0-9_.-]{1,64} fail with ErrInvalid.
func (r *Registry) Open(ctx context.Context, id, url string) (*Session, error) {
	if id == "" {
		id = r.cfg.NewID()
	}
	if !ValidID(id) {
		return nil, &Error{ID: id, Err: ErrInvalid}
	}
	if url == "" {
		url = r.cfg.StartURL
	}

	r.mu.Lock()
	_, open := r.sessions[id]
	_, pending := r.reserved[id]
	if open || pending {
		r.mu.Unlock()
		return nil, &Error{ID: id, Err: ErrExists}
	}
	r.reserved[id] = struct{}{}
	r.mu.Unlock()

	engine, err := r.ensureEngine(ctx)
	if err != nil {
		r.release(id)
		return nil, fmt.Errorf("session: launch browser: %w", err)
	}
	p, err := engine.NewPage(ctx, url)
	if err != nil {
		r.release(id)
		return nil, fmt.Errorf("session: open %s: %w", id, err)
	}

	s := &Session{ID: id, Page: p, Created: time.Now(), turn: make(chan struct{}, 1)}
	r.mu.Lock()
	delete(r.reserved, id)
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.cfg.Metrics.SetSessions(n)
	r.cfg.Logger.Info("session: opened", "session", id, "url", url)
	return s, nil
}

// ensureEngine returns the running engine, launching it once for all
// concurrent callers. The launch outlives ctx's cancellation: the browser
// belongs to the registry, not to the request that happened to start it.
func (r *Registry) ensureEngine(ctx context.Context) (page.Engine, error) {
	r.mu.Lock()
	if e := r.engine; e != nil {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	v, err, _ := r.launch.Do("engine", func() (any, error) {
		r.mu.Lock()
		if e := r.engine; e != nil {
			r.mu.Unlock()
			return e, nil
		}
		r.mu.Unlock()

		start := time.Now()
		e, err := r.cfg.Launch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.engine = e
		r.mu.Unlock()
		r.cfg.Logger.Info("session: browser started", "duration_ms", time.Since(start).Milliseconds())
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(page.Engine), nil
}

// release drops a reservation after a failed Open and stops an idle engine.
func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.reserved, id)
	e := r.takeIdleEngineLocked()
	r.mu.Unlock()
	r.closeEngine(e)
}

// takeIdleEngineLocked detaches the engine when nothing uses it.
func (r *Registry) takeIdleEngineLocked() page.Engine {
	if len(r.sessions) > 0 || len(r.reserved) > 0 || r.engine == nil {
		return nil
	}
	e := r.engine
	r.engine = nil
	return e
}

func (r *Registry) closeEngine(e page.Engine) {
	if e == nil {
		return
	}
	if err := e.Close(); err != nil {
		r.cfg.Logger.Warn("session: browser close", "error", err)
		return
	}
	r.cfg.Logger.Info("session: browser stopped")
}

// Get returns session id or an error wrapping ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, &Error{ID: id, Err: ErrNotFound}
	}
	return s, nil
}

// List returns the open session ids, oldest first.
func (r *Registry) List() []string {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Created.Equal(all[j].Created) {
			return all[i].ID < all[j].ID
		}
		return all[i].Created.Before(all[j].Created)
	})
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	return ids
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// BrowserRunning reports whether an engine is live.
func (r *Registry) BrowserRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine != nil
}

// Close closes session id. Closing the last session stops the browser.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return &Error{ID: id, Err: ErrNotFound}
	}
	delete(r.sessions, id)
	n := len(r.sessions)
	e := r.takeIdleEngineLocked()
	r.mu.Unlock()

	r.cfg.Metrics.SetSessions(n)
	err := s.Page.Close()
	if err != nil {
		r.cfg.Logger.Warn("session: page close", "session", id, "error", err)
	}
	r.closeEngine(e)
	r.cfg.Logger.Info("session: closed", "session", id, "remaining", n)
	if err != nil {
		return fmt.Errorf("session: close %s: %w", id, err)
	}
	return nil
}

// Shutdown closes every session and the browser.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	e := r.engine
	r.engine = nil
	r.mu.Unlock()

	var errs []error
	for id, s := range all {
		if err := s.Page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close %s: %w", id, err))
		}
	}
	if e != nil {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close browser: %w", err))
		}
	}
	r.cfg.Metrics.SetSessions(0)
	r.cfg.Logger.Info("session: shutdown", "closed", len(all))
	return errors.Join(errs...)
}
