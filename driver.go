package domdrive

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/domdrive/internal/action"
	"github.com/hazyhaar/domdrive/internal/assert"
	"github.com/hazyhaar/domdrive/internal/collect"
	"github.com/hazyhaar/domdrive/internal/query"
	"github.com/hazyhaar/domdrive/internal/sequence"
	"github.com/hazyhaar/domdrive/internal/session"
)

// NotFound is returned in place of a tool result when the session id is
// unknown. It is a normal payload, not a tool error, so the agent can pick
// one of the available sessions and retry.
type NotFound struct {
	Error             string   `json:"error"`
	AvailableSessions []string `json:"availableSessions"`
}

// notFound converts a session lookup failure into its payload. ok is false
// for every other error.
func (d *Driver) notFound(err error) (*NotFound, bool) {
	var se *session.Error
	if !errors.As(err, &se) || !errors.Is(err, session.ErrNotFound) {
		return nil, false
	}
	return &NotFound{Error: se.Error(), AvailableSessions: d.sessions.List()}, true
}

// SessionInfo describes an open session.
type SessionInfo struct {
	SessionID string     `json:"session_id"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Created   *time.Time `json:"created,omitempty"`
}

// SessionList is the list_sessions result.
type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

// Closed is the close_session result.
type Closed struct {
	SessionID string `json:"session_id"`
	Closed    bool   `json:"closed"`
	Remaining int    `json:"remaining"`
}

// use runs fn with exclusive access to session id.
func use[T any](ctx context.Context, d *Driver, id string, fn func(*session.Session) (T, error)) (T, error) {
	var zero T
	s, err := d.sessions.Get(id)
	if err != nil {
		return zero, err
	}
	release, err := s.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release()
	return fn(s)
}

// OpenSession opens a tab named id on url. Empty values get the configured
// defaults.
func (d *Driver) OpenSession(ctx context.Context, id, url string) (*SessionInfo, error) {
	s, err := d.sessions.Open(ctx, id, url)
	if err != nil {
		return nil, err
	}
	info := d.describe(ctx, s)
	info.Created = nil
	return &info, nil
}

func (d *Driver) describe(ctx context.Context, s *session.Session) SessionInfo {
	created := s.Created
	info := SessionInfo{SessionID: s.ID, Created: &created}
	pi, err := s.Page.Info(ctx)
	if err != nil {
		d.logger.Debug("domdrive: page info", "session", s.ID, "error", err)
		return info
	}
	info.URL, info.Title = pi.URL, pi.Title
	return info
}

// CloseSession closes session id, waiting for any tool still using it.
func (d *Driver) CloseSession(ctx context.Context, id string) (*Closed, error) {
	_, err := use(ctx, d, id, func(s *session.Session) (struct{}, error) {
		return struct{}{}, d.sessions.Close(s.ID)
	})
	if err != nil {
		return nil, err
	}
	return &Closed{SessionID: id, Closed: true, Remaining: d.sessions.Len()}, nil
}

// ListSessions returns the open sessions, oldest first.
func (d *Driver) ListSessions(ctx context.Context) *SessionList {
	ids := d.sessions.List()
	list := &SessionList{Sessions: make([]SessionInfo, 0, len(ids))}
	for _, id := range ids {
		s, err := d.sessions.Get(id)
		if err != nil {
			continue // closed meanwhile
		}
		list.Sessions = append(list.Sessions, d.describe(ctx, s))
	}
	list.Count = len(list.Sessions)
	return list
}

// Overview captures the page outline of session id.
func (d *Driver) Overview(ctx context.Context, id string) (*query.OverviewResult, error) {
	return use(ctx, d, id, func(s *session.Session) (*query.OverviewResult, error) {
		return d.queries.Overview(ctx, s.Page)
	})
}

// QueryElements returns the element tree of session id.
func (d *Driver) QueryElements(ctx context.Context, id string, params query.ElementsParams) (*query.ElementsResult, error) {
	return use(ctx, d, id, func(s *session.Session) (*query.ElementsResult, error) {
		return d.queries.Elements(ctx, s.Page, params)
	})
}

// Content returns the readable content of session id as markdown.
func (d *Driver) Content(ctx context.Context, id string, params query.ContentParams) (*query.ContentResult, error) {
	return use(ctx, d, id, func(s *session.Session) (*query.ContentResult, error) {
		return d.queries.Content(ctx, s.Page, params)
	})
}

// Screenshot saves a PNG of session id.
func (d *Driver) Screenshot(ctx context.Context, id string, params query.ScreenshotParams) (*query.ScreenshotResult, error) {
	return use(ctx, d, id, func(s *session.Session) (*query.ScreenshotResult, error) {
		return d.queries.Screenshot(ctx, s.Page, s.ID, params)
	})
}

// PerformAction runs one action on session id. Invalid actions fail with an
// error wrapping action.ErrInvalidAction; interaction failures come back in
// the result.
func (d *Driver) PerformAction(ctx context.Context, id string, a action.Action) (*action.Result, error) {
	return use(ctx, d, id, func(s *session.Session) (*action.Result, error) {
		return d.actions.Perform(ctx, s.Page, a)
	})
}

// CheckAssertion evaluates c on session id. A non-positive timeoutMS uses
// the configured assertion timeout.
func (d *Driver) CheckAssertion(ctx context.Context, id string, c assert.Condition, timeoutMS int) (*assert.Result, error) {
	timeout := d.cfg.AssertionTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return use(ctx, d, id, func(s *session.Session) (*assert.Result, error) {
		return d.checker.Check(ctx, s.Page, c, timeout), nil
	})
}

// RunOptions are the run_sequence options.
type RunOptions struct {
	CaptureConsole bool   `json:"capture_console,omitempty"`
	ConsoleLevel   string `json:"console_level,omitempty"`
	ConsoleFilter  string `json:"console_filter,omitempty"`
	CaptureNetwork bool   `json:"capture_network,omitempty"`
	NetworkFilter  string `json:"network_filter,omitempty"`
	// CaptureNavigation defaults to true.
	CaptureNavigation *bool `json:"capture_navigation,omitempty"`
	// AssertionTimeout in milliseconds for assert steps without their own.
	AssertionTimeout int `json:"assertion_timeout,omitempty"`
}

func (o RunOptions) sequence(sessionID string) sequence.Options {
	nav := true
	if o.CaptureNavigation != nil {
		nav = *o.CaptureNavigation
	}
	return sequence.Options{
		Collect: collect.Options{
			Console:    collect.ConsoleOptions{Enabled: o.CaptureConsole, Level: o.ConsoleLevel, Filter: o.ConsoleFilter},
			Network:    collect.NetworkOptions{Enabled: o.CaptureNetwork, Filter: o.NetworkFilter},
			Navigation: collect.NavigationOptions{Enabled: nav},
		},
		AssertionTimeout: time.Duration(o.AssertionTimeout) * time.Millisecond,
		SessionID:        sessionID,
	}
}

// RunSequence runs steps on session id and returns the result with its
// event log. Step failures are data; the error is only set when the session
// cannot be used.
func (d *Driver) RunSequence(ctx context.Context, id string, steps []sequence.Step, opts RunOptions) (*sequence.Result, error) {
	return use(ctx, d, id, func(s *session.Session) (*sequence.Result, error) {
		return d.sequences.Run(ctx, s.Page, steps, opts.sequence(s.ID)), nil
	})
}
