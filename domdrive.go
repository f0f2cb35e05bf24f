// Package domdrive exposes a Chrome browser to an automated agent over MCP.
//
// The agent opens named sessions (tabs), inspects them, acts on them and runs
// multi-step sequences that return one chronological log of step results,
// navigations, console output and network traffic.
//
// Usage:
//
//	d, err := domdrive.New(&domdrive.Config{
//	    Launch: browser.Launcher(browser.Config{Stealth: "headless"}),
//	}, logger)
//	defer d.Close()
//	d.RegisterMCP(mcpServer)
package domdrive

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/internal/action"
	"github.com/hazyhaar/domdrive/internal/assert"
	"github.com/hazyhaar/domdrive/internal/observability"
	"github.com/hazyhaar/domdrive/internal/page"
	"github.com/hazyhaar/domdrive/internal/query"
	"github.com/hazyhaar/domdrive/internal/sequence"
	"github.com/hazyhaar/domdrive/internal/session"
)

// Config configures a Driver.
type Config struct {
	// Launch starts the browser engine on the first open_session. Required.
	Launch page.Launcher

	// StartURL is opened when open_session has no url. Default: about:blank.
	StartURL string
	// NewSessionID generates ids for open_session calls without one.
	// Default: idgen.Session.
	NewSessionID idgen.Generator

	// AssertionTimeout applies to assertions without their own timeout.
	// Default: 5s.
	AssertionTimeout time.Duration
	// LoadWait bounds the load wait after navigation-causing actions.
	// Default: 5s.
	LoadWait time.Duration
	// EventBuffer is the collector channel capacity. Default: 256.
	EventBuffer int

	// ScreenshotDir receives screenshot files. Default:
	// os.TempDir()/domdrive-screenshots.
	ScreenshotDir string

	// Transport names the MCP transport in logs ("stdio" or "http").
	// Default: "stdio".
	Transport string

	// Registry receives the driver's metrics. Default: a fresh registry with
	// the Go and process collectors.
	Registry *prometheus.Registry
}

func (c *Config) defaults() {
	if c.StartURL == "" {
		c.StartURL = "about:blank"
	}
	if c.NewSessionID == nil {
		c.NewSessionID = idgen.Session
	}
	if c.AssertionTimeout <= 0 {
		c.AssertionTimeout = assert.DefaultTimeout
	}
	if c.LoadWait <= 0 {
		c.LoadWait = 5 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Transport == "" {
		c.Transport = "stdio"
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// Driver is the domdrive service: a session registry plus the executors that
// run against its pages.
type Driver struct {
	cfg       *Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	sessions  *session.Registry
	actions   *action.Executor
	checker   assert.Checker
	queries   *query.Querier
	sequences *sequence.Executor
	started   time.Time
}

// New creates a Driver. No browser starts until the first session opens.
func New(cfg *Config, logger *slog.Logger) (*Driver, error) {
	if cfg == nil || cfg.Launch == nil {
		return nil, errors.New("domdrive: config needs a browser launcher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()

	metrics := observability.New(cfg.Registry)
	actions := action.New(cfg.LoadWait, logger)
	queries := query.New(cfg.ScreenshotDir, logger)

	return &Driver{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		sessions: session.New(session.Config{
			Launch:   cfg.Launch,
			StartURL: cfg.StartURL,
			NewID:    cfg.NewSessionID,
			Metrics:  metrics,
			Logger:   logger,
		}),
		actions: actions,
		queries: queries,
		sequences: sequence.New(actions, queries, sequence.Config{
			AssertionTimeout: cfg.AssertionTimeout,
			EventBuffer:      cfg.EventBuffer,
			Metrics:          metrics,
			Logger:           logger,
		}),
		started: time.Now(),
	}, nil
}

// Health returns the liveness snapshot served on /health.
func (d *Driver) Health() observability.Health {
	return observability.CollectHealth(d.started, d.sessions.Len(), d.sessions.BrowserRunning())
}

// Registry returns the prometheus registry the driver reports to.
func (d *Driver) Registry() *prometheus.Registry { return d.cfg.Registry }

// Close closes every session and stops the browser.
func (d *Driver) Close() error {
	return d.sessions.Shutdown()
}
