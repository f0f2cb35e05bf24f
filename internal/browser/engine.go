// Package browser drives Chrome over CDP with go-rod. An Engine owns one
// Chrome process (or a connection to a remote one) and hands out Tabs that
// implement page.Page.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/domdrive/internal/page"
)

// Stealth modes.
const (
	StealthOff      = "off"      // plain headless tab
	StealthHeadless = "headless" // headless with the stealth evasions
	StealthHeadful  = "headful"  // visible Chrome on an Xvfb display, with evasions
)

// Config configures the engine.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string
	// Bin overrides the Chrome binary. Empty lets rod find or fetch one.
	Bin string
	// Stealth is one of StealthOff, StealthHeadless, StealthHeadful.
	// Default: StealthHeadless.
	Stealth string
	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string
	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string
	IgnoreCertErrors bool
	// NavTimeout bounds the initial navigation of a new tab. Default: 30s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Stealth == "" {
		c.Stealth = StealthHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine is a running Chrome.
type Engine struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// Launcher returns a page.Launcher starting engines with cfg.
func Launcher(cfg Config) page.Launcher {
	return func(ctx context.Context) (page.Engine, error) {
		return Start(ctx, cfg)
	}
}

// Start launches Chrome, or connects to cfg.RemoteURL.
func Start(ctx context.Context, cfg Config) (*Engine, error) {
	cfg.defaults()
	switch cfg.Stealth {
	case StealthOff, StealthHeadless, StealthHeadful:
	default:
		return nil, fmt.Errorf("browser: unknown stealth mode %q", cfg.Stealth)
	}

	e := &Engine{cfg: cfg}
	if err := e.launch(ctx); err != nil {
		e.cleanup()
		return nil, err
	}
	return e, nil
}

func (e *Engine) launch(ctx context.Context) error {
	log := e.cfg.Logger

	if e.cfg.Stealth == StealthHeadful && e.cfg.RemoteURL == "" {
		if err := e.startXvfb(); err != nil {
			return fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := e.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if e.cfg.Bin != "" {
			l = l.Bin(e.cfg.Bin)
		}
		if e.cfg.Stealth == StealthHeadful {
			l = l.Headless(false).Env("DISPLAY=" + e.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		e.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "stealth", e.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	e.browser = b

	if e.cfg.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			log.Warn("browser: ignore cert errors failed", "error", err)
		}
	}
	return nil
}

// NewPage opens a tab on url and waits for it to load.
func (e *Engine) NewPage(ctx context.Context, url string) (page.Page, error) {
	e.mu.Lock()
	b, closed := e.browser, e.closed
	e.mu.Unlock()
	if closed || b == nil {
		return nil, fmt.Errorf("browser: engine is closed")
	}

	var p *rod.Page
	var err error
	if e.cfg.Stealth == StealthOff {
		p, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		p, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{page: p, logger: e.cfg.Logger}
	if len(e.cfg.ResourceBlocking) > 0 {
		t.router = applyResourceBlocking(p, e.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavTimeout)
	defer cancel()
	if err := p.Context(navCtx).Navigate(url); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		e.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return t, nil
}

// Close shuts down Chrome and Xvfb. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.cleanup()
}

func (e *Engine) cleanup() error {
	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.lnch != nil {
		e.lnch.Cleanup()
		e.lnch = nil
	}
	e.stopXvfb()
	return err
}
