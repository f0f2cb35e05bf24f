// Command domdrive serves a Chrome browser to MCP clients.
//
// Usage:
//
//	domdrive                                  # MCP over stdio, headless Chrome
//	domdrive -config domdrive.yaml            # settings from a YAML file
//	domdrive -transport http -addr :8086      # streamable HTTP on /mcp, plus /health and /metrics
//
// Environment (a .env file in the working directory is loaded first):
//
//	DOMDRIVE_CHROME_URL   DevTools WebSocket URL of an existing Chrome
//	DOMDRIVE_TOKEN_HASH   bcrypt hash of the HTTP bearer token
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/domdrive"
	"github.com/hazyhaar/domdrive/internal/browser"
	"github.com/hazyhaar/domdrive/internal/config"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to domdrive.yaml config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	transport := flag.String("transport", "", "MCP transport: stdio or http (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := resolveConfig(*configPath, *logLevel, *transport, *addr)
	if err != nil {
		slog.Error("domdrive: config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout carries the MCP stdio stream.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if envErr != nil {
		logger.Debug("domdrive: no .env file", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("domdrive: fatal", "error", err)
		os.Exit(1)
	}
}

func resolveConfig(path, logLevel, transport, addr string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.Browser.Remote = env("DOMDRIVE_CHROME_URL", cfg.Browser.Remote)
	cfg.Server.TokenHash = env("DOMDRIVE_TOKEN_HASH", cfg.Server.TokenHash)
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if transport != "" {
		cfg.Server.Transport = transport
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	d, err := domdrive.New(&domdrive.Config{
		Launch: browser.Launcher(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			Stealth:          cfg.Browser.Stealth,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			IgnoreCertErrors: *cfg.Browser.IgnoreCertErrors,
			Logger:           logger,
		}),
		StartURL:         cfg.Browser.StartURL,
		AssertionTimeout: cfg.Sequence.AssertionTimeout,
		LoadWait:         cfg.Sequence.LoadWait,
		EventBuffer:      cfg.Sequence.EventBuffer,
		ScreenshotDir:    cfg.Screenshots.Dir,
		Transport:        cfg.Server.Transport,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("domdrive: shutdown", "error", err)
		}
	}()

	srv := mcp.NewServer(&mcp.Implementation{Name: "domdrive", Version: version}, nil)
	d.RegisterMCP(srv)

	if cfg.Server.Transport == "stdio" {
		logger.Info("domdrive: serving MCP on stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
	return serveHTTP(ctx, logger, d, srv, cfg.Server)
}

func serveHTTP(ctx context.Context, logger *slog.Logger, d *domdrive.Driver, srv *mcp.Server, cfg config.ServerConfig) error {
	ln, err := domdrive.Listen(cfg.Addr, cfg.MaxConns)
	if err != nil {
		return err
	}
	if cfg.TokenHash == "" {
		logger.Warn("domdrive: HTTP transport without token_hash, /mcp is unauthenticated")
	}

	hs := &http.Server{
		Handler:           d.Handler(srv, domdrive.HTTPConfig{TokenHash: cfg.TokenHash}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("domdrive: serving MCP over HTTP", "addr", ln.Addr().String(), "max_conns", cfg.MaxConns)
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("domdrive: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
