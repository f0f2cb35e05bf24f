package domdrive

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"
)

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// TokenHash is a bcrypt hash of the bearer token required on /mcp and
	// /metrics. Empty disables authentication.
	TokenHash string
}

// Handler serves the MCP streamable HTTP transport on /mcp, prometheus
// metrics on /metrics and the health snapshot on /health. srv must already
// carry the tools (see RegisterMCP).
func (d *Driver) Handler(srv *mcp.Server, cfg HTTPConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Health())
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)

	r.Group(func(r chi.Router) {
		if cfg.TokenHash != "" {
			r.Use(bearerAuth(cfg.TokenHash))
		}
		r.Handle("/metrics", promhttp.HandlerFor(d.cfg.Registry, promhttp.HandlerOpts{}))
		r.Handle("/mcp", mcpHandler)
		r.Handle("/mcp/*", mcpHandler)
	})
	return r
}

// bearerAuth accepts requests whose bearer token matches hash. The last
// accepted token is remembered so bcrypt runs once per distinct token.
func bearerAuth(hash string) func(http.Handler) http.Handler {
	accepted := &tokenCache{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}
			if !accepted.has(token) {
				if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
					return
				}
				accepted.set(token)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Listen opens a TCP listener on addr accepting at most maxConns
// simultaneous connections. maxConns <= 0 means unlimited.
func Listen(addr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type tokenCache struct {
	mu    sync.Mutex
	token []byte
}

func (c *tokenCache) has(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != nil && subtle.ConstantTimeCompare(c.token, []byte(token)) == 1
}

func (c *tokenCache) set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = []byte(token)
}
