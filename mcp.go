package domdrive

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domdrive/internal/action"
	"github.com/hazyhaar/domdrive/internal/assert"
	"github.com/hazyhaar/domdrive/internal/page"
	"github.com/hazyhaar/domdrive/internal/query"
	"github.com/hazyhaar/domdrive/internal/sequence"
	"github.com/hazyhaar/domdrive/kit"
)

// RegisterMCP registers the domdrive tools on an MCP server.
func (d *Driver) RegisterMCP(srv *mcp.Server) {
	d.registerOpenSessionTool(srv)
	d.registerCloseSessionTool(srv)
	d.registerListSessionsTool(srv)
	d.registerOverviewTool(srv)
	d.registerQueryElementsTool(srv)
	d.registerContentTool(srv)
	d.registerPerformActionTool(srv)
	d.registerCheckAssertionTool(srv)
	d.registerScreenshotTool(srv)
	d.registerRunSequenceTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var sessionIDProp = map[string]any{"type": "string", "description": "Session id returned by open_session"}

// sessionRequest is embedded by every session-scoped request.
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (r *sessionRequest) session() string { return r.SessionID }

type sessionScoped interface{ session() string }

// decode unmarshals the arguments into T and tags the context with the
// transport and, for session-scoped tools, the session id.
func decode[T any](d *Driver) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return kit.DecodeJSON(func(r *T) func(context.Context) context.Context {
		return func(ctx context.Context) context.Context {
			ctx = kit.WithTransport(ctx, d.cfg.Transport)
			if s, ok := any(r).(sessionScoped); ok && s.session() != "" {
				ctx = kit.WithSessionID(ctx, s.session())
			}
			return ctx
		}
	})
}

// middleware wraps every tool: logging, the tool-call counter, and the
// unknown-session payload for session-scoped tools.
func (d *Driver) middleware(name string) kit.Middleware {
	return kit.Chain(kit.Logging(d.logger, name), d.instrument(name), d.sessionLookup())
}

func (d *Driver) instrument(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			_, missing := resp.(*NotFound)
			d.metrics.ObserveTool(name, err == nil && !missing)
			return resp, err
		}
	}
}

func (d *Driver) sessionLookup() kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			if nf, ok := d.notFound(err); ok {
				return nf, nil
			}
			return resp, err
		}
	}
}

func (d *Driver) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, dec func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, d.middleware(tool.Name)(endpoint), dec)
}

// --- open_session ---

type openSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (d *Driver) registerOpenSessionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "open_session",
		Description: "Open a browser tab as a named session. The browser starts on the first session.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session name (generated when omitted)"},
			"url":        map[string]any{"type": "string", "description": "Initial URL (default: about:blank)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*openSessionRequest)
		return d.OpenSession(ctx, r.SessionID, r.URL)
	}

	d.register(srv, tool, endpoint, decode[openSessionRequest](d))
}

// --- close_session ---

type closeSessionRequest struct {
	sessionRequest
}

func (d *Driver) registerCloseSessionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "close_session",
		Description: "Close a session. Closing the last session stops the browser.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*closeSessionRequest)
		return d.CloseSession(ctx, r.SessionID)
	}

	d.register(srv, tool, endpoint, decode[closeSessionRequest](d))
}

// --- list_sessions ---

type listSessionsRequest struct{}

func (d *Driver) registerListSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "list_sessions",
		Description: "List open sessions with their current URL and title.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return d.ListSessions(ctx), nil
	}

	d.register(srv, tool, endpoint, decode[listSessionsRequest](d))
}

// --- get_overview ---

type overviewRequest struct {
	sessionRequest
}

func (d *Driver) registerOverviewTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "get_overview",
		Description: "Summarise the page: title, URL, landmarks and counts of links, buttons, inputs, forms, images and headings.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*overviewRequest)
		return d.Overview(ctx, r.SessionID)
	}

	d.register(srv, tool, endpoint, decode[overviewRequest](d))
}

// --- query_elements ---

type queryElementsRequest struct {
	sessionRequest
	query.ElementsParams
}

func (d *Driver) registerQueryElementsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "query_elements",
		Description: "Return the element tree under a selector, with a text outline. Mode interactive keeps only actionable elements.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"selector":   map[string]any{"type": "string", "description": "Root CSS selector (default: body)"},
			"depth":      map[string]any{"type": "integer", "description": "Maximum depth (default 8)"},
			"mode":       map[string]any{"type": "string", "enum": []any{page.ModeTree, page.ModeInteractive}, "description": "Extraction mode (default: tree)"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*queryElementsRequest)
		return d.QueryElements(ctx, r.SessionID, r.ElementsParams)
	}

	d.register(srv, tool, endpoint, decode[queryElementsRequest](d))
}

// --- get_content ---

type contentRequest struct {
	sessionRequest
	query.ContentParams
}

func (d *Driver) registerContentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "get_content",
		Description: "Return the page, or one element, as sanitised markdown.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"selector":   map[string]any{"type": "string", "description": "Element to convert (default: whole page)"},
			"max_chars":  map[string]any{"type": "integer", "description": "Truncate the markdown to this many characters"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*contentRequest)
		return d.Content(ctx, r.SessionID, r.ContentParams)
	}

	d.register(srv, tool, endpoint, decode[contentRequest](d))
}

// --- perform_action ---

type performActionRequest struct {
	sessionRequest
	action.Action
}

var actionTypes = []any{
	"navigate", "click", "fill", "type", "press", "hover", "focus", "select",
	"check", "uncheck", "scroll", "back", "forward", "reload", "wait",
}

func (d *Driver) registerPerformActionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "perform_action",
		Description: "Perform one browser action (click, fill, navigate, press, scroll, ...).",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"action":     map[string]any{"type": "string", "enum": actionTypes, "description": "Action type"},
			"selector":   map[string]any{"type": "string", "description": "Target element"},
			"value":      map[string]any{"type": "string", "description": "Text to fill or type, key to press, option to select, scroll direction, or wait milliseconds"},
			"url":        map[string]any{"type": "string", "description": "URL for navigate"},
		}, []string{"session_id", "action"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*performActionRequest)
		return d.PerformAction(ctx, r.SessionID, r.Action)
	}

	d.register(srv, tool, endpoint, decode[performActionRequest](d))
}

// --- check_assertion ---

type checkAssertionRequest struct {
	sessionRequest
	Condition assert.Condition `json:"condition"`
	Timeout   int              `json:"timeout,omitempty"`
}

var conditionSchema = map[string]any{
	"type":        "object",
	"description": "Exactly one of url_contains, url_equals, title_contains, title_equals, element_exists, element_not_exists, element_visible, element_text_contains {selector,text}, element_count {selector,equals,min,max}",
}

func (d *Driver) registerCheckAssertionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "check_assertion",
		Description: "Check one condition on the page. Element presence conditions wait up to the timeout.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"condition":  conditionSchema,
			"timeout":    map[string]any{"type": "integer", "description": "Timeout in milliseconds (default 5000)"},
		}, []string{"session_id", "condition"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*checkAssertionRequest)
		return d.CheckAssertion(ctx, r.SessionID, r.Condition, r.Timeout)
	}

	d.register(srv, tool, endpoint, decode[checkAssertionRequest](d))
}

// --- screenshot ---

type screenshotRequest struct {
	sessionRequest
	query.ScreenshotParams
}

func (d *Driver) registerScreenshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "screenshot",
		Description: "Save a PNG of the page or one element and return its path.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"selector":   map[string]any{"type": "string", "description": "Element to capture (default: viewport)"},
			"full_page":  map[string]any{"type": "boolean", "description": "Capture the whole scrollable page"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*screenshotRequest)
		return d.Screenshot(ctx, r.SessionID, r.ScreenshotParams)
	}

	d.register(srv, tool, endpoint, decode[screenshotRequest](d))
}

// --- run_sequence ---

type runSequenceRequest struct {
	sessionRequest
	Steps   []sequence.Step `json:"steps"`
	Options RunOptions      `json:"options"`
}

func (d *Driver) registerRunSequenceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "run_sequence",
		Description: "Run steps (action, assert, query) in order, stopping at the first failure. Returns every step result with the console, network and navigation events observed, in order.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"steps": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":      map[string]any{"type": "string", "enum": []any{sequence.KindAction, sequence.KindAssert, sequence.KindQuery}},
						"action":    map[string]any{"type": "string", "enum": actionTypes},
						"selector":  map[string]any{"type": "string"},
						"value":     map[string]any{"type": "string"},
						"url":       map[string]any{"type": "string"},
						"condition": conditionSchema,
						"timeout":   map[string]any{"type": "integer", "description": "Assertion timeout in milliseconds"},
						"query":     map[string]any{"type": "string", "enum": []any{query.Overview, query.Screenshot, query.Elements, query.Content}},
						"params":    map[string]any{"type": "object"},
					},
					"required": []string{"type"},
				},
			},
			"options": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"capture_console":    map[string]any{"type": "boolean", "description": "Record console messages (default false)"},
					"console_level":      map[string]any{"type": "string", "enum": []any{"all", "warn", "error"}},
					"console_filter":     map[string]any{"type": "string", "description": "Regexp on the console message"},
					"capture_network":    map[string]any{"type": "boolean", "description": "Record completed requests (default false)"},
					"network_filter":     map[string]any{"type": "string", "description": "Regexp on the request URL"},
					"capture_navigation": map[string]any{"type": "boolean", "description": "Record top-level navigations (default true)"},
					"assertion_timeout":  map[string]any{"type": "integer", "description": "Default assertion timeout in milliseconds"},
				},
			},
		}, []string{"session_id", "steps"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runSequenceRequest)
		return d.RunSequence(ctx, r.SessionID, r.Steps, r.Options)
	}

	d.register(srv, tool, endpoint, decode[runSequenceRequest](d))
}
