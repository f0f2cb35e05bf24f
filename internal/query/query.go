// Package query captures page state: a landmark overview, element trees,
// markdown content and screenshots on disk.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/internal/page"
)

// Query names accepted by Run.
const (
	Overview   = "overview"
	Screenshot = "screenshot"
	Elements   = "elements"
	Content    = "content"
)

// ErrUnknownQuery is returned by Run for an unsupported query name.
var ErrUnknownQuery = errors.New("unknown query")

const (
	// DefaultDepth bounds element trees when the caller gives no depth.
	DefaultDepth = 8
	maxDepth     = 32
)

// Querier runs queries against a page.
type Querier struct {
	dir     string
	newName idgen.Generator
	md      *converter.Converter
	policy  *bluemonday.Policy
	logger  *slog.Logger
}

// New creates a Querier writing screenshots under dir. An empty dir means
// os.TempDir()/domdrive-screenshots.
func New(dir string, logger *slog.Logger) *Querier {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "domdrive-screenshots")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Querier{
		dir:     dir,
		newName: idgen.Timestamped(idgen.NanoID(8)),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
		logger: logger,
	}
}

// Dir returns the screenshot directory.
func (q *Querier) Dir() string { return q.dir }

// Run dispatches a named query. params may be empty. session names the
// owning session and prefixes screenshot files.
func (q *Querier) Run(ctx context.Context, p page.Page, session, name string, params json.RawMessage) (any, error) {
	switch name {
	case Overview:
		return q.Overview(ctx, p)
	case Elements:
		var ep ElementsParams
		if err := decodeParams(params, &ep); err != nil {
			return nil, err
		}
		return q.Elements(ctx, p, ep)
	case Content:
		var cp ContentParams
		if err := decodeParams(params, &cp); err != nil {
			return nil, err
		}
		return q.Content(ctx, p, cp)
	case Screenshot:
		var sp ScreenshotParams
		if err := decodeParams(params, &sp); err != nil {
			return nil, err
		}
		return q.Screenshot(ctx, p, session, sp)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, name)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("query: decode params: %w", err)
	}
	return nil
}

// OverviewResult summarises the page structure.
type OverviewResult struct {
	Title     string          `json:"title"`
	URL       string          `json:"url"`
	Landmarks []page.Landmark `json:"landmarks"`
	Counts    Counts          `json:"counts"`
}

// Counts are element tallies for the whole document.
type Counts struct {
	Links    int `json:"links"`
	Buttons  int `json:"buttons"`
	Inputs   int `json:"inputs"`
	Forms    int `json:"forms"`
	Images   int `json:"images"`
	Headings int `json:"headings"`
}

// Overview captures title, URL, landmarks and element counts.
func (q *Querier) Overview(ctx context.Context, p page.Page) (*OverviewResult, error) {
	resp, err := extract(ctx, p, page.ExtractRequest{Mode: page.ModeOverview})
	if err != nil {
		return nil, err
	}
	landmarks := resp.Landmarks
	if landmarks == nil {
		landmarks = []page.Landmark{}
	}
	return &OverviewResult{
		Title:     resp.Title,
		URL:       resp.URL,
		Landmarks: landmarks,
		Counts: Counts{
			Links:    resp.Counts["links"],
			Buttons:  resp.Counts["buttons"],
			Inputs:   resp.Counts["inputs"],
			Forms:    resp.Counts["forms"],
			Images:   resp.Counts["images"],
			Headings: resp.Counts["headings"],
		},
	}, nil
}

// ElementsParams selects an element tree. Mode is "tree" (default) or
// "interactive" (a flat list of actionable elements).
type ElementsParams struct {
	Selector string `json:"selector,omitempty"`
	Depth    int    `json:"depth,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// ElementsResult holds the extracted nodes and their text outline.
type ElementsResult struct {
	URL       string      `json:"url"`
	Title     string      `json:"title"`
	Mode      string      `json:"mode"`
	Nodes     []page.Node `json:"nodes"`
	Outline   string      `json:"outline"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Elements extracts the element tree under params.Selector (the body when
// empty).
func (q *Querier) Elements(ctx context.Context, p page.Page, params ElementsParams) (*ElementsResult, error) {
	mode := params.Mode
	switch mode {
	case "":
		mode = page.ModeTree
	case page.ModeTree, page.ModeInteractive:
	default:
		return nil, fmt.Errorf("query: elements mode must be %q or %q, got %q", page.ModeTree, page.ModeInteractive, mode)
	}
	depth := params.Depth
	if depth <= 0 {
		depth = DefaultDepth
	}
	if depth > maxDepth {
		depth = maxDepth
	}

	resp, err := extract(ctx, p, page.ExtractRequest{Mode: mode, Selector: params.Selector, Depth: depth})
	if err != nil {
		return nil, err
	}
	nodes := resp.Nodes
	if nodes == nil {
		nodes = []page.Node{}
	}
	return &ElementsResult{
		URL:       resp.URL,
		Title:     resp.Title,
		Mode:      mode,
		Nodes:     nodes,
		Outline:   Format(nodes),
		Truncated: resp.Truncated,
	}, nil
}

func extract(ctx context.Context, p page.Page, req page.ExtractRequest) (*page.ExtractResponse, error) {
	req.Version = page.ExtractVersion
	resp, err := p.Extract(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query: extract %s: %w", req.Mode, err)
	}
	if resp.Version != page.ExtractVersion {
		return nil, fmt.Errorf("query: extract %s: response version %d, want %d", req.Mode, resp.Version, page.ExtractVersion)
	}
	return resp, nil
}

// ContentParams selects the markdown source. MaxChars truncates the
// result when positive.
type ContentParams struct {
	Selector string `json:"selector,omitempty"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// ContentResult is the sanitised markdown rendering of the page or element.
type ContentResult struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Selector  string `json:"selector,omitempty"`
	Markdown  string `json:"markdown"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Content renders the page (or the first match of params.Selector) as
// markdown. Scripts, styles and event handlers are stripped first.
func (q *Querier) Content(ctx context.Context, p page.Page, params ContentParams) (*ContentResult, error) {
	info, err := p.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: page info: %w", err)
	}
	raw, err := p.HTML(ctx, params.Selector)
	if err != nil {
		return nil, fmt.Errorf("query: html: %w", err)
	}

	md, err := q.md.ConvertString(q.policy.Sanitize(raw), converter.WithDomain(info.URL))
	if err != nil {
		return nil, fmt.Errorf("query: markdown: %w", err)
	}
	res := &ContentResult{
		URL:      info.URL,
		Title:    info.Title,
		Selector: params.Selector,
		Markdown: strings.TrimSpace(md),
	}
	if params.MaxChars > 0 && utf8.RuneCountInString(res.Markdown) > params.MaxChars {
		res.Markdown = string([]rune(res.Markdown)[:params.MaxChars])
		res.Truncated = true
	}
	return res, nil
}

// fileBase turns a session id into a single path element.
func fileBase(session string) string {
	base := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == filepath.Separator {
			return '_'
		}
		return r
	}, session)
	if base == "" || base == "." || base == ".." {
		return "page"
	}
	return base
}

// ScreenshotParams selects what to capture.
type ScreenshotParams struct {
	Selector string `json:"selector,omitempty"`
	FullPage bool   `json:"full_page,omitempty"`
}

// ScreenshotResult points at the written PNG.
type ScreenshotResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// Screenshot captures a PNG and writes it to <dir>/<session>-<id>.png.
func (q *Querier) Screenshot(ctx context.Context, p page.Page, session string, params ScreenshotParams) (*ScreenshotResult, error) {
	img, err := p.Screenshot(ctx, params.Selector, params.FullPage)
	if err != nil {
		return nil, fmt.Errorf("query: screenshot: %w", err)
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return nil, fmt.Errorf("query: screenshot dir: %w", err)
	}
	path := filepath.Join(q.dir, fileBase(session)+"-"+q.newName()+".png")
	if rel, err := filepath.Rel(q.dir, path); err != nil || rel != filepath.Base(path) {
		return nil, fmt.Errorf("query: screenshot path %q escapes %s", path, q.dir)
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return nil, fmt.Errorf("query: write screenshot: %w", err)
	}
	q.logger.Debug("query: screenshot saved", "path", path, "bytes", len(img))
	return &ScreenshotResult{Path: path, Bytes: len(img)}, nil
}
