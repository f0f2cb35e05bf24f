package page

// ExtractVersion is the version of the extraction contract spoken between
// the core and the in-page extraction script.
const ExtractVersion = 1

// Extraction modes.
const (
	ModeOverview    = "overview"
	ModeTree        = "tree"
	ModeInteractive = "interactive"
)

// ExtractRequest asks the page for a structural summary. Selector scopes the
// extraction (empty = document body), Depth bounds the tree (0 = default).
type ExtractRequest struct {
	Version  int    `json:"version"`
	Mode     string `json:"mode"`
	Selector string `json:"selector,omitempty"`
	Depth    int    `json:"depth,omitempty"`
}

// ExtractResponse is the page's answer. Overview mode fills Landmarks and
// Counts; tree modes fill Nodes.
type ExtractResponse struct {
	Version   int            `json:"version"`
	Title     string         `json:"title"`
	URL       string         `json:"url"`
	Landmarks []Landmark     `json:"landmarks,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	Nodes     []Node         `json:"nodes,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Landmark is a named structural region of the page.
type Landmark struct {
	Role     string `json:"role"` // navigation, main, banner, contentinfo, complementary, search, form, region
	Tag      string `json:"tag"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// Node is one element of an extracted tree.
type Node struct {
	Role     string `json:"role,omitempty"`
	Tag      string `json:"tag"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Value    string `json:"value,omitempty"`
	Href     string `json:"href,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Checked  *bool  `json:"checked,omitempty"`
	Children []Node `json:"children,omitempty"`
}
