package query

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/domdrive/internal/page"
)

// maxTextInOutline clips node text in the outline.
const maxTextInOutline = 80

// Format renders nodes as an indented outline, one element per line, each
// line a "- " item of role, quoted name, selector and flags, children two
// spaces deeper. A disabled button holding a logo renders as
// `- button "Search" #search-btn [disabled]` followed by `  - img "logo"`.
func Format(nodes []page.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		formatNode(&b, n, 0)
	}
	return b.String()
}

func formatNode(b *strings.Builder, n page.Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("- ")
	if n.Role != "" {
		b.WriteString(n.Role)
	} else {
		b.WriteString(n.Tag)
	}

	label := n.Name
	if label == "" {
		label = n.Text
	}
	if label != "" {
		fmt.Fprintf(b, " %q", clip(label, maxTextInOutline))
	}
	if n.Selector != "" {
		b.WriteString(" " + n.Selector)
	}
	if n.Href != "" {
		b.WriteString(" -> " + n.Href)
	}
	if n.Value != "" {
		fmt.Fprintf(b, " value=%q", clip(n.Value, maxTextInOutline))
	}

	var flags []string
	if n.Disabled {
		flags = append(flags, "disabled")
	}
	if n.Checked != nil {
		if *n.Checked {
			flags = append(flags, "checked")
		} else {
			flags = append(flags, "unchecked")
		}
	}
	if len(flags) > 0 {
		b.WriteString(" [" + strings.Join(flags, ", ") + "]")
	}
	b.WriteByte('\n')

	for _, c := range n.Children {
		formatNode(b, c, depth+1)
	}
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
