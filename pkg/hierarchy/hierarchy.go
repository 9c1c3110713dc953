/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: hierarchy.go
Description: Parser for uiautomator hierarchy dumps. Dumps are loaded into a goquery
document so that callers can query nodes with CSS attribute selectors, for example
node[clickable=true][enabled=true]. Every node is also flattened into a Node record
carrying its depth and instance index for locator building and state fingerprints.
*/

package hierarchy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"golang.org/x/net/html"
)

// Selectors used by the policy and the driver to find applicable widgets.
const (
	SelectClickable     = `node[clickable="true"][enabled="true"]`
	SelectLongClickable = `node[long-clickable="true"][enabled="true"]`
	SelectEditable      = `node[class*="EditText"][enabled="true"]`
	SelectScrollable    = `node[scrollable="true"]`
	SelectLoading       = `node[class*="ProgressBar"]`
)

// selfClosingNode matches <node .../>. The HTML tokenizer ignores the self-closing
// flag on unknown elements, so nodes are closed explicitly to keep the real nesting.
var selfClosingNode = regexp.MustCompile(`<node\b([^>]*?)/>`)

// Node is one element of the hierarchy.
type Node struct {
	Index         int
	Depth         int
	Class         string
	ResourceID    string
	Package       string
	Text          string
	Description   string
	Bounds        interfaces.Bounds
	Instance      int
	Clickable     bool
	LongClickable bool
	Checkable     bool
	Checked       bool
	Scrollable    bool
	Enabled       bool
	Focused       bool
	Selected      bool
}

// View converts the node into an event locator.
func (n Node) View() *interfaces.View {
	return &interfaces.View{
		ResourceID:  n.ResourceID,
		ClassName:   n.Class,
		Text:        n.Text,
		Description: n.Description,
		Package:     n.Package,
		Bounds:      n.Bounds,
		Instance:    n.Instance,
	}
}

// Hierarchy is a parsed dump.
type Hierarchy struct {
	raw   string
	doc   *goquery.Document
	nodes []Node
	index map[*html.Node]int
}

// Parse loads a uiautomator dump.
func Parse(dump string) (*Hierarchy, error) {
	if !strings.Contains(dump, "<hierarchy") {
		return nil, fmt.Errorf("not a hierarchy dump")
	}
	normalized := selfClosingNode.ReplaceAllString(dump, "<node$1></node>")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(normalized))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy: %w", err)
	}

	h := &Hierarchy{
		raw:   dump,
		doc:   doc,
		index: make(map[*html.Node]int),
	}
	instances := make(map[string]int)
	doc.Find("node").Each(func(i int, s *goquery.Selection) {
		n := Node{
			Index:         i,
			Depth:         s.ParentsFiltered("node").Length(),
			Class:         s.AttrOr("class", ""),
			ResourceID:    s.AttrOr("resource-id", ""),
			Package:       s.AttrOr("package", ""),
			Text:          s.AttrOr("text", ""),
			Description:   s.AttrOr("content-desc", ""),
			Clickable:     s.AttrOr("clickable", "") == "true",
			LongClickable: s.AttrOr("long-clickable", "") == "true",
			Checkable:     s.AttrOr("checkable", "") == "true",
			Checked:       s.AttrOr("checked", "") == "true",
			Scrollable:    s.AttrOr("scrollable", "") == "true",
			Enabled:       s.AttrOr("enabled", "") == "true",
			Focused:       s.AttrOr("focused", "") == "true",
			Selected:      s.AttrOr("selected", "") == "true",
		}
		if b, err := interfaces.ParseBounds(s.AttrOr("bounds", "")); err == nil {
			n.Bounds = b
		}
		key := n.Class + "\x00" + n.ResourceID
		n.Instance = instances[key]
		instances[key]++

		h.index[s.Get(0)] = len(h.nodes)
		h.nodes = append(h.nodes, n)
	})
	return h, nil
}

// Raw returns the dump text as captured.
func (h *Hierarchy) Raw() string { return h.raw }

// Nodes returns every node in document order.
func (h *Hierarchy) Nodes() []Node { return h.nodes }

// Select returns nodes matching a CSS selector, in document order.
func (h *Hierarchy) Select(selector string) []Node {
	var out []Node
	h.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if i, ok := h.index[s.Get(0)]; ok {
			out = append(out, h.nodes[i])
		}
	})
	return out
}

// Contains reports whether the raw dump mentions s anywhere.
func (h *Hierarchy) Contains(s string) bool {
	return s != "" && strings.Contains(h.raw, s)
}

// Match holds the fields a locator may constrain. Empty fields are ignored.
type Match struct {
	Text              string
	Description       string
	ClassName         string
	ResourceID        string
	ResourceIDPattern *regexp.Regexp
	Package           string
	Instance          int
}

// Find returns all nodes satisfying m.
func (h *Hierarchy) Find(m Match) []Node {
	var out []Node
	for _, n := range h.nodes {
		if m.Text != "" && n.Text != m.Text {
			continue
		}
		if m.Description != "" && n.Description != m.Description {
			continue
		}
		if m.ClassName != "" && n.Class != m.ClassName {
			continue
		}
		if m.ResourceID != "" && n.ResourceID != m.ResourceID {
			continue
		}
		if m.ResourceIDPattern != nil && !m.ResourceIDPattern.MatchString(n.ResourceID) {
			continue
		}
		if m.Package != "" && n.Package != m.Package {
			continue
		}
		out = append(out, n)
	}
	return out
}

// FindInstance returns the m.Instance-th match.
func (h *Hierarchy) FindInstance(m Match) (Node, bool) {
	matches := h.Find(m)
	if m.Instance < 0 || m.Instance >= len(matches) {
		return Node{}, false
	}
	return matches[m.Instance], true
}

// At returns the deepest node whose bounds equal b.
func (h *Hierarchy) At(b interfaces.Bounds) (Node, bool) {
	var found Node
	ok := false
	for _, n := range h.nodes {
		if n.Bounds == b && (!ok || n.Depth >= found.Depth) {
			found, ok = n, true
		}
	}
	return found, ok
}
