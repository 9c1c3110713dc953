/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: state.go
Description: Structural UI state fingerprints. A State is the ordered list of normalized
hierarchy lines. Volatile content is excluded: status bar nodes, clocks, progress
animations, bounds and focus. Two States are the same iff their line sequences match.
*/

package hierarchy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// StateOptions controls normalization.
type StateOptions struct {
	IncludeText    bool     // keep text and content-desc in each line
	IgnorePackages []string // nodes from these packages are dropped
	IgnoreClasses  []string // nodes whose class ends with one of these are dropped
}

// DefaultStateOptions drops the status bar and animated widgets.
func DefaultStateOptions() StateOptions {
	return StateOptions{
		IgnorePackages: []string{"com.android.systemui"},
		IgnoreClasses:  []string{"ProgressBar", "TextClock", "Chronometer"},
	}
}

// State is a structural fingerprint of one capture.
type State struct {
	lines []string
	hash  string
}

// NewState derives a State from a parsed hierarchy.
func NewState(h *Hierarchy, opts StateOptions) *State {
	lines := make([]string, 0, len(h.nodes))
	for _, n := range h.nodes {
		if opts.ignored(n) {
			continue
		}
		lines = append(lines, normalize(n, opts.IncludeText))
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return &State{lines: lines, hash: hex.EncodeToString(sum[:])}
}

// StateFromDump parses a dump and derives its State.
func StateFromDump(dump string, opts StateOptions) (*State, error) {
	h, err := Parse(dump)
	if err != nil {
		return nil, err
	}
	return NewState(h, opts), nil
}

func (o StateOptions) ignored(n Node) bool {
	for _, p := range o.IgnorePackages {
		if n.Package == p {
			return true
		}
	}
	for _, c := range o.IgnoreClasses {
		if strings.HasSuffix(n.Class, c) {
			return true
		}
	}
	return false
}

func normalize(n Node, includeText bool) string {
	line := fmt.Sprintf("%d|%s|%s|%s|c%t|l%t|k%t|x%t|s%t|e%t|v%t",
		n.Depth, n.Class, n.ResourceID, n.Package,
		n.Clickable, n.LongClickable, n.Checkable, n.Checked, n.Scrollable, n.Enabled, n.Selected)
	if includeText {
		line += "|" + n.Text + "|" + n.Description
	}
	return line
}

// Same reports structural equality. Nil States are never the same as anything.
func (s *State) Same(other *State) bool {
	if s == nil || other == nil {
		return false
	}
	if s.hash != other.hash || len(s.lines) != len(other.lines) {
		return false
	}
	for i := range s.lines {
		if s.lines[i] != other.lines[i] {
			return false
		}
	}
	return true
}

// Hash returns the hex sha256 of the normalized lines.
func (s *State) Hash() string {
	if s == nil {
		return ""
	}
	return s.hash
}

// Lines returns a copy of the normalized lines.
func (s *State) Lines() []string {
	return append([]string(nil), s.lines...)
}

// Len is the number of retained nodes.
func (s *State) Len() int { return len(s.lines) }
