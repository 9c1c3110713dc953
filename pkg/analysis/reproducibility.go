/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reproducibility.go
Description: Offline replayability check for recorded runs. Every element-bound event in
a run's read_trace is looked up in the hierarchy captured at its tick: first by exact
bounds, then by resource id and class. Events whose target cannot be found would not
replay and are reported.
*/

package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/trace"
	"github.com/sirupsen/logrus"
)

// Lookup methods that located a recorded target.
const (
	FoundByBounds    = "bounds"
	FoundByStructure = "structure"
)

// Unreplayable is one event whose target is missing from its capture.
type Unreplayable struct {
	Seq     float64               `json:"seq"`
	Action  interfaces.ActionKind `json:"action"`
	Line    string                `json:"line"`
	Capture string                `json:"capture"`
	Reason  string                `json:"reason"`
}

// ReproducibilityResult summarises one run directory.
type ReproducibilityResult struct {
	RunDir      string         `json:"run_dir"`
	Events      int            `json:"events"`
	Checked     int            `json:"checked"`
	ByBounds    int            `json:"by_bounds"`
	ByStructure int            `json:"by_structure"`
	Missing     []Unreplayable `json:"missing"`
}

// ReplayRate is the share of checked events whose target was found.
func (r *ReproducibilityResult) ReplayRate() float64 {
	if r.Checked == 0 {
		return 1
	}
	return float64(r.Checked-len(r.Missing)) / float64(r.Checked)
}

// ReproducibilityHarness verifies recorded runs.
type ReproducibilityHarness struct {
	logger *logrus.Logger
}

// NewReproducibilityHarness creates a harness.
func NewReproducibilityHarness(logger *logrus.Logger) *ReproducibilityHarness {
	return &ReproducibilityHarness{logger: logger}
}

type capture struct {
	seq  float64
	path string
}

// captures lists <seq>_<serial>.xml files of a screen directory ordered by seq.
func captures(dir string) ([]capture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []capture
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".xml") {
			continue
		}
		prefix, _, ok := strings.Cut(strings.TrimSuffix(name, ".xml"), "_")
		if !ok {
			continue
		}
		seq, err := strconv.ParseFloat(prefix, 64)
		if err != nil {
			continue
		}
		out = append(out, capture{seq: seq, path: filepath.Join(dir, name)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

// captureFor returns the latest capture taken at or before seq.
func captureFor(caps []capture, seq float64) (capture, bool) {
	var found capture
	ok := false
	for _, c := range caps {
		if c.seq > seq {
			break
		}
		found, ok = c, true
	}
	return found, ok
}

// Locate finds the recorded view in h and reports how.
func Locate(h *hierarchy.Hierarchy, v *interfaces.View) (string, bool) {
	if !v.Bounds.IsZero() {
		if _, ok := h.At(v.Bounds); ok {
			return FoundByBounds, true
		}
	}
	if v.ResourceID == "" && v.ClassName == "" {
		return "", false
	}
	if len(h.Find(hierarchy.Match{ResourceID: v.ResourceID, ClassName: v.ClassName})) > 0 {
		return FoundByStructure, true
	}
	return "", false
}

// AnalyzeRun checks every element-bound event of runDir/read_trace.txt.
func (h *ReproducibilityHarness) AnalyzeRun(runDir string) (*ReproducibilityResult, error) {
	recs, err := trace.ReadRecordsFile(filepath.Join(runDir, trace.ReadTraceName))
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	caps, err := captures(filepath.Join(runDir, trace.ScreenDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}

	result := &ReproducibilityResult{RunDir: runDir, Events: len(recs)}
	parsed := make(map[string]*hierarchy.Hierarchy)
	for _, rec := range recs {
		v := rec.Event.View
		if v == nil || !rec.Event.Action.NeedsView() {
			continue
		}
		result.Checked++
		miss := Unreplayable{Seq: rec.Event.Seq, Action: rec.Event.Action, Line: rec.Format()}

		c, ok := captureFor(caps, rec.Event.Seq)
		if !ok {
			miss.Reason = "no capture at or before this tick"
			result.Missing = append(result.Missing, miss)
			continue
		}
		miss.Capture = c.path

		tree, ok := parsed[c.path]
		if !ok {
			data, err := os.ReadFile(c.path)
			if err == nil {
				tree, err = hierarchy.Parse(string(data))
			}
			if err != nil {
				h.logger.WithField("capture", c.path).Warnf("Unreadable capture: %v", err)
			}
			parsed[c.path] = tree
		}
		if tree == nil {
			miss.Reason = "capture unreadable"
			result.Missing = append(result.Missing, miss)
			continue
		}

		how, found := Locate(tree, v)
		switch {
		case !found:
			miss.Reason = "target not in capture"
			result.Missing = append(result.Missing, miss)
		case how == FoundByBounds:
			result.ByBounds++
		default:
			result.ByStructure++
		}
	}

	h.logger.WithFields(logrus.Fields{
		"run_dir": runDir,
		"checked": result.Checked,
		"missing": len(result.Missing),
	}).Info("Replayability check complete")
	return result, nil
}

// SaveReport writes the result as indented JSON.
func (h *ReproducibilityHarness) SaveReport(result *ReproducibilityResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
