/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: crash_triage.go
Description: Crash triage for reports read from device crash buffers. Classifies each
report by exception type, ranks its severity and groups reports that share the top of
their stack trace, so one app crash seen on several devices or ticks counts once.
*/

package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kleascm/akaylee-droid/pkg/mobile"
)

// CrashSeverity represents the severity level of a crash
type CrashSeverity int

const (
	SeverityLow CrashSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of crash severity
func (s CrashSeverity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// CrashType represents the type of crash detected
type CrashType string

const (
	CrashTypeNullPointer  CrashType = "NULL_POINTER"
	CrashTypeIllegalState CrashType = "ILLEGAL_STATE"
	CrashTypeIndexBounds  CrashType = "INDEX_OUT_OF_BOUNDS"
	CrashTypeOutOfMemory  CrashType = "OUT_OF_MEMORY"
	CrashTypeSecurity     CrashType = "SECURITY"
	CrashTypeNativeCrash  CrashType = "NATIVE"
	CrashTypeANR          CrashType = "ANR"
	CrashTypeUnknown      CrashType = "UNKNOWN"
)

const stackFramesForGrouping = 5

// logcatPrefix matches the threadtime header in front of every logcat line.
var logcatPrefix = regexp.MustCompile(`^\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\s+\d+\s+\d+\s+[VDIWEF]\s+[^:]+:\s*`)

// TriageResult contains the triage analysis of a crash
type TriageResult struct {
	Report    *mobile.CrashReport
	CrashType CrashType
	Severity  CrashSeverity
	StackHash string
}

// CrashGroup collects reports sharing a stack hash.
type CrashGroup struct {
	StackHash string    `json:"stack_hash"`
	CrashType CrashType `json:"crash_type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Serials   []string  `json:"serials"`
	severity  CrashSeverity
}

// CrashTriageEngine classifies crash reports and groups duplicates.
type CrashTriageEngine struct {
	crashPatterns map[CrashType]*regexp.Regexp
	order         []CrashType

	mu     sync.Mutex
	groups map[string]*CrashGroup
}

// NewCrashTriageEngine creates a new crash triage engine
func NewCrashTriageEngine() *CrashTriageEngine {
	engine := &CrashTriageEngine{
		crashPatterns: make(map[CrashType]*regexp.Regexp),
		groups:        make(map[string]*CrashGroup),
	}
	engine.initializePatterns()
	return engine
}

// initializePatterns sets up regex patterns for crash classification
func (e *CrashTriageEngine) initializePatterns() {
	add := func(t CrashType, expr string) {
		e.crashPatterns[t] = regexp.MustCompile(expr)
		e.order = append(e.order, t)
	}
	add(CrashTypeNullPointer, `NullPointerException`)
	add(CrashTypeIllegalState, `IllegalStateException|IllegalArgumentException`)
	add(CrashTypeIndexBounds, `IndexOutOfBoundsException`)
	add(CrashTypeOutOfMemory, `OutOfMemoryError`)
	add(CrashTypeSecurity, `SecurityException`)
	add(CrashTypeNativeCrash, `(?i)signal \d+ \(SIG[A-Z]+\)|Fatal signal`)
}

// TriageCrash classifies one report and files it into its group.
func (e *CrashTriageEngine) TriageCrash(report *mobile.CrashReport) *TriageResult {
	result := &TriageResult{
		Report:    report,
		CrashType: e.classifyCrashType(report),
		StackHash: e.calculateStackHash(report),
	}
	result.Severity = e.calculateSeverity(result.CrashType)

	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[result.StackHash]
	if !ok {
		g = &CrashGroup{
			StackHash: result.StackHash,
			CrashType: result.CrashType,
			Severity:  result.Severity.String(),
			Message:   stripLogcat(report.Message),
			severity:  result.Severity,
		}
		e.groups[result.StackHash] = g
	}
	g.Count++
	if report.Serial != "" && !contains(g.Serials, report.Serial) {
		g.Serials = append(g.Serials, report.Serial)
	}
	return result
}

// Groups returns the crash groups, most severe and most frequent first.
func (e *CrashTriageEngine) Groups() []CrashGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]CrashGroup, 0, len(e.groups))
	for _, g := range e.groups {
		c := *g
		c.Serials = append([]string(nil), g.Serials...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].severity != out[j].severity {
			return out[i].severity > out[j].severity
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].StackHash < out[j].StackHash
	})
	return out
}

// Reset forgets all groups.
func (e *CrashTriageEngine) Reset() {
	e.mu.Lock()
	e.groups = make(map[string]*CrashGroup)
	e.mu.Unlock()
}

func (e *CrashTriageEngine) classifyCrashType(report *mobile.CrashReport) CrashType {
	if report.Type == "anr" {
		return CrashTypeANR
	}
	text := report.Message + "\n" + strings.Join(report.Logs, "\n")
	for _, t := range e.order {
		if e.crashPatterns[t].MatchString(text) {
			return t
		}
	}
	return CrashTypeUnknown
}

func (e *CrashTriageEngine) calculateSeverity(t CrashType) CrashSeverity {
	switch t {
	case CrashTypeNativeCrash, CrashTypeOutOfMemory:
		return SeverityCritical
	case CrashTypeNullPointer, CrashTypeIndexBounds, CrashTypeIllegalState, CrashTypeSecurity:
		return SeverityHigh
	case CrashTypeANR:
		return SeverityMedium
	}
	return SeverityLow
}

// calculateStackHash hashes the first few stack frames with logcat headers removed.
// Reports without frames fall back to their message.
func (e *CrashTriageEngine) calculateStackHash(report *mobile.CrashReport) string {
	var frames []string
	for _, f := range strings.Split(report.StackTrace, "\n") {
		if f = stripLogcat(f); f != "" {
			frames = append(frames, f)
		}
	}
	if len(frames) == 0 {
		frames = []string{report.Type, stripLogcat(report.Message)}
	}
	frames = frames[:min(stackFramesForGrouping, len(frames))]
	h := sha256.New()
	h.Write([]byte(strings.Join(frames, "\n")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func stripLogcat(line string) string {
	return strings.TrimSpace(logcatPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
