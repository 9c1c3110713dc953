/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: interfaces.go
Description: Shared data types for Akaylee Droid. Views, events and action kinds live
here so that the hierarchy, trace, mobile, policy and core packages can exchange them
without import cycles.
*/

package interfaces

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind names one synthesized action. The string value is the token written to traces.
type ActionKind string

const (
	ActionClick         ActionKind = "click"
	ActionLongClick     ActionKind = "longclick"
	ActionEdit          ActionKind = "edit"
	ActionScroll        ActionKind = "scroll"
	ActionBack          ActionKind = "back"
	ActionHome          ActionKind = "home"
	ActionNaturalScreen ActionKind = "naturalscreen"
	ActionLeftScreen    ActionKind = "leftscreen"
	ActionSplitScreen   ActionKind = "splitscreen"
	ActionStart         ActionKind = "start"
	ActionStop          ActionKind = "stop"
	ActionClear         ActionKind = "clear"
	ActionRestart       ActionKind = "restart"
	ActionSetting       ActionKind = "setting"
	ActionSaveState     ActionKind = "save_state"
	ActionWrong         ActionKind = "wrong"
)

var knownActions = map[ActionKind]bool{
	ActionClick: true, ActionLongClick: true, ActionEdit: true, ActionScroll: true,
	ActionBack: true, ActionHome: true, ActionNaturalScreen: true, ActionLeftScreen: true,
	ActionSplitScreen: true, ActionStart: true, ActionStop: true, ActionClear: true,
	ActionRestart: true, ActionSetting: true, ActionSaveState: true, ActionWrong: true,
}

// ParseActionKind validates a trace token.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if !knownActions[k] {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// NeedsView reports whether the action must carry a target View.
func (k ActionKind) NeedsView() bool {
	switch k {
	case ActionClick, ActionLongClick, ActionEdit, ActionScroll:
		return true
	}
	return false
}

// Scroll directions carried as the payload of scroll events.
const (
	ScrollForward  = "scroll_forward"
	ScrollBackward = "scroll_backward"
	ScrollRight    = "scroll_right"
	ScrollLeft     = "scroll_left"
)

// Role identifies a device inside a run. Role 0 is the base device.
type Role int

const (
	// BaseRole is the ground-truth device.
	BaseRole Role = 0
	// AllDevices addresses an event to every live session.
	AllDevices Role = -1
)

func (r Role) String() string {
	return "device" + strconv.Itoa(int(r))
}

// IsBase reports whether the role is the base device.
func (r Role) IsBase() bool { return r == BaseRole }

// ParseRole parses the "device<N>" trace token.
func ParseRole(s string) (Role, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "device"))
	if err != nil || !strings.HasPrefix(s, "device") || n < 0 {
		return 0, fmt.Errorf("invalid device token %q", s)
	}
	return Role(n), nil
}

// Bounds is a screen rectangle in device pixels.
type Bounds struct {
	X1, Y1, X2, Y2 int
}

// Center returns the tap point of the rectangle.
func (b Bounds) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IsZero reports whether no bounds were recorded.
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// String renders bounds the way uiautomator does: [x1,y1][x2,y2].
func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
}

// ParseBounds parses the [x1,y1][x2,y2] form.
func ParseBounds(s string) (Bounds, error) {
	var b Bounds
	if _, err := fmt.Sscanf(s, "[%d,%d][%d,%d]", &b.X1, &b.Y1, &b.X2, &b.Y2); err != nil {
		return Bounds{}, fmt.Errorf("invalid bounds %q: %w", s, err)
	}
	return b, nil
}

// View locates one UI element. Views are immutable once attached to an Event.
type View struct {
	ResourceID  string `json:"resource_id"`
	ClassName   string `json:"class_name"`
	Text        string `json:"text"`
	Description string `json:"description"`
	Package     string `json:"package"`
	Bounds      Bounds `json:"bounds"`
	Instance    int    `json:"instance"` // index among nodes sharing ClassName and ResourceID
}

// HasLocator reports whether at least one locator field is set.
func (v *View) HasLocator() bool {
	return v.ResourceID != "" || v.ClassName != "" || v.Text != "" || v.Description != "" || !v.Bounds.IsZero()
}

// Event is one dispatched action. Seq is fractional so that waits can roll a tick back.
type Event struct {
	Seq    float64    `json:"seq"`
	Action ActionKind `json:"action"`
	View   *View      `json:"view,omitempty"`
	Text   string     `json:"text,omitempty"`
	Target Role       `json:"target"`
}

// Addressed reports whether the event should run on the given role.
func (e *Event) Addressed(r Role) bool {
	return e.Target == AllDevices || e.Target == r
}

// FormatSeq renders a sequence number the way screens and traces name it.
func FormatSeq(seq float64) string {
	return strconv.FormatFloat(seq, 'f', 1, 64)
}

// OutcomeStatus classifies one action attempt.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeNotFound
	OutcomeDriverError
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeDriverError:
		return "driver-error"
	}
	return "unknown"
}

// ActionOutcome is the result of executing an Event on one device.
type ActionOutcome struct {
	Status   OutcomeStatus
	Resolved string // locator strategy that performed the action
	Attempts int
	Err      error
}

// OK reports success.
func (o ActionOutcome) OK() bool { return o.Status == OutcomeSuccess }

// Succeeded builds a success outcome.
func Succeeded(resolved string) ActionOutcome {
	return ActionOutcome{Status: OutcomeSuccess, Resolved: resolved, Attempts: 1}
}

// NotFound builds a not-found outcome.
func NotFound(err error) ActionOutcome {
	return ActionOutcome{Status: OutcomeNotFound, Attempts: 1, Err: err}
}

// DriverError builds a driver-error outcome.
func DriverError(err error) ActionOutcome {
	return ActionOutcome{Status: OutcomeDriverError, Attempts: 1, Err: err}
}
