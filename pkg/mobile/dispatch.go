/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: dispatch.go
Description: Event execution for a Session. Execute wraps a single attempt in a one-shot
retry and classifies the result as an ActionOutcome. Pointer actions resolve their
target by description, text or structure, falling back to recorded coordinates.
*/

package mobile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

const (
	maxAttempts   = 2
	longClickHold = 2 * time.Second
	scrollSteps   = 100
	scrollSwipes  = 10
)

var errNoView = errors.New("event has no target view")

// Execute runs the event on this device. Events addressed to another role succeed
// without touching the device.
func (s *Session) Execute(ctx context.Context, e *interfaces.Event) interfaces.ActionOutcome {
	if !e.Addressed(s.Role()) {
		return interfaces.Succeeded("unaddressed")
	}

	var out interfaces.ActionOutcome
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := s.pace(ctx); err != nil {
			return interfaces.DriverError(err)
		}
		out = s.attempt(ctx, e)
		out.Attempts = attempt + 1
		if out.OK() || errors.Is(out.Err, ErrStaleLocator) || errors.Is(out.Err, errNoView) {
			break
		}
		s.logger.WithFields(logrus.Fields{
			"device":  s.Serial(),
			"action":  e.Action,
			"seq":     e.Seq,
			"attempt": attempt,
		}).Debugf("Action failed: %v", out.Err)
	}

	if out.OK() && e.Action != interfaces.ActionSaveState && e.Action != interfaces.ActionWrong {
		s.DismissPermissions(ctx)
	}
	return out
}

func (s *Session) pace(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func classify(err error) interfaces.ActionOutcome {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleLocator) || errors.Is(err, errNoView) {
		return interfaces.NotFound(err)
	}
	return interfaces.DriverError(err)
}

func done(resolved string, err error) interfaces.ActionOutcome {
	if err != nil {
		return classify(err)
	}
	return interfaces.Succeeded(resolved)
}

func (s *Session) attempt(ctx context.Context, e *interfaces.Event) interfaces.ActionOutcome {
	switch e.Action {
	case interfaces.ActionClick, interfaces.ActionLongClick:
		return s.pointer(ctx, e)
	case interfaces.ActionEdit, interfaces.ActionScroll:
		return s.structured(ctx, e)
	case interfaces.ActionBack:
		return done("key", s.driver.Press(ctx, KeyBack))
	case interfaces.ActionHome:
		return done("key", s.driver.Press(ctx, KeyHome))
	case interfaces.ActionSplitScreen:
		return done("key", s.driver.Press(ctx, KeyRecents))
	case interfaces.ActionNaturalScreen:
		return done("orientation", s.driver.SetOrientation(ctx, OrientationNatural))
	case interfaces.ActionLeftScreen:
		return done("orientation", s.driver.SetOrientation(ctx, OrientationLeft))
	case interfaces.ActionStart:
		return done("lifecycle", s.StartApp(ctx))
	case interfaces.ActionStop:
		return done("lifecycle", s.StopApp(ctx))
	case interfaces.ActionClear:
		return done("lifecycle", s.ClearApp(ctx))
	case interfaces.ActionRestart:
		return done("lifecycle", s.RestartApp(ctx))
	case interfaces.ActionSetting:
		if s.applier == nil {
			return interfaces.DriverError(fmt.Errorf("no setting applier on %s", s.Serial()))
		}
		return done("setting", s.applier.ApplySetting(ctx, s, e.Text))
	case interfaces.ActionSaveState:
		_, err := s.Refresh(ctx, e.Seq)
		return done("capture", err)
	case interfaces.ActionWrong:
		return interfaces.Succeeded("marker")
	}
	return interfaces.DriverError(fmt.Errorf("unsupported action %q", e.Action))
}

// stale reports whether none of the view's structural attributes appear in the live
// hierarchy. Views without structural attributes are never stale.
func (s *Session) stale(v *interfaces.View) bool {
	if s.hier == nil {
		return false
	}
	var attrs []string
	if v.ResourceID != "" {
		attrs = append(attrs, v.ResourceID)
	}
	if v.ClassName != "" {
		attrs = append(attrs, v.ClassName)
	}
	if len(attrs) == 0 {
		return false
	}
	for _, a := range attrs {
		if s.hier.Contains(a) {
			return false
		}
	}
	return true
}

func structure(v *interfaces.View, withInstance bool) Locator {
	loc := Locator{Kind: ByStructure, ClassName: v.ClassName, ResourceID: v.ResourceID, Package: v.Package}
	if withInstance {
		loc.Instance = v.Instance
	}
	return loc
}

// PointerLocators returns the structured locators tried, in order, before falling back
// to coordinates.
func PointerLocators(strategy string, action interfaces.ActionKind, v *interfaces.View) []Locator {
	if strategy == StrategyLanguage {
		if v.Instance == 0 {
			return []Locator{structure(v, false)}
		}
		return nil
	}
	switch {
	case v.Description != "":
		return []Locator{{Kind: ByDescription, Description: v.Description, Package: v.Package}}
	case v.Text != "":
		return []Locator{{Kind: ByText, Text: v.Text}}
	case action == interfaces.ActionClick:
		return []Locator{structure(v, true)}
	case v.Instance == 0:
		return []Locator{structure(v, false)}
	}
	return nil
}

func (s *Session) pointer(ctx context.Context, e *interfaces.Event) interfaces.ActionOutcome {
	v := e.View
	if v == nil {
		return interfaces.NotFound(errNoView)
	}
	if s.stale(v) {
		return interfaces.NotFound(fmt.Errorf("%w: %s %s", ErrStaleLocator, v.ResourceID, v.ClassName))
	}

	params := ActionParams{}
	if e.Action == interfaces.ActionLongClick {
		params.Duration = longClickHold
	}

	var lastErr error
	for _, loc := range PointerLocators(s.cfg.Strategy, e.Action, v) {
		err := s.driver.ResolveAndAct(ctx, loc, e.Action, params)
		if err == nil {
			return interfaces.Succeeded(loc.Kind.String())
		}
		lastErr = err
		s.logger.WithFields(logrus.Fields{"device": s.Serial(), "locator": loc.String()}).Debugf("Structured resolution failed: %v", err)
	}

	if v.Bounds.IsZero() {
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: no locator and no coordinates", ErrNotFound)
		}
		return classify(lastErr)
	}
	x, y := v.Bounds.Center()
	return done(ByCoordinates.String(), s.driver.ResolveAndAct(ctx, Locator{Kind: ByCoordinates, X: x, Y: y}, e.Action, params))
}

func (s *Session) structured(ctx context.Context, e *interfaces.Event) interfaces.ActionOutcome {
	v := e.View
	if v == nil {
		return interfaces.NotFound(errNoView)
	}
	if s.stale(v) {
		return interfaces.NotFound(fmt.Errorf("%w: %s %s", ErrStaleLocator, v.ResourceID, v.ClassName))
	}
	loc := structure(v, true)
	params := ActionParams{Text: e.Text}
	if e.Action == interfaces.ActionScroll {
		params = ActionParams{Direction: e.Text, Steps: scrollSteps, MaxSwipes: scrollSwipes}
		if params.Direction == "" {
			params.Direction = interfaces.ScrollForward
		}
	}
	return done(loc.Kind.String(), s.driver.ResolveAndAct(ctx, loc, e.Action, params))
}
