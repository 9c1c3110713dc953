/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: session.go
Description: Session is the per-device runtime context of a run: role, strategy, current
and previous State, failure flag, finding counters, device setting values and the trace
recorder. The executor owns every Session. Pool workers borrow one for a single dispatch.
*/

package mobile

import (
	"context"
	"fmt"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// StrategyLanguage is the profile whose text and descriptions are locale-dependent.
const StrategyLanguage = "language"

// DefaultPermissionTexts are dialog buttons dismissed after every action.
var DefaultPermissionTexts = []string{"OK", "ALLOW", "允许", "确定", "继续", "GRANT", "Get Started"}

const maxDismissAttempts = 5

// SettingApplier executes setting-change events on a session.
type SettingApplier interface {
	ApplySetting(ctx context.Context, s *Session, payload string) error
}

// SessionConfig configures one Session.
type SessionConfig struct {
	Role            interfaces.Role
	Strategy        string
	App             *App
	LoginApp        bool          // keep app data on clear so that logins survive
	RestInterval    time.Duration // minimum spacing between device actions
	DismissDelay    time.Duration // pause after dismissing a dialog
	PermissionTexts []string
	StateOptions    hierarchy.StateOptions
}

// Session wraps one device for the duration of a fuzzing process.
type Session struct {
	cfg     SessionConfig
	driver  Driver
	logger  *logrus.Logger
	limiter *rate.Limiter
	applier SettingApplier

	recorder *trace.Recorder
	hier     *hierarchy.Hierarchy
	state    *hierarchy.State
	prev     *hierarchy.State
	capture  *Capture
	previous *Capture

	failed   bool
	errorNum int
	wrongNum int
	settings map[string]string
}

// NewSession creates a session around a driver.
func NewSession(driver Driver, cfg SessionConfig, logger *logrus.Logger) *Session {
	if cfg.PermissionTexts == nil {
		cfg.PermissionTexts = DefaultPermissionTexts
	}
	if cfg.App == nil {
		cfg.App = &App{}
	}
	s := &Session{
		cfg:      cfg,
		driver:   driver,
		logger:   logger,
		settings: make(map[string]string),
	}
	if cfg.RestInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.RestInterval), 1)
	}
	return s
}

func (s *Session) Serial() string            { return s.driver.Serial() }
func (s *Session) Role() interfaces.Role     { return s.cfg.Role }
func (s *Session) IsBase() bool              { return s.cfg.Role.IsBase() }
func (s *Session) Strategy() string          { return s.cfg.Strategy }
func (s *Session) App() *App                 { return s.cfg.App }
func (s *Session) Driver() Driver            { return s.driver }
func (s *Session) Recorder() *trace.Recorder { return s.recorder }

// SetStrategy changes the settings profile, used when guests switch profiles between runs.
func (s *Session) SetStrategy(name string) { s.cfg.Strategy = name }

// SetSettingApplier installs the handler for setting-change events.
func (s *Session) SetSettingApplier(a SettingApplier) { s.applier = a }

// Failed reports whether the session dropped out of the current run.
func (s *Session) Failed() bool { return s.failed }

// MarkFailed excludes a guest from further ticks. The base session is never marked.
func (s *Session) MarkFailed() {
	if s.IsBase() {
		return
	}
	s.failed = true
}

// ClearFailed brings the session back after a restart.
func (s *Session) ClearFailed() { s.failed = false }

// ErrorCount is the number of genuine findings recorded for this session.
func (s *Session) ErrorCount() int { return s.errorNum }

// WrongCount is the number of repeated divergences recorded.
func (s *Session) WrongCount() int { return s.wrongNum }

// NextError increments and returns the error counter.
func (s *Session) NextError() int {
	s.errorNum++
	return s.errorNum
}

// NextWrong increments and returns the wrong counter.
func (s *Session) NextWrong() int {
	s.wrongNum++
	return s.wrongNum
}

// Setting returns the current value of a device setting, or def when never set.
func (s *Session) Setting(name, def string) string {
	if v, ok := s.settings[name]; ok {
		return v
	}
	return def
}

// SetSetting records a device setting value after it was applied.
func (s *Session) SetSetting(name, value string) { s.settings[name] = value }

// Settings returns a copy of every recorded setting.
func (s *Session) Settings() map[string]string {
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

// OpenRun starts trace files for a new run and resets per-run state.
func (s *Session) OpenRun(layout trace.Layout, dirName string, runCount int) error {
	if err := s.CloseRun(); err != nil {
		s.logger.WithField("device", s.Serial()).Warnf("Failed to close previous run files: %v", err)
	}
	rec, err := trace.OpenRecorder(layout, dirName, runCount)
	if err != nil {
		return err
	}
	s.recorder = rec
	s.failed = false
	s.state, s.prev, s.hier = nil, nil, nil
	s.capture, s.previous = nil, nil
	return nil
}

// CloseRun closes the current trace files.
func (s *Session) CloseRun() error {
	if s.recorder == nil {
		return nil
	}
	err := s.recorder.Close()
	s.recorder = nil
	return err
}

// State is the fingerprint of the latest capture.
func (s *Session) State() *hierarchy.State { return s.state }

// PrevState is the fingerprint of the capture before it.
func (s *Session) PrevState() *hierarchy.State { return s.prev }

// Hierarchy is the latest parsed dump.
func (s *Session) Hierarchy() *hierarchy.Hierarchy { return s.hier }

// Refresh captures the device, updates State and persists the capture under the run's
// screen directory. It reports whether the State changed. A failed capture leaves the
// session without a State until the next successful one.
func (s *Session) Refresh(ctx context.Context, seq float64) (bool, error) {
	c, err := s.driver.Capture(ctx)
	if err != nil {
		s.invalidate()
		return false, fmt.Errorf("capture failed on %s: %w", s.Serial(), err)
	}
	if err := s.apply(c); err != nil {
		return false, err
	}

	if s.recorder != nil {
		if err := trace.WriteCapture(s.recorder.ScreenDir(), trace.CaptureName(seq, s.Serial()), c.Screenshot, c.Hierarchy); err != nil {
			s.logger.WithField("device", s.Serial()).Warnf("Failed to persist capture: %v", err)
		}
	}
	return s.prev == nil || !s.prev.Same(s.state), nil
}

// apply parses a capture and makes it the latest one. PrevState keeps the last valid
// State across failed captures.
func (s *Session) apply(c *Capture) error {
	h, err := hierarchy.Parse(c.Hierarchy)
	if err != nil {
		s.invalidate()
		return fmt.Errorf("invalid hierarchy from %s: %w", s.Serial(), err)
	}
	if s.state != nil {
		s.previous, s.prev = s.capture, s.state
	}
	s.capture, s.state, s.hier = c, hierarchy.NewState(h, s.cfg.StateOptions), h
	return nil
}

func (s *Session) invalidate() {
	if s.state != nil {
		s.previous, s.prev = s.capture, s.state
	}
	s.capture, s.state, s.hier = nil, nil, nil
}

// SaveFindingCapture stores the previous and current captures as pre/post evidence.
func (s *Session) SaveFindingCapture(seq float64) error {
	if s.recorder == nil {
		return nil
	}
	dir := s.recorder.ErrorScreenDir()
	name := trace.CaptureName(seq, s.Serial())
	if s.previous != nil {
		if err := trace.WriteCapture(dir, name+"_pre", s.previous.Screenshot, s.previous.Hierarchy); err != nil {
			return err
		}
	}
	if s.capture != nil {
		return trace.WriteCapture(dir, name+"_post", s.capture.Screenshot, s.capture.Hierarchy)
	}
	return nil
}

// SaveFailureCapture takes a fresh capture into screen_error after a failed action and
// makes it the session's latest State.
func (s *Session) SaveFailureCapture(ctx context.Context, seq float64) error {
	c, err := s.driver.Capture(ctx)
	if err != nil {
		s.invalidate()
		return err
	}
	if err := s.apply(c); err != nil {
		return err
	}
	if s.recorder == nil {
		return nil
	}
	return trace.WriteCapture(s.recorder.ErrorScreenDir(), trace.CaptureName(seq, s.Serial()), c.Screenshot, c.Hierarchy)
}

// Record appends an executed event to this session's trace.
func (s *Session) Record(e *interfaces.Event) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(trace.NewRecord(e, s.Role())); err != nil {
		s.logger.WithField("device", s.Serial()).Warnf("Failed to write trace: %v", err)
	}
}

// Install installs the app and grants its own-namespace permissions.
func (s *Session) Install(ctx context.Context) error {
	if s.cfg.App.Path == "" {
		return fmt.Errorf("no install path for %s", s.Serial())
	}
	if err := s.driver.Install(ctx, s.cfg.App.Path); err != nil {
		return err
	}
	for _, perm := range s.cfg.App.OwnPermissions() {
		if err := s.driver.GrantPermission(ctx, s.cfg.App.Package, perm); err != nil {
			s.logger.WithFields(logrus.Fields{"device": s.Serial(), "permission": perm}).Debugf("Grant failed: %v", err)
		}
	}
	return nil
}

// StartApp launches the app under test.
func (s *Session) StartApp(ctx context.Context) error {
	return s.driver.Start(ctx, s.cfg.App.Package, s.cfg.App.Activity)
}

// StopApp force-stops the app under test.
func (s *Session) StopApp(ctx context.Context) error {
	return s.driver.Stop(ctx, s.cfg.App.Package)
}

// ClearApp wipes app data, or only stops login apps so that credentials survive.
func (s *Session) ClearApp(ctx context.Context) error {
	if s.cfg.LoginApp {
		return s.driver.Stop(ctx, s.cfg.App.Package)
	}
	return s.driver.Clear(ctx, s.cfg.App.Package)
}

// RestartApp stops and relaunches the app.
func (s *Session) RestartApp(ctx context.Context) error {
	if err := s.StopApp(ctx); err != nil {
		return err
	}
	return s.StartApp(ctx)
}

// CloseKeyboard dismisses the soft keyboard.
func (s *Session) CloseKeyboard(ctx context.Context) error {
	return s.driver.Press(ctx, KeyEscape)
}

// DismissPermissions clicks known permission dialog buttons. It stops after
// maxDismissAttempts or as soon as no known text is on screen, and returns the number
// of dialogs dismissed.
func (s *Session) DismissPermissions(ctx context.Context) int {
	dismissed := 0
	for attempt := 0; attempt < maxDismissAttempts; attempt++ {
		found := false
		for _, text := range s.cfg.PermissionTexts {
			loc := Locator{Kind: ByText, Text: text}
			ok, err := s.driver.Exists(ctx, loc)
			if err != nil || !ok {
				continue
			}
			if err := s.driver.ResolveAndAct(ctx, loc, interfaces.ActionClick, ActionParams{}); err != nil {
				continue
			}
			dismissed++
			found = true
			s.sleep(ctx, s.cfg.DismissDelay)
			break
		}
		if !found {
			break
		}
	}
	if dismissed > 0 {
		s.logger.WithFields(logrus.Fields{"device": s.Serial(), "dismissed": dismissed}).Debug("Dismissed permission dialogs")
	}
	return dismissed
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
