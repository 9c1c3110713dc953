/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: checker.go
Description: Oracle set consulted by the executor during a run: crash detection,
foreground and loading detection, soft keyboard dismissal, locale auditing and app
start verification. Each check is independent and works on device sessions.
*/

package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/sirupsen/logrus"
)

// Config configures a Checker.
type Config struct {
	Package     string
	LoadingWait time.Duration // returned by CheckLoading when a spinner is on screen
	StartDelay  time.Duration // pause between start polls
	StartPolls  int           // foreground polls before a start counts as failed
}

// Checker runs oracle predicates against sessions.
type Checker struct {
	cfg     Config
	crashes *mobile.CrashReporter
	logger  *logrus.Logger
}

// New creates a Checker.
func New(cfg Config, logger *logrus.Logger) *Checker {
	if cfg.StartPolls <= 0 {
		cfg.StartPolls = 3
	}
	return &Checker{cfg: cfg, crashes: mobile.NewCrashReporter(), logger: logger}
}

// CheckCrash returns crash reports that appeared since the previous check. It never fails
// the run: devices whose crash buffer cannot be read are logged and skipped.
func (c *Checker) CheckCrash(ctx context.Context, sessions []*mobile.Session) []*mobile.CrashReport {
	var all []*mobile.CrashReport
	for _, s := range sessions {
		reports, err := c.crashes.Collect(ctx, s.Driver(), c.cfg.Package)
		if err != nil {
			c.logger.WithField("device", s.Serial()).Debugf("Crash buffer unavailable: %v", err)
			continue
		}
		for _, r := range reports {
			c.logger.WithFields(logrus.Fields{
				"device": s.Serial(),
				"role":   s.Role(),
				"type":   r.Type,
			}).Warn(r.Summary())
		}
		all = append(all, reports...)
	}
	return all
}

// ResetCrashes forgets crash buffer offsets, used after devices restart.
func (c *Checker) ResetCrashes(sessions []*mobile.Session) {
	for _, s := range sessions {
		c.crashes.Reset(s.Serial())
	}
}

// CheckForeground reports whether the app under test holds window focus on s.
func (c *Checker) CheckForeground(ctx context.Context, s *mobile.Session) (bool, error) {
	out, err := s.Driver().Shell(ctx, "dumpsys", "window", "windows")
	if err != nil {
		return false, fmt.Errorf("failed to read window focus on %s: %w", s.Serial(), err)
	}
	return Focused(out, c.cfg.Package), nil
}

// Focused reports whether a dumpsys window listing shows pkg as the focused window or app.
func Focused(dumpsys, pkg string) bool {
	for _, line := range strings.Split(dumpsys, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "mCurrentFocus") && !strings.HasPrefix(line, "mFocusedApp") {
			continue
		}
		if strings.Contains(line, pkg+"/") || strings.Contains(line, pkg+"}") {
			return true
		}
	}
	return false
}

// CheckLoading returns how long to wait when the session's latest screen shows a
// loading indicator, or zero.
func (c *Checker) CheckLoading(s *mobile.Session) time.Duration {
	h := s.Hierarchy()
	if h == nil {
		return 0
	}
	if len(h.Select(hierarchy.SelectLoading)) == 0 {
		return 0
	}
	c.logger.WithField("device", s.Serial()).Debug("Loading indicator on screen")
	return c.cfg.LoadingWait
}

// CheckKeyboard closes the soft keyboard wherever it is shown and returns how many were closed.
func (c *Checker) CheckKeyboard(ctx context.Context, sessions []*mobile.Session) int {
	closed := 0
	for _, s := range sessions {
		out, err := s.Driver().Shell(ctx, "dumpsys", "input_method")
		if err != nil || !strings.Contains(out, "mInputShown=true") {
			continue
		}
		if err := s.CloseKeyboard(ctx); err != nil {
			c.logger.WithField("device", s.Serial()).Debugf("Failed to close keyboard: %v", err)
			continue
		}
		closed++
	}
	return closed
}

// CheckLanguage writes the session's locale state to dir/language_<serial>.txt and returns
// the file path.
func (c *Checker) CheckLanguage(ctx context.Context, s *mobile.Session, dir string) (string, error) {
	system, err := s.Driver().Shell(ctx, "getprop", "persist.sys.locale")
	if err != nil {
		return "", fmt.Errorf("failed to read locale on %s: %w", s.Serial(), err)
	}
	app, err := s.Driver().Shell(ctx, "cmd", "locale", "get-app-locales", c.cfg.Package)
	if err != nil {
		app = ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "serial=%s\n", s.Serial())
	fmt.Fprintf(&b, "strategy=%s\n", s.Strategy())
	fmt.Fprintf(&b, "system_locale=%s\n", strings.TrimSpace(system))
	fmt.Fprintf(&b, "app_locale=%s\n", strings.TrimSpace(app))
	settings := s.Settings()
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "setting.%s=%s\n", name, settings[name])
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "language_"+s.Serial()+".txt")
	return path, os.WriteFile(path, []byte(b.String()), 0644)
}

// Start modes for CheckStart.
const (
	StartVerify = 0 // only verify
	StartRetry  = 1 // restart once when the app did not come up
)

// CheckStart verifies that the app reached the foreground on every session after a
// (re)start. With StartRetry a session that did not is restarted once and polled again.
func (c *Checker) CheckStart(ctx context.Context, sessions []*mobile.Session, mode int) error {
	var failed []string
	for _, s := range sessions {
		if c.waitForeground(ctx, s) {
			continue
		}
		if mode == StartRetry {
			c.logger.WithField("device", s.Serial()).Warn("App not in foreground after start, restarting")
			if err := s.RestartApp(ctx); err == nil && c.waitForeground(ctx, s) {
				continue
			}
		}
		failed = append(failed, s.Serial())
	}
	if len(failed) > 0 {
		return fmt.Errorf("app did not start on %s", strings.Join(failed, ", "))
	}
	return nil
}

func (c *Checker) waitForeground(ctx context.Context, s *mobile.Session) bool {
	for i := 0; i < c.cfg.StartPolls; i++ {
		if ok, err := c.CheckForeground(ctx, s); err == nil && ok {
			return true
		}
		if c.cfg.StartDelay > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.cfg.StartDelay):
			}
		}
	}
	return false
}
