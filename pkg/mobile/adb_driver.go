/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: adb_driver.go
Description: ADBDriver implements Driver for Android devices and emulators over adb.
Elements are located by dumping the uiautomator hierarchy and matching nodes. Actions
are then injected with input tap/swipe/text at the node's center. Every adb invocation
runs under its own timeout through a Runner so tests can substitute the process layer.
*/

package mobile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

const (
	dumpPath        = "/sdcard/window_dump.xml"
	bootPollDelay   = 2 * time.Second
	defaultTimeout  = 30 * time.Second
	defaultBootWait = 60 * time.Second
)

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. Stdout is returned; stderr is folded into errors.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// ADBConfig configures an ADBDriver.
type ADBConfig struct {
	Serial   string
	ADBPath  string        // defaults to "adb"
	Timeout  time.Duration // per adb call
	BootWait time.Duration // bound on sys.boot_completed polling
	Runner   Runner
}

// ADBDriver implements Driver via adb and uiautomator.
type ADBDriver struct {
	serial   string
	adb      string
	timeout  time.Duration
	bootWait time.Duration
	runner   Runner
	logger   *logrus.Logger
}

// NewADBDriver creates a driver for one serial.
func NewADBDriver(cfg ADBConfig, logger *logrus.Logger) *ADBDriver {
	d := &ADBDriver{
		serial:   cfg.Serial,
		adb:      cfg.ADBPath,
		timeout:  cfg.Timeout,
		bootWait: cfg.BootWait,
		runner:   cfg.Runner,
		logger:   logger,
	}
	if d.adb == "" {
		d.adb = "adb"
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.bootWait <= 0 {
		d.bootWait = defaultBootWait
	}
	if d.runner == nil {
		d.runner = ExecRunner{}
	}
	return d
}

func (d *ADBDriver) Serial() string { return d.serial }

func (d *ADBDriver) run(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	full := append([]string{"-s", d.serial}, args...)
	d.logger.WithFields(logrus.Fields{"device": d.serial, "args": strings.Join(args, " ")}).Debug("adb call")
	return d.runner.Run(runCtx, d.adb, full...)
}

func (d *ADBDriver) shell(ctx context.Context, args ...string) (string, error) {
	out, err := d.run(ctx, append([]string{"shell"}, args...)...)
	return string(out), err
}

// Shell runs a device shell command.
func (d *ADBDriver) Shell(ctx context.Context, args ...string) (string, error) {
	return d.shell(ctx, args...)
}

// Connect waits for the device and then polls sys.boot_completed.
func (d *ADBDriver) Connect(ctx context.Context) error {
	if _, err := d.run(ctx, "wait-for-device"); err != nil {
		return fmt.Errorf("device %s unreachable: %w", d.serial, err)
	}
	deadline := time.Now().Add(d.bootWait)
	for {
		out, err := d.shell(ctx, "getprop", "sys.boot_completed")
		if err == nil && strings.TrimSpace(out) == "1" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("device %s did not finish booting within %s", d.serial, d.bootWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bootPollDelay):
		}
	}
}

func (d *ADBDriver) dump(ctx context.Context) (string, error) {
	if _, err := d.shell(ctx, "uiautomator", "dump", dumpPath); err != nil {
		return "", fmt.Errorf("uiautomator dump failed: %w", err)
	}
	out, err := d.run(ctx, "exec-out", "cat", dumpPath)
	if err != nil {
		return "", fmt.Errorf("failed to read hierarchy dump: %w", err)
	}
	return string(out), nil
}

// Capture takes a screenshot and a hierarchy dump.
func (d *ADBDriver) Capture(ctx context.Context) (*Capture, error) {
	png, err := d.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	dump, err := d.dump(ctx)
	if err != nil {
		return nil, err
	}
	return &Capture{Screenshot: png, Hierarchy: dump}, nil
}

func matchFor(loc Locator) (hierarchy.Match, error) {
	switch loc.Kind {
	case ByDescription:
		return hierarchy.Match{Description: loc.Description, Package: loc.Package}, nil
	case ByText:
		return hierarchy.Match{Text: loc.Text}, nil
	case ByStructure:
		return hierarchy.Match{ClassName: loc.ClassName, ResourceID: loc.ResourceID, Package: loc.Package, Instance: loc.Instance}, nil
	case ByResourcePattern:
		re, err := regexp.Compile(loc.Pattern)
		if err != nil {
			return hierarchy.Match{}, fmt.Errorf("invalid resource pattern %q: %w", loc.Pattern, err)
		}
		return hierarchy.Match{ResourceIDPattern: re}, nil
	}
	return hierarchy.Match{}, fmt.Errorf("locator kind %s cannot be matched", loc.Kind)
}

func (d *ADBDriver) find(ctx context.Context, loc Locator) ([]hierarchy.Node, error) {
	dump, err := d.dump(ctx)
	if err != nil {
		return nil, err
	}
	h, err := hierarchy.Parse(dump)
	if err != nil {
		return nil, err
	}
	m, err := matchFor(loc)
	if err != nil {
		return nil, err
	}
	return h.Find(m), nil
}

func (d *ADBDriver) resolve(ctx context.Context, loc Locator) (hierarchy.Node, error) {
	if loc.Kind == ByCoordinates {
		return hierarchy.Node{Bounds: interfaces.Bounds{X1: loc.X, Y1: loc.Y, X2: loc.X, Y2: loc.Y}}, nil
	}
	nodes, err := d.find(ctx, loc)
	if err != nil {
		return hierarchy.Node{}, err
	}
	idx := 0
	if loc.Kind == ByStructure {
		idx = loc.Instance
	}
	if idx < 0 || idx >= len(nodes) {
		return hierarchy.Node{}, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return nodes[idx], nil
}

// ResolveAndAct locates the element and injects the action.
func (d *ADBDriver) ResolveAndAct(ctx context.Context, loc Locator, action interfaces.ActionKind, params ActionParams) error {
	node, err := d.resolve(ctx, loc)
	if err != nil {
		return err
	}
	x, y := node.Bounds.Center()
	switch action {
	case interfaces.ActionClick:
		_, err = d.shell(ctx, "input", "tap", itoa(x), itoa(y))
	case interfaces.ActionLongClick:
		hold := params.Duration
		if hold <= 0 {
			hold = 2 * time.Second
		}
		_, err = d.shell(ctx, "input", "swipe", itoa(x), itoa(y), itoa(x), itoa(y), itoa(int(hold/time.Millisecond)))
	case interfaces.ActionEdit:
		err = d.setText(ctx, x, y, len([]rune(node.Text)), params.Text)
	case interfaces.ActionScroll:
		err = d.scroll(ctx, node.Bounds, params)
	default:
		return fmt.Errorf("action %s is not element-bound", action)
	}
	return err
}

func (d *ADBDriver) setText(ctx context.Context, x, y, existing int, text string) error {
	if _, err := d.shell(ctx, "input", "tap", itoa(x), itoa(y)); err != nil {
		return err
	}
	if existing > 0 {
		keys := []string{"input", "keyevent", "KEYCODE_MOVE_END"}
		for i := 0; i < existing; i++ {
			keys = append(keys, "KEYCODE_DEL")
		}
		if _, err := d.shell(ctx, keys...); err != nil {
			return err
		}
	}
	if text == "" {
		return nil
	}
	_, err := d.shell(ctx, "input", "text", escapeInputText(text))
	return err
}

func (d *ADBDriver) scroll(ctx context.Context, b interfaces.Bounds, params ActionParams) error {
	cx, cy := b.Center()
	top, bottom := b.Y1+(b.Y2-b.Y1)/5, b.Y2-(b.Y2-b.Y1)/5
	left, right := b.X1+(b.X2-b.X1)/5, b.X2-(b.X2-b.X1)/5

	swipe := func(x1, y1, x2, y2, ms int) error {
		_, err := d.shell(ctx, "input", "swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(ms))
		return err
	}
	steps := params.Steps
	if steps <= 0 {
		steps = 100
	}
	swipes := params.MaxSwipes
	if swipes <= 0 {
		swipes = 10
	}
	switch params.Direction {
	case interfaces.ScrollForward:
		return swipe(cx, bottom, cx, top, steps*5)
	case interfaces.ScrollBackward:
		return swipe(cx, top, cx, bottom, steps*5)
	case interfaces.ScrollRight:
		for i := 0; i < swipes; i++ {
			if err := swipe(right, cy, left, cy, 300); err != nil {
				return err
			}
		}
		return nil
	case interfaces.ScrollLeft:
		for i := 0; i < swipes; i++ {
			if err := swipe(left, cy, right, cy, 300); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown scroll direction %q", params.Direction)
}

var keyCodes = map[Key]string{
	KeyBack:    "KEYCODE_BACK",
	KeyHome:    "KEYCODE_HOME",
	KeyRecents: "KEYCODE_APP_SWITCH",
	KeyEscape:  "111",
}

// Press sends a key event.
func (d *ADBDriver) Press(ctx context.Context, key Key) error {
	code, ok := keyCodes[key]
	if !ok {
		return fmt.Errorf("unknown key %q", key)
	}
	_, err := d.shell(ctx, "input", "keyevent", code)
	return err
}

// SetOrientation locks rotation to natural or left.
func (d *ADBDriver) SetOrientation(ctx context.Context, o Orientation) error {
	rotation := "0"
	if o == OrientationLeft {
		rotation = "1"
	}
	if _, err := d.shell(ctx, "settings", "put", "system", "accelerometer_rotation", "0"); err != nil {
		return err
	}
	_, err := d.shell(ctx, "settings", "put", "system", "user_rotation", rotation)
	return err
}

// Install installs with runtime permissions granted.
func (d *ADBDriver) Install(ctx context.Context, apkPath string) error {
	out, err := d.run(ctx, "install", "-r", "-g", apkPath)
	if err != nil {
		return fmt.Errorf("install failed: %w", err)
	}
	if !bytes.Contains(out, []byte("Success")) {
		return fmt.Errorf("install failed: %s", bytes.TrimSpace(out))
	}
	return nil
}

// Start launches an activity, or the launcher entry when activity is empty.
func (d *ADBDriver) Start(ctx context.Context, pkg, activity string) error {
	var (
		out string
		err error
	)
	if activity != "" {
		out, err = d.shell(ctx, "am", "start", "-n", pkg+"/"+activity)
	} else {
		out, err = d.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	}
	if err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}
	if strings.Contains(out, "Error:") {
		return fmt.Errorf("launch failed: %s", strings.TrimSpace(out))
	}
	return nil
}

func (d *ADBDriver) Stop(ctx context.Context, pkg string) error {
	_, err := d.shell(ctx, "am", "force-stop", pkg)
	return err
}

func (d *ADBDriver) Clear(ctx context.Context, pkg string) error {
	out, err := d.shell(ctx, "pm", "clear", pkg)
	if err != nil {
		return err
	}
	if !strings.Contains(out, "Success") {
		return fmt.Errorf("clear failed: %s", strings.TrimSpace(out))
	}
	return nil
}

func (d *ADBDriver) GrantPermission(ctx context.Context, pkg, permission string) error {
	_, err := d.shell(ctx, "pm", "grant", pkg, permission)
	return err
}

// Exists reports whether the locator resolves.
func (d *ADBDriver) Exists(ctx context.Context, loc Locator) (bool, error) {
	_, err := d.resolve(ctx, loc)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Count returns how many nodes match the locator, ignoring its instance.
func (d *ADBDriver) Count(ctx context.Context, loc Locator) (int, error) {
	nodes, err := d.find(ctx, loc)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func itoa(i int) string { return strconv.Itoa(i) }

// escapeInputText prepares text for "input text": spaces become %s, shell metacharacters are escaped.
func escapeInputText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune(`\'"()<>|;&*~$`+"`", r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
