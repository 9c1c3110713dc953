/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: fake.go
Description: Scriptable in-memory Driver for tests. It serves queued hierarchy dumps,
injects faults per operation, tracks on-screen targets for dialog dismissal and records
every call for assertions.
*/

package mobiletest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
)

// ErrInjected is returned by operations scripted to fail.
var ErrInjected = errors.New("injected driver fault")

// Call is one recorded driver invocation.
type Call struct {
	Op      string
	Locator mobile.Locator
	Params  mobile.ActionParams
	Args    []string
}

// FakeDriver implements mobile.Driver.
type FakeDriver struct {
	mu         sync.Mutex
	serial     string
	dumps      []string
	screenshot []byte
	failures   map[string]int
	missing    map[mobile.LocatorKind]bool
	targets    map[string]int
	shell      map[string][]string
	calls      []Call
}

// NewFakeDriver creates a driver that serves dump on every capture.
func NewFakeDriver(serial, dump string) *FakeDriver {
	return &FakeDriver{
		serial:     serial,
		dumps:      []string{dump},
		screenshot: []byte("\x89PNG" + serial),
		failures:   make(map[string]int),
		missing:    make(map[mobile.LocatorKind]bool),
		targets:    make(map[string]int),
		shell:      make(map[string][]string),
	}
}

// SetDump replaces the served hierarchy.
func (f *FakeDriver) SetDump(dump string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dumps = []string{dump}
}

// QueueDumps serves dumps in order; the last one repeats.
func (f *FakeDriver) QueueDumps(dumps ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dumps = append([]string(nil), dumps...)
}

// FailNext makes the next n calls of op fail. Ops are action kinds for ResolveAndAct
// and "press", "orientation", "capture", "install", "start", "stop", "clear", "connect".
func (f *FakeDriver) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// FailAlways makes every call of op fail.
func (f *FakeDriver) FailAlways(op string) { f.FailNext(op, -1) }

// Miss makes every locator of kind resolve to nothing.
func (f *FakeDriver) Miss(kind mobile.LocatorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[kind] = true
}

// Show puts a clickable target on screen for times clicks. The key is the text,
// resource id or pattern a locator uses.
func (f *FakeDriver) Show(key string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[key] = times
}

// SetShell scripts the output of a shell command, keyed by its space-joined args.
func (f *FakeDriver) SetShell(cmd, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shell[cmd] = []string{output}
}

// QueueShell serves outputs of a shell command in order; the last one repeats.
func (f *FakeDriver) QueueShell(cmd string, outputs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shell[cmd] = append([]string(nil), outputs...)
}

// Calls returns every recorded call.
func (f *FakeDriver) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf returns recorded calls of one op.
func (f *FakeDriver) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeDriver) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if n, ok := f.failures[c.Op]; ok && n != 0 {
		if n > 0 {
			f.failures[c.Op] = n - 1
		}
		return fmt.Errorf("%w: %s on %s", ErrInjected, c.Op, f.serial)
	}
	return nil
}

func key(loc mobile.Locator) string {
	switch loc.Kind {
	case mobile.ByText:
		return loc.Text
	case mobile.ByDescription:
		return loc.Description
	case mobile.ByResourcePattern:
		return loc.Pattern
	}
	return loc.ResourceID
}

func (f *FakeDriver) Serial() string { return f.serial }

func (f *FakeDriver) Connect(ctx context.Context) error {
	return f.record(Call{Op: "connect"})
}

func (f *FakeDriver) ResolveAndAct(ctx context.Context, loc mobile.Locator, action interfaces.ActionKind, params mobile.ActionParams) error {
	if err := f.record(Call{Op: string(action), Locator: loc, Params: params}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[loc.Kind] {
		return fmt.Errorf("%w: %s", mobile.ErrNotFound, loc)
	}
	if n := f.targets[key(loc)]; n > 0 {
		f.targets[key(loc)] = n - 1
	}
	return nil
}

func (f *FakeDriver) Press(ctx context.Context, k mobile.Key) error {
	return f.record(Call{Op: "press", Args: []string{string(k)}})
}

func (f *FakeDriver) SetOrientation(ctx context.Context, o mobile.Orientation) error {
	return f.record(Call{Op: "orientation", Args: []string{string(o)}})
}

func (f *FakeDriver) Capture(ctx context.Context) (*mobile.Capture, error) {
	if err := f.record(Call{Op: "capture"}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	dump := f.dumps[0]
	if len(f.dumps) > 1 {
		f.dumps = f.dumps[1:]
	}
	return &mobile.Capture{Screenshot: f.screenshot, Hierarchy: dump}, nil
}

func (f *FakeDriver) Install(ctx context.Context, apkPath string) error {
	return f.record(Call{Op: "install", Args: []string{apkPath}})
}

func (f *FakeDriver) Start(ctx context.Context, pkg, activity string) error {
	return f.record(Call{Op: "start", Args: []string{pkg, activity}})
}

func (f *FakeDriver) Stop(ctx context.Context, pkg string) error {
	return f.record(Call{Op: "stop", Args: []string{pkg}})
}

func (f *FakeDriver) Clear(ctx context.Context, pkg string) error {
	return f.record(Call{Op: "clear", Args: []string{pkg}})
}

func (f *FakeDriver) GrantPermission(ctx context.Context, pkg, permission string) error {
	return f.record(Call{Op: "grant", Args: []string{pkg, permission}})
}

func (f *FakeDriver) Exists(ctx context.Context, loc mobile.Locator) (bool, error) {
	n, err := f.Count(ctx, loc)
	return n > 0, err
}

func (f *FakeDriver) Count(ctx context.Context, loc mobile.Locator) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[key(loc)], nil
}

func (f *FakeDriver) Shell(ctx context.Context, args ...string) (string, error) {
	cmd := strings.Join(args, " ")
	if err := f.record(Call{Op: "shell", Args: args}); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.shell[cmd]
	if len(queue) == 0 {
		return "", nil
	}
	if len(queue) > 1 {
		f.shell[cmd] = queue[1:]
	}
	return queue[0], nil
}

var _ mobile.Driver = (*FakeDriver)(nil)
