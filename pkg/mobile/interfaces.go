/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: interfaces.go
Description: Device-facing interfaces for Akaylee Droid. Driver is the per-device control
channel consumed by a Session (locate-and-act, key presses, orientation, capture and app
lifecycle). Locators, captures, app metadata and crash reports are defined here too.
*/

package mobile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
)

var (
	// ErrNotFound is returned by drivers when a locator matches nothing on screen.
	ErrNotFound = errors.New("element not found")
	// ErrStaleLocator rejects a view absent from the session's live hierarchy.
	ErrStaleLocator = errors.New("locator not present in live hierarchy")
)

// Key is a hardware or navigation key.
type Key string

const (
	KeyBack    Key = "back"
	KeyHome    Key = "home"
	KeyRecents Key = "recents"
	KeyEscape  Key = "escape"
)

// Orientation is the requested screen rotation.
type Orientation string

const (
	OrientationNatural Orientation = "n"
	OrientationLeft    Orientation = "l"
)

// LocatorKind selects how a driver resolves an element.
type LocatorKind int

const (
	ByDescription LocatorKind = iota
	ByText
	ByStructure
	ByResourcePattern
	ByCoordinates
)

func (k LocatorKind) String() string {
	switch k {
	case ByDescription:
		return "description"
	case ByText:
		return "text"
	case ByStructure:
		return "structure"
	case ByResourcePattern:
		return "resource-pattern"
	case ByCoordinates:
		return "coordinates"
	}
	return "unknown"
}

// Locator identifies one element for a driver. Only the fields relevant to Kind are read.
type Locator struct {
	Kind        LocatorKind
	Text        string
	Description string
	ClassName   string
	ResourceID  string
	Pattern     string // regular expression over resource ids
	Package     string
	Instance    int
	X, Y        int
}

func (l Locator) String() string {
	switch l.Kind {
	case ByDescription:
		return fmt.Sprintf("description=%q", l.Description)
	case ByText:
		return fmt.Sprintf("text=%q", l.Text)
	case ByStructure:
		return fmt.Sprintf("class=%q id=%q instance=%d", l.ClassName, l.ResourceID, l.Instance)
	case ByResourcePattern:
		return fmt.Sprintf("id~=%q", l.Pattern)
	case ByCoordinates:
		return fmt.Sprintf("xy=%d,%d", l.X, l.Y)
	}
	return "unknown"
}

// ActionParams carries per-action options.
type ActionParams struct {
	Text      string        // edit payload
	Duration  time.Duration // long-click hold time
	Direction string        // scroll direction
	Steps     int           // vertical scroll speed
	MaxSwipes int           // horizontal scroll bound
}

// Capture is one screenshot plus the matching hierarchy dump.
type Capture struct {
	Screenshot []byte
	Hierarchy  string
}

// Driver controls one device. Every call blocks and enforces its own timeout.
type Driver interface {
	// Serial returns the device identifier.
	Serial() string
	// Connect waits until the device is reachable and booted.
	Connect(ctx context.Context) error
	// ResolveAndAct finds the element and performs a click, long-click, edit or scroll on it.
	ResolveAndAct(ctx context.Context, loc Locator, action interfaces.ActionKind, params ActionParams) error
	Press(ctx context.Context, key Key) error
	SetOrientation(ctx context.Context, o Orientation) error
	Capture(ctx context.Context) (*Capture, error)
	Install(ctx context.Context, apkPath string) error
	Start(ctx context.Context, pkg, activity string) error
	Stop(ctx context.Context, pkg string) error
	Clear(ctx context.Context, pkg string) error
	GrantPermission(ctx context.Context, pkg, permission string) error
	Exists(ctx context.Context, loc Locator) (bool, error)
	Count(ctx context.Context, loc Locator) (int, error)
	// Shell runs a device shell command and returns its output.
	Shell(ctx context.Context, args ...string) (string, error)
}

// App describes the application under test.
type App struct {
	Path        string   `json:"path"`
	Package     string   `json:"package"`
	Activity    string   `json:"activity"`
	Label       string   `json:"label"`
	Version     string   `json:"version"`
	Permissions []string `json:"permissions"`
}

// CrashReport is one crash or ANR block read from a device's crash buffer.
type CrashReport struct {
	Serial     string
	Package    string
	Timestamp  time.Time
	Type       string // crash or anr
	Message    string
	StackTrace string
	Logs       []string
}
