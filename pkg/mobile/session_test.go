/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: session_test.go
Description: Tests for Session event execution: locator fallback order, one-shot retry,
stale locator rejection, permission sweeps, lifecycle operations and captures.
*/

package mobile_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/kleascm/akaylee-droid/pkg/mobile/mobiletest"
	"github.com/kleascm/akaylee-droid/pkg/trace"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buttonDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.example.notes" content-desc="" clickable="false" enabled="true" bounds="[0,0][1080,2340]">
    <node index="0" text="Save" resource-id="com.example.notes:id/save" class="android.widget.Button" package="com.example.notes" content-desc="save note" clickable="true" enabled="true" bounds="[40,400][540,520]" />
    <node index="1" text="" resource-id="com.example.notes:id/title" class="android.widget.EditText" package="com.example.notes" content-desc="" clickable="true" enabled="true" bounds="[40,200][1040,320]" />
  </node>
</hierarchy>`

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newSession(t *testing.T, strategy string) (*mobile.Session, *mobiletest.FakeDriver) {
	t.Helper()
	drv := mobiletest.NewFakeDriver("emulator-5556", buttonDump)
	s := mobile.NewSession(drv, mobile.SessionConfig{
		Role:         1,
		Strategy:     strategy,
		App:          &mobile.App{Package: "com.example.notes", Activity: ".Main", Path: "notes.apk"},
		StateOptions: hierarchy.DefaultStateOptions(),
	}, quietLogger())
	_, err := s.Refresh(context.Background(), 1)
	require.NoError(t, err)
	drv.Reset()
	return s, drv
}

func saveView() *interfaces.View {
	return &interfaces.View{
		ResourceID:  "com.example.notes:id/save",
		ClassName:   "android.widget.Button",
		Text:        "Save",
		Description: "save note",
		Package:     "com.example.notes",
		Bounds:      interfaces.Bounds{X1: 40, Y1: 400, X2: 540, Y2: 520},
	}
}

func clicks(drv *mobiletest.FakeDriver, op string) []mobile.LocatorKind {
	var kinds []mobile.LocatorKind
	for _, c := range drv.CallsOf(op) {
		kinds = append(kinds, c.Locator.Kind)
	}
	return kinds
}

func TestClickPrefersDescription(t *testing.T) {
	s, drv := newSession(t, "screen")
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionClick, View: saveView(), Target: interfaces.AllDevices})
	require.True(t, out.OK())
	assert.Equal(t, "description", out.Resolved)
	assert.Equal(t, []mobile.LocatorKind{mobile.ByDescription}, clicks(drv, "click"))
}

func TestClickFallsBackToCoordinates(t *testing.T) {
	s, drv := newSession(t, "screen")
	drv.Miss(mobile.ByDescription)
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionClick, View: saveView(), Target: interfaces.AllDevices})
	require.True(t, out.OK())
	assert.Equal(t, "coordinates", out.Resolved)

	calls := drv.CallsOf("click")
	require.Len(t, calls, 2)
	assert.Equal(t, mobile.ByCoordinates, calls[1].Locator.Kind)
	assert.Equal(t, 290, calls[1].Locator.X)
	assert.Equal(t, 460, calls[1].Locator.Y)
}

func TestLanguageStrategyResolution(t *testing.T) {
	s, drv := newSession(t, mobile.StrategyLanguage)
	drv.Miss(mobile.ByStructure)
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionClick, View: saveView(), Target: interfaces.AllDevices})
	require.True(t, out.OK())
	assert.Equal(t, []mobile.LocatorKind{mobile.ByStructure, mobile.ByCoordinates}, clicks(drv, "click"))

	drv.Reset()
	v := saveView()
	v.Instance = 2
	out = s.Execute(context.Background(), &interfaces.Event{Seq: 3, Action: interfaces.ActionClick, View: v, Target: interfaces.AllDevices})
	require.True(t, out.OK())
	assert.Equal(t, []mobile.LocatorKind{mobile.ByCoordinates}, clicks(drv, "click"))
}

func TestLocatorOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("description is tried before text under the default strategy", prop.ForAll(
		func(desc, text string, instance int) bool {
			v := &interfaces.View{Description: desc, Text: text, ClassName: "android.widget.Button", Instance: instance}
			locs := mobile.PointerLocators("screen", interfaces.ActionClick, v)
			return len(locs) == 1 && locs[0].Kind == mobile.ByDescription && locs[0].Description == desc
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.IntRange(0, 5),
	))

	properties.Property("language strategy uses structure only for the first instance", prop.ForAll(
		func(instance int) bool {
			locs := mobile.PointerLocators(mobile.StrategyLanguage, interfaces.ActionClick, saveViewWith(instance))
			if instance == 0 {
				return len(locs) == 1 && locs[0].Kind == mobile.ByStructure
			}
			return len(locs) == 0
		},
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

func saveViewWith(instance int) *interfaces.View {
	v := saveView()
	v.Instance = instance
	return v
}

func TestLongClickWithoutTextUsesStructureOnlyForFirstInstance(t *testing.T) {
	v := &interfaces.View{ClassName: "android.widget.Button", ResourceID: "id/x", Instance: 1, Bounds: interfaces.Bounds{X2: 10, Y2: 10}}
	assert.Empty(t, mobile.PointerLocators("screen", interfaces.ActionLongClick, v))
	locs := mobile.PointerLocators("screen", interfaces.ActionClick, v)
	require.Len(t, locs, 1)
	assert.Equal(t, 1, locs[0].Instance)
}

func TestRetryOnceThenSucceed(t *testing.T) {
	s, drv := newSession(t, "screen")
	drv.FailNext("press", 1)
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionBack, Target: interfaces.AllDevices})
	require.True(t, out.OK())
	assert.Equal(t, 2, out.Attempts)
	assert.Len(t, drv.CallsOf("press"), 2)
}

func TestRetryExhausted(t *testing.T) {
	s, drv := newSession(t, "screen")
	drv.FailAlways("click")
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionClick, View: saveView(), Target: interfaces.AllDevices})
	assert.False(t, out.OK())
	assert.Equal(t, interfaces.OutcomeDriverError, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.True(t, errors.Is(out.Err, mobiletest.ErrInjected))
	// description then coordinates, twice
	assert.Len(t, drv.CallsOf("click"), 4)
}

func TestStaleLocatorFailsFast(t *testing.T) {
	s, drv := newSession(t, "screen")
	v := &interfaces.View{ResourceID: "com.example.notes:id/gone", ClassName: "android.widget.Switch", Bounds: interfaces.Bounds{X2: 5, Y2: 5}}
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionClick, View: v, Target: interfaces.AllDevices})
	assert.Equal(t, interfaces.OutcomeNotFound, out.Status)
	assert.ErrorIs(t, out.Err, mobile.ErrStaleLocator)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, drv.Calls())
}

func TestPartialLocatorIsNotStale(t *testing.T) {
	s, drv := newSession(t, "screen")
	v := &interfaces.View{ResourceID: "com.example.notes:id/gone", ClassName: "android.widget.Button", Bounds: interfaces.Bounds{X2: 5, Y2: 5}}
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionClick, View: v, Target: interfaces.AllDevices})
	assert.True(t, out.OK())
	assert.NotEmpty(t, drv.CallsOf("click"))
}

func TestEditAndScrollParams(t *testing.T) {
	s, drv := newSession(t, "screen")
	edit := &interfaces.View{ResourceID: "com.example.notes:id/title", ClassName: "android.widget.EditText", Package: "com.example.notes"}
	require.True(t, s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionEdit, View: edit, Text: "hello", Target: interfaces.AllDevices}).OK())
	calls := drv.CallsOf("edit")
	require.Len(t, calls, 1)
	assert.Equal(t, mobile.ByStructure, calls[0].Locator.Kind)
	assert.Equal(t, "hello", calls[0].Params.Text)

	require.True(t, s.Execute(context.Background(), &interfaces.Event{Seq: 3, Action: interfaces.ActionScroll, View: edit, Text: interfaces.ScrollRight, Target: interfaces.AllDevices}).OK())
	scroll := drv.CallsOf("scroll")
	require.Len(t, scroll, 1)
	assert.Equal(t, interfaces.ScrollRight, scroll[0].Params.Direction)
	assert.Equal(t, 10, scroll[0].Params.MaxSwipes)
}

func TestUnaddressedEventIsNoop(t *testing.T) {
	s, drv := newSession(t, "screen")
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionSetting, Text: "wifi=off", Target: 2})
	assert.True(t, out.OK())
	assert.Empty(t, drv.Calls())
}

func TestSettingWithoutApplierFails(t *testing.T) {
	s, _ := newSession(t, "screen")
	out := s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionSetting, Text: "wifi=off", Target: 1})
	assert.Equal(t, interfaces.OutcomeDriverError, out.Status)
}

func TestPermissionSweepAfterAction(t *testing.T) {
	s, drv := newSession(t, "screen")
	drv.Show("ALLOW", 1)
	require.True(t, s.Execute(context.Background(), &interfaces.Event{Seq: 2, Action: interfaces.ActionHome, Target: interfaces.AllDevices}).OK())
	clicked := drv.CallsOf("click")
	require.Len(t, clicked, 1)
	assert.Equal(t, "ALLOW", clicked[0].Locator.Text)
}

func TestPermissionSweepIsBounded(t *testing.T) {
	s, drv := newSession(t, "screen")
	drv.Show("OK", 100)
	assert.Equal(t, 5, s.DismissPermissions(context.Background()))
	assert.Len(t, drv.CallsOf("click"), 5)
}

func TestBaseNeverMarkedFailed(t *testing.T) {
	drv := mobiletest.NewFakeDriver("emulator-5554", buttonDump)
	base := mobile.NewSession(drv, mobile.SessionConfig{Role: interfaces.BaseRole}, quietLogger())
	base.MarkFailed()
	assert.False(t, base.Failed())

	guest, _ := newSession(t, "screen")
	guest.MarkFailed()
	assert.True(t, guest.Failed())
	guest.ClearFailed()
	assert.False(t, guest.Failed())
}

func TestLifecycle(t *testing.T) {
	s, drv := newSession(t, "screen")
	ctx := context.Background()
	require.True(t, s.Execute(ctx, &interfaces.Event{Action: interfaces.ActionRestart, Target: interfaces.AllDevices}).OK())
	assert.Len(t, drv.CallsOf("stop"), 1)
	assert.Equal(t, []string{"com.example.notes", ".Main"}, drv.CallsOf("start")[0].Args)

	require.NoError(t, s.ClearApp(ctx))
	assert.Len(t, drv.CallsOf("clear"), 1)

	login := mobile.NewSession(drv, mobile.SessionConfig{Role: 1, LoginApp: true, App: &mobile.App{Package: "com.example.notes"}}, quietLogger())
	drv.Reset()
	require.NoError(t, login.ClearApp(ctx))
	assert.Empty(t, drv.CallsOf("clear"))
	assert.Len(t, drv.CallsOf("stop"), 1)
}

func TestInstallGrantsOwnPermissions(t *testing.T) {
	drv := mobiletest.NewFakeDriver("emulator-5556", buttonDump)
	s := mobile.NewSession(drv, mobile.SessionConfig{Role: 1, App: &mobile.App{
		Path:        "notes.apk",
		Package:     "com.example.notes",
		Permissions: []string{"android.permission.CAMERA", "com.example.notes.permission.SYNC"},
	}}, quietLogger())
	require.NoError(t, s.Install(context.Background()))
	grants := drv.CallsOf("grant")
	require.Len(t, grants, 1)
	assert.Equal(t, "com.example.notes.permission.SYNC", grants[0].Args[1])

	empty := mobile.NewSession(drv, mobile.SessionConfig{Role: 1}, quietLogger())
	assert.Error(t, empty.Install(context.Background()))
}

func TestRefreshPersistsCapturesAndTracksChange(t *testing.T) {
	s, drv := newSession(t, "screen")
	layout := trace.Layout{Root: t.TempDir()}
	require.NoError(t, s.OpenRun(layout, "screen", 1))
	defer s.CloseRun()

	changed, err := s.Refresh(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, changed, "first capture of a run is a change")

	changed, err = s.Refresh(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, s.State().Same(s.PrevState()))

	drv.SetDump(`<hierarchy rotation="0"><node class="android.widget.TextView" package="com.example.notes" bounds="[0,0][1,1]" /></hierarchy>`)
	changed, err = s.Refresh(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.FileExists(t, filepath.Join(layout.RunDir("screen", 1), "screen", "3.0_emulator-5556.xml"))
	require.NoError(t, s.SaveFindingCapture(3))
	assert.FileExists(t, filepath.Join(layout.RunDir("screen", 1), "screen_error", "3.0_emulator-5556_pre.png"))
	assert.FileExists(t, filepath.Join(layout.RunDir("screen", 1), "screen_error", "3.0_emulator-5556_post.xml"))

	s.Record(&interfaces.Event{Seq: 3, Action: interfaces.ActionBack})
	data, err := os.ReadFile(filepath.Join(layout.RunDir("screen", 1), "read_trace.txt"))
	require.NoError(t, err)
	assert.Equal(t, "3.0::back::device1::None::None::None::None::None::None\n", string(data))
}

func TestRefreshRejectsBadDump(t *testing.T) {
	s, drv := newSession(t, "screen")
	drv.SetDump("ERROR: null root node returned by UiTestAutomationBridge.")
	_, err := s.Refresh(context.Background(), 2)
	assert.Error(t, err)
	assert.Nil(t, s.State())
	assert.Nil(t, s.Hierarchy())
}

func TestFailedCaptureClearsState(t *testing.T) {
	s, drv := newSession(t, "screen")
	before := s.State()
	require.NotNil(t, before)

	drv.FailNext("capture", 1)
	changed, err := s.Refresh(context.Background(), 2)
	require.Error(t, err)
	assert.False(t, changed)
	assert.Nil(t, s.State(), "a stale State must not be compared")
	assert.Nil(t, s.Hierarchy())
	assert.Same(t, before, s.PrevState())

	changed, err = s.Refresh(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, changed, "compared against the last valid State")
	assert.True(t, s.State().Same(before))
}

func TestSaveFailureCaptureUpdatesState(t *testing.T) {
	s, drv := newSession(t, "screen")
	layout := trace.Layout{Root: t.TempDir()}
	require.NoError(t, s.OpenRun(layout, "screen", 1))
	defer s.CloseRun()
	_, err := s.Refresh(context.Background(), 1)
	require.NoError(t, err)
	before := s.State()

	drv.SetDump(`<hierarchy rotation="0"><node class="android.widget.TextView" package="com.example.notes" bounds="[0,0][1,1]" /></hierarchy>`)
	require.NoError(t, s.SaveFailureCapture(context.Background(), 2))
	assert.False(t, s.State().Same(before))
	assert.Same(t, before, s.PrevState())
	assert.FileExists(t, filepath.Join(layout.RunDir("screen", 1), "screen_error", "2.0_emulator-5556.xml"))
	assert.NoFileExists(t, filepath.Join(layout.RunDir("screen", 1), "screen", "2.0_emulator-5556.xml"))

	drv.FailNext("capture", 1)
	assert.Error(t, s.SaveFailureCapture(context.Background(), 3))
	assert.Nil(t, s.State())
}
