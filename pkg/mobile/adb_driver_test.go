/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: adb_driver_test.go
Description: Tests for the adb driver against a scripted process runner, plus the aapt
badging and crash log parsers.
*/

package mobile_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/kleascm/akaylee-droid/pkg/mobile/mobiletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptRunner answers adb invocations by their argument string after "-s <serial>".
type scriptRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	fail    map[string]bool
	calls   []string
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{outputs: make(map[string]string), fail: make(map[string]bool)}
}

func (r *scriptRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.Join(args, " ")
	if len(args) > 2 && args[0] == "-s" {
		key = strings.Join(args[2:], " ")
	}
	r.calls = append(r.calls, key)
	if r.fail[key] {
		return nil, errors.New("exit status 1")
	}
	return []byte(r.outputs[key]), nil
}

func (r *scriptRunner) called(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func newADB(r *scriptRunner) *mobile.ADBDriver {
	r.outputs["exec-out cat /sdcard/window_dump.xml"] = buttonDump
	return mobile.NewADBDriver(mobile.ADBConfig{Serial: "emulator-5554", Runner: r}, quietLogger())
}

func TestADBClickByText(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	err := d.ResolveAndAct(context.Background(), mobile.Locator{Kind: mobile.ByText, Text: "Save"}, interfaces.ActionClick, mobile.ActionParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"shell uiautomator dump /sdcard/window_dump.xml"}, r.called("shell uiautomator"))
	assert.Equal(t, []string{"shell input tap 290 460"}, r.called("shell input"))
}

func TestADBMissingElement(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	err := d.ResolveAndAct(context.Background(), mobile.Locator{Kind: mobile.ByText, Text: "Delete"}, interfaces.ActionClick, mobile.ActionParams{})
	assert.ErrorIs(t, err, mobile.ErrNotFound)
	assert.Empty(t, r.called("shell input"))

	ok, err := d.Exists(context.Background(), mobile.Locator{Kind: mobile.ByText, Text: "Delete"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestADBStructureInstanceAndCount(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	n, err := d.Count(context.Background(), mobile.Locator{Kind: mobile.ByStructure, ClassName: "android.widget.Button"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = d.ResolveAndAct(context.Background(), mobile.Locator{Kind: mobile.ByStructure, ClassName: "android.widget.Button", Instance: 1}, interfaces.ActionClick, mobile.ActionParams{})
	assert.ErrorIs(t, err, mobile.ErrNotFound)
}

func TestADBCoordinatesSkipDump(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	err := d.ResolveAndAct(context.Background(), mobile.Locator{Kind: mobile.ByCoordinates, X: 10, Y: 20}, interfaces.ActionClick, mobile.ActionParams{})
	require.NoError(t, err)
	assert.Empty(t, r.called("shell uiautomator"))
	assert.Equal(t, []string{"shell input tap 10 20"}, r.called("shell input"))
}

func TestADBEditEscapesText(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	err := d.ResolveAndAct(context.Background(),
		mobile.Locator{Kind: mobile.ByStructure, ResourceID: "com.example.notes:id/title"},
		interfaces.ActionEdit, mobile.ActionParams{Text: "a b&c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shell input tap 540 260", `shell input text a%sb\&c`}, r.called("shell input"))
}

func TestADBInstallAndClear(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	r.outputs["install -r -g notes.apk"] = "Performing Streamed Install\nSuccess\n"
	require.NoError(t, d.Install(context.Background(), "notes.apk"))

	r.outputs["install -r -g broken.apk"] = "Failure [INSTALL_FAILED_INVALID_APK]\n"
	assert.Error(t, d.Install(context.Background(), "broken.apk"))

	r.outputs["shell pm clear com.example.notes"] = "Success\n"
	require.NoError(t, d.Clear(context.Background(), "com.example.notes"))
	assert.Error(t, d.Clear(context.Background(), "com.example.missing"))
}

func TestADBStart(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	require.NoError(t, d.Start(context.Background(), "com.example.notes", ".Main"))
	require.NoError(t, d.Start(context.Background(), "com.example.notes", ""))
	assert.Equal(t, []string{
		"shell am start -n com.example.notes/.Main",
		"shell monkey -p com.example.notes -c android.intent.category.LAUNCHER 1",
	}, append(r.called("shell am"), r.called("shell monkey")...))

	r.outputs["shell am start -n com.example.notes/.Gone"] = "Error: Activity class does not exist.\n"
	assert.Error(t, d.Start(context.Background(), "com.example.notes", ".Gone"))
}

func TestADBConnect(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	r.outputs["shell getprop sys.boot_completed"] = "1\n"
	require.NoError(t, d.Connect(context.Background()))

	r.fail["wait-for-device"] = true
	assert.Error(t, d.Connect(context.Background()))
}

func TestADBPressAndOrientation(t *testing.T) {
	r := newScriptRunner()
	d := newADB(r)
	require.NoError(t, d.Press(context.Background(), mobile.KeyEscape))
	require.NoError(t, d.SetOrientation(context.Background(), mobile.OrientationLeft))
	assert.Equal(t, []string{"shell input keyevent 111"}, r.called("shell input"))
	assert.Equal(t, []string{
		"shell settings put system accelerometer_rotation 0",
		"shell settings put system user_rotation 1",
	}, r.called("shell settings"))
	assert.Error(t, d.Press(context.Background(), mobile.Key("volume")))
}

const badging = `package: name='com.example.notes' versionCode='42' versionName='2.1.0' platformBuildVersionName='13'
sdkVersion:'24'
uses-permission: name='android.permission.INTERNET'
uses-permission: name='com.example.notes.permission.C2D_MESSAGE'
application-label:'Notes'
launchable-activity: name='com.example.notes.MainActivity'  label='Notes' icon=''
`

func TestParseBadging(t *testing.T) {
	app := mobile.ParseBadging(badging)
	assert.Equal(t, "com.example.notes", app.Package)
	assert.Equal(t, "2.1.0", app.Version)
	assert.Equal(t, "com.example.notes.MainActivity", app.Activity)
	assert.Equal(t, "Notes", app.Label)
	assert.Len(t, app.Permissions, 2)
	assert.Equal(t, []string{"com.example.notes.permission.C2D_MESSAGE"}, app.OwnPermissions())
}

func TestAppAnalyzer(t *testing.T) {
	r := newScriptRunner()
	r.outputs["dump badging notes.apk"] = badging
	app, err := mobile.NewAppAnalyzer("aapt", r).Analyze(context.Background(), "notes.apk")
	require.NoError(t, err)
	assert.Equal(t, "notes.apk", app.Path)

	_, err = mobile.NewAppAnalyzer("aapt", r).Analyze(context.Background(), "empty.apk")
	assert.Error(t, err)
}

const crashLog = `10-18 09:12:44.101  4242  4242 E AndroidRuntime: FATAL EXCEPTION: main
10-18 09:12:44.101  4242  4242 E AndroidRuntime: Process: com.example.notes, PID: 4242
10-18 09:12:44.101  4242  4242 E AndroidRuntime: java.lang.NullPointerException: title was null
10-18 09:12:44.101  4242  4242 E AndroidRuntime: 	at com.example.notes.Editor.save(Editor.java:88)
10-18 09:13:02.550  1001  1001 E ActivityManager: ANR in com.other.app
10-18 09:13:02.550  1001  1001 E ActivityManager: Reason: Input dispatching timed out`

func TestParseCrashLog(t *testing.T) {
	all := mobile.ParseCrashLog(crashLog, "")
	require.Len(t, all, 2)
	assert.Equal(t, "crash", all[0].Type)
	assert.Equal(t, "anr", all[1].Type)
	assert.Contains(t, all[0].StackTrace, "Editor.save")
	assert.Contains(t, all[0].Summary(), "NullPointerException")

	mine := mobile.ParseCrashLog(crashLog, "com.example.notes")
	require.Len(t, mine, 1)
	assert.Equal(t, "crash", mine[0].Type)
}

func TestCrashReporterReturnsOnlyNewEntries(t *testing.T) {
	drv := mobiletest.NewFakeDriver("emulator-5556", buttonDump)
	reporter := mobile.NewCrashReporter()
	cmd := "logcat -b crash -d"

	drv.SetShell(cmd, "")
	reports, err := reporter.Collect(context.Background(), drv, "com.example.notes")
	require.NoError(t, err)
	assert.Empty(t, reports)

	drv.SetShell(cmd, crashLog)
	reports, err = reporter.Collect(context.Background(), drv, "com.example.notes")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "emulator-5556", reports[0].Serial)

	reports, err = reporter.Collect(context.Background(), drv, "com.example.notes")
	require.NoError(t, err)
	assert.Empty(t, reports)

	reporter.Reset("emulator-5556")
	reports, err = reporter.Collect(context.Background(), drv, "com.example.notes")
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}
