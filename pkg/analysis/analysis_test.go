/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: analysis_test.go
Description: Tests for the divergence oracle, the dedup cache, crash triage and the
offline replayability check.
*/

package analysis_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kleascm/akaylee-droid/pkg/analysis"
	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/kleascm/akaylee-droid/pkg/trace"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// screen builds a one-button dump; States differ by the button's resource id.
func screen(id string) string {
	return fmt.Sprintf(`<hierarchy rotation="0"><node class="android.widget.FrameLayout" package="com.example.notes" bounds="[0,0][1080,2340]"><node text="Save" resource-id="com.example.notes:id/%s" class="android.widget.Button" package="com.example.notes" clickable="true" enabled="true" bounds="[40,400][540,520]" /></node></hierarchy>`, id)
}

func state(t *testing.T, id string) *hierarchy.State {
	t.Helper()
	s, err := hierarchy.StateFromDump(screen(id), hierarchy.DefaultStateOptions())
	require.NoError(t, err)
	return s
}

func TestCompareConsistent(t *testing.T) {
	o := analysis.NewOracle(quiet())
	assert.Equal(t, analysis.Consistent, o.Compare(state(t, "save"), state(t, "save"), 1))

	stats := o.GetStats()
	assert.EqualValues(t, 1, stats.Comparisons)
	assert.Zero(t, stats.Divergences)
}

func TestDivergenceReportedOnce(t *testing.T) {
	o := analysis.NewOracle(quiet())
	base, guest := state(t, "save"), state(t, "ok")

	require.Equal(t, analysis.Novel, o.Compare(base, guest, 1))
	o.Observe(base, map[interfaces.Role]*hierarchy.State{1: guest})
	assert.Equal(t, analysis.Repeated, o.Compare(base, guest, 1))

	// A new base against a seen guest State is still a repeat.
	assert.Equal(t, analysis.Repeated, o.Compare(state(t, "cancel"), guest, 1))
	// The base was seen, so even another guest's fresh State is a repeat.
	assert.Equal(t, analysis.Repeated, o.Compare(base, state(t, "other"), 2))

	stats := o.GetStats()
	assert.EqualValues(t, 1, stats.Errors)
	assert.EqualValues(t, 3, stats.Wrongs)
	assert.Equal(t, 2, o.Cache().Len())
}

func TestNilStateDiverges(t *testing.T) {
	o := analysis.NewOracle(quiet())
	assert.Equal(t, analysis.Novel, o.Compare(nil, state(t, "save"), 1))
	assert.Equal(t, analysis.Novel, o.Compare(state(t, "save"), nil, 1))
}

func TestGuestListsAreSeparate(t *testing.T) {
	c := analysis.NewDedupCache()
	s := state(t, "save")
	c.AddGuest(1, s)
	assert.False(t, c.Novel(state(t, "a"), s, 1))
	assert.True(t, c.Novel(state(t, "a"), s, 2))

	c.AddGuest(1, s)
	assert.Equal(t, 1, c.Len())
	c.Reset()
	assert.Zero(t, c.Len())
}

func TestSeverityOf(t *testing.T) {
	assert.Equal(t, analysis.SeverityError, analysis.SeverityOf(analysis.Novel))
	assert.Equal(t, analysis.SeverityWrong, analysis.SeverityOf(analysis.Repeated))

	f := analysis.NewFinding(analysis.SeverityError, state(t, "a"), nil)
	assert.NotEmpty(t, f.ID)
	assert.NotEmpty(t, f.BaseHash)
	assert.Empty(t, f.GuestHash)
}

func TestDedupFirstSeenWinsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	ident := gen.Identifier()
	properties.Property("first divergent pair is novel, the same pair after it is not", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			base, err := hierarchy.StateFromDump(screen(a), hierarchy.DefaultStateOptions())
			if err != nil {
				return false
			}
			guest, err := hierarchy.StateFromDump(screen(b), hierarchy.DefaultStateOptions())
			if err != nil {
				return false
			}
			o := analysis.NewOracle(quiet())
			first := o.Compare(base, guest, 1)
			o.Observe(base, map[interfaces.Role]*hierarchy.State{1: guest})
			return first == analysis.Novel && o.Compare(base, guest, 1) == analysis.Repeated
		},
		ident, ident,
	))
	properties.TestingRun(t)
}

func TestCrashTriageGroupsByStack(t *testing.T) {
	engine := analysis.NewCrashTriageEngine()
	npe := func(serial, ts string) *mobile.CrashReport {
		return &mobile.CrashReport{
			Serial:  serial,
			Type:    "crash",
			Message: ts + "  4242  4242 E AndroidRuntime: FATAL EXCEPTION: main java.lang.NullPointerException",
			StackTrace: ts + "  4242  4242 E AndroidRuntime: \tat com.example.notes.Editor.save(Editor.java:42)\n" +
				ts + "  4242  4242 E AndroidRuntime: \tat android.view.View.performClick(View.java:7448)\n",
		}
	}

	r := engine.TriageCrash(npe("emulator-5554", "10-18 09:12:44.101"))
	assert.Equal(t, analysis.CrashTypeNullPointer, r.CrashType)
	assert.Equal(t, analysis.SeverityHigh, r.Severity)
	r2 := engine.TriageCrash(npe("emulator-5556", "10-18 09:13:02.555"))
	assert.Equal(t, r.StackHash, r2.StackHash, "logcat headers must not split groups")

	engine.TriageCrash(&mobile.CrashReport{Serial: "emulator-5556", Type: "anr", Message: "ANR in com.example.notes"})

	groups := engine.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, analysis.CrashTypeNullPointer, groups[0].CrashType)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, []string{"emulator-5554", "emulator-5556"}, groups[0].Serials)
	assert.Equal(t, analysis.CrashTypeANR, groups[1].CrashType)
	assert.Equal(t, "MEDIUM", groups[1].Severity)

	engine.Reset()
	assert.Empty(t, engine.Groups())
}

func writeRun(t *testing.T, lines []string, captures map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, trace.ReadTraceName), []byte(strings.Join(lines, "\n")+"\n"), 0644))
	for name, dump := range captures {
		require.NoError(t, trace.WriteCapture(filepath.Join(dir, trace.ScreenDir), name, nil, dump))
	}
	return dir
}

func TestAnalyzeRun(t *testing.T) {
	dir := writeRun(t, []string{
		"1.0::click::device0::None::Save::None::com.example.notes:id/save::android.widget.Button::[40,400][540,520]",
		"2.0::click::device0::None::Save::None::com.example.notes:id/save::android.widget.Button::[0,0][10,10]",
		"3.0::click::device0::None::Gone::None::com.example.notes:id/gone::android.widget.Button::[1,1][2,2]",
		"4.0::back::device0::None::None::None::None::None::None",
	}, map[string]string{
		trace.CaptureName(1, "emulator-5554"): screen("save"),
		"notes.xml":                           screen("ignored"),
	})

	h := analysis.NewReproducibilityHarness(quiet())
	result, err := h.AnalyzeRun(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Events)
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 1, result.ByBounds)
	assert.Equal(t, 1, result.ByStructure)
	require.Len(t, result.Missing, 1)
	assert.Equal(t, 3.0, result.Missing[0].Seq)
	assert.Equal(t, "target not in capture", result.Missing[0].Reason)
	assert.InDelta(t, 2.0/3.0, result.ReplayRate(), 1e-9)

	out := filepath.Join(dir, "replayability.json")
	require.NoError(t, h.SaveReport(result, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"by_structure": 1`)
}

func TestAnalyzeRunWithoutCaptureBefore(t *testing.T) {
	dir := writeRun(t, []string{
		"1.0::click::device1::None::Save::None::com.example.notes:id/save::android.widget.Button::[40,400][540,520]",
	}, map[string]string{
		trace.CaptureName(2, "emulator-5556"): screen("save"),
	})
	result, err := analysis.NewReproducibilityHarness(quiet()).AnalyzeRun(dir)
	require.NoError(t, err)
	require.Len(t, result.Missing, 1)
	assert.Equal(t, "no capture at or before this tick", result.Missing[0].Reason)
}

func TestAnalyzeRunMissingTrace(t *testing.T) {
	_, err := analysis.NewReproducibilityHarness(quiet()).AnalyzeRun(t.TempDir())
	assert.Error(t, err)
}
