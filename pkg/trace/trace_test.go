/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: trace_test.go
Description: Tests for the trace codec, bug windows and the per-session recorder.
*/

package trace_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/trace"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clickRecord(seq float64, role interfaces.Role) trace.Record {
	return trace.NewRecord(&interfaces.Event{
		Seq:    seq,
		Action: interfaces.ActionClick,
		Target: interfaces.AllDevices,
		View: &interfaces.View{
			ResourceID: "com.example:id/save",
			ClassName:  "android.widget.Button",
			Text:       "Save",
			Bounds:     interfaces.Bounds{X1: 40, Y1: 400, X2: 540, Y2: 520},
		},
	}, role)
}

func TestFormatWithView(t *testing.T) {
	line := clickRecord(3, 2).Format()
	assert.Equal(t, "3.0::click::device2::None::Save::None::com.example:id/save::android.widget.Button::[40,400][540,520]", line)
}

func TestFormatWithoutView(t *testing.T) {
	rec := trace.NewRecord(&interfaces.Event{Seq: 4.5, Action: interfaces.ActionBack}, 0)
	assert.Equal(t, "4.5::back::device0::None::None::None::None::None::None", rec.Format())

	parsed, err := trace.Parse(rec.Format())
	require.NoError(t, err)
	assert.Nil(t, parsed.Event.View)
	assert.Equal(t, interfaces.ActionBack, parsed.Event.Action)
}

func TestFormatSanitizesSeparators(t *testing.T) {
	rec := trace.NewRecord(&interfaces.Event{Seq: 1, Action: interfaces.ActionEdit, Text: "a::b:\nc:",
		View: &interfaces.View{ClassName: "android.widget.EditText"}}, 1)
	assert.Equal(t, "1.0::edit::device1::a%3A%3Ab: c%3A::None::None::None::android.widget.EditText::None", rec.Format())
	parsed, err := trace.Parse(rec.Format())
	require.NoError(t, err)
	assert.Equal(t, "a::b: c:", parsed.Event.Text)
}

func TestFormatKeepsColons(t *testing.T) {
	for _, text := range []string{"Password:", ":", "::", "a:::", "50%", "%3A", "%25:", "com.example:id/save"} {
		rec := trace.NewRecord(&interfaces.Event{Seq: 2, Action: interfaces.ActionClick,
			View: &interfaces.View{Text: text, Description: text, ClassName: "android.widget.TextView"}}, 0)
		parsed, err := trace.Parse(rec.Format())
		require.NoError(t, err, text)
		require.NotNil(t, parsed.Event.View, text)
		assert.Equal(t, text, parsed.Event.View.Text)
		assert.Equal(t, text, parsed.Event.View.Description)
		assert.Equal(t, "android.widget.TextView", parsed.Event.View.ClassName)
	}
}

func TestColonTextRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	const alphabet = "a:%3A25 "
	char := gen.IntRange(0, len(alphabet)-1).Map(func(i int) string { return alphabet[i : i+1] })
	text := gen.SliceOf(char).Map(func(parts []string) string {
		return strings.Join(parts, "")
	})

	properties.Property("text made of colons and escapes survives format then parse", prop.ForAll(
		func(text string) bool {
			rec := trace.NewRecord(&interfaces.Event{Seq: 1, Action: interfaces.ActionEdit, Text: text,
				View: &interfaces.View{Text: text, ClassName: "android.widget.EditText"}}, 1)
			got, err := trace.Parse(rec.Format())
			if err != nil {
				return false
			}
			return got.Event.Text == text && got.Event.View.Text == text
		},
		text,
	))

	properties.TestingRun(t)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"1.0::click::device0",
		"x::click::device0::None::None::None::None::None::None",
		"1.0::fly::device0::None::None::None::None::None::None",
		"1.0::click::phone::None::None::None::None::None::None",
		"1.0::click::device0::None::a::None::None::None::[1,2]",
	} {
		_, err := trace.Parse(line)
		assert.ErrorIs(t, err, trace.ErrMalformedRecord, line)
	}
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	actions := gen.OneConstOf(interfaces.ActionClick, interfaces.ActionLongClick, interfaces.ActionEdit, interfaces.ActionScroll)

	properties.Property("format then parse keeps action, role and view", prop.ForAll(
		func(action interfaces.ActionKind, role int, text, rid, class string, x1, y1 int) bool {
			rec := trace.NewRecord(&interfaces.Event{
				Seq:    float64(role) + 1,
				Action: action,
				View: &interfaces.View{
					Text:       text,
					ResourceID: rid,
					ClassName:  class,
					Bounds:     interfaces.Bounds{X1: x1, Y1: y1, X2: x1 + 10, Y2: y1 + 10},
				},
			}, interfaces.Role(role))
			got, err := trace.Parse(rec.Format())
			if err != nil {
				return false
			}
			return got.Event.Action == action && got.Role == interfaces.Role(role) &&
				got.Event.View.Text == text && got.Event.View.ResourceID == rid &&
				got.Event.View.ClassName == class && got.Event.View.Bounds == rec.Event.View.Bounds
		},
		actions,
		gen.IntRange(0, 8),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 2000),
		gen.IntRange(0, 2000),
	))

	properties.TestingRun(t)
}

func TestWindowsRoundTrip(t *testing.T) {
	base := []trace.Record{clickRecord(1, 0), clickRecord(2, 0)}
	guest := []trace.Record{clickRecord(1, 1), clickRecord(2, 1)}
	merged := trace.Merge(base, guest)
	require.Len(t, merged, 4)
	assert.Equal(t, interfaces.Role(0), merged[0].Role)
	assert.Equal(t, interfaces.Role(1), merged[1].Role)

	var buf bytes.Buffer
	require.NoError(t, trace.WriteWindow(&buf, trace.Window{ID: 1, RunCount: 3, Records: merged}))
	require.NoError(t, trace.WriteWindow(&buf, trace.Window{ID: 2, RunCount: 3, Records: base[:1]}))
	assert.True(t, strings.HasPrefix(buf.String(), "Start::1::run_count::3\n"))

	windows, err := trace.ReadWindows(&buf)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	want := trace.Window{ID: 1, RunCount: 3, Records: merged}
	if diff := cmp.Diff(want, windows[0]); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
	groups := windows[0].Groups()
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
}

func TestReadWindowsUnclosed(t *testing.T) {
	_, err := trace.ReadWindows(strings.NewReader("Start::1::run_count::1\n1.0::back::device0::None::None::None::None::None::None\n"))
	assert.Error(t, err)
	_, err = trace.ReadWindows(strings.NewReader("End::\n"))
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	layout := trace.Layout{Root: t.TempDir()}
	rec, err := trace.OpenRecorder(layout, "language", 2)
	require.NoError(t, err)

	require.NoError(t, rec.Record(clickRecord(1, 1)))
	require.NoError(t, rec.Record(trace.NewRecord(&interfaces.Event{Seq: 2, Action: interfaces.ActionSaveState}, 1)))
	assert.Len(t, rec.Window(), 2)

	require.NoError(t, rec.WriteError(1, rec.Window()))
	require.NoError(t, rec.WriteWrong(1, rec.Window()[:1]))
	path, err := rec.WriteEventInfo(clickRecord(3, 1))
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "event_info_error_3.0_device_1.txt", filepath.Base(path))

	rec.ResetWindow()
	assert.Empty(t, rec.Window())
	require.NoError(t, trace.WriteCapture(rec.ScreenDir(), trace.CaptureName(1, "emulator-5556"), []byte("png"), "<hierarchy/>"))
	require.NoError(t, rec.Close())

	assert.FileExists(t, filepath.Join(layout.RunDir("language", 2), "screen", "1.0_emulator-5556.png"))

	traceLines, err := trace.ReadRecordsFile(filepath.Join(rec.RunDir(), trace.TraceName))
	require.NoError(t, err)
	assert.Len(t, traceLines, 1)
	readLines, err := trace.ReadRecordsFile(filepath.Join(rec.RunDir(), trace.ReadTraceName))
	require.NoError(t, err)
	assert.Len(t, readLines, 2)

	windows, err := trace.ReadWindowsFile(filepath.Join(layout.StrategyDir("language"), trace.ErrorLogName))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 2, windows[0].RunCount)

	// A second run appends to the same error log.
	again, err := trace.OpenRecorder(layout, "language", 3)
	require.NoError(t, err)
	require.NoError(t, again.WriteError(2, []trace.Record{clickRecord(1, 1)}))
	require.NoError(t, again.Close())
	data, err := os.ReadFile(filepath.Join(layout.StrategyDir("language"), trace.ErrorLogName))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "Start::"))
}
