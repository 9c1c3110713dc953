/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: hierarchy_test.go
Description: Tests for hierarchy parsing, selector queries and state fingerprints,
including property tests for state reflexivity.
*/

package hierarchy_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.example.notes" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[0,0][1080,2340]">
    <node index="0" text="12:30" resource-id="com.android.systemui:id/clock" class="android.widget.TextView" package="com.android.systemui" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[0,0][100,60]" />
    <node index="1" text="Title" resource-id="com.example.notes:id/title" class="android.widget.EditText" package="com.example.notes" content-desc="" checkable="false" checked="false" clickable="true" enabled="true" focusable="true" focused="true" scrollable="false" long-clickable="true" password="false" selected="false" bounds="[40,200][1040,320]" />
    <node index="2" text="Save" resource-id="com.example.notes:id/save" class="android.widget.Button" package="com.example.notes" content-desc="save note" checkable="false" checked="false" clickable="true" enabled="true" focusable="true" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[40,400][540,520]" />
    <node index="3" text="Delete" resource-id="com.example.notes:id/save" class="android.widget.Button" package="com.example.notes" content-desc="" checkable="false" checked="false" clickable="true" enabled="false" focusable="true" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[540,400][1040,520]" />
    <node index="4" text="" resource-id="com.example.notes:id/list" class="androidx.recyclerview.widget.RecyclerView" package="com.example.notes" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="true" focused="false" scrollable="true" long-clickable="false" password="false" selected="false" bounds="[0,600][1080,2200]">
      <node index="0" text="a &lt; b &amp; c" resource-id="" class="android.widget.TextView" package="com.example.notes" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[0,600][1080,700]" />
    </node>
  </node>
</hierarchy>`

func TestParseNodes(t *testing.T) {
	h, err := hierarchy.Parse(loginDump)
	require.NoError(t, err)

	nodes := h.Nodes()
	require.Len(t, nodes, 7)
	assert.Equal(t, 0, nodes[0].Depth)
	assert.Equal(t, 1, nodes[1].Depth)
	assert.Equal(t, 2, nodes[6].Depth)
	assert.Equal(t, "a < b & c", nodes[6].Text)
	assert.Equal(t, "save note", nodes[3].Description)
	assert.Equal(t, interfaces.Bounds{X1: 40, Y1: 400, X2: 540, Y2: 520}, nodes[3].Bounds)

	// Both buttons share class and resource id, so the second is instance 1.
	assert.Equal(t, 0, nodes[3].Instance)
	assert.Equal(t, 1, nodes[4].Instance)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := hierarchy.Parse("ERROR: could not get idle state.")
	assert.Error(t, err)
}

func TestSelectors(t *testing.T) {
	h, err := hierarchy.Parse(loginDump)
	require.NoError(t, err)

	clickable := h.Select(hierarchy.SelectClickable)
	require.Len(t, clickable, 2)
	assert.Equal(t, "Title", clickable[0].Text)
	assert.Equal(t, "Save", clickable[1].Text)

	editable := h.Select(hierarchy.SelectEditable)
	require.Len(t, editable, 1)
	assert.Equal(t, "com.example.notes:id/title", editable[0].ResourceID)

	assert.Len(t, h.Select(hierarchy.SelectScrollable), 1)
	assert.Len(t, h.Select(hierarchy.SelectLongClickable), 1)
	assert.Empty(t, h.Select(hierarchy.SelectLoading))
}

func TestFindAndAt(t *testing.T) {
	h, err := hierarchy.Parse(loginDump)
	require.NoError(t, err)

	n, ok := h.FindInstance(hierarchy.Match{ClassName: "android.widget.Button", ResourceID: "com.example.notes:id/save", Instance: 1})
	require.True(t, ok)
	assert.Equal(t, "Delete", n.Text)

	_, ok = h.FindInstance(hierarchy.Match{ClassName: "android.widget.Button", Instance: 5})
	assert.False(t, ok)

	n, ok = h.At(interfaces.Bounds{X1: 0, Y1: 600, X2: 1080, Y2: 700})
	require.True(t, ok)
	assert.Equal(t, "android.widget.TextView", n.Class)

	assert.True(t, h.Contains("com.example.notes:id/list"))
	assert.False(t, h.Contains(""))
}

func TestStateIgnoresVolatileContent(t *testing.T) {
	a, err := hierarchy.StateFromDump(loginDump, hierarchy.DefaultStateOptions())
	require.NoError(t, err)

	// Clock text, focus and bounds changes are not structural.
	shifted := strings.NewReplacer(`text="12:30"`, `text="12:31"`, `focused="true"`, `focused="false"`, `[40,200][1040,320]`, `[40,210][1040,330]`).Replace(loginDump)
	b, err := hierarchy.StateFromDump(shifted, hierarchy.DefaultStateOptions())
	require.NoError(t, err)
	assert.True(t, a.Same(b))
	assert.Equal(t, a.Hash(), b.Hash())

	// A disabled button becoming enabled is.
	enabled := strings.Replace(loginDump, `clickable="true" enabled="false"`, `clickable="true" enabled="true"`, 1)
	c, err := hierarchy.StateFromDump(enabled, hierarchy.DefaultStateOptions())
	require.NoError(t, err)
	assert.False(t, a.Same(c))
	assert.Equal(t, 6, a.Len())
}

func TestStateTextOption(t *testing.T) {
	opts := hierarchy.DefaultStateOptions()
	opts.IncludeText = true
	a, err := hierarchy.StateFromDump(loginDump, opts)
	require.NoError(t, err)
	b, err := hierarchy.StateFromDump(strings.Replace(loginDump, `text="Save"`, `text="Speichern"`, 1), opts)
	require.NoError(t, err)
	assert.False(t, a.Same(b))

	var nilState *hierarchy.State
	assert.False(t, nilState.Same(a))
}

func buildDump(classes []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version='1.0' encoding='UTF-8' standalone='yes' ?><hierarchy rotation="0">`)
	for i, c := range classes {
		fmt.Fprintf(&b, `<node index="%d" text="t%d" resource-id="id/%s" class="%s" package="com.example" clickable="true" enabled="true" bounds="[0,%d][10,%d]" />`, i, i, c, c, i, i+1)
	}
	b.WriteString(`</hierarchy>`)
	return b.String()
}

func TestStateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	classes := gen.SliceOf(gen.Identifier())

	properties.Property("state equality is reflexive", prop.ForAll(
		func(cs []string) bool {
			s, err := hierarchy.StateFromDump(buildDump(cs), hierarchy.DefaultStateOptions())
			return err == nil && s.Same(s)
		},
		classes,
	))

	properties.Property("re-deriving a state is idempotent", prop.ForAll(
		func(cs []string) bool {
			dump := buildDump(cs)
			a, errA := hierarchy.StateFromDump(dump, hierarchy.DefaultStateOptions())
			b, errB := hierarchy.StateFromDump(dump, hierarchy.DefaultStateOptions())
			return errA == nil && errB == nil && a.Same(b) && a.Hash() == b.Hash() && a.Len() == len(cs)
		},
		classes,
	))

	properties.TestingRun(t)
}
