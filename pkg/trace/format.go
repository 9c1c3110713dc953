/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: format.go
Description: Line codec for event traces. One record per executed event per device:
seq::action::device<role>::text::view_text::view_desc::view_resource_id::view_class::view_bounds
Unused fields hold the None placeholder. Start/End markers delimit bug windows in
error and wrong logs.
*/

package trace

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
)

const (
	// Separator joins record fields.
	Separator = "::"
	// None fills empty or unused fields.
	None = "None"
	// EndMarker closes a bug window.
	EndMarker = "End::"

	recordFields = 9
)

// ErrMalformedRecord is returned for lines that are not trace records.
var ErrMalformedRecord = errors.New("malformed trace record")

// Record is one event as executed by one device.
type Record struct {
	Event interfaces.Event
	Role  interfaces.Role
}

// NewRecord binds an event to the device that ran it.
func NewRecord(e *interfaces.Event, role interfaces.Role) Record {
	ev := *e
	if e.View != nil {
		v := *e.View
		ev.View = &v
	}
	return Record{Event: ev, Role: role}
}

// colon and percent are the escapes of a colon that would touch a separator and of a
// literal percent sign ahead of either escape.
const (
	colon   = "%3A"
	percent = "%25"
)

var unescaper = strings.NewReplacer(colon, ":", percent, "%")

func field(s string) string {
	if s == "" {
		return None
	}
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '%' && (strings.HasPrefix(s[i+1:], colon[1:]) || strings.HasPrefix(s[i+1:], percent[1:])):
			b.WriteString(percent)
		case s[i] == ':' && (i == len(s)-1 || s[i+1] == ':' || (i > 0 && s[i-1] == ':')):
			// a colon run or a trailing colon would merge with the separator
			b.WriteString(colon)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func unfield(s string) string {
	if s == None {
		return ""
	}
	return unescaper.Replace(s)
}

// Format renders the record as a single line without a trailing newline.
func (r Record) Format() string {
	parts := []string{
		interfaces.FormatSeq(r.Event.Seq),
		string(r.Event.Action),
		r.Role.String(),
		field(r.Event.Text),
	}
	if v := r.Event.View; v != nil {
		bounds := None
		if !v.Bounds.IsZero() {
			bounds = v.Bounds.String()
		}
		parts = append(parts, field(v.Text), field(v.Description), field(v.ResourceID), field(v.ClassName), bounds)
	} else {
		parts = append(parts, None, None, None, None, None)
	}
	return strings.Join(parts, Separator)
}

// Parse decodes one record line.
func Parse(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, Separator)
	if len(parts) != recordFields {
		return Record{}, fmt.Errorf("%w: %d fields in %q", ErrMalformedRecord, len(parts), line)
	}

	seq, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad sequence %q", ErrMalformedRecord, parts[0])
	}
	action, err := interfaces.ParseActionKind(parts[1])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	role, err := interfaces.ParseRole(parts[2])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	r := Record{
		Event: interfaces.Event{Seq: seq, Action: action, Text: unfield(parts[3]), Target: interfaces.AllDevices},
		Role:  role,
	}
	if parts[4] == None && parts[5] == None && parts[6] == None && parts[7] == None && parts[8] == None {
		return r, nil
	}
	v := &interfaces.View{
		Text:        unfield(parts[4]),
		Description: unfield(parts[5]),
		ResourceID:  unfield(parts[6]),
		ClassName:   unfield(parts[7]),
	}
	if parts[8] != None {
		b, err := interfaces.ParseBounds(parts[8])
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		v.Bounds = b
	}
	r.Event.View = v
	return r, nil
}

// StartMarker opens bug window id for the given run.
func StartMarker(id, runCount int) string {
	return fmt.Sprintf("Start::%d::run_count::%d", id, runCount)
}

// ParseStart decodes a Start marker.
func ParseStart(line string) (id, runCount int, ok bool) {
	parts := strings.Split(strings.TrimSpace(line), Separator)
	if len(parts) != 4 || parts[0] != "Start" || parts[2] != "run_count" {
		return 0, 0, false
	}
	id, err1 := strconv.Atoi(parts[1])
	runCount, err2 := strconv.Atoi(parts[3])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return id, runCount, true
}

// IsEnd reports whether line closes a bug window.
func IsEnd(line string) bool {
	return strings.TrimSpace(line) == EndMarker
}
