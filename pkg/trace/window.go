/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: window.go
Description: Bug windows. A window is the run of records between a Start marker and
End:: in an error or wrong log. Replay and report tooling read them back here.
*/

package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Window is one recorded bug: every base and guest record since the last restart.
type Window struct {
	ID       int
	RunCount int
	Records  []Record
}

// Merge interleaves base and guest records by sequence, base first within a tick.
func Merge(base, guest []Record) []Record {
	out := make([]Record, 0, len(base)+len(guest))
	out = append(out, base...)
	out = append(out, guest...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Event.Seq < out[j].Event.Seq })
	return out
}

// Groups splits records into consecutive runs sharing a sequence number.
func (w Window) Groups() [][]Record {
	var groups [][]Record
	for i, r := range w.Records {
		if i == 0 || r.Event.Seq != w.Records[i-1].Event.Seq {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], r)
	}
	return groups
}

// WriteWindow appends a complete window to w.
func WriteWindow(w io.Writer, win Window) error {
	var b strings.Builder
	b.WriteString(StartMarker(win.ID, win.RunCount))
	b.WriteString("\n")
	for _, r := range win.Records {
		b.WriteString(r.Format())
		b.WriteString("\n")
	}
	b.WriteString(EndMarker)
	b.WriteString("\n\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// ReadWindows parses every window in r. Lines outside windows are ignored.
func ReadWindows(r io.Reader) ([]Window, error) {
	var (
		windows []Window
		current *Window
		lineNo  int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if id, run, ok := ParseStart(line); ok {
			if current != nil {
				return nil, fmt.Errorf("line %d: window %d not closed", lineNo, current.ID)
			}
			current = &Window{ID: id, RunCount: run}
			continue
		}
		if IsEnd(line) {
			if current == nil {
				return nil, fmt.Errorf("line %d: End without Start", lineNo)
			}
			windows = append(windows, *current)
			current = nil
			continue
		}
		if current == nil {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		current.Records = append(current.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("window %d not closed", current.ID)
	}
	return windows, nil
}

// ReadWindowsFile opens path and parses its windows.
func ReadWindowsFile(path string) ([]Window, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadWindows(f)
}

// ReadRecordsFile parses a plain trace file, skipping marker and blank lines.
func ReadRecordsFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || IsEnd(line) {
			continue
		}
		if _, _, ok := ParseStart(line); ok {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
