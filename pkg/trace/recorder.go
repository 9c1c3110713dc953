/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: recorder.go
Description: Persisted layout and per-session trace files. Each device session owns one
Recorder. Nothing else writes to its files.

	<root>/strategy_<name>/error_realtime.txt
	<root>/strategy_<name>/wrong_realtime.txt
	<root>/strategy_<name>/<run>/read_trace.txt
	<root>/strategy_<name>/<run>/trace.txt
	<root>/strategy_<name>/<run>/screen/<seq>_<serial>.{png,xml}
	<root>/strategy_<name>/<run>/screen_error/...
	<root>/strategy_<name>/<run>/event_info_error/event_info_error_<seq>_device_<role>.txt
*/

package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
)

const (
	ErrorLogName  = "error_realtime.txt"
	WrongLogName  = "wrong_realtime.txt"
	ReplayLogName = "error_replay.txt"
	ReadTraceName = "read_trace.txt"
	TraceName     = "trace.txt"
	ScreenDir     = "screen"
	ErrorScreens  = "screen_error"
	EventInfoDir  = "event_info_error"
)

// Layout resolves output paths under one root.
type Layout struct {
	Root string
}

// StrategyDir is the directory shared by every run of one session directory name.
func (l Layout) StrategyDir(name string) string {
	return filepath.Join(l.Root, "strategy_"+name)
}

// RunDir is the directory of one run.
func (l Layout) RunDir(name string, runCount int) string {
	return filepath.Join(l.StrategyDir(name), strconv.Itoa(runCount))
}

// CaptureName is the base file name of one capture.
func CaptureName(seq float64, serial string) string {
	return interfaces.FormatSeq(seq) + "_" + serial
}

// WriteCapture stores a screenshot and hierarchy dump as <dir>/<name>.{png,xml}.
func WriteCapture(dir, name string, png []byte, dump string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}
	if len(png) > 0 {
		if err := os.WriteFile(filepath.Join(dir, name+".png"), png, 0644); err != nil {
			return fmt.Errorf("failed to write screenshot: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, name+".xml"), []byte(dump), 0644); err != nil {
		return fmt.Errorf("failed to write hierarchy: %w", err)
	}
	return nil
}

// Recorder owns the trace files of one device session for one run.
type Recorder struct {
	strategyDir string
	runDir      string
	runCount    int

	readTrace *os.File
	trace     *os.File
	errorLog  *os.File
	wrongLog  *os.File

	window []Record
}

// OpenRecorder creates the run directory and opens the session's files. Error and wrong
// logs are opened in append mode so that findings accumulate across runs.
func OpenRecorder(layout Layout, name string, runCount int) (*Recorder, error) {
	r := &Recorder{
		strategyDir: layout.StrategyDir(name),
		runDir:      layout.RunDir(name, runCount),
		runCount:    runCount,
	}
	if err := os.MkdirAll(filepath.Join(r.runDir, ScreenDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	var err error
	open := func(path string, flag int) *os.File {
		if err != nil {
			return nil
		}
		var f *os.File
		f, err = os.OpenFile(path, flag|os.O_CREATE|os.O_WRONLY, 0644)
		return f
	}
	r.readTrace = open(filepath.Join(r.runDir, ReadTraceName), os.O_TRUNC)
	r.trace = open(filepath.Join(r.runDir, TraceName), os.O_TRUNC)
	r.errorLog = open(filepath.Join(r.strategyDir, ErrorLogName), os.O_APPEND)
	r.wrongLog = open(filepath.Join(r.strategyDir, WrongLogName), os.O_APPEND)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open trace files: %w", err)
	}
	return r, nil
}

// RunDir returns the directory of the current run.
func (r *Recorder) RunDir() string { return r.runDir }

// StrategyDir returns the directory holding the error and wrong logs.
func (r *Recorder) StrategyDir() string { return r.strategyDir }

// ScreenDir returns where per-tick captures go.
func (r *Recorder) ScreenDir() string { return filepath.Join(r.runDir, ScreenDir) }

// ErrorScreenDir returns where failure and finding captures go.
func (r *Recorder) ErrorScreenDir() string { return filepath.Join(r.runDir, ErrorScreens) }

// Record appends rec to the run trace and the current bug window. Markers such as
// save_state and wrong only go to read_trace.
func (r *Recorder) Record(rec Record) error {
	line := rec.Format() + "\n"
	if _, err := r.readTrace.WriteString(line); err != nil {
		return fmt.Errorf("failed to write read_trace: %w", err)
	}
	if rec.Event.Action != interfaces.ActionSaveState && rec.Event.Action != interfaces.ActionWrong {
		if _, err := r.trace.WriteString(line); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
	}
	r.window = append(r.window, rec)
	return nil
}

// Window returns the records since the last reset.
func (r *Recorder) Window() []Record {
	return append([]Record(nil), r.window...)
}

// ResetWindow starts a new bug window, used after every clear-and-restart.
func (r *Recorder) ResetWindow() { r.window = nil }

// WriteError appends a genuine finding to error_realtime.txt.
func (r *Recorder) WriteError(id int, records []Record) error {
	if err := WriteWindow(r.errorLog, Window{ID: id, RunCount: r.runCount, Records: records}); err != nil {
		return fmt.Errorf("failed to write error log: %w", err)
	}
	return r.errorLog.Sync()
}

// WriteWrong appends a repeated divergence to wrong_realtime.txt.
func (r *Recorder) WriteWrong(id int, records []Record) error {
	if err := WriteWindow(r.wrongLog, Window{ID: id, RunCount: r.runCount, Records: records}); err != nil {
		return fmt.Errorf("failed to write wrong log: %w", err)
	}
	return nil
}

// WriteEventInfo stores the record that made a device fail.
func (r *Recorder) WriteEventInfo(rec Record) (string, error) {
	dir := filepath.Join(r.runDir, EventInfoDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("event_info_error_%s_device_%d.txt", interfaces.FormatSeq(rec.Event.Seq), int(rec.Role)))
	return path, os.WriteFile(path, []byte(rec.Format()+"\n"), 0644)
}

// Close flushes and closes every file.
func (r *Recorder) Close() error {
	var first error
	for _, f := range []*os.File{r.readTrace, r.trace, r.errorLog, r.wrongLog} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
