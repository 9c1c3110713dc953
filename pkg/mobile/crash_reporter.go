/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: crash_reporter.go
Description: CrashReporter reads a device's crash log buffer (logcat -b crash) and splits
it into crash and ANR reports with regex-based detection. It remembers how far it has read
per device so that each check only returns entries that are new since the previous one.
*/

package mobile

import (
	"bufio"
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	crashRegex = regexp.MustCompile(`FATAL EXCEPTION|ANR in|Process: [\w.]+, PID|java\.lang\.[A-Za-z]+(Exception|Error)`)
	timeRegex  = regexp.MustCompile(`^(\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3})`)
)

// CrashReporter tracks crash buffer offsets per device.
type CrashReporter struct {
	mu   sync.Mutex
	seen map[string]int // serial -> lines already consumed
}

func NewCrashReporter() *CrashReporter {
	return &CrashReporter{seen: make(map[string]int)}
}

// Collect returns crash reports that appeared since the last call for this driver.
// Reports are restricted to pkg when it is non-empty.
func (r *CrashReporter) Collect(ctx context.Context, d Driver, pkg string) ([]*CrashReport, error) {
	out, err := d.Shell(ctx, "logcat", "-b", "crash", "-d")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}

	r.mu.Lock()
	start := r.seen[d.Serial()]
	if start > len(lines) {
		// buffer was cleared or rotated
		start = 0
	}
	r.seen[d.Serial()] = len(lines)
	r.mu.Unlock()

	reports := ParseCrashLog(strings.Join(lines[start:], "\n"), pkg)
	for _, rep := range reports {
		rep.Serial = d.Serial()
	}
	return reports, nil
}

// Reset forgets the offset for a device, used after its buffer is cleared.
func (r *CrashReporter) Reset(serial string) {
	r.mu.Lock()
	delete(r.seen, serial)
	r.mu.Unlock()
}

// ParseCrashLog splits logcat text into reports.
func ParseCrashLog(text, pkg string) []*CrashReport {
	var (
		reports []*CrashReport
		current *CrashReport
	)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "FATAL EXCEPTION") || strings.Contains(line, "ANR in") {
			if current != nil {
				reports = append(reports, current)
			}
			current = &CrashReport{Package: pkg, Type: "crash", Message: line, Logs: []string{line}}
			if strings.Contains(line, "ANR in") {
				current.Type = "anr"
			}
			if m := timeRegex.FindStringSubmatch(line); len(m) == 2 {
				if t, err := time.Parse("01-02 15:04:05.000", m[1]); err == nil {
					current.Timestamp = t
				}
			}
			continue
		}
		if current == nil {
			continue
		}
		current.Logs = append(current.Logs, line)
		if strings.Contains(line, "\tat ") || strings.Contains(line, " at ") {
			current.StackTrace += strings.TrimSpace(line) + "\n"
		} else if crashRegex.MatchString(line) && !strings.Contains(current.Message, "java.") {
			current.Message += " " + strings.TrimSpace(line)
		}
	}
	if current != nil {
		reports = append(reports, current)
	}
	if pkg == "" {
		return reports
	}
	var filtered []*CrashReport
	for _, rep := range reports {
		if strings.Contains(strings.Join(rep.Logs, "\n"), pkg) {
			filtered = append(filtered, rep)
		}
	}
	return filtered
}

// Summary renders a report as one log line.
func (c *CrashReport) Summary() string {
	return c.Type + ": " + strings.TrimSpace(c.Message)
}
