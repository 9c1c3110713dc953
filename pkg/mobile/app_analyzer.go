/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: app_analyzer.go
Description: AppAnalyzer extracts package name, launchable activity, version and
declared permissions from an APK with "aapt dump badging".
*/

package mobile

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"
)

// AppAnalyzer reads APK metadata with aapt.
type AppAnalyzer struct {
	aapt    string
	runner  Runner
	timeout time.Duration
}

// NewAppAnalyzer creates an analyzer. An empty aapt path means "aapt" on PATH.
func NewAppAnalyzer(aapt string, runner Runner) *AppAnalyzer {
	if aapt == "" {
		aapt = "aapt"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &AppAnalyzer{aapt: aapt, runner: runner, timeout: defaultTimeout}
}

// Analyze runs aapt against the APK.
func (a *AppAnalyzer) Analyze(ctx context.Context, apkPath string) (*App, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	out, err := a.runner.Run(runCtx, a.aapt, "dump", "badging", apkPath)
	if err != nil {
		return nil, fmt.Errorf("aapt failed: %w", err)
	}
	app := ParseBadging(string(out))
	if app.Package == "" {
		return nil, fmt.Errorf("no package line in aapt output for %s", apkPath)
	}
	app.Path = apkPath
	return app, nil
}

// ParseBadging parses aapt badging output.
func ParseBadging(output string) *App {
	app := &App{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "package: "):
			app.Package = attr(line, "name")
			app.Version = attr(line, "versionName")
		case strings.HasPrefix(line, "uses-permission: "):
			perm := attr(line, "name")
			if perm == "" {
				perm = strings.Trim(strings.TrimPrefix(line, "uses-permission: "), "'\"")
			}
			app.Permissions = append(app.Permissions, perm)
		case strings.HasPrefix(line, "launchable-activity: "):
			if app.Activity == "" {
				app.Activity = attr(line, "name")
			}
		case strings.HasPrefix(line, "application-label:"):
			app.Label = strings.Trim(strings.TrimPrefix(line, "application-label:"), "'\"")
		}
	}
	return app
}

// attr extracts key='value' from an aapt line.
func attr(line, key string) string {
	for _, f := range strings.Fields(line) {
		if strings.HasPrefix(f, key+"=") {
			return strings.Trim(f[len(key)+1:], "'\"")
		}
	}
	return ""
}

// OwnPermissions returns permissions declared under the app's own package namespace.
func (a *App) OwnPermissions() []string {
	var out []string
	for _, p := range a.Permissions {
		if a.Package != "" && strings.Contains(p, a.Package) {
			out = append(out, p)
		}
	}
	return out
}
