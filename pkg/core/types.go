/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: types.go
Description: Core types for the differential executor. Defines the run configuration with
its validation, the campaign statistics and the per-run summary written at the end of
every run.
*/

package core

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/analysis"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/policy"
)

// Configuration errors. They are the only errors that stop the executor before a run.
var (
	ErrNoInstallPath = errors.New("no install path configured")
	ErrNoDevices     = errors.New("at least one base and one guest device are required")
)

// Execution modes.
const (
	ModeSerial   = "serial"   // every guest runs the same strategy
	ModeParallel = "parallel" // guest i runs strategies[i-1]
)

// BaseStrategy names the base device's output directory.
const BaseStrategy = "base"

// Config contains every parameter of a fuzzing campaign.
type Config struct {
	// Devices
	Devices  []string `json:"devices"` // serials; the first one is the base device
	ADBPath  string   `json:"adb_path"`
	AAPTPath string   `json:"aapt_path"`

	// App under test
	APKPath  string `json:"apk"`
	Package  string `json:"package"`
	Activity string `json:"activity"`
	LoginApp bool   `json:"login_app"`

	// Strategies
	Strategies   []string `json:"strategies"`
	Mode         string   `json:"mode"`
	Language     string   `json:"language"`
	ProfilesPath string   `json:"profiles"`

	// Campaign size
	EventNum           int `json:"event_num"`
	TestcaseCount      int `json:"testcase_count"`
	StartTestcaseCount int `json:"start_testcase_count"`

	// Event selection
	Seed               int64                `json:"seed"`
	Probabilities      policy.Probabilities `json:"probabilities"`
	SettingDenominator int                  `json:"setting_denominator"`
	SettingsReplay     []string             `json:"settings_replay"`

	// Timing
	RestInterval  time.Duration `json:"rest_interval"`
	DriverTimeout time.Duration `json:"driver_timeout"`
	LoadingWait   time.Duration `json:"loading_wait"`
	StartDelay    time.Duration `json:"start_delay"`

	// Output
	OutputDir    string `json:"output_dir"`
	DismissRules string `json:"dismiss_rules"`
	FindingsDB   string `json:"findings_db"`
}

// Validate checks the configuration. Errors wrap ErrNoInstallPath or ErrNoDevices where
// they apply.
func (c *Config) Validate() error {
	if c.APKPath == "" {
		return ErrNoInstallPath
	}
	if len(c.Devices) < 2 {
		return fmt.Errorf("%w: got %d", ErrNoDevices, len(c.Devices))
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d == "" || seen[d] {
			return fmt.Errorf("%w: empty or duplicate serial %q", ErrNoDevices, d)
		}
		seen[d] = true
	}
	switch c.Mode {
	case ModeSerial:
		if len(c.Strategies) != 1 {
			return fmt.Errorf("serial mode needs exactly one strategy, got %d", len(c.Strategies))
		}
	case ModeParallel:
		if len(c.Strategies) < len(c.Devices)-1 {
			return fmt.Errorf("parallel mode needs %d strategies, got %d", len(c.Devices)-1, len(c.Strategies))
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.EventNum <= 0 {
		return fmt.Errorf("event_num must be positive")
	}
	if c.TestcaseCount <= c.StartTestcaseCount || c.StartTestcaseCount < 0 {
		return fmt.Errorf("testcase_count must exceed start_testcase_count")
	}
	if c.SettingDenominator < 0 {
		return fmt.Errorf("setting_denominator must not be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if c.Probabilities != nil {
		if err := c.Probabilities.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StrategyFor returns the strategy of a guest role.
func (c *Config) StrategyFor(role interfaces.Role) string {
	if role.IsBase() {
		return BaseStrategy
	}
	if c.Mode == ModeParallel {
		return c.Strategies[int(role)-1]
	}
	return c.Strategies[0]
}

// DirNames returns the output directory name of every role. Guests sharing a strategy
// get a device suffix so that their files never collide.
func (c *Config) DirNames() []string {
	counts := make(map[string]int)
	for role := 1; role < len(c.Devices); role++ {
		counts[c.StrategyFor(interfaces.Role(role))]++
	}
	names := make([]string, len(c.Devices))
	names[0] = BaseStrategy
	for role := 1; role < len(c.Devices); role++ {
		name := c.StrategyFor(interfaces.Role(role))
		if counts[name] > 1 {
			name += "_" + interfaces.Role(role).String()
		}
		names[role] = name
	}
	return names
}

// Stats tracks campaign statistics. Counters are updated atomically.
type Stats struct {
	Runs           int64     `json:"runs"`
	AbandonedRuns  int64     `json:"abandoned_runs"`
	Ticks          int64     `json:"ticks"`
	SkippedTicks   int64     `json:"skipped_ticks"`
	Errors         int64     `json:"errors"`
	Wrongs         int64     `json:"wrongs"`
	DeviceFailures int64     `json:"device_failures"`
	Restarts       int64     `json:"restarts"`
	Crashes        int64     `json:"crashes"`
	StartTime      time.Time `json:"start_time"`
}

func (s *Stats) add(field *int64) { atomic.AddInt64(field, 1) }

// Snapshot returns a consistent copy.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Runs:           atomic.LoadInt64(&s.Runs),
		AbandonedRuns:  atomic.LoadInt64(&s.AbandonedRuns),
		Ticks:          atomic.LoadInt64(&s.Ticks),
		SkippedTicks:   atomic.LoadInt64(&s.SkippedTicks),
		Errors:         atomic.LoadInt64(&s.Errors),
		Wrongs:         atomic.LoadInt64(&s.Wrongs),
		DeviceFailures: atomic.LoadInt64(&s.DeviceFailures),
		Restarts:       atomic.LoadInt64(&s.Restarts),
		Crashes:        atomic.LoadInt64(&s.Crashes),
		StartTime:      s.StartTime,
	}
}

// GuestSummary holds one guest's counts for a run.
type GuestSummary struct {
	Role     interfaces.Role `json:"role"`
	Serial   string          `json:"serial"`
	Strategy string          `json:"strategy"`
	Errors   int             `json:"errors"`
	Wrongs   int             `json:"wrongs"`
	Failures int             `json:"failures"`
}

// RunSummary is written as summary.json at the end of each run.
type RunSummary struct {
	RunID     string                `json:"run_id"`
	RunCount  int                   `json:"run_count"`
	Strategy  string                `json:"strategy"`
	Events    int                   `json:"events"`
	Restarts  int                   `json:"restarts"`
	Guests    []GuestSummary        `json:"guests"`
	Failed    []string              `json:"failed_devices"`
	Crashes   []analysis.CrashGroup `json:"crashes"`
	Abandoned string                `json:"abandoned,omitempty"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
}
