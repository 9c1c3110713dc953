/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Main command-line interface for Akaylee Droid. Wires the differential run,
replay, offline verification, self-check and findings commands to a shared viper
configuration with file, flag and AKAYLEE_ environment sources.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/akaylee-droid/cmd/fuzzer/commands"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "akaylee-droid",
		Short: "Akaylee Droid - differential UI fuzzer for Android apps",
		Long: `Akaylee Droid drives one base device and several guest devices through the same
sequence of UI events. Guests run with different system settings; any guest whose screen
diverges from the base device's is recorded as a finding.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()

	// Configuration and logging
	flags.String("config", "", "Configuration file path (YAML)")
	flags.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flags.String("log-format", "custom", "Log format (text, json, custom)")
	flags.String("log-dir", "./logs", "Log output directory (empty for console only)")
	flags.Int("log-max-files", 10, "Maximum number of log files to keep")

	// Devices and app
	flags.StringSlice("devices", []string{}, "Device serials; the first one is the base device")
	flags.String("adb-path", "adb", "Path to the adb binary")
	flags.String("aapt-path", "aapt", "Path to the aapt binary")
	flags.String("apk", "", "APK to install on every device (required)")
	flags.String("package", "", "App package (read from the APK when empty)")
	flags.String("activity", "", "Launch activity (read from the APK when empty)")
	flags.Bool("login-app", false, "Only force-stop the app on clear, keeping its login")

	// Strategies
	flags.StringSlice("strategies", []string{}, "Guest strategies")
	flags.String("mode", "serial", "Strategy mode (serial, parallel)")
	flags.String("language", "", "Locale applied by the language strategy")
	flags.String("profiles", "", "YAML file overriding the built-in strategy profiles")

	// Campaign
	flags.Int("event-num", 100, "Events per run")
	flags.Int("testcase-count", 1, "Last run number")
	flags.Int("start-testcase-count", 0, "Runs before this number are skipped")
	flags.Int64("seed", 0, "Policy and injector seed (0 picks one from the clock)")
	flags.Int("setting-denominator", 0, "Inject a settings toggle with probability 1/N per tick (0 disables)")
	flags.StringSlice("settings-replay", []string{}, "Recorded settings logs to replay")

	// Timing
	flags.Duration("rest-interval", 500*time.Millisecond, "Minimum pause between actions on one device")
	flags.Duration("driver-timeout", 30*time.Second, "Timeout of a single adb call")
	flags.Duration("loading-wait", 2*time.Second, "Wait applied when a loading spinner is on screen")
	flags.Duration("start-delay", time.Second, "Pause between app start polls")

	// Output
	flags.String("output", "./output", "Output directory")
	flags.String("dismiss-rules", "", "YAML welcome-screen dismiss rules (built-in rules when empty)")
	flags.String("findings-db", "", "SQLite findings database (disabled when empty)")

	for key, flag := range map[string]string{
		"config":               "config",
		"log_level":            "log-level",
		"log_format":           "log-format",
		"log_dir":              "log-dir",
		"log_max_files":        "log-max-files",
		"devices":              "devices",
		"adb_path":             "adb-path",
		"aapt_path":            "aapt-path",
		"apk":                  "apk",
		"package":              "package",
		"activity":             "activity",
		"login_app":            "login-app",
		"strategies":           "strategies",
		"mode":                 "mode",
		"language":             "language",
		"profiles":             "profiles",
		"event_num":            "event-num",
		"testcase_count":       "testcase-count",
		"start_testcase_count": "start-testcase-count",
		"seed":                 "seed",
		"setting_denominator":  "setting-denominator",
		"settings_replay":      "settings-replay",
		"rest_interval":        "rest-interval",
		"driver_timeout":       "driver-timeout",
		"loading_wait":         "loading-wait",
		"start_delay":          "start-delay",
		"output_dir":           "output",
		"dismiss_rules":        "dismiss-rules",
		"findings_db":          "findings-db",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a differential fuzzing campaign",
		Long: `Install the app on every device, apply each guest's strategy and dispatch the same
events to all devices. Divergent screens are written to the guest's error and wrong logs.`,
		RunE: commands.RunCampaign,
	}

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the recorded bug windows of one strategy",
		Long: `Re-dispatch every window in a strategy's error_realtime.txt to the base device and
that strategy's guest. Windows that still diverge are appended to error_replay.txt.`,
		RunE: commands.RunReplay,
	}
	replayCmd.Flags().String("strategy", "", "Strategy directory name to replay, e.g. wifi or wifi_device2 (required)")
	viper.BindPFlag("replay.strategy", replayCmd.Flags().Lookup("strategy"))

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check offline that a recorded run can be replayed",
		Long: `Locate the target of every recorded event in the hierarchy captured one tick earlier
and report the events whose widget cannot be found.`,
		RunE: commands.RunVerify,
	}
	verifyCmd.Flags().String("run-dir", "", "Run directory holding read_trace.txt and screen captures (required)")
	verifyCmd.Flags().String("report", "", "Report path (defaults to <run-dir>/reproducibility.json)")
	viper.BindPFlag("verify.run_dir", verifyCmd.Flags().Lookup("run-dir"))
	viper.BindPFlag("verify.report", verifyCmd.Flags().Lookup("report"))

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate devices, paths and rule files before a campaign",
		RunE:  commands.PerformSelfCheck,
	}

	findingsCmd := &cobra.Command{
		Use:   "findings",
		Short: "List runs and findings from the findings database",
		RunE:  commands.ListFindings,
	}
	findingsCmd.Flags().String("strategy", "", "Only findings of this strategy")
	findingsCmd.Flags().String("severity", "", "Only findings of this severity (error, wrong)")
	findingsCmd.Flags().String("run", "", "Only findings of this run id")
	findingsCmd.Flags().Int("limit", 50, "Maximum rows per table")
	findingsCmd.Flags().Bool("json", false, "Print JSON instead of a table")
	viper.BindPFlag("findings.strategy", findingsCmd.Flags().Lookup("strategy"))
	viper.BindPFlag("findings.severity", findingsCmd.Flags().Lookup("severity"))
	viper.BindPFlag("findings.run", findingsCmd.Flags().Lookup("run"))
	viper.BindPFlag("findings.limit", findingsCmd.Flags().Lookup("limit"))
	viper.BindPFlag("findings.json", findingsCmd.Flags().Lookup("json"))

	rootCmd.AddCommand(runCmd, replayCmd, verifyCmd, checkCmd, findingsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
