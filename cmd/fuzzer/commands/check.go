/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: check.go
Description: Self-check command for Akaylee Droid. Validates the configuration, tool
binaries, device reachability, output directory and rule files before a campaign.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kleascm/akaylee-droid/pkg/core"
	"github.com/kleascm/akaylee-droid/pkg/injector"
	"github.com/kleascm/akaylee-droid/pkg/logging"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// PerformSelfCheck performs system validation
func PerformSelfCheck(cmd *cobra.Command, args []string) error {
	fmt.Println("🔍 Akaylee Droid - System Self-Check")
	fmt.Println("====================================")
	fmt.Println()

	logger, err := prepare()
	if err != nil {
		return err
	}
	defer logger.Close()

	cfg, err := BuildConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []struct {
		name     string
		function func() error
	}{
		{"Configuration Validation", cfg.Validate},
		{"Binary Dependencies", func() error { return checkBinaries(cfg) }},
		{"APK", func() error { return checkAPK(cfg) }},
		{"Output Directory", func() error { return checkOutputDir(cfg.OutputDir) }},
		{"Dismiss Rules", func() error { _, err := mobile.LoadDismissRules(cfg.DismissRules); return err }},
		{"Strategy Profiles", func() error { return checkProfiles(cfg, logger.GetLogger()) }},
		{"Log Directory", checkLogDir},
	}
	for _, d := range newDrivers(cfg, logger.GetLogger()) {
		checks = append(checks, struct {
			name     string
			function func() error
		}{"Device " + d.Serial(), func() error { return d.Connect(ctx) }})
	}

	passed := 0
	total := len(checks)

	for _, check := range checks {
		fmt.Printf("🔍 %s... ", check.name)
		if err := check.function(); err != nil {
			fmt.Printf("❌ FAILED: %v\n", err)
		} else {
			fmt.Println("✅ PASSED")
			passed++
		}
	}

	fmt.Println()
	fmt.Printf("📊 Results: %d/%d checks passed\n", passed, total)

	if passed == total {
		fmt.Println("✨ All checks passed! Devices are ready for fuzzing.")
		return nil
	}
	fmt.Println("⚠️  Some checks failed. Please address the issues before fuzzing.")
	return fmt.Errorf("%d/%d checks failed", total-passed, total)
}

// checkBinaries verifies adb, and aapt when the app must be analyzed
func checkBinaries(cfg *core.Config) error {
	if _, err := exec.LookPath(cfg.ADBPath); err != nil {
		return fmt.Errorf("adb not found: %w", err)
	}
	if cfg.Package == "" || cfg.Activity == "" {
		if _, err := exec.LookPath(cfg.AAPTPath); err != nil {
			return fmt.Errorf("aapt not found and package/activity not configured: %w", err)
		}
	}
	return nil
}

func checkAPK(cfg *core.Config) error {
	if cfg.APKPath == "" {
		return core.ErrNoInstallPath
	}
	info, err := os.Stat(cfg.APKPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", cfg.APKPath)
	}
	return nil
}

// checkOutputDir verifies the output directory is writable
func checkOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create output directory: %w", err)
	}
	marker := filepath.Join(dir, ".akaylee_write_test")
	if err := os.WriteFile(marker, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("output directory not writable: %w", err)
	}
	return os.Remove(marker)
}

// checkProfiles verifies every configured strategy has a profile
func checkProfiles(cfg *core.Config, logger *logrus.Logger) error {
	var profiles injector.Profiles
	if cfg.ProfilesPath != "" {
		p, err := injector.LoadProfiles(cfg.ProfilesPath, cfg.Language)
		if err != nil {
			return err
		}
		profiles = p
	}
	inj := injector.New(injector.Config{Language: cfg.Language, Profiles: profiles}, logger)
	for _, name := range cfg.Strategies {
		if !inj.HasStrategy(name) {
			return fmt.Errorf("unknown strategy %q", name)
		}
	}
	return nil
}

// checkLogDir reports the log directory usage
func checkLogDir() error {
	dir := viper.GetString("log_dir")
	if dir == "" {
		return nil
	}
	stats, err := logging.NewLogManager(dir, viper.GetInt("log_max_files")).GetLogStats()
	if err != nil {
		return err
	}
	fmt.Printf("(%d files, %d bytes) ", stats.TotalFiles, stats.TotalSize)
	return nil
}
