/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: verify.go
Description: Offline replayability check for Akaylee Droid. Looks up the target of every
recorded event in the screen captured before it and reports the events that could not
be replayed.
*/

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/kleascm/akaylee-droid/pkg/analysis"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunVerify checks one recorded run directory
func RunVerify(cmd *cobra.Command, args []string) error {
	logger, err := prepare()
	if err != nil {
		return err
	}
	defer logger.Close()

	runDir := viper.GetString("verify.run_dir")
	if runDir == "" {
		return fmt.Errorf("--run-dir is required")
	}
	report := viper.GetString("verify.report")
	if report == "" {
		report = filepath.Join(runDir, "reproducibility.json")
	}

	harness := analysis.NewReproducibilityHarness(logger.GetLogger())
	result, err := harness.AnalyzeRun(runDir)
	if err != nil {
		return err
	}
	if err := harness.SaveReport(result, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	fmt.Printf("Run directory: %s\n", result.RunDir)
	fmt.Printf("Events: %d, checked: %d\n", result.Events, result.Checked)
	fmt.Printf("Found by bounds: %d, by structure: %d, missing: %d\n", result.ByBounds, result.ByStructure, len(result.Missing))
	fmt.Printf("Replay rate: %.1f%%\n", result.ReplayRate()*100)
	for _, m := range result.Missing {
		fmt.Printf("  %.1f %s: %s\n", m.Seq, m.Action, m.Reason)
	}
	fmt.Printf("Report: %s\n", report)
	return nil
}
