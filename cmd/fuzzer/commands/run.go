/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: run.go
Description: Run command for Akaylee Droid. Connects the configured devices, wires the
logging and findings-store reporters into the executor and runs the campaign until it
completes or is interrupted.
*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kleascm/akaylee-droid/pkg/core"
	"github.com/kleascm/akaylee-droid/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RunCampaign runs a differential fuzzing campaign
func RunCampaign(cmd *cobra.Command, args []string) error {
	logger, err := prepare()
	if err != nil {
		return err
	}
	defer logger.Close()

	cfg, err := BuildConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor, err := newExecutor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer executor.Close()

	executor.AddReporter(core.NewLoggerReporter(logger))
	if cfg.FindingsDB != "" {
		findings, err := store.Open(ctx, cfg.FindingsDB)
		if err != nil {
			return fmt.Errorf("failed to open findings database: %w", err)
		}
		defer findings.Close()
		executor.AddReporter(core.NewStoreReporter(findings, logger.GetLogger()))
	}

	err = executor.Run(ctx)
	stats := executor.GetStats()
	logger.GetLogger().WithFields(logrus.Fields{
		"runs":            stats.Runs,
		"abandoned_runs":  stats.AbandonedRuns,
		"ticks":           stats.Ticks,
		"skipped_ticks":   stats.SkippedTicks,
		"errors":          stats.Errors,
		"wrongs":          stats.Wrongs,
		"device_failures": stats.DeviceFailures,
		"restarts":        stats.Restarts,
		"crashes":         stats.Crashes,
	}).Info("Campaign finished")

	if errors.Is(err, context.Canceled) {
		logger.GetLogger().Warn("Campaign interrupted")
		return nil
	}
	return err
}
