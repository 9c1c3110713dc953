/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: replay.go
Description: Replay command for Akaylee Droid. Re-dispatches the recorded bug windows of
one strategy to the base device and that strategy's guest.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunReplay replays error_realtime.txt windows of one strategy
func RunReplay(cmd *cobra.Command, args []string) error {
	logger, err := prepare()
	if err != nil {
		return err
	}
	defer logger.Close()

	strategy := viper.GetString("replay.strategy")
	if strategy == "" {
		return fmt.Errorf("--strategy is required")
	}

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

	result, err := executor.Replay(ctx, strategy)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"strategy":   result.Strategy,
		"windows":    result.Windows,
		"reproduced": len(result.Reproduced),
		"output":     result.Path,
	}).Info("Replay finished")

	fmt.Printf("Replayed %d windows of %s, %d reproduced\n", result.Windows, result.Strategy, len(result.Reproduced))
	for _, n := range result.Reproduced {
		fmt.Printf("  window %d\n", n)
	}
	return nil
}
