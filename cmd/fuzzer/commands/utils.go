/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the Akaylee Droid commands. Provides configuration
loading, logging setup and the device and executor construction used by the run, replay
and check commands.
*/

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/core"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/logging"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/kleascm/akaylee-droid/pkg/policy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from files and environment
func LoadConfig() error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.SetEnvPrefix("AKAYLEE")
	viper.AutomaticEnv()

	return nil
}

// SetupLogging builds the campaign logger from the log_* keys
func SetupLogging() (*logging.Logger, error) {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.LogLevel(viper.GetString("log_level")),
		Format:    logging.LogFormat(viper.GetString("log_format")),
		OutputDir: viper.GetString("log_dir"),
		MaxFiles:  viper.GetInt("log_max_files"),
		Timestamp: true,
		Colors:    viper.GetString("log_format") == string(logging.LogFormatCustom),
	}, nil)
}

// prepare runs LoadConfig and SetupLogging
func prepare() (*logging.Logger, error) {
	if err := LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := SetupLogging()
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return logger, nil
}

// BuildConfig reads a campaign configuration from viper.
func BuildConfig() (*core.Config, error) {
	probs, err := probabilities()
	if err != nil {
		return nil, err
	}
	seed := viper.GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &core.Config{
		Devices:            viper.GetStringSlice("devices"),
		ADBPath:            viper.GetString("adb_path"),
		AAPTPath:           viper.GetString("aapt_path"),
		APKPath:            viper.GetString("apk"),
		Package:            viper.GetString("package"),
		Activity:           viper.GetString("activity"),
		LoginApp:           viper.GetBool("login_app"),
		Strategies:         viper.GetStringSlice("strategies"),
		Mode:               viper.GetString("mode"),
		Language:           viper.GetString("language"),
		ProfilesPath:       viper.GetString("profiles"),
		EventNum:           viper.GetInt("event_num"),
		TestcaseCount:      viper.GetInt("testcase_count"),
		StartTestcaseCount: viper.GetInt("start_testcase_count"),
		Seed:               seed,
		Probabilities:      probs,
		SettingDenominator: viper.GetInt("setting_denominator"),
		SettingsReplay:     viper.GetStringSlice("settings_replay"),
		RestInterval:       viper.GetDuration("rest_interval"),
		DriverTimeout:      viper.GetDuration("driver_timeout"),
		LoadingWait:        viper.GetDuration("loading_wait"),
		StartDelay:         viper.GetDuration("start_delay"),
		OutputDir:          viper.GetString("output_dir"),
		DismissRules:       viper.GetString("dismiss_rules"),
		FindingsDB:         viper.GetString("findings_db"),
	}, nil
}

// probabilities reads the probabilities.* table. An absent table keeps the policy
// defaults.
func probabilities() (policy.Probabilities, error) {
	raw := viper.GetStringMap("probabilities")
	if len(raw) == 0 {
		return nil, nil
	}
	probs := make(policy.Probabilities, len(raw))
	for kind := range raw {
		probs[interfaces.ActionKind(kind)] = viper.GetFloat64("probabilities." + kind)
	}
	if err := probs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid probabilities: %w", err)
	}
	return probs, nil
}

// newDrivers creates one adb driver per configured serial, base first
func newDrivers(cfg *core.Config, logger *logrus.Logger) []*mobile.ADBDriver {
	drivers := make([]*mobile.ADBDriver, len(cfg.Devices))
	for i, serial := range cfg.Devices {
		drivers[i] = mobile.NewADBDriver(mobile.ADBConfig{
			Serial:  serial,
			ADBPath: cfg.ADBPath,
			Timeout: cfg.DriverTimeout,
		}, logger)
	}
	return drivers
}

// resolveApp reads package and activity from the APK unless both are configured
func resolveApp(ctx context.Context, cfg *core.Config) (*mobile.App, error) {
	if cfg.Package != "" && cfg.Activity != "" {
		return &mobile.App{Path: cfg.APKPath, Package: cfg.Package, Activity: cfg.Activity}, nil
	}
	app, err := mobile.NewAppAnalyzer(cfg.AAPTPath, nil).Analyze(ctx, cfg.APKPath)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", cfg.APKPath, err)
	}
	if cfg.Package != "" {
		app.Package = cfg.Package
	}
	if cfg.Activity != "" {
		app.Activity = cfg.Activity
	}
	return app, nil
}

// newExecutor connects every device and builds the executor
func newExecutor(ctx context.Context, cfg *core.Config, logger *logging.Logger) (*core.Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	app, err := resolveApp(ctx, cfg)
	if err != nil {
		return nil, err
	}

	adb := newDrivers(cfg, logger.GetLogger())
	drivers := make([]mobile.Driver, len(adb))
	for i, d := range adb {
		if err := d.Connect(ctx); err != nil {
			return nil, err
		}
		drivers[i] = d
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"package":  app.Package,
		"activity": app.Activity,
		"devices":  len(drivers),
	}).Info("Devices connected")

	return core.NewExecutor(cfg, app, drivers, logger.GetLogger())
}
