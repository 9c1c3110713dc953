/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger_test.go
Description: Tests for the logger, its formatters and log retention.
*/

package logging_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain(dir string) *logging.LoggerConfig {
	return &logging.LoggerConfig{
		Level:     logging.LogLevelInfo,
		Format:    logging.LogFormatCustom,
		OutputDir: dir,
		MaxFiles:  2,
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, logging.DefaultConfig().Validate())

	cfg := plain("")
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = plain("")
	cfg.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = plain("logs")
	cfg.MaxFiles = 0
	assert.Error(t, cfg.Validate())
}

func TestHelpersWriteConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l, err := logging.NewLogger(plain(dir), &console)
	require.NoError(t, err)

	l.LogTick(1, 2, "click", "policy", 3, 0)
	l.LogFinding("error", "language", 4, 1, "emulator-5556", 1)
	l.LogDeviceFailure(2, "emulator-5558", "driver-error", errors.New("adb gone"))
	l.LogRunSummary(1, "language", 10, 1, 0, 3*time.Second)
	require.NoError(t, l.Close())

	out := console.String()
	assert.Contains(t, out, "INFO [TICK] Tick executed action=click devices=3 failed=0 origin=policy run=1 seq=2.0")
	assert.Contains(t, out, "ERROR [FINDING] Divergence recorded")
	assert.Contains(t, out, "WARNING [DEVICE] Device failed")
	assert.Contains(t, out, "error=adb gone")
	assert.Contains(t, out, "INFO [RUN] Run finished")

	data, err := os.ReadFile(l.FilePath())
	require.NoError(t, err)
	assert.Equal(t, out, string(data))
	assert.True(t, strings.HasPrefix(filepath.Base(l.FilePath()), "akaylee-droid_"))
}

func TestJSONFormat(t *testing.T) {
	var console bytes.Buffer
	cfg := plain("")
	cfg.Format = logging.LogFormatJSON
	l, err := logging.NewLogger(cfg, &console)
	require.NoError(t, err)

	l.LogTick(1, 2, "back", "injector", 2, 1)
	assert.Contains(t, console.String(), `"level":"warning"`)
	assert.Contains(t, console.String(), `"origin":"injector"`)
	assert.Empty(t, l.FilePath())
	assert.NoError(t, l.Close())
}

func TestCustomFormatterColors(t *testing.T) {
	f := &logging.CustomFormatter{Colors: true}
	out, err := f.Format(&logrus.Entry{Level: logrus.ErrorLevel, Message: "boom", Data: logrus.Fields{}})
	require.NoError(t, err)
	assert.Equal(t, "\033[31mERROR\033[0m boom\n", string(out))
}

func TestCleanupKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("akaylee-droid_2025-01-0%d_10-00-00.log", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	lm := logging.NewLogManager(dir, 2)
	require.NoError(t, lm.CleanupOldLogs())

	left, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Contains(t, left[0], "2025-01-03")
	assert.Contains(t, left[1], "2025-01-04")

	stats, err := lm.GetLogStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.EqualValues(t, 2, stats.TotalSize)
}
