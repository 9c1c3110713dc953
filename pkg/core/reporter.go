/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Reporter interface and implementations for campaign events. The executor
notifies every registered reporter synchronously, so reporters must be quick. Includes a
logging reporter and one that persists runs and findings in the findings store.
*/

package core

import (
	"context"

	"github.com/kleascm/akaylee-droid/pkg/analysis"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/logging"
	"github.com/kleascm/akaylee-droid/pkg/store"
	"github.com/sirupsen/logrus"
)

// TickReport describes one finished tick.
type TickReport struct {
	RunCount int
	Seq      float64
	Event    *interfaces.Event
	Origin   string
	Outcomes map[interfaces.Role]interfaces.ActionOutcome
}

// Reporter receives campaign events.
type Reporter interface {
	// OnRunStarted is called once a run's devices are ready; it may return a run ID.
	OnRunStarted(ctx context.Context, runCount int, strategy string) string
	// OnTick is called after every dispatched tick.
	OnTick(ctx context.Context, tick *TickReport)
	// OnFinding is called for every recorded divergence.
	OnFinding(ctx context.Context, runID string, f *analysis.Finding)
	// OnDeviceFailed is called when a guest drops out of a run.
	OnDeviceFailed(ctx context.Context, role interfaces.Role, serial string, outcome interfaces.ActionOutcome)
	// OnRunFinished is called with the run's summary.
	OnRunFinished(ctx context.Context, summary *RunSummary)
}

// LoggerReporter logs campaign events.
type LoggerReporter struct {
	logger *logging.Logger
}

// NewLoggerReporter creates a new LoggerReporter.
func NewLoggerReporter(logger *logging.Logger) *LoggerReporter {
	return &LoggerReporter{logger: logger}
}

func (r *LoggerReporter) OnRunStarted(ctx context.Context, runCount int, strategy string) string {
	r.logger.GetLogger().WithFields(logrus.Fields{"run": runCount, "strategy": strategy}).Info("Run started")
	return ""
}

func (r *LoggerReporter) OnTick(ctx context.Context, tick *TickReport) {
	failed := 0
	for _, o := range tick.Outcomes {
		if !o.OK() {
			failed++
		}
	}
	r.logger.LogTick(tick.RunCount, tick.Seq, string(tick.Event.Action), tick.Origin, len(tick.Outcomes), failed)
}

func (r *LoggerReporter) OnFinding(ctx context.Context, runID string, f *analysis.Finding) {
	r.logger.LogFinding(string(f.Severity), f.Strategy, f.Seq, int(f.Role), f.Serial, f.Number)
}

func (r *LoggerReporter) OnDeviceFailed(ctx context.Context, role interfaces.Role, serial string, outcome interfaces.ActionOutcome) {
	r.logger.LogDeviceFailure(int(role), serial, outcome.Status.String(), outcome.Err)
}

func (r *LoggerReporter) OnRunFinished(ctx context.Context, summary *RunSummary) {
	errs, wrongs := 0, 0
	for _, g := range summary.Guests {
		errs += g.Errors
		wrongs += g.Wrongs
	}
	r.logger.LogRunSummary(summary.RunCount, summary.Strategy, summary.Events, errs, wrongs, summary.Duration)
}

// StoreReporter persists runs and findings.
type StoreReporter struct {
	store  *store.FindingStore
	logger *logrus.Logger
}

// NewStoreReporter creates a StoreReporter.
func NewStoreReporter(s *store.FindingStore, logger *logrus.Logger) *StoreReporter {
	return &StoreReporter{store: s, logger: logger}
}

func (r *StoreReporter) OnRunStarted(ctx context.Context, runCount int, strategy string) string {
	id, err := r.store.BeginRun(ctx, strategy, runCount)
	if err != nil {
		r.logger.Warnf("Failed to record run start: %v", err)
		return ""
	}
	return id
}

func (r *StoreReporter) OnTick(ctx context.Context, tick *TickReport) {}

func (r *StoreReporter) OnFinding(ctx context.Context, runID string, f *analysis.Finding) {
	if runID == "" {
		return
	}
	if err := r.store.RecordFinding(ctx, runID, f); err != nil {
		r.logger.Warnf("Failed to record finding: %v", err)
	}
}

func (r *StoreReporter) OnDeviceFailed(ctx context.Context, role interfaces.Role, serial string, outcome interfaces.ActionOutcome) {
}

func (r *StoreReporter) OnRunFinished(ctx context.Context, summary *RunSummary) {
	if summary.RunID == "" {
		return
	}
	totals := store.RunTotals{Events: summary.Events}
	for _, g := range summary.Guests {
		totals.Errors += g.Errors
		totals.Wrongs += g.Wrongs
	}
	if summary.Abandoned != "" {
		totals.Status = store.RunAbandoned
	}
	if err := r.store.FinishRun(ctx, summary.RunID, totals); err != nil {
		r.logger.Warnf("Failed to record run finish: %v", err)
	}
}
