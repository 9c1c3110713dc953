/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: executor.go
Description: Differential executor. Owns one base and several guest device sessions and
drives them through testcase runs: install and launch, onboarding dismissal, then a tick
loop that captures every live device, compares guests against the base, dispatches one
event to all of them through the worker pool and records the outcome. Divergences are
deduplicated by the oracle; novel ones force a clear-and-restart of the app.
*/

package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kleascm/akaylee-droid/pkg/analysis"
	"github.com/kleascm/akaylee-droid/pkg/checker"
	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/injector"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/kleascm/akaylee-droid/pkg/policy"
	"github.com/kleascm/akaylee-droid/pkg/trace"
	"github.com/kleascm/akaylee-droid/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Executor runs a differential fuzzing campaign.
type Executor struct {
	config   *Config
	app      *mobile.App
	sessions []*mobile.Session // sessions[0] is the base device
	dirNames []string
	layout   trace.Layout

	pool      *Pool
	oracle    *analysis.Oracle
	checker   *checker.Checker
	injector  *injector.Injector
	scheduler *Scheduler
	dismiss   *mobile.DismissRules
	triage    *analysis.CrashTriageEngine
	reporters []Reporter

	logger *logrus.Logger
	stats  Stats
}

// run holds the state of one testcase run.
type run struct {
	count    int
	id       string
	seq      float64
	events   int
	restarts int
	last     interfaces.ActionKind
	sessions []*mobile.Session
	failures map[interfaces.Role]int
	errors   map[interfaces.Role]int // guest counters at run start
	wrongs   map[interfaces.Role]int
	started  time.Time
}

// NewExecutor validates the configuration and builds one session per driver. drivers
// must follow cfg.Devices order. A nil app is derived from the configuration.
func NewExecutor(cfg *Config, app *mobile.App, drivers []mobile.Driver, logger *logrus.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(drivers) != len(cfg.Devices) {
		return nil, fmt.Errorf("%w: %d drivers for %d devices", ErrNoDevices, len(drivers), len(cfg.Devices))
	}
	if app == nil {
		app = &mobile.App{Path: cfg.APKPath, Package: cfg.Package, Activity: cfg.Activity}
	}
	if app.Path == "" {
		app.Path = cfg.APKPath
	}

	var profiles injector.Profiles
	if cfg.ProfilesPath != "" {
		p, err := injector.LoadProfiles(cfg.ProfilesPath, cfg.Language)
		if err != nil {
			return nil, fmt.Errorf("failed to load strategy profiles: %w", err)
		}
		profiles = p
	}
	inj := injector.New(injector.Config{
		Language:    cfg.Language,
		Denominator: cfg.SettingDenominator,
		Seed:        cfg.Seed,
		Profiles:    profiles,
	}, logger)

	sessions := make([]*mobile.Session, len(drivers))
	for i, d := range drivers {
		role := interfaces.Role(i)
		strategy := cfg.StrategyFor(role)
		if !role.IsBase() && !inj.HasStrategy(strategy) {
			return nil, fmt.Errorf("unknown strategy %q for %s", strategy, role)
		}
		sessions[i] = mobile.NewSession(d, mobile.SessionConfig{
			Role:         role,
			Strategy:     strategy,
			App:          app,
			LoginApp:     cfg.LoginApp,
			RestInterval: cfg.RestInterval,
			StateOptions: hierarchy.DefaultStateOptions(),
		}, logger)
		sessions[i].SetSettingApplier(inj)
	}

	pol, err := policy.NewRandomPolicy(policy.Config{
		Seed:          cfg.Seed,
		Probabilities: cfg.Probabilities,
		Package:       app.Package,
	}, logger)
	if err != nil {
		return nil, err
	}
	scheduler := NewScheduler(pol)
	if cfg.SettingDenominator > 0 {
		scheduler.SetSettingSource(inj)
	}
	if len(cfg.SettingsReplay) > 0 {
		replay, err := injector.LoadReplay(cfg.SettingsReplay...)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings replay: %w", err)
		}
		scheduler.SetReplaySource(replay)
	}

	rules, err := mobile.LoadDismissRules(cfg.DismissRules)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		config:    cfg,
		app:       app,
		sessions:  sessions,
		dirNames:  cfg.DirNames(),
		layout:    trace.Layout{Root: cfg.OutputDir},
		pool:      NewPool(len(sessions), logger),
		oracle:    analysis.NewOracle(logger),
		injector:  inj,
		scheduler: scheduler,
		dismiss:   rules,
		triage:    analysis.NewCrashTriageEngine(),
		logger:    logger,
		checker: checker.New(checker.Config{
			Package:     app.Package,
			LoadingWait: cfg.LoadingWait,
			StartDelay:  cfg.StartDelay,
		}, logger),
	}
	return e, nil
}

// SetEventSource replaces the UI policy.
func (e *Executor) SetEventSource(src EventSource) { e.scheduler.SetEventSource(src) }

// AddReporter registers a reporter.
func (e *Executor) AddReporter(r Reporter) { e.reporters = append(e.reporters, r) }

// SetDismissRules replaces the welcome-screen rule table.
func (e *Executor) SetDismissRules(r *mobile.DismissRules) { e.dismiss = r }

// Sessions returns the device sessions, base first.
func (e *Executor) Sessions() []*mobile.Session { return e.sessions }

// Oracle exposes the divergence oracle.
func (e *Executor) Oracle() *analysis.Oracle { return e.oracle }

// GetStats returns a snapshot of the campaign statistics.
func (e *Executor) GetStats() Stats { return e.stats.Snapshot() }

// Run executes runs start_testcase_count+1 through testcase_count. It returns early only
// when ctx is cancelled, after the current tick finished.
func (e *Executor) Run(ctx context.Context) error {
	e.stats.StartTime = time.Now()
	e.logger.WithFields(logrus.Fields{
		"devices":    len(e.sessions),
		"strategies": e.strategyLabel(),
		"runs":       e.config.TestcaseCount - e.config.StartTestcaseCount,
		"event_num":  e.config.EventNum,
	}).Info("Starting campaign")

	for count := e.config.StartTestcaseCount + 1; count <= e.config.TestcaseCount; count++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.runOnce(ctx, count)
	}

	if _, err := utils.WriteCampaignStats(e.config.OutputDir, "campaign", e.GetStats()); err != nil {
		e.logger.Warnf("Failed to write campaign stats: %v", err)
	}
	return ctx.Err()
}

func (e *Executor) strategyLabel() string {
	if e.config.Mode == ModeParallel {
		return strings.Join(e.config.Strategies[:len(e.sessions)-1], ",")
	}
	return e.config.Strategies[0]
}

func (e *Executor) newRun(count int, sessions []*mobile.Session) *run {
	rn := &run{
		count:    count,
		seq:      1,
		sessions: sessions,
		failures: make(map[interfaces.Role]int),
		errors:   make(map[interfaces.Role]int),
		wrongs:   make(map[interfaces.Role]int),
		started:  time.Now(),
	}
	for _, s := range sessions {
		rn.errors[s.Role()] = s.ErrorCount()
		rn.wrongs[s.Role()] = s.WrongCount()
	}
	return rn
}

// runOnce executes one testcase run. Environment failures abandon it.
func (e *Executor) runOnce(ctx context.Context, count int) *RunSummary {
	rn := e.newRun(count, e.sessions)
	e.stats.add(&e.stats.Runs)
	e.triage.Reset()

	for _, r := range e.reporters {
		if id := r.OnRunStarted(ctx, count, e.strategyLabel()); id != "" && rn.id == "" {
			rn.id = id
		}
	}

	abandoned := ""
	if err := e.setup(ctx, rn); err != nil {
		abandoned = err.Error()
		e.stats.add(&e.stats.AbandonedRuns)
		e.logger.WithField("run", count).Errorf("Run abandoned: %v", err)
	} else {
		for rn.seq < float64(e.config.EventNum) {
			if ctx.Err() != nil {
				abandoned = "cancelled"
				break
			}
			e.tick(ctx, rn)
		}
	}
	return e.finishRun(ctx, rn, abandoned)
}

// setup prepares every device for a run.
func (e *Executor) setup(ctx context.Context, rn *run) error {
	for i, s := range rn.sessions {
		if err := s.OpenRun(e.layout, e.dirNames[i], rn.count); err != nil {
			return fmt.Errorf("failed to open run files: %w", err)
		}
	}

	if err := firstError(e.pool.Each(ctx, rn.sessions, func(ctx context.Context, s *mobile.Session) error {
		return s.Install(ctx)
	})); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}

	if err := firstError(e.pool.Each(ctx, rn.sessions, func(ctx context.Context, s *mobile.Session) error {
		if err := e.injector.ResetDefaults(ctx, s); err != nil {
			return err
		}
		if s.IsBase() {
			return nil
		}
		return e.injector.ApplyStrategy(ctx, s)
	})); err != nil {
		return fmt.Errorf("failed to apply strategies: %w", err)
	}

	if err := e.clearAndRestart(ctx, rn); err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}

	e.pool.Each(ctx, rn.sessions, func(ctx context.Context, s *mobile.Session) error {
		s.SkipWelcome(ctx, e.dismiss)
		s.DismissPermissions(ctx)
		return nil
	})

	for _, s := range rn.sessions[1:] {
		if s.Strategy() != mobile.StrategyLanguage || s.Recorder() == nil {
			continue
		}
		if _, err := e.checker.CheckLanguage(ctx, s, s.Recorder().RunDir()); err != nil {
			e.logger.WithField("device", s.Serial()).Warnf("Language audit failed: %v", err)
		}
	}
	e.checker.ResetCrashes(rn.sessions)
	return nil
}

// live returns the sessions not marked failed, base first.
func live(sessions []*mobile.Session) []*mobile.Session {
	out := make([]*mobile.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.Failed() {
			out = append(out, s)
		}
	}
	return out
}

// refresh captures every session in parallel. It reports whether the base State changed
// and returns the sessions whose capture succeeded, in session order.
func (e *Executor) refresh(ctx context.Context, sessions []*mobile.Session, seq float64) (bool, []*mobile.Session) {
	baseChanged := false
	errs := e.pool.Each(ctx, sessions, func(ctx context.Context, s *mobile.Session) error {
		changed, err := s.Refresh(ctx, seq)
		if s.IsBase() {
			baseChanged = changed
		}
		return err
	})
	fresh := make([]*mobile.Session, 0, len(sessions))
	for i, err := range errs {
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"device": sessions[i].Serial(),
				"seq":    seq,
			}).Warnf("Capture failed: %v", err)
			continue
		}
		fresh = append(fresh, sessions[i])
	}
	return baseChanged, fresh
}

// tick runs one iteration of the run loop.
func (e *Executor) tick(ctx context.Context, rn *run) {
	e.stats.add(&e.stats.Ticks)
	base := rn.sessions[0]
	sessions := live(rn.sessions)

	changed, fresh := e.refresh(ctx, sessions, rn.seq)
	if changed && base.PrevState() != nil {
		if again := e.checkScreen(ctx, rn, sessions); again != nil {
			fresh = again
		}
	}

	compared := make(map[interfaces.Role]statePair)
	if len(fresh) > 0 && fresh[0].IsBase() {
		for _, g := range fresh[1:] {
			compared[g.Role()] = statePair{base: base.State(), guest: g.State()}
		}
		if e.compare(ctx, rn, fresh[1:]) {
			e.saveAll(ctx, rn)
			e.restart(ctx, rn)
			return
		}
	} else {
		e.logger.WithFields(logrus.Fields{"device": base.Serial(), "seq": rn.seq}).Warn("No base capture, skipping comparison")
	}

	ev, origin := e.scheduler.Next(base, sessions[1:], rn.seq)
	outcomes := e.pool.Execute(ctx, sessions, func(ctx context.Context, s *mobile.Session) interfaces.ActionOutcome {
		return s.Execute(ctx, ev)
	})
	rn.events++
	rn.last = ev.Action

	report := &TickReport{
		RunCount: rn.count,
		Seq:      rn.seq,
		Event:    ev,
		Origin:   origin,
		Outcomes: make(map[interfaces.Role]interfaces.ActionOutcome, len(sessions)),
	}
	for i, s := range sessions {
		report.Outcomes[s.Role()] = outcomes[i]
	}

	if !outcomes[0].OK() {
		e.stats.add(&e.stats.SkippedTicks)
		e.logger.WithFields(logrus.Fields{
			"device": base.Serial(),
			"seq":    rn.seq,
			"action": ev.Action,
			"status": outcomes[0].Status,
		}).Warnf("Base action failed, skipping tick: %v", outcomes[0].Err)
		for i, s := range sessions[1:] {
			if outcomes[i+1].OK() && ev.Addressed(s.Role()) {
				s.Record(ev)
			}
		}
		e.endTick(ctx, rn, report)
		return
	}

	var dropped []*mobile.Session
	for i, s := range sessions {
		if i == 0 || outcomes[i].OK() {
			continue
		}
		if e.dropGuest(ctx, rn, s, ev, outcomes[i]) {
			dropped = append(dropped, s)
		}
	}
	novel := e.compareDropped(ctx, rn, dropped, compared)

	if e.allGuestsFailed(rn) {
		e.logger.WithFields(logrus.Fields{"run": rn.count, "seq": rn.seq}).Error("Every guest device failed, restarting")
		base.Record(ev)
		e.endTick(ctx, rn, report)
		e.saveAll(ctx, rn)
		e.restart(ctx, rn)
		return
	}

	for _, s := range sessions {
		if !s.Failed() && ev.Addressed(s.Role()) {
			s.Record(ev)
		}
	}
	e.endTick(ctx, rn, report)
	if novel {
		e.saveAll(ctx, rn)
		e.restart(ctx, rn)
	}
}

// statePair is the base and guest State a comparison ran on.
type statePair struct {
	base, guest *hierarchy.State
}

// compareDropped compares guests that failed this tick on their failure captures
// against a fresh base capture. A guest whose pair is unchanged since the start of the
// tick was already judged and is skipped.
func (e *Executor) compareDropped(ctx context.Context, rn *run, dropped []*mobile.Session, compared map[interfaces.Role]statePair) bool {
	if len(dropped) == 0 {
		return false
	}
	base := rn.sessions[0]
	if err := base.SaveFailureCapture(ctx, rn.seq); err != nil {
		e.logger.WithField("device", base.Serial()).Warnf("No base capture for failed guests: %v", err)
		return false
	}
	var guests []*mobile.Session
	for _, g := range dropped {
		if p, ok := compared[g.Role()]; ok && p.base.Same(base.State()) && p.guest.Same(g.State()) {
			continue
		}
		guests = append(guests, g)
	}
	if len(guests) == 0 {
		return false
	}
	return e.compare(ctx, rn, guests)
}

// saveAll captures every session into its screen directory and records a save_state
// event before a restart. It consumes one sequence number.
func (e *Executor) saveAll(ctx context.Context, rn *run) {
	ev := &interfaces.Event{Seq: rn.seq, Action: interfaces.ActionSaveState, Target: interfaces.AllDevices}
	outcomes := e.pool.Execute(ctx, rn.sessions, func(ctx context.Context, s *mobile.Session) interfaces.ActionOutcome {
		return s.Execute(ctx, ev)
	})
	for i, s := range rn.sessions {
		if !outcomes[i].OK() {
			e.logger.WithField("device", s.Serial()).Warnf("Failed to save state: %v", outcomes[i].Err)
		}
		s.Record(ev)
	}
	rn.seq++
}

func (e *Executor) endTick(ctx context.Context, rn *run, report *TickReport) {
	for _, r := range e.reporters {
		r.OnTick(ctx, report)
	}
	rn.seq++
}

// checkScreen runs the screen-change checks: loading, foreground, crash and keyboard.
// When it captured again it returns the sessions of the latest capture, otherwise nil.
func (e *Executor) checkScreen(ctx context.Context, rn *run, sessions []*mobile.Session) []*mobile.Session {
	base := rn.sessions[0]
	var fresh []*mobile.Session
	if wait := e.checker.CheckLoading(base); wait > 0 {
		e.logger.WithFields(logrus.Fields{"seq": rn.seq, "wait": wait}).Debug("Waiting for loading screen")
		sleep(ctx, wait)
		_, fresh = e.refresh(ctx, sessions, rn.seq)
	}

	if ok, err := e.checker.CheckForeground(ctx, base); err != nil {
		e.logger.WithField("device", base.Serial()).Debugf("Foreground check failed: %v", err)
	} else if !ok {
		e.backToApp(ctx, rn, sessions)
		_, fresh = e.refresh(ctx, sessions, rn.seq)
	}

	for _, report := range e.checker.CheckCrash(ctx, sessions) {
		res := e.triage.TriageCrash(report)
		e.stats.add(&e.stats.Crashes)
		e.logger.WithFields(logrus.Fields{
			"device":     report.Serial,
			"crash_type": res.CrashType,
			"severity":   res.Severity,
			"stack_hash": res.StackHash,
		}).Warn("Crash triaged")
	}
	e.checker.CheckKeyboard(ctx, sessions)
	return fresh
}

// backToApp brings the app back after the base device left it: back first, then a
// stop and start on every live session.
func (e *Executor) backToApp(ctx context.Context, rn *run, sessions []*mobile.Session) {
	base := rn.sessions[0]
	e.pool.Each(ctx, sessions, func(ctx context.Context, s *mobile.Session) error {
		return s.Driver().Press(ctx, mobile.KeyBack)
	})
	back := &interfaces.Event{Seq: rn.seq, Action: interfaces.ActionBack, Target: interfaces.AllDevices}
	if ok, err := e.checker.CheckForeground(ctx, base); err == nil && ok {
		recordOn(sessions, back)
		return
	}

	e.logger.WithFields(logrus.Fields{"run": rn.count, "seq": rn.seq}).Info("App left the foreground, restarting it")
	e.pool.Each(ctx, sessions, func(ctx context.Context, s *mobile.Session) error {
		return s.RestartApp(ctx)
	})
	if err := e.checker.CheckStart(ctx, sessions, checker.StartRetry); err != nil {
		e.logger.Warnf("Restart after leaving the app failed: %v", err)
	}
	recordOn(sessions, back)
	recordOn(sessions, &interfaces.Event{Seq: rn.seq, Action: interfaces.ActionRestart, Target: interfaces.AllDevices})
}

func recordOn(sessions []*mobile.Session, ev *interfaces.Event) {
	for _, s := range sessions {
		s.Record(ev)
	}
}

// compare runs the oracle on each guest against the base and records findings. It
// reports whether any divergence was novel.
func (e *Executor) compare(ctx context.Context, rn *run, guests []*mobile.Session) bool {
	base := rn.sessions[0]
	states := make(map[interfaces.Role]*hierarchy.State, len(guests))
	novel := false
	for _, g := range guests {
		states[g.Role()] = g.State()
		v := e.oracle.Compare(base.State(), g.State(), g.Role())
		if v == analysis.Consistent {
			continue
		}
		e.recordFinding(ctx, rn, g, v)
		if v == analysis.Novel {
			novel = true
		}
	}
	e.oracle.Observe(base.State(), states)
	return novel
}

func window(s *mobile.Session) []trace.Record {
	if s.Recorder() == nil {
		return nil
	}
	return s.Recorder().Window()
}

// recordFinding writes a divergence to the guest's error or wrong log.
func (e *Executor) recordFinding(ctx context.Context, rn *run, g *mobile.Session, v analysis.Verdict) {
	base := rn.sessions[0]
	records := trace.Merge(window(base), window(g))
	severity := analysis.SeverityOf(v)

	var number int
	var err error
	if v == analysis.Novel {
		number = g.NextError()
		e.stats.add(&e.stats.Errors)
		if g.Recorder() != nil {
			err = g.Recorder().WriteError(number, records)
		}
		for _, s := range []*mobile.Session{base, g} {
			if cerr := s.SaveFindingCapture(rn.seq); cerr != nil {
				e.logger.WithField("device", s.Serial()).Warnf("Failed to save finding capture: %v", cerr)
			}
		}
	} else {
		number = g.NextWrong()
		e.stats.add(&e.stats.Wrongs)
		if g.Recorder() != nil {
			err = g.Recorder().WriteWrong(number, records)
		}
		g.Record(&interfaces.Event{Seq: rn.seq, Action: interfaces.ActionWrong, Target: g.Role()})
	}
	if err != nil {
		e.logger.WithField("device", g.Serial()).Errorf("Failed to write finding: %v", err)
	}

	f := analysis.NewFinding(severity, base.State(), g.State())
	f.Strategy = g.Strategy()
	f.RunCount = rn.count
	f.Seq = rn.seq
	f.Role = g.Role()
	f.Serial = g.Serial()
	f.Action = rn.last
	f.Number = number
	for _, r := range e.reporters {
		r.OnFinding(ctx, rn.id, f)
	}
}

// dropGuest isolates a guest whose action failed for the rest of the run. It reports
// whether the failing screen was captured.
func (e *Executor) dropGuest(ctx context.Context, rn *run, s *mobile.Session, ev *interfaces.Event, outcome interfaces.ActionOutcome) bool {
	s.MarkFailed()
	rn.failures[s.Role()]++
	e.stats.add(&e.stats.DeviceFailures)

	captured := true
	if err := s.SaveFailureCapture(ctx, rn.seq); err != nil {
		e.logger.WithField("device", s.Serial()).Warnf("Failed to capture failing device: %v", err)
		captured = false
	}
	s.Record(ev)
	if rec := s.Recorder(); rec != nil {
		if _, err := rec.WriteEventInfo(trace.NewRecord(ev, s.Role())); err != nil {
			e.logger.WithField("device", s.Serial()).Warnf("Failed to write event info: %v", err)
		}
	}
	for _, r := range e.reporters {
		r.OnDeviceFailed(ctx, s.Role(), s.Serial(), outcome)
	}
	return captured
}

func (e *Executor) allGuestsFailed(rn *run) bool {
	for _, s := range rn.sessions[1:] {
		if !s.Failed() {
			return false
		}
	}
	return true
}

// restart clears and restarts the app mid-run. A failed start is logged; the next
// tick's checks deal with it.
func (e *Executor) restart(ctx context.Context, rn *run) {
	if err := e.clearAndRestart(ctx, rn); err != nil {
		e.logger.WithFields(logrus.Fields{"run": rn.count, "seq": rn.seq}).Warnf("Restart incomplete: %v", err)
	}
}

// clearAndRestart clears app data, restores the natural orientation, clears failure
// flags and bug windows, and starts the app on every session. It consumes one sequence
// number.
func (e *Executor) clearAndRestart(ctx context.Context, rn *run) error {
	errs := e.pool.Each(ctx, rn.sessions, func(ctx context.Context, s *mobile.Session) error {
		if err := s.ClearApp(ctx); err != nil {
			return err
		}
		return s.Driver().SetOrientation(ctx, mobile.OrientationNatural)
	})
	for i, err := range errs {
		if err != nil {
			e.logger.WithField("device", rn.sessions[i].Serial()).Warnf("Clear failed: %v", err)
		}
	}

	for _, s := range rn.sessions {
		s.ClearFailed()
		if rec := s.Recorder(); rec != nil {
			rec.ResetWindow()
		}
	}
	for _, kind := range []interfaces.ActionKind{interfaces.ActionNaturalScreen, interfaces.ActionClear} {
		recordOn(rn.sessions, &interfaces.Event{Seq: rn.seq, Action: kind, Target: interfaces.AllDevices})
	}
	e.checker.CheckKeyboard(ctx, rn.sessions)

	err := firstError(e.pool.Each(ctx, rn.sessions, func(ctx context.Context, s *mobile.Session) error {
		return s.StartApp(ctx)
	}))
	if err == nil {
		err = e.checker.CheckStart(ctx, rn.sessions, checker.StartVerify)
	}
	recordOn(rn.sessions, &interfaces.Event{Seq: rn.seq, Action: interfaces.ActionStart, Target: interfaces.AllDevices})

	rn.restarts++
	e.stats.add(&e.stats.Restarts)
	rn.seq++
	return err
}

// finishRun closes the run's files, writes its summary and notifies reporters.
func (e *Executor) finishRun(ctx context.Context, rn *run, abandoned string) *RunSummary {
	summary := &RunSummary{
		RunID:     rn.id,
		RunCount:  rn.count,
		Strategy:  e.strategyLabel(),
		Events:    rn.events,
		Restarts:  rn.restarts,
		Crashes:   e.triage.Groups(),
		Abandoned: abandoned,
		StartedAt: rn.started,
		Duration:  time.Since(rn.started),
	}
	for _, g := range rn.sessions[1:] {
		summary.Guests = append(summary.Guests, GuestSummary{
			Role:     g.Role(),
			Serial:   g.Serial(),
			Strategy: g.Strategy(),
			Errors:   g.ErrorCount() - rn.errors[g.Role()],
			Wrongs:   g.WrongCount() - rn.wrongs[g.Role()],
			Failures: rn.failures[g.Role()],
		})
		if rn.failures[g.Role()] > 0 {
			summary.Failed = append(summary.Failed, g.Serial())
		}
	}

	for _, s := range rn.sessions {
		if rec := s.Recorder(); rec != nil {
			if _, err := utils.WriteRunSummary(rec.RunDir(), summary); err != nil {
				e.logger.WithField("device", s.Serial()).Warnf("Failed to write run summary: %v", err)
			}
		}
		if err := s.CloseRun(); err != nil {
			e.logger.WithField("device", s.Serial()).Warnf("Failed to close run files: %v", err)
		}
	}

	for _, r := range e.reporters {
		r.OnRunFinished(ctx, summary)
	}
	return summary
}

// ReplayResult reports a replay of one strategy's recorded bug windows.
type ReplayResult struct {
	Strategy   string `json:"strategy"`
	Windows    int    `json:"windows"`
	Reproduced []int  `json:"reproduced"`
	Path       string `json:"path"`
}

// replayable reports whether a recorded action is re-dispatched during replay.
// Lifecycle records are produced by the restart the replay performs itself.
func replayable(kind interfaces.ActionKind) bool {
	switch kind {
	case interfaces.ActionStart, interfaces.ActionStop, interfaces.ActionClear,
		interfaces.ActionRestart, interfaces.ActionSaveState, interfaces.ActionWrong:
		return false
	}
	return true
}

// Replay re-executes the bug windows recorded in the error log of the guest directory
// named strategy, on the base device and that guest. Windows whose States diverge again
// are appended to error_replay.txt.
func (e *Executor) Replay(ctx context.Context, strategy string) (*ReplayResult, error) {
	idx := -1
	for i := 1; i < len(e.dirNames); i++ {
		if e.dirNames[i] == strategy {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("no guest writes to strategy %q", strategy)
	}
	dir := e.layout.StrategyDir(strategy)
	windows, err := trace.ReadWindowsFile(filepath.Join(dir, trace.ErrorLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to read bug windows: %w", err)
	}

	pair := []*mobile.Session{e.sessions[0], e.sessions[idx]}
	guest := pair[1]
	result := &ReplayResult{Strategy: strategy, Windows: len(windows), Path: filepath.Join(dir, trace.ReplayLogName)}

	if err := firstError(e.pool.Each(ctx, pair, func(ctx context.Context, s *mobile.Session) error {
		if err := s.Install(ctx); err != nil {
			return err
		}
		if err := e.injector.ResetDefaults(ctx, s); err != nil {
			return err
		}
		if s.IsBase() {
			return nil
		}
		return e.injector.ApplyStrategy(ctx, s)
	})); err != nil {
		return nil, fmt.Errorf("replay setup failed: %w", err)
	}

	out, err := os.OpenFile(result.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay log: %w", err)
	}
	defer out.Close()

	for _, win := range windows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rn := e.newRun(win.RunCount, pair)
		if err := e.clearAndRestart(ctx, rn); err != nil {
			e.logger.WithField("window", win.ID).Warnf("Replay restart failed: %v", err)
			continue
		}
		e.refresh(ctx, pair, rn.seq)

		reproduced := false
		for _, group := range win.Groups() {
			ev, ok := replayEvent(group, guest.Role())
			if !ok {
				continue
			}
			outcomes := e.pool.Execute(ctx, pair, func(ctx context.Context, s *mobile.Session) interfaces.ActionOutcome {
				return s.Execute(ctx, ev)
			})
			_, fresh := e.refresh(ctx, pair, ev.Seq)
			if !outcomes[0].OK() || len(fresh) < len(pair) {
				continue
			}
			if !pair[0].State().Same(guest.State()) {
				reproduced = true
				break
			}
		}

		e.logger.WithFields(logrus.Fields{
			"strategy":   strategy,
			"window":     win.ID,
			"run":        win.RunCount,
			"reproduced": reproduced,
		}).Info("Replayed bug window")
		if !reproduced {
			continue
		}
		result.Reproduced = append(result.Reproduced, win.ID)
		if err := trace.WriteWindow(out, win); err != nil {
			return result, fmt.Errorf("failed to write replay log: %w", err)
		}
	}
	return result, nil
}

// replayEvent picks the event of one recorded tick. The base record wins; a setting
// record is re-addressed to the replaying guest.
func replayEvent(group []trace.Record, guest interfaces.Role) (*interfaces.Event, bool) {
	var pick *trace.Record
	for i := range group {
		if !replayable(group[i].Event.Action) {
			continue
		}
		if pick == nil || (!pick.Role.IsBase() && group[i].Role.IsBase()) {
			pick = &group[i]
		}
	}
	if pick == nil {
		return nil, false
	}
	ev := pick.Event
	ev.Target = interfaces.AllDevices
	if ev.Action == interfaces.ActionSetting {
		ev.Target = guest
	}
	return &ev, true
}

// Close stops the worker pool and closes open run files.
func (e *Executor) Close() error {
	e.pool.Close()
	var first error
	for _, s := range e.sessions {
		if err := s.CloseRun(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
