/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: injector.go
Description: Injector synthesizes settings-change events and applies them to device
sessions. It is a peer of the Policy: its events go through the same Session.Execute
path, addressed to a single guest. It also applies a guest's strategy profile at run
start and replays settings events recorded in earlier traces.
*/

package injector

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/sirupsen/logrus"
)

// Config configures an Injector.
type Config struct {
	Language    string // locale for the language setting; empty disables it
	Denominator int    // inject with probability 1/Denominator per tick; 0 disables
	Seed        int64
	Profiles    Profiles
}

// Injector changes device settings outside the app under test.
type Injector struct {
	settings    map[string]setting
	names       []string
	profiles    Profiles
	denominator int
	rng         *rand.Rand
	logger      *logrus.Logger
}

// New creates an Injector.
func New(cfg Config, logger *logrus.Logger) *Injector {
	settings := table(cfg.Language)
	if cfg.Language == "" {
		delete(settings, SettingLanguage)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles(cfg.Language)
	}
	return &Injector{
		settings:    settings,
		names:       sortedNames(settings),
		profiles:    cfg.Profiles,
		denominator: cfg.Denominator,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		logger:      logger,
	}
}

// Names lists the settings this injector can change.
func (i *Injector) Names() []string { return append([]string(nil), i.names...) }

// ApplySetting implements mobile.SettingApplier.
func (i *Injector) ApplySetting(ctx context.Context, s *mobile.Session, payload string) error {
	name, value, err := ParsePayload(payload)
	if err != nil {
		return err
	}
	st, ok := i.settings[name]
	if !ok {
		return fmt.Errorf("unknown setting %q", name)
	}
	if err := st.apply(ctx, s.Driver(), s.App(), value); err != nil {
		return fmt.Errorf("failed to set %s on %s: %w", payload, s.Serial(), err)
	}
	s.SetSetting(name, value)
	i.logger.WithFields(logrus.Fields{
		"device":  s.Serial(),
		"setting": name,
		"value":   value,
	}).Debug("Applied setting")
	return nil
}

// ResetDefaults puts every known setting of the session back to its default.
func (i *Injector) ResetDefaults(ctx context.Context, s *mobile.Session) error {
	for _, name := range i.names {
		if err := i.ApplySetting(ctx, s, Payload(name, i.settings[name].def)); err != nil {
			return err
		}
	}
	return nil
}

// ApplyStrategy applies the session's strategy profile.
func (i *Injector) ApplyStrategy(ctx context.Context, s *mobile.Session) error {
	changes, ok := i.profiles[s.Strategy()]
	if !ok {
		return fmt.Errorf("unknown strategy %q", s.Strategy())
	}
	for _, c := range changes {
		if err := i.ApplySetting(ctx, s, Payload(c.Setting, c.Value)); err != nil {
			return err
		}
	}
	i.logger.WithFields(logrus.Fields{
		"device":   s.Serial(),
		"strategy": s.Strategy(),
		"changes":  len(changes),
	}).Info("Applied strategy")
	return nil
}

// HasStrategy reports whether a profile exists for name.
func (i *Injector) HasStrategy(name string) bool {
	_, ok := i.profiles[name]
	return ok
}

// ShouldInject draws whether this tick takes a settings event.
func (i *Injector) ShouldInject() bool {
	return i.denominator > 0 && len(i.names) > 0 && i.rng.Intn(i.denominator) == 0
}

// Toggle builds an event flipping one setting of the target session.
func (i *Injector) Toggle(target *mobile.Session, name string, seq float64) (*interfaces.Event, error) {
	st, ok := i.settings[name]
	if !ok {
		return nil, fmt.Errorf("unknown setting %q", name)
	}
	next := st.toggled
	if target.Setting(name, st.def) == st.toggled {
		next = st.def
	}
	return &interfaces.Event{
		Seq:    seq,
		Action: interfaces.ActionSetting,
		Text:   Payload(name, next),
		Target: target.Role(),
	}, nil
}

// Synthesize picks a live guest and a setting at random and returns the toggle event.
// It returns nil when no guest is available.
func (i *Injector) Synthesize(guests []*mobile.Session, seq float64) *interfaces.Event {
	var live []*mobile.Session
	for _, g := range guests {
		if !g.Failed() && !g.IsBase() {
			live = append(live, g)
		}
	}
	if len(live) == 0 || len(i.names) == 0 {
		return nil
	}
	target := live[i.rng.Intn(len(live))]
	e, err := i.Toggle(target, i.names[i.rng.Intn(len(i.names))], seq)
	if err != nil {
		return nil
	}
	return e
}

var _ mobile.SettingApplier = (*Injector)(nil)
