/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scheduler.go
Description: Event scheduling for the tick loop. A Scheduler picks where each tick's Event
comes from: a recorded settings replay first, then the settings injector when its draw
fires, otherwise the UI policy against the base device's screen.
*/

package core

import (
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/kleascm/akaylee-droid/pkg/policy"
)

// EventSource chooses UI events from the base device's screen.
type EventSource interface {
	ChooseEvent(base policy.Screen, seq float64) *interfaces.Event
}

// SettingSource synthesizes settings events addressed to one guest.
type SettingSource interface {
	ShouldInject() bool
	Synthesize(guests []*mobile.Session, seq float64) *interfaces.Event
}

// ReplaySource yields recorded events by sequence number.
type ReplaySource interface {
	EventAt(seq float64) (*interfaces.Event, bool)
}

// Event origins reported with each tick.
const (
	OriginPolicy   = "policy"
	OriginInjector = "injector"
	OriginReplay   = "replay"
)

// Scheduler combines the event sources. Nil sources are skipped.
type Scheduler struct {
	policy   EventSource
	settings SettingSource
	replay   ReplaySource
}

// NewScheduler creates a scheduler around a UI policy.
func NewScheduler(p EventSource) *Scheduler {
	return &Scheduler{policy: p}
}

// SetSettingSource installs the settings injector.
func (s *Scheduler) SetSettingSource(src SettingSource) { s.settings = src }

// SetReplaySource installs a recorded settings sequence.
func (s *Scheduler) SetReplaySource(src ReplaySource) { s.replay = src }

// Next returns the tick's event and where it came from.
func (s *Scheduler) Next(base *mobile.Session, guests []*mobile.Session, seq float64) (*interfaces.Event, string) {
	if s.replay != nil {
		if e, ok := s.replay.EventAt(seq); ok {
			return e, OriginReplay
		}
	}
	if s.settings != nil && s.settings.ShouldInject() {
		if e := s.settings.Synthesize(guests, seq); e != nil {
			return e, OriginInjector
		}
	}
	return s.policy.ChooseEvent(base, seq), OriginPolicy
}

// SetEventSource replaces the UI policy.
func (s *Scheduler) SetEventSource(p EventSource) { s.policy = p }
