/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: policy.go
Description: Event selection for the base device. RandomPolicy draws an action kind by
weighted random choice, then samples a target view from the base device's live hierarchy
among the nodes the action applies to. A fixed seed makes every choice reproducible.
*/

package policy

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

// Kinds are the action kinds a policy may draw, in draw order.
var Kinds = []interfaces.ActionKind{
	interfaces.ActionClick,
	interfaces.ActionLongClick,
	interfaces.ActionScroll,
	interfaces.ActionEdit,
	interfaces.ActionNaturalScreen,
	interfaces.ActionLeftScreen,
	interfaces.ActionBack,
	interfaces.ActionSplitScreen,
	interfaces.ActionHome,
}

// DefaultTexts are typed into editable fields.
var DefaultTexts = []string{"hello", "test", "1234", "Akaylee", "!@#", "a b", "0", "ä中"}

var scrollDirections = []string{
	interfaces.ScrollForward,
	interfaces.ScrollBackward,
	interfaces.ScrollRight,
	interfaces.ScrollLeft,
}

// Probabilities maps an action kind to its relative weight.
type Probabilities map[interfaces.ActionKind]float64

// DefaultProbabilities favour taps and text entry over navigation.
func DefaultProbabilities() Probabilities {
	return Probabilities{
		interfaces.ActionClick:         0.45,
		interfaces.ActionLongClick:     0.10,
		interfaces.ActionScroll:        0.10,
		interfaces.ActionEdit:          0.15,
		interfaces.ActionNaturalScreen: 0.03,
		interfaces.ActionLeftScreen:    0.03,
		interfaces.ActionBack:          0.10,
		interfaces.ActionSplitScreen:   0.01,
		interfaces.ActionHome:          0.03,
	}
}

// Validate rejects unknown kinds, negative weights and an all-zero table.
func (p Probabilities) Validate() error {
	total := 0.0
	for kind, w := range p {
		if !drawable(kind) {
			return fmt.Errorf("action %q cannot be drawn by a policy", kind)
		}
		if w < 0 {
			return fmt.Errorf("probability of %s is negative", kind)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("at least one action probability must be positive")
	}
	return nil
}

func drawable(kind interfaces.ActionKind) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Screen exposes the base device's latest hierarchy.
type Screen interface {
	Hierarchy() *hierarchy.Hierarchy
}

// Config configures a RandomPolicy.
type Config struct {
	Seed          int64
	Probabilities Probabilities
	Package       string // restrict targets to the app under test
	Texts         []string
}

// RandomPolicy is a seeded weighted-random Policy. It is not safe for concurrent use;
// the executor calls it once per tick.
type RandomPolicy struct {
	rng     *rand.Rand
	weights Probabilities
	pkg     string
	texts   []string
	logger  *logrus.Logger
}

// NewRandomPolicy validates the probability table and seeds the generator.
func NewRandomPolicy(cfg Config, logger *logrus.Logger) (*RandomPolicy, error) {
	if cfg.Probabilities == nil {
		cfg.Probabilities = DefaultProbabilities()
	}
	if err := cfg.Probabilities.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Texts) == 0 {
		cfg.Texts = DefaultTexts
	}
	return &RandomPolicy{
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		weights: cfg.Probabilities,
		pkg:     cfg.Package,
		texts:   cfg.Texts,
		logger:  logger,
	}, nil
}

func selectorFor(kind interfaces.ActionKind) string {
	switch kind {
	case interfaces.ActionClick:
		return hierarchy.SelectClickable
	case interfaces.ActionLongClick:
		return hierarchy.SelectLongClickable
	case interfaces.ActionEdit:
		return hierarchy.SelectEditable
	case interfaces.ActionScroll:
		return hierarchy.SelectScrollable
	}
	return ""
}

// Targets returns the nodes of h an action kind applies to.
func (p *RandomPolicy) Targets(h *hierarchy.Hierarchy, kind interfaces.ActionKind) []hierarchy.Node {
	if h == nil {
		return nil
	}
	var out []hierarchy.Node
	for _, n := range h.Select(selectorFor(kind)) {
		if n.Bounds.IsZero() {
			continue
		}
		if p.pkg != "" && n.Package != p.pkg {
			continue
		}
		out = append(out, n)
	}
	return out
}

// draw picks a kind among those still allowed, weighted by probability.
func (p *RandomPolicy) draw(excluded map[interfaces.ActionKind]bool) (interfaces.ActionKind, bool) {
	total := 0.0
	for _, k := range Kinds {
		if !excluded[k] {
			total += p.weights[k]
		}
	}
	if total <= 0 {
		return "", false
	}
	r := p.rng.Float64() * total
	var last interfaces.ActionKind
	for _, k := range Kinds {
		w := p.weights[k]
		if excluded[k] || w <= 0 {
			continue
		}
		last = k
		if r < w {
			return k, true
		}
		r -= w
	}
	return last, last != ""
}

// ChooseEvent selects the next event against the base device's current screen. Kinds
// with no applicable target on screen are redrawn. When nothing applies the event is back.
func (p *RandomPolicy) ChooseEvent(base Screen, seq float64) *interfaces.Event {
	h := base.Hierarchy()
	excluded := make(map[interfaces.ActionKind]bool)
	for {
		kind, ok := p.draw(excluded)
		if !ok {
			return &interfaces.Event{Seq: seq, Action: interfaces.ActionBack, Target: interfaces.AllDevices}
		}
		if !kind.NeedsView() {
			return &interfaces.Event{Seq: seq, Action: kind, Target: interfaces.AllDevices}
		}

		targets := p.Targets(h, kind)
		if len(targets) == 0 {
			excluded[kind] = true
			continue
		}
		node := targets[p.rng.Intn(len(targets))]
		e := &interfaces.Event{Seq: seq, Action: kind, View: node.View(), Target: interfaces.AllDevices}
		switch kind {
		case interfaces.ActionEdit:
			e.Text = p.text()
		case interfaces.ActionScroll:
			e.Text = scrollDirections[p.rng.Intn(len(scrollDirections))]
		}
		p.logger.WithFields(logrus.Fields{
			"seq":     seq,
			"action":  kind,
			"targets": len(targets),
		}).Debug("Chose event")
		return e
	}
}

// text returns a pooled string or, one time in four, a fresh random token.
func (p *RandomPolicy) text() string {
	if p.rng.Intn(4) > 0 {
		return p.texts[p.rng.Intn(len(p.texts))]
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	n := 1 + p.rng.Intn(12)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[p.rng.Intn(len(alphabet))])
	}
	return b.String()
}
