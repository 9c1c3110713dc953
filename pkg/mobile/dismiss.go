/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: dismiss.go
Description: Per-app welcome-screen dismissal rules. A rule table maps a package name to
an ordered list of dismiss steps (click by resource id, id pattern or text, press a key,
or run the permission sweep). Tables are YAML so new apps need no code changes.
*/

package mobile

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DismissRule is one step of a welcome-screen sequence. Exactly one target field is set.
type DismissRule struct {
	ResourceID  string `yaml:"resource_id,omitempty"`
	IDMatches   string `yaml:"resource_id_matches,omitempty"`
	Text        string `yaml:"text,omitempty"`
	Press       Key    `yaml:"press,omitempty"`
	Permissions bool   `yaml:"permissions,omitempty"`
	Repeat      int    `yaml:"repeat,omitempty"` // click while present, at most Repeat times
}

// DismissRules is the package -> steps table.
type DismissRules struct {
	Packages map[string][]DismissRule `yaml:"packages"`
}

// DefaultDismissRules covers the apps whose onboarding is known to block fuzzing.
func DefaultDismissRules() *DismissRules {
	pager := []DismissRule{
		{IDMatches: ".*next", Repeat: 8},
		{IDMatches: ".*done"},
	}
	return &DismissRules{Packages: map[string][]DismissRule{
		"com.ichi2.anki": {
			{ResourceID: "com.ichi2.anki:id/get_started"},
			{ResourceID: "com.ichi2.anki:id/switch_widget"},
			{Permissions: true},
			{ResourceID: "com.ichi2.anki:id/continue_button"},
			{Press: KeyBack},
		},
		"it.feio.android.omninotes": pager,
		"net.gsantner.markor":       pager,
	}}
}

// LoadDismissRules reads a YAML table and layers it over the defaults.
func LoadDismissRules(path string) (*DismissRules, error) {
	rules := DefaultDismissRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dismiss rules: %w", err)
	}
	var loaded DismissRules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse dismiss rules: %w", err)
	}
	for pkg, steps := range loaded.Packages {
		rules.Packages[pkg] = steps
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks that every step names exactly one target.
func (r *DismissRules) Validate() error {
	for pkg, steps := range r.Packages {
		for i, step := range steps {
			n := 0
			for _, set := range []bool{step.ResourceID != "", step.IDMatches != "", step.Text != "", step.Press != "", step.Permissions} {
				if set {
					n++
				}
			}
			if n != 1 {
				return fmt.Errorf("%s step %d: exactly one of resource_id, resource_id_matches, text, press, permissions is required", pkg, i)
			}
			if step.IDMatches != "" {
				if _, err := regexp.Compile(step.IDMatches); err != nil {
					return fmt.Errorf("%s step %d: %w", pkg, i, err)
				}
			}
			if step.Repeat < 0 {
				return fmt.Errorf("%s step %d: repeat must not be negative", pkg, i)
			}
		}
	}
	return nil
}

func (step DismissRule) locator() Locator {
	switch {
	case step.ResourceID != "":
		return Locator{Kind: ByStructure, ResourceID: step.ResourceID}
	case step.IDMatches != "":
		return Locator{Kind: ByResourcePattern, Pattern: step.IDMatches}
	}
	return Locator{Kind: ByText, Text: step.Text}
}

// SkipWelcome runs the steps registered for the app's package. Missing targets are not
// errors: onboarding screens differ between app versions. It returns the number of
// clicks and key presses performed.
func (s *Session) SkipWelcome(ctx context.Context, rules *DismissRules) int {
	if rules == nil {
		return 0
	}
	steps, ok := rules.Packages[s.cfg.App.Package]
	if !ok {
		return 0
	}
	acted := 0
	for _, step := range steps {
		switch {
		case step.Permissions:
			acted += s.DismissPermissions(ctx)
			continue
		case step.Press != "":
			if err := s.driver.Press(ctx, step.Press); err == nil {
				acted++
			}
			continue
		}

		loc := step.locator()
		repeat := step.Repeat
		if repeat <= 0 {
			repeat = 1
		}
		for i := 0; i < repeat; i++ {
			present, err := s.driver.Exists(ctx, loc)
			if err != nil || !present {
				break
			}
			if err := s.driver.ResolveAndAct(ctx, loc, interfaces.ActionClick, ActionParams{}); err != nil {
				break
			}
			acted++
			s.sleep(ctx, s.cfg.DismissDelay)
		}
	}
	s.logger.WithFields(logrus.Fields{"device": s.Serial(), "package": s.cfg.App.Package, "actions": acted}).Info("Skipped welcome screens")
	return acted
}
