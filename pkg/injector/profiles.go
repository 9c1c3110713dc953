/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: profiles.go
Description: Strategy profiles: the setting changes applied to a guest at the start of every
run. A built-in table covers the standard strategies; a YAML file can add or replace entries.
*/

package injector

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Change sets one device setting.
type Change struct {
	Setting string `yaml:"setting"`
	Value   string `yaml:"value"`
}

// Profiles maps a strategy name to its changes.
type Profiles map[string][]Change

type profileFile struct {
	Strategies Profiles `yaml:"strategies"`
}

// DefaultProfiles returns the built-in strategies. language is the locale applied by the
// language strategy.
func DefaultProfiles(language string) Profiles {
	return Profiles{
		"base":         nil,
		"screen":       nil,
		"language":     {{Setting: SettingLanguage, Value: language}},
		"leftscreen":   {{Setting: SettingOrientation, Value: "left"}},
		"wifi":         {{Setting: SettingWifi, Value: Off}},
		"battery":      {{Setting: SettingBattery, Value: On}},
		"bluelight":    {{Setting: SettingBlueLight, Value: On}},
		"hourformat":   {{Setting: SettingHourFormat, Value: "24"}},
		"sound":        {{Setting: SettingSound, Value: Off}},
		"gps":          {{Setting: SettingGPS, Value: Off}},
		"notification": {{Setting: SettingNotification, Value: Off}},
		"permission":   {{Setting: SettingPermission, Value: Off}},
		"gamemode":     {{Setting: SettingGameMode, Value: On}},
	}
}

// LoadProfiles layers a YAML profile file over the built-in table.
func LoadProfiles(path, language string) (Profiles, error) {
	profiles := DefaultProfiles(language)
	if path == "" {
		return profiles, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy profiles: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategy profiles: %w", err)
	}
	for name, changes := range file.Strategies {
		profiles[name] = changes
	}
	if err := profiles.Validate(language); err != nil {
		return nil, err
	}
	return profiles, nil
}

// Validate checks that every change names a known setting with a non-empty value.
func (p Profiles) Validate(language string) error {
	known := table(language)
	for name, changes := range p {
		for _, c := range changes {
			if _, ok := known[c.Setting]; !ok {
				return fmt.Errorf("strategy %s: unknown setting %q", name, c.Setting)
			}
			if c.Value == "" {
				return fmt.Errorf("strategy %s: setting %s has no value", name, c.Setting)
			}
		}
	}
	return nil
}
