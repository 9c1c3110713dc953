/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: settings.go
Description: Device-level settings the injector can change outside the app's own UI.
Each setting has a default value, a toggled value and an apply function issuing the
shell commands that put the device into that state.
*/

package injector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kleascm/akaylee-droid/pkg/mobile"
)

// Setting values.
const (
	On  = "on"
	Off = "off"
)

// Setting names.
const (
	SettingWifi         = "wifi"
	SettingGPS          = "gps"
	SettingSound        = "sound"
	SettingBattery      = "battery"
	SettingGameMode     = "gamemode"
	SettingBlueLight    = "bluelight"
	SettingNotification = "notification"
	SettingPermission   = "permission"
	SettingHourFormat   = "hourformat"
	SettingLanguage     = "language"
	SettingOrientation  = "orientation"
)

// DefaultLocale is the locale apps run under outside the language strategy.
const DefaultLocale = "en-US"

type applyFunc func(ctx context.Context, d mobile.Driver, app *mobile.App, value string) error

type setting struct {
	def     string
	toggled string
	apply   applyFunc
}

func shell(onArgs, offArgs []string) applyFunc {
	return func(ctx context.Context, d mobile.Driver, _ *mobile.App, value string) error {
		args := offArgs
		if value == On {
			args = onArgs
		}
		return run(ctx, d, args...)
	}
}

func run(ctx context.Context, d mobile.Driver, args ...string) error {
	out, err := d.Shell(ctx, args...)
	if err != nil {
		return err
	}
	if strings.Contains(out, "Exception") || strings.HasPrefix(strings.TrimSpace(out), "Error") {
		return fmt.Errorf("%s: %s", strings.Join(args, " "), strings.TrimSpace(out))
	}
	return nil
}

func table(language string) map[string]setting {
	return map[string]setting{
		SettingWifi: {On, Off, shell(
			[]string{"svc", "wifi", "enable"},
			[]string{"svc", "wifi", "disable"})},
		SettingGPS: {On, Off, shell(
			[]string{"settings", "put", "secure", "location_mode", "3"},
			[]string{"settings", "put", "secure", "location_mode", "0"})},
		SettingSound: {On, Off, shell(
			[]string{"settings", "put", "global", "mode_ringer", "2"},
			[]string{"settings", "put", "global", "mode_ringer", "0"})},
		SettingBattery: {Off, On, shell(
			[]string{"settings", "put", "global", "low_power", "1"},
			[]string{"settings", "put", "global", "low_power", "0"})},
		SettingBlueLight: {Off, On, shell(
			[]string{"settings", "put", "secure", "night_display_activated", "1"},
			[]string{"settings", "put", "secure", "night_display_activated", "0"})},
		SettingGameMode: {Off, On, func(ctx context.Context, d mobile.Driver, app *mobile.App, value string) error {
			mode := "standard"
			if value == On {
				mode = "performance"
			}
			return run(ctx, d, "cmd", "game", "mode", mode, app.Package)
		}},
		SettingNotification: {On, Off, func(ctx context.Context, d mobile.Driver, app *mobile.App, value string) error {
			mode := "ignore"
			if value == On {
				mode = "allow"
			}
			return run(ctx, d, "cmd", "appops", "set", app.Package, "POST_NOTIFICATION", mode)
		}},
		SettingPermission: {On, Off, applyPermissions},
		SettingHourFormat: {"12", "24", func(ctx context.Context, d mobile.Driver, _ *mobile.App, value string) error {
			if value != "12" && value != "24" {
				return fmt.Errorf("hour format must be 12 or 24, got %q", value)
			}
			return run(ctx, d, "settings", "put", "system", "time_12_24", value)
		}},
		SettingLanguage: {DefaultLocale, language, func(ctx context.Context, d mobile.Driver, app *mobile.App, value string) error {
			return run(ctx, d, "cmd", "locale", "set-app-locales", app.Package, "--locales", value)
		}},
		SettingOrientation: {"natural", "left", func(ctx context.Context, d mobile.Driver, _ *mobile.App, value string) error {
			if value == "left" {
				return d.SetOrientation(ctx, mobile.OrientationLeft)
			}
			return d.SetOrientation(ctx, mobile.OrientationNatural)
		}},
	}
}

// applyPermissions grants or revokes the platform runtime permissions the app declares.
// Install-time permissions cannot be revoked, so per-permission failures are ignored.
func applyPermissions(ctx context.Context, d mobile.Driver, app *mobile.App, value string) error {
	verb := "revoke"
	if value == On {
		verb = "grant"
	}
	for _, perm := range app.Permissions {
		if !strings.HasPrefix(perm, "android.permission.") {
			continue
		}
		_, _ = d.Shell(ctx, "pm", verb, app.Package, perm)
	}
	return nil
}

// ParsePayload splits a setting event payload such as "wifi=off".
func ParsePayload(payload string) (name, value string, err error) {
	name, value, ok := strings.Cut(payload, "=")
	if !ok || name == "" || value == "" {
		return "", "", fmt.Errorf("malformed setting payload %q", payload)
	}
	return name, value, nil
}

// Payload renders a setting change as an event payload.
func Payload(name, value string) string { return name + "=" + value }

func sortedNames(settings map[string]setting) []string {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
