package driver

import (
	"errors"

	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/host"
)

// SettingsSection is the settings store section the driver reads.
const SettingsSection = "driver_inputemulator"

// Settings keys in SettingsSection.
const (
	KeyOverrideManufacturer   = "overrideHmdManufacturer"
	KeyOverrideModel          = "overrideHmdModel"
	KeyOverrideTrackingSystem = "overrideHmdTrackingSystem"
	KeyFakeController         = "genericTrackerFakeController"
)

// LoadOverrides reads the override policy from the runtime settings store.
// Keys that are not set keep the value from fallback; keys with the wrong
// type are logged and also keep the fallback.
func LoadOverrides(s host.Settings, fallback device.Overrides, logger Logger) device.Overrides {
	out := fallback
	if s == nil {
		return out
	}
	if logger == nil {
		logger = noopLogger{}
	}

	readString := func(key string, dst *string) {
		v, err := s.GetString(SettingsSection, key)
		switch {
		case err == nil:
			*dst = v
		case !errors.Is(err, host.ErrSettingNotFound):
			logger.Warn("ignoring driver setting", "section", SettingsSection, "key", key, "error", err)
		}
	}
	readString(KeyOverrideManufacturer, &out.Manufacturer)
	readString(KeyOverrideModel, &out.Model)
	readString(KeyOverrideTrackingSystem, &out.TrackingSystem)

	fake, err := s.GetBool(SettingsSection, KeyFakeController)
	switch {
	case err == nil:
		out.DisguiseGenericTrackers = fake
	case !errors.Is(err, host.ErrSettingNotFound):
		logger.Warn("ignoring driver setting", "section", SettingsSection, "key", KeyFakeController, "error", err)
	}
	return out
}
