package main

import (
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/nerrad567/inputemu-core/internal/driver"
	"github.com/nerrad567/inputemu-core/internal/host"
	"github.com/nerrad567/inputemu-core/internal/host/simhost"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/config"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/logging"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/inputemu-core/internal/ipc"
)

// buildRuntime creates the simulated runtime with the settings store taken
// from the host section.
func buildRuntime(cfg config.HostConfig, log *logging.Logger) (*simhost.Runtime, error) {
	settings := simhost.NewSettings()
	for section, keys := range cfg.Settings {
		for key, value := range keys {
			switch v := value.(type) {
			case string:
				settings.SetString(section, key, v)
			case bool:
				settings.SetBool(section, key, v)
			default:
				return nil, fmt.Errorf("setting %s.%s: unsupported type %T", section, key, value)
			}
		}
	}
	return simhost.New(
		simhost.WithInstallPath(cfg.InstallPath),
		simhost.WithSettings(settings),
		simhost.WithLogger(log),
	), nil
}

// defaultDevices is used when the host section lists none: a headset and
// a tracker strapped to the motion platform.
var defaultDevices = []config.SimDeviceConfig{
	{Serial: "SIM-HMD-0001", Class: "hmd", Position: [3]float64{0, 1.6, 0}},
	{Serial: "SIM-TRK-0001", Class: "generic_tracker", Position: [3]float64{0, 0.5, 0},
		Axis: [3]float64{0, 1, 0}, Amplitude: 0.05, Period: 2},
}

func addDevices(rt *simhost.Runtime, devices []config.SimDeviceConfig) error {
	if len(devices) == 0 {
		devices = defaultDevices
	}
	for _, d := range devices {
		class, err := host.ParseDeviceClass(d.Class)
		if err != nil {
			return fmt.Errorf("device %s: %w", d.Serial, err)
		}
		pos := r3.Vec{X: d.Position[0], Y: d.Position[1], Z: d.Position[2]}
		m := simhost.Static(pos)
		if d.Amplitude != 0 && d.Period > 0 {
			axis := r3.Vec{X: d.Axis[0], Y: d.Axis[1], Z: d.Axis[2]}
			m = simhost.Oscillate(pos, axis, d.Amplitude, time.Duration(d.Period*float64(time.Second)))
		}
		if _, err := rt.AddDevice(simhost.NewDevice(d.Serial, class, m)); err != nil {
			return fmt.Errorf("device %s: %w", d.Serial, err)
		}
	}
	return nil
}

// frameFunc runs the driver's frame work and, with InfluxDB enabled, records
// runtime progress once a second.
func frameFunc(drv *driver.ServerDriver, rt *simhost.Runtime, influx *influxdb.Client, rate int) func() {
	if influx == nil {
		return drv.RunFrame
	}
	if rate <= 0 {
		rate = simhost.DefaultFrameRate
	}
	return func() {
		drv.RunFrame()
		if n := rt.Frames(); n%uint64(rate) == 0 {
			influx.WriteHostFrame(n, drv.Registry().Len())
		}
	}
}

// deviceEventWriter records device lifecycle events in InfluxDB.
func deviceEventWriter(influx *influxdb.Client) func(ipc.Event) {
	return func(ev ipc.Event) {
		if ev.Device == nil {
			return
		}
		influx.WriteDeviceEvent(ev.Device.Serial, ev.Device.Class, ev.Type, ev.Device.Index)
	}
}

// telemetryMirror republishes motion state changes on the MQTT telemetry
// topic for dashboards that do not speak the control protocol.
func telemetryMirror(client *mqtt.Client, log *logging.Logger) func(ipc.Event) {
	topic := client.Topics().Telemetry("motion")
	return func(ev ipc.Event) {
		if ev.Motion == nil {
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := client.Publish(topic, payload, 0, true); err != nil {
			log.Debug("motion telemetry not published", "error", err)
		}
	}
}
