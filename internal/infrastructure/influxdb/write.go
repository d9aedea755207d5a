package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the input emulator.
const (
	MeasurementDeviceEvent = "device_event"
	MeasurementHostFrame   = "host_frame"
)

// deviceEventPoint builds one device lifecycle point. The serial is a tag
// because it identifies the device across runtime restarts; the index is
// a field since the runtime may reassign it.
func deviceEventPoint(serial, class, event string, index uint32, at time.Time) *write.Point {
	return write.NewPoint(MeasurementDeviceEvent,
		map[string]string{
			"serial": serial,
			"class":  class,
			"event":  event,
		},
		map[string]interface{}{
			"index": int64(index),
		},
		at,
	)
}

func hostFramePoint(frame uint64, devices int, at time.Time) *write.Point {
	return write.NewPoint(MeasurementHostFrame,
		nil,
		map[string]interface{}{
			"frame":   int64(frame), // #nosec G115 -- frame counts never reach 2^63
			"devices": int64(devices),
		},
		at,
	)
}

// WriteDeviceEvent records a device being discovered, activated or
// deactivated.
//
// Parameters:
//   - serial: Device serial number, stored as a tag
//   - class: Device class name
//   - event: discovered, activated or deactivated
//   - index: Runtime device index, or the invalid index
func (c *Client) WriteDeviceEvent(serial, class, event string, index uint32) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deviceEventPoint(serial, class, event, index, time.Now()))
}

// WriteHostFrame records simulated runtime progress.
func (c *Client) WriteHostFrame(frame uint64, devices int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(hostFramePoint(frame, devices, time.Now()))
}

// WritePointWithTime writes an arbitrary point. It satisfies
// motion.PointWriter.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
