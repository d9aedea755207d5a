package motion

import (
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sample is one telemetry record of the compensation delta.
type Sample struct {
	Time           time.Time
	ReferenceIndex uint32
	Mode           Mode
	Delta          Delta
}

// Telemetry receives periodic samples from the frame step. Implementations
// must not block.
type Telemetry interface {
	WriteMotionSample(s Sample)
}

// PointWriter is the subset of the InfluxDB client used for telemetry.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// InfluxTelemetry writes samples as "motion_compensation" points.
type InfluxTelemetry struct {
	w PointWriter
}

// NewInfluxTelemetry wraps a point writer.
func NewInfluxTelemetry(w PointWriter) *InfluxTelemetry {
	return &InfluxTelemetry{w: w}
}

// WriteMotionSample implements Telemetry.
func (t *InfluxTelemetry) WriteMotionSample(s Sample) {
	t.w.WritePointWithTime("motion_compensation",
		map[string]string{
			"reference_index": strconv.FormatUint(uint64(s.ReferenceIndex), 10),
			"mode":            s.Mode.String(),
		},
		map[string]interface{}{
			"offset_x":     s.Delta.Translation.X,
			"offset_y":     s.Delta.Translation.Y,
			"offset_z":     s.Delta.Translation.Z,
			"offset_m":     r3.Norm(s.Delta.Translation),
			"rotation_deg": rotationAngleDegrees(s.Delta),
			"velocity_m_s": r3.Norm(s.Delta.Velocity),
			"accel_m_s2":   r3.Norm(s.Delta.Acceleration),
		},
		s.Time,
	)
}

func rotationAngleDegrees(d Delta) float64 {
	w := math.Abs(d.Rotation.Real)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w) * 180 / math.Pi
}
