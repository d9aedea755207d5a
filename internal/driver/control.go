package driver

import (
	"context"
	"time"

	"github.com/nerrad567/inputemu-core/internal/audit"
	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/ipc"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// storeTimeout bounds a settings save triggered by a control request.
const storeTimeout = 2 * time.Second

// control executes IPC requests against the registry and engine, saves the
// compensation settings after every successful change and records changes in
// the control log.
type control struct {
	registry *device.Registry
	engine   *motion.Engine
	store    motion.Store
	audit    audit.Repository
	logger   Logger
}

var (
	_ ipc.DeviceService = (*control)(nil)
	_ ipc.MotionService = (*control)(nil)
)

func (c *control) persist(err error) error {
	if err != nil || c.store == nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if serr := c.store.Save(ctx, c.engine.Settings()); serr != nil {
		c.logger.Warn("saving motion compensation settings failed", "error", serr)
	}
	return nil
}

// record logs a successful change. err is returned unchanged.
func (c *control) record(err error, action string, index *uint32, details map[string]any) error {
	if err != nil || c.audit == nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	entry := &audit.Entry{Action: action, DeviceIndex: index, Details: details}
	if aerr := c.audit.Create(ctx, entry); aerr != nil {
		c.logger.Warn("recording control change failed", "action", action, "error", aerr)
	}
	return nil
}

func (c *control) DeviceInfo(index uint32) (device.Info, error) {
	return c.registry.DeviceInfo(index)
}

func (c *control) SetDeviceMode(index uint32, mode device.Mode) error {
	err := c.registry.SetDeviceMode(index, mode)
	return c.record(err, audit.ActionDeviceMode, &index, map[string]any{"mode": mode.String()})
}

func (c *control) SetMotionCompensationReference(index uint32, mode motion.Mode) error {
	err := c.persist(c.registry.SetMotionCompensationReference(index, mode))
	return c.record(err, audit.ActionMotionReference, &index, map[string]any{"mode": mode.String()})
}

func (c *control) SetMode(mode motion.Mode) error {
	err := c.persist(c.engine.SetMode(mode))
	return c.record(err, audit.ActionMotionMode, nil, map[string]any{"mode": mode.String()})
}

func (c *control) SetWindow(n int) error {
	err := c.persist(c.engine.SetWindow(n))
	return c.record(err, audit.ActionWindow, nil, map[string]any{"window": n})
}

func (c *control) SetProcessNoise(v float64) error {
	err := c.persist(c.engine.SetProcessNoise(v))
	return c.record(err, audit.ActionProcessNoise, nil, map[string]any{"variance": v})
}

func (c *control) SetObservationNoise(v float64) error {
	err := c.persist(c.engine.SetObservationNoise(v))
	return c.record(err, audit.ActionObservationNoise, nil, map[string]any{"variance": v})
}

func (c *control) ResetZero() error {
	return c.record(c.engine.ResetZero(), audit.ActionResetZero, nil, nil)
}

func (c *control) Status() motion.Status {
	return c.engine.Status()
}
