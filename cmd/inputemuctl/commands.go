package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/nerrad567/inputemu-core/internal/ipc"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

type command struct {
	// stream commands run until ctx is cancelled instead of under the
	// request timeout.
	stream bool
	run    func(ctx context.Context, c *ipc.Client, args []string, out io.Writer) error
}

const commandHelp = `
commands:
  ping                               check the driver is reachable
  device <index>                     show one device
  device-mode <index> normal|disabled
  reference <index> <mode>           use a device as the motion reference
  motion                             show compensation state
  motion-mode <mode>                 disabled, moving_average or kalman
  window <n>                         moving average window
  process-noise <v>                  Kalman process noise variance
  observation-noise <v>              Kalman observation noise variance
  reset-zero                         recapture the reference zero pose
  event <index> <type> [hex] [offset]
                                     inject a vendor-specific event
  watch                              print driver events until interrupted
`

var commands = map[string]command{
	"ping":              {run: cmdPing},
	"device":            {run: cmdDevice},
	"device-mode":       {run: cmdDeviceMode},
	"reference":         {run: cmdReference},
	"motion":            {run: cmdMotion},
	"motion-mode":       {run: cmdMotionMode},
	"window":            {run: cmdWindow},
	"process-noise":     {run: cmdProcessNoise},
	"observation-noise": {run: cmdObservationNoise},
	"reset-zero":        {run: cmdResetZero},
	"event":             {run: cmdEvent},
	"watch":             {stream: true, run: cmdWatch},
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func parseIndex(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid device index %q", s)
	}
	return uint32(v), nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdPing(ctx context.Context, c *ipc.Client, args []string, out io.Writer) error {
	if err := wantArgs(args, 0, "ping"); err != nil {
		return err
	}
	version, err := c.Ping(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "driver protocol version %d\n", version)
	return err
}

func cmdDevice(ctx context.Context, c *ipc.Client, args []string, out io.Writer) error {
	if err := wantArgs(args, 1, "device <index>"); err != nil {
		return err
	}
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	info, err := c.GetDeviceInfo(ctx, index)
	if err != nil {
		return err
	}
	return printJSON(out, info)
}

func cmdDeviceMode(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	if err := wantArgs(args, 2, "device-mode <index> normal|disabled"); err != nil {
		return err
	}
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	switch args[1] {
	case "normal":
		return c.SetDeviceNormalMode(ctx, index)
	case "disabled":
		return c.SetDeviceDisabledMode(ctx, index)
	default:
		return fmt.Errorf("unknown device mode %q", args[1])
	}
}

func cmdReference(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	if err := wantArgs(args, 2, "reference <index> <mode>"); err != nil {
		return err
	}
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	mode, err := motion.ParseMode(args[1])
	if err != nil {
		return err
	}
	return c.SetDeviceMotionCompensationMode(ctx, index, mode)
}

func cmdMotion(ctx context.Context, c *ipc.Client, args []string, out io.Writer) error {
	if err := wantArgs(args, 0, "motion"); err != nil {
		return err
	}
	st, err := c.GetMotionCompensationState(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func cmdMotionMode(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	if err := wantArgs(args, 1, "motion-mode <mode>"); err != nil {
		return err
	}
	mode, err := motion.ParseMode(args[0])
	if err != nil {
		return err
	}
	return c.SetMotionCompensationMode(ctx, mode)
}

func cmdWindow(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	if err := wantArgs(args, 1, "window <n>"); err != nil {
		return err
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid window %q", args[0])
	}
	return c.SetMotionCompensationMovingAverageWindow(ctx, n)
}

func parseFloatArg(args []string, usage string) (float64, error) {
	if err := wantArgs(args, 1, usage); err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[0])
	}
	return v, nil
}

func cmdProcessNoise(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	v, err := parseFloatArg(args, "process-noise <v>")
	if err != nil {
		return err
	}
	return c.SetMotionCompensationKalmanProcessNoise(ctx, v)
}

func cmdObservationNoise(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	v, err := parseFloatArg(args, "observation-noise <v>")
	if err != nil {
		return err
	}
	return c.SetMotionCompensationKalmanObservationNoise(ctx, v)
}

func cmdResetZero(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	if err := wantArgs(args, 0, "reset-zero"); err != nil {
		return err
	}
	return c.ResetMotionCompensationZero(ctx)
}

func cmdEvent(ctx context.Context, c *ipc.Client, args []string, _ io.Writer) error {
	if len(args) < 2 || len(args) > 4 {
		return fmt.Errorf("usage: event <index> <type> [hex] [offset]")
	}
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	eventType, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid event type %q", args[1])
	}
	var data []byte
	if len(args) > 2 {
		if data, err = hex.DecodeString(args[2]); err != nil {
			return fmt.Errorf("invalid event data: %w", err)
		}
	}
	var offset float64
	if len(args) > 3 {
		if offset, err = strconv.ParseFloat(args[3], 64); err != nil {
			return fmt.Errorf("invalid offset %q", args[3])
		}
	}
	return c.VendorSpecificEvent(ctx, index, uint32(eventType), data, offset)
}

func cmdWatch(ctx context.Context, c *ipc.Client, args []string, out io.Writer) error {
	if err := wantArgs(args, 0, "watch"); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	events := make(chan ipc.Event, 64)
	c.SetEventHandler(func(ev ipc.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}
