// inputemuctl drives a running input emulator over its MQTT control channel.
//
// Usage:
//
//	inputemuctl [-config path] [-timeout 5s] <command> [args]
//
// Run inputemuctl -h for the command list. The daemon must be configured
// with ipc.transport: mqtt; the in-process channel is not reachable from
// another process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/inputemu-core/internal/infrastructure/config"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/inputemu-core/internal/ipc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "inputemuctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inputemuctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("INPUTEMU_CONFIG"), "path to the daemon's config.yaml")
	timeout := fs.Duration("timeout", 0, "per-request timeout (default ipc.request_timeout)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: inputemuctl [flags] <command> [args]")
		fs.PrintDefaults()
		fmt.Fprint(stderr, commandHelp)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *timeout <= 0 {
		*timeout = cfg.GetRequestTimeout()
	}

	mqttCfg := cfg.MQTT
	mqttCfg.Broker.ClientID = "inputemuctl-" + uuid.NewString()[:8]
	broker, err := mqtt.Connect(mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer broker.Close() //nolint:errcheck // Close never fails

	client := ipc.NewClient(
		ipc.NewMQTTTransport(broker, byte(cfg.MQTT.QoS)),
		ipc.WithChannels(cfg.IPC.ServerChannel, cfg.IPC.ClientPrefix),
	)
	return execute(ctx, client, fs.Args(), *timeout, stdout)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// execute connects client, runs one command and disconnects.
func execute(ctx context.Context, client *ipc.Client, args []string, timeout time.Duration, out io.Writer) error {
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	err := client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to driver: %w", err)
	}
	defer client.Disconnect()

	if cmd.stream {
		return cmd.run(ctx, client, args[1:], out)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return cmd.run(callCtx, client, args[1:], out)
}
