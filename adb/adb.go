package adb

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const (
	// StateDevice is the state of a device that is ready to be talked to.
	StateDevice       = "device"
	StateOffline      = "offline"
	StateUnauthorized = "unauthorized"
)

// Device is a line of `adb devices -l`.
type Device struct {
	Serial      string
	State       string
	Product     string
	Model       string
	Device      string
	TransportID string
}

// Online reports whether the Device can be pushed to.
func (d *Device) Online() bool {
	return d.State == StateDevice
}

// IsEmulator reports whether the Device is an emulator rather than
// hardware attached over USB or TCP.
func (d *Device) IsEmulator() bool {
	return strings.HasPrefix(d.Serial, "emulator-")
}

// Devices finds `adb` on the PATH and runs Devices against it.
// See Command.Devices.
func Devices(ctx context.Context) ([]Device, error) {
	return Command("adb").Devices(ctx)
}

// Command represents the path to an `adb` executable.
type Command string

func (c Command) String() string {
	return string(c)
}

// Devices executes `adb devices -l` and parses its output.
func (c Command) Devices(ctx context.Context) ([]Device, error) {
	out, err := c.run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}

	return ParseDevices(out), nil
}

// ParseDevices parses the output of `adb devices -l`. Banner and
// daemon status lines are skipped.
func ParseDevices(out string) []Device {
	var (
		devices = []Device{}
		scanner = bufio.NewScanner(strings.NewReader(out))
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		device := Device{
			Serial: fields[0],
			State:  fields[1],
		}

		for _, field := range fields[2:] {
			key, value, ok := strings.Cut(field, ":")
			if !ok {
				continue
			}

			switch key {
			case "product":
				device.Product = value
			case "model":
				device.Model = value
			case "device":
				device.Device = value
			case "transport_id":
				device.TransportID = value
			}
		}

		devices = append(devices, device)
	}

	return devices
}

// Push executes `adb -s serial push local remote`.
func (c Command) Push(ctx context.Context, serial, local, remote string) error {
	_, err := c.run(ctx, "-s", serial, "push", local, remote)
	return err
}

// Shell executes `adb -s serial shell args...` and returns its combined output.
// The output is returned even when the command exits non-zero, since tools
// such as `pm install` explain their failures there.
func (c Command) Shell(ctx context.Context, serial string, args ...string) (string, error) {
	return c.run(ctx, append([]string{"-s", serial, "shell"}, args...)...)
}

func (c Command) run(ctx context.Context, args ...string) (string, error) {
	var (
		out = new(bytes.Buffer)
		//nolint:gosec
		cmd = exec.CommandContext(ctx, c.String(), args...)
	)

	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return out.String(), fmt.Errorf("%s %s: %w: %s", c, strings.Join(args, " "), err, msg)
		}

		return out.String(), fmt.Errorf("%s %s: %w", c, strings.Join(args, " "), err)
	}

	return out.String(), nil
}
