package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/frantjc/cargo-apk/adb"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/apkregexp"
	xslice "github.com/frantjc/x/slice"
)

// Selector picks the device to install to. It is SelectUSB, SelectEmulator,
// a device serial, or empty to mean the only device attached.
type Selector string

const (
	SelectAny      Selector = ""
	SelectUSB      Selector = "usb"
	SelectEmulator Selector = "emulator"
)

func (s Selector) String() string {
	if s == SelectAny {
		return "any"
	}

	return string(s)
}

// Select resolves sel against the devices the Transport can see.
// More than one match is an AmbiguousDeviceError and no match is a
// TransportError.
func (d *Deployer) Select(ctx context.Context, sel Selector) (*adb.Device, error) {
	switch sel {
	case SelectAny, SelectUSB, SelectEmulator:
	default:
		if !apkregexp.IsSerial(string(sel)) {
			return nil, apkerr.New(apkerr.Transport, fmt.Errorf("invalid device serial %q", sel))
		}
	}

	devices, err := retry(ctx, d, "devices", func() ([]adb.Device, error) {
		return d.Transport.Devices(ctx)
	})
	if err != nil {
		return nil, asTransport("list devices", err)
	}

	candidates := xslice.Filter(devices, func(device adb.Device, _ int) bool {
		switch sel {
		case SelectAny:
			return true
		case SelectUSB:
			return !device.IsEmulator()
		case SelectEmulator:
			return device.IsEmulator()
		}

		return device.Serial == string(sel)
	})

	online := xslice.Filter(candidates, func(device adb.Device, _ int) bool {
		return device.Online()
	})

	switch len(online) {
	case 0:
		if len(candidates) > 0 {
			return nil, apkerr.New(apkerr.Transport, fmt.Errorf("device %s is %s", candidates[0].Serial, candidates[0].State))
		}

		return nil, apkerr.New(apkerr.Transport, fmt.Errorf("no device found matching %s", sel))
	case 1:
		return &online[0], nil
	}

	return nil, apkerr.New(apkerr.AmbiguousDevice, fmt.Errorf("%d devices match %s: %s",
		len(online), sel,
		strings.Join(xslice.Map(online, func(device adb.Device, _ int) string {
			return device.Serial
		}), ", "),
	))
}
