package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/frantjc/cargo-apk/adb"
	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/sign"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

const (
	DefaultMaxTries uint = 3
	DefaultInterval      = time.Second
	// StagingDir is where packages are pushed before being installed.
	StagingDir = "/data/local/tmp"
)

// Transport moves bytes to and runs commands on a device.
// adb.Command implements it.
type Transport interface {
	Devices(ctx context.Context) ([]adb.Device, error)
	Push(ctx context.Context, serial, local, remote string) error
	Shell(ctx context.Context, serial string, args ...string) (string, error)
}

var _ Transport = adb.Command("")

// Deployer installs signed packages onto a device.
type Deployer struct {
	Transport Transport
	MaxTries  uint
	Interval  time.Duration
}

func (d *Deployer) maxTries() uint {
	if d.MaxTries == 0 {
		return DefaultMaxTries
	}

	return d.MaxTries
}

func (d *Deployer) interval() time.Duration {
	if d.Interval <= 0 {
		return DefaultInterval
	}

	return d.Interval
}

// InstallOpts configure an Install.
type InstallOpts struct {
	Launch string
}

type InstallOpt func(*InstallOpts)

// WithLaunch starts packageName's entry point once it is installed.
func WithLaunch(packageName string) InstallOpt {
	return func(o *InstallOpts) {
		o.Launch = packageName
	}
}

var errTransferMismatch = errors.New("transferred package does not match")

// Install selects a device with sel, then pushes, installs and
// optionally launches pkg on it. Each phase is retried on transient
// transport errors. A rejection by the device's package manager is
// an InstallError and is not retried.
func (d *Deployer) Install(ctx context.Context, pkg *sign.SignedPackage, sel Selector, opts ...InstallOpt) error {
	o := &InstallOpts{}
	for _, opt := range opts {
		opt(o)
	}

	device, err := d.Select(ctx, sel)
	if err != nil {
		return err
	}

	var (
		log    = logr.FromContextOrDiscard(ctx).WithValues("device", device.Serial)
		serial = device.Serial
		remote = path.Join(StagingDir, "cargo-apk-"+uuid.NewString()+".apk")
	)

	local, err := os.CreateTemp("", "cargo-apk-*.apk")
	if err != nil {
		return apkerr.New(apkerr.Transport, err)
	}
	defer func() {
		_ = os.Remove(local.Name())
	}()

	if _, err = local.Write(pkg.Bytes); err != nil {
		_ = local.Close()
		return apkerr.New(apkerr.Transport, err)
	}

	if err = local.Close(); err != nil {
		return apkerr.New(apkerr.Transport, err)
	}

	expected := pkg.Digest
	if expected == "" {
		expected = digest.FromBytes(pkg.Bytes)
	}

	log.Info("pushing package", "phase", "push", "path", remote, "size", len(pkg.Bytes))

	if _, err = retry(ctx, d, "push", func() (struct{}, error) {
		if err := d.Transport.Push(ctx, serial, local.Name(), remote); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, d.verify(ctx, serial, remote, int64(len(pkg.Bytes)), expected)
	}); err != nil {
		return asTransport("push", err)
	}
	defer func() {
		if _, err := d.Transport.Shell(context.WithoutCancel(ctx), serial, "rm", "-f", remote); err != nil {
			log.V(1).Info("failed to remove staged package", "path", remote, "err", err.Error())
		}
	}()

	log.Info("installing package", "phase", "install")

	if _, err = retry(ctx, d, "install", func() (struct{}, error) {
		return struct{}{}, installResult(d.Transport.Shell(ctx, serial, "pm", "install", "-r", "-t", remote))
	}); err != nil {
		return asTransport("install", err)
	}

	if o.Launch != "" {
		component := android.LaunchComponent(o.Launch)
		log.Info("launching", "phase", "launch", "component", component)

		if _, err = retry(ctx, d, "launch", func() (struct{}, error) {
			out, err := d.Transport.Shell(ctx, serial, "am", "start", "-n", component)
			if strings.Contains(out, "Error:") {
				return struct{}{}, apkerr.New(apkerr.Install, fmt.Errorf("start %s: %s", component, strings.TrimSpace(out)))
			}

			return struct{}{}, err
		}); err != nil {
			return asTransport("launch", err)
		}
	}

	return nil
}

// verify checks the staged file against the size and SHA-256 of what was pushed.
func (d *Deployer) verify(ctx context.Context, serial, remote string, size int64, expected digest.Digest) error {
	out, err := d.Transport.Shell(ctx, serial, "stat", "-c", "%s", remote)
	if err != nil {
		return err
	}

	actualSize, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return fmt.Errorf("parse size of %s: %w", remote, err)
	}

	if actualSize != size {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", errTransferMismatch, remote, actualSize, size)
	}

	if out, err = d.Transport.Shell(ctx, serial, "sha256sum", remote); err != nil {
		return err
	}

	fields := strings.Fields(out)
	if len(fields) == 0 {
		return fmt.Errorf("no checksum for %s", remote)
	}

	if actual := digest.NewDigestFromEncoded(digest.SHA256, fields[0]); actual != expected {
		return fmt.Errorf("%w: %s has digest %s, expected %s", errTransferMismatch, remote, actual, expected)
	}

	return nil
}

// installResult interprets the output of `pm install` and the error, if any,
// of running it. A rejection reported in out is an InstallError whether or
// not pm exited non-zero.
func installResult(out string, err error) error {
	out = strings.TrimSpace(out)

	if i := strings.Index(out, "INSTALL_FAILED_"); i >= 0 {
		reason := out[i:]
		if j := strings.IndexAny(reason, " :]\n"); j >= 0 {
			reason = reason[:j]
		}

		return apkerr.New(apkerr.Install, fmt.Errorf("%s: %s", reason, out))
	}

	if strings.Contains(out, "Failure") {
		return apkerr.New(apkerr.Install, fmt.Errorf("install rejected: %s", out))
	}

	if err != nil {
		return err
	}

	if strings.Contains(out, "Success") {
		return nil
	}

	return fmt.Errorf("unexpected package manager output: %q", out)
}
