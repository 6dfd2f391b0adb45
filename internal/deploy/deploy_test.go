package deploy_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frantjc/cargo-apk/adb"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/deploy"
	"github.com/frantjc/cargo-apk/internal/sign"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu            sync.Mutex
	devices       []adb.Device
	pushErrs      []error
	corruptPushes int
	installOutput string
	installErr    error
	files         map[string][]byte
	calls         []string
}

func (f *fakeTransport) Devices(_ context.Context) ([]adb.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "devices")

	return f.devices, nil
}

func (f *fakeTransport) Push(_ context.Context, serial, local, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "push "+serial)

	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		return err
	}

	b, err := os.ReadFile(local)
	if err != nil {
		return err
	}

	if f.corruptPushes > 0 {
		f.corruptPushes--
		b = b[:len(b)/2]
	}

	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[remote] = b

	return nil
}

func (f *fakeTransport) Shell(_ context.Context, serial string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, args[0]+" "+serial)

	switch args[0] {
	case "stat":
		b, ok := f.files[args[len(args)-1]]
		if !ok {
			return "", fmt.Errorf("stat: %s: No such file or directory", args[len(args)-1])
		}

		return strconv.Itoa(len(b)) + "\n", nil
	case "sha256sum":
		return digest.FromBytes(f.files[args[1]]).Encoded() + "  " + args[1] + "\n", nil
	case "pm":
		if f.installOutput != "" {
			return f.installOutput, f.installErr
		}

		return "Performing Streamed Install\nSuccess\n", nil
	case "am":
		return "Starting: Intent { cmp=" + args[len(args)-1] + " }\n", nil
	case "rm":
		delete(f.files, args[len(args)-1])
		return "", nil
	}

	return "", fmt.Errorf("unexpected shell command %s", strings.Join(args, " "))
}

func (f *fakeTransport) count(prefix string) int {
	n := 0
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}

	return n
}

var (
	phone    = adb.Device{Serial: "0123456789ABCDEF", State: adb.StateDevice}
	emulator = adb.Device{Serial: "emulator-5554", State: adb.StateDevice}
)

func newPackage() *sign.SignedPackage {
	b := []byte("PK\x03\x04 a signed package")
	return &sign.SignedPackage{Bytes: b, Digest: digest.FromBytes(b)}
}

func newDeployer(transport deploy.Transport) *deploy.Deployer {
	return &deploy.Deployer{Transport: transport, Interval: time.Millisecond}
}

func TestInstall(t *testing.T) {
	transport := &fakeTransport{devices: []adb.Device{phone}}

	require.NoError(t, newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny, deploy.WithLaunch("rust.app")))

	assert.Equal(t, []string{
		"devices",
		"push " + phone.Serial,
		"stat " + phone.Serial,
		"sha256sum " + phone.Serial,
		"pm " + phone.Serial,
		"am " + phone.Serial,
		"rm " + phone.Serial,
	}, transport.calls)
	assert.Empty(t, transport.files)
}

func TestInstallStagingPath(t *testing.T) {
	var (
		staged    []string
		transport = &recordingTransport{fakeTransport: &fakeTransport{devices: []adb.Device{phone}}, staged: &staged}
	)

	require.NoError(t, newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny))
	require.NoError(t, newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny))

	require.Len(t, staged, 2)
	for _, remote := range staged {
		assert.Regexp(t, regexp.MustCompile(`^/data/local/tmp/cargo-apk-[0-9a-f-]{36}\.apk$`), remote)
	}
	assert.NotEqual(t, staged[0], staged[1])
}

type recordingTransport struct {
	*fakeTransport
	staged *[]string
}

func (r *recordingTransport) Push(ctx context.Context, serial, local, remote string) error {
	*r.staged = append(*r.staged, remote)
	return r.fakeTransport.Push(ctx, serial, local, remote)
}

func TestInstallNoLaunch(t *testing.T) {
	transport := &fakeTransport{devices: []adb.Device{phone}}

	require.NoError(t, newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny))
	assert.Zero(t, transport.count("am"))
}

func TestInstallAmbiguous(t *testing.T) {
	transport := &fakeTransport{devices: []adb.Device{phone, emulator}}

	err := newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.AmbiguousDevice))
	assert.Contains(t, err.Error(), phone.Serial)
	assert.Contains(t, err.Error(), emulator.Serial)
	assert.Equal(t, []string{"devices"}, transport.calls)
}

func TestSelect(t *testing.T) {
	var (
		offline   = adb.Device{Serial: "192.168.1.20:5555", State: adb.StateOffline}
		transport = &fakeTransport{devices: []adb.Device{phone, emulator, offline}}
		deployer  = newDeployer(transport)
		ctx       = context.Background()
	)

	device, err := deployer.Select(ctx, deploy.SelectUSB)
	require.NoError(t, err)
	assert.Equal(t, phone.Serial, device.Serial)

	device, err = deployer.Select(ctx, deploy.SelectEmulator)
	require.NoError(t, err)
	assert.Equal(t, emulator.Serial, device.Serial)

	device, err = deployer.Select(ctx, deploy.Selector(emulator.Serial))
	require.NoError(t, err)
	assert.Equal(t, emulator.Serial, device.Serial)

	_, err = deployer.Select(ctx, deploy.Selector(offline.Serial))
	assert.True(t, errors.Is(err, apkerr.Transport))
	assert.Contains(t, err.Error(), "offline")

	_, err = deployer.Select(ctx, deploy.Selector("not-attached"))
	assert.True(t, errors.Is(err, apkerr.Transport))

	_, err = deployer.Select(ctx, deploy.Selector("bad serial!"))
	assert.True(t, errors.Is(err, apkerr.Transport))
}

func TestInstallNoDevice(t *testing.T) {
	transport := &fakeTransport{}

	err := newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.Transport))
	assert.Zero(t, transport.count("push"))
}

func TestInstallRetriesTransient(t *testing.T) {
	transport := &fakeTransport{
		devices:  []adb.Device{phone},
		pushErrs: []error{errors.New("adb: error: connection reset by peer")},
	}

	require.NoError(t, newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny))
	assert.Equal(t, 2, transport.count("push"))
}

func TestInstallRetriesCorruptTransfer(t *testing.T) {
	transport := &fakeTransport{
		devices:       []adb.Device{phone},
		corruptPushes: 1,
	}

	require.NoError(t, newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny))
	assert.Equal(t, 2, transport.count("push"))
	assert.Equal(t, 1, transport.count("sha256sum"))
}

func TestInstallTransientExhausted(t *testing.T) {
	transport := &fakeTransport{
		devices: []adb.Device{phone},
		pushErrs: []error{
			errors.New("error: device offline"),
			errors.New("error: device offline"),
			errors.New("error: device offline"),
			errors.New("error: device offline"),
		},
	}

	err := newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.Transport))
	assert.Equal(t, int(deploy.DefaultMaxTries), transport.count("push"))
	assert.Zero(t, transport.count("pm"))
}

func TestInstallProtocolErrorNotRetried(t *testing.T) {
	transport := &fakeTransport{
		devices:  []adb.Device{phone},
		pushErrs: []error{errors.New("adb: error: cannot stat 'app.apk': Permission denied")},
	}

	err := newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.Transport))
	assert.Equal(t, 1, transport.count("push"))
}

func TestInstallRejected(t *testing.T) {
	transport := &fakeTransport{
		devices:       []adb.Device{phone},
		installOutput: "Failure [INSTALL_FAILED_UPDATE_INCOMPATIBLE: Package rust.app signatures do not match previously installed version]\n",
	}

	err := newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny, deploy.WithLaunch("rust.app"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.Install))
	assert.Contains(t, err.Error(), "INSTALL_FAILED_UPDATE_INCOMPATIBLE")
	assert.Equal(t, 1, transport.count("pm"))
	assert.Zero(t, transport.count("am"))
	assert.Equal(t, 1, transport.count("rm"))
	assert.Empty(t, transport.files)
}

func TestInstallRejectedNonZeroExit(t *testing.T) {
	transport := &fakeTransport{
		devices:       []adb.Device{phone},
		installOutput: "Failure [INSTALL_FAILED_INSUFFICIENT_STORAGE: stream closed early]\n",
		installErr:    errors.New("adb -s 0123456789ABCDEF shell pm install: exit status 1"),
	}

	err := newDeployer(transport).Install(context.Background(), newPackage(), deploy.SelectAny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apkerr.Install))
	assert.False(t, errors.Is(err, apkerr.Transport))
	assert.Contains(t, err.Error(), "INSTALL_FAILED_INSUFFICIENT_STORAGE")
	assert.Equal(t, 1, transport.count("pm"))
	assert.Equal(t, 1, transport.count("rm"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, deploy.IsTransient(errors.New("error: closed")))
	assert.True(t, deploy.IsTransient(fmt.Errorf("push: %w", errors.New("unexpected EOF"))))
	assert.False(t, deploy.IsTransient(errors.New("error: no such file")))
	assert.False(t, deploy.IsTransient(nil))
}
