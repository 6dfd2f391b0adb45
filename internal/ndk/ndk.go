package ndk

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/frantjc/cargo-apk/android"
	"golang.org/x/mod/semver"
)

// SDKRoot finds the Android SDK from ANDROID_HOME or ANDROID_SDK_ROOT.
func SDKRoot() (string, error) {
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if sdk := os.Getenv(env); sdk != "" {
			return sdk, nil
		}
	}

	return "", fmt.Errorf("ANDROID_HOME is not set")
}

// NDKRoot finds the Android NDK from ANDROID_NDK_ROOT or ANDROID_NDK_HOME,
// falling back to the newest side-by-side NDK installed in the SDK at sdk.
func NDKRoot(sdk string) (string, error) {
	for _, env := range []string{"ANDROID_NDK_ROOT", "ANDROID_NDK_HOME"} {
		if ndk := os.Getenv(env); ndk != "" {
			return ndk, nil
		}
	}

	if sdk == "" {
		return "", fmt.Errorf("no NDK found, set ANDROID_NDK_ROOT")
	}

	if ndk, err := newest(filepath.Join(sdk, "ndk")); err == nil {
		return ndk, nil
	}

	if fi, err := os.Stat(filepath.Join(sdk, "ndk-bundle")); err == nil && fi.IsDir() {
		return filepath.Join(sdk, "ndk-bundle"), nil
	}

	return "", fmt.Errorf("no NDK found in %s, set ANDROID_NDK_ROOT", sdk)
}

// newest returns the child of dir with the highest version-like name.
func newest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var versions []string
	for _, entry := range entries {
		if entry.IsDir() && semver.IsValid("v"+entry.Name()) {
			versions = append(versions, entry.Name())
		}
	}

	if len(versions) == 0 {
		return "", fmt.Errorf("%w in %s", os.ErrNotExist, dir)
	}

	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare("v"+versions[i], "v"+versions[j]) < 0
	})

	return filepath.Join(dir, versions[len(versions)-1]), nil
}

// AndroidJar returns the platform android.jar of the given API level in the SDK at sdk.
func AndroidJar(sdk string, api int) (string, error) {
	jar := filepath.Join(sdk, "platforms", "android-"+strconv.Itoa(api), "android.jar")
	if _, err := os.Stat(jar); err != nil {
		return "", fmt.Errorf("platform %d not installed: %w", api, err)
	}

	return jar, nil
}

// BuildTools returns the newest build-tools directory in the SDK at sdk.
func BuildTools(sdk string) (string, error) {
	return newest(filepath.Join(sdk, "build-tools"))
}

// Toolchain is the NDK toolchain that links a library for a single ABI.
type Toolchain struct {
	ABI     android.ABI
	API     int
	Linker  string
	AR      string
	Sysroot string
}

// NewToolchain resolves the clang wrapper of the highest API level that does
// not exceed minSDK, so the produced library loads on every supported device.
func NewToolchain(ndk string, abi android.ABI, minSDK int) (*Toolchain, error) {
	prebuilt := filepath.Join(ndk, "toolchains", "llvm", "prebuilt")

	host := filepath.Join(prebuilt, runtime.GOOS+"-x86_64")
	if _, err := os.Stat(host); err != nil {
		hosts, _ := filepath.Glob(filepath.Join(prebuilt, "*"))
		if len(hosts) == 0 {
			return nil, fmt.Errorf("no prebuilt LLVM toolchain in %s", ndk)
		}
		host = hosts[0]
	}

	var (
		bin    = filepath.Join(host, "bin")
		suffix = "-clang"
		linker string
		api    int
	)

	if runtime.GOOS == "windows" {
		suffix += ".cmd"
	}

	compilers, err := filepath.Glob(filepath.Join(bin, abi.ClangTriple+"*"+suffix))
	if err != nil {
		return nil, err
	}

	for _, compiler := range compilers {
		level, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(filepath.Base(compiler), abi.ClangTriple), suffix))
		if err != nil || level > minSDK {
			continue
		}

		if level > api {
			api, linker = level, compiler
		}
	}

	if linker == "" {
		return nil, fmt.Errorf("no clang for %s at or below API %d in %s", abi.Name, minSDK, bin)
	}

	return &Toolchain{
		ABI:     abi,
		API:     api,
		Linker:  linker,
		AR:      filepath.Join(bin, "llvm-ar"),
		Sysroot: filepath.Join(host, "sysroot"),
	}, nil
}

// Env returns the environment that points cargo and the cc crate at t.
func (t *Toolchain) Env() []string {
	var (
		triple = t.ABI.Triple
		upper  = strings.ToUpper(strings.ReplaceAll(triple, "-", "_"))
		lower  = strings.ReplaceAll(triple, "-", "_")
	)

	return []string{
		"CARGO_TARGET_" + upper + "_LINKER=" + t.Linker,
		"CARGO_TARGET_" + upper + "_AR=" + t.AR,
		"CC_" + lower + "=" + t.Linker,
		"AR_" + lower + "=" + t.AR,
		"CFLAGS_" + lower + "=--sysroot=" + t.Sysroot,
	}
}
