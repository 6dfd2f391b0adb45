package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	cargoapk "github.com/frantjc/cargo-apk"
	"github.com/frantjc/cargo-apk/aapt2"
	"github.com/frantjc/cargo-apk/adb"
	"github.com/frantjc/cargo-apk/cargo"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/assemble"
	"github.com/frantjc/cargo-apk/internal/builder"
	"github.com/frantjc/cargo-apk/internal/config"
	"github.com/frantjc/cargo-apk/internal/deploy"
	"github.com/frantjc/cargo-apk/internal/ndk"
	"github.com/frantjc/cargo-apk/internal/sign"
	"github.com/frantjc/cargo-apk/keytool"
	xslice "github.com/frantjc/x/slice"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"gocloud.dev/blob"
)

type buildFlags struct {
	manifestPath      string
	targetDir         string
	bin               string
	pkg               string
	out               string
	release           bool
	atomic            bool
	noAtomic          bool
	jobs              int
	features          []string
	allFeatures       bool
	noDefaultFeatures bool
	frozen            bool
	locked            bool
}

func (f *buildFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.manifestPath, "manifest-path", "Cargo.toml", "Path to Cargo.toml.")
	cmd.Flags().StringVar(&f.targetDir, "target-dir", "", "Directory for all generated artifacts.")
	cmd.Flags().StringVar(&f.bin, "bin", "", "Name of the library to load on launch.")
	cmd.Flags().StringVarP(&f.pkg, "package", "p", "", "Package to build.")
	cmd.Flags().StringVar(&f.out, "out", "", "Bucket URL to write packages to.")
	cmd.Flags().BoolVar(&f.release, "release", false, "Build artifacts in release mode, with optimizations.")
	cmd.Flags().BoolVar(&f.atomic, "atomic", false, "Fail if any ABI fails to build.")
	cmd.Flags().BoolVar(&f.noAtomic, "no-atomic", false, "Package the ABIs that built even if others failed.")
	cmd.Flags().IntVarP(&f.jobs, "jobs", "j", 0, "Number of ABIs to build in parallel.")
	cmd.Flags().StringSliceVar(&f.features, "features", nil, "Space or comma separated list of features to activate.")
	cmd.Flags().BoolVar(&f.allFeatures, "all-features", false, "Activate all available features.")
	cmd.Flags().BoolVar(&f.noDefaultFeatures, "no-default-features", false, "Do not activate the default feature.")
	cmd.Flags().BoolVar(&f.frozen, "frozen", false, "Require Cargo.lock and cache are up to date.")
	cmd.Flags().BoolVar(&f.locked, "locked", false, "Require Cargo.lock is up to date.")
	cmd.MarkFlagsMutuallyExclusive("atomic", "no-atomic")
}

func (f *buildFlags) loadOpts() []config.LoadOpt {
	opts := []config.LoadOpt{
		config.WithRelease(f.release),
		config.WithCargoFlags(config.CargoFlags{
			Features:          f.featureList(),
			AllFeatures:       f.allFeatures,
			NoDefaultFeatures: f.noDefaultFeatures,
			Frozen:            f.frozen,
			Locked:            f.locked,
		}),
	}

	if f.pkg != "" {
		opts = append(opts, config.WithPackage(f.pkg))
	}

	if f.bin != "" {
		opts = append(opts, config.WithTarget(f.bin))
	}

	if f.atomic {
		opts = append(opts, config.WithAtomic(true))
	} else if f.noAtomic {
		opts = append(opts, config.WithAtomic(false))
	}

	if f.targetDir != "" {
		opts = append(opts, config.WithTargetDir(f.targetDir))
	}

	return opts
}

// featureList splits --features values on whitespace as well as commas.
func (f *buildFlags) featureList() []string {
	var features []string
	for _, value := range f.features {
		features = append(features, strings.Fields(value)...)
	}

	return features
}

// ArtifactsURL is the default bucket URL packages are written to.
func ArtifactsURL(targetDir string) string {
	return (&url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(filepath.Join(targetDir, "android-artifacts")),
		RawQuery: "create_dir=true&no_tmp_dir=true&metadata=skip",
	}).String()
}

func env(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

// newPipeline wires the collaborators a Pipeline needs from the environment.
// A package whose manifest could not be compiled cannot be installed, so
// when install is set a missing aapt2 or android.jar is a ConfigError.
func newPipeline(cmd *cobra.Command, f *buildFlags, cfg *config.AndroidConfig, install bool) (*cargoapk.Pipeline, func() error, error) {
	var (
		ctx    = cmd.Context()
		log    = cargoapk.LoggerFrom(ctx)
		sdk, _ = ndk.SDKRoot()
	)

	linker, err := newLinker(sdk, cfg)
	if err != nil {
		if install {
			return nil, nil, apkerr.New(apkerr.Config, fmt.Errorf("cannot compile AndroidManifest.xml for the device, set ANDROID_HOME or AAPT2: %w", err))
		}

		slog.New(logr.ToSlogHandler(log)).Warn("packaging textual AndroidManifest.xml, which devices will not install; set ANDROID_HOME or AAPT2 to compile it", "err", err.Error())
	}

	ndkRoot, err := ndk.NDKRoot(sdk)
	if err != nil {
		return nil, nil, apkerr.New(apkerr.Build, err)
	}

	pipeline := &cargoapk.Pipeline{
		Builder: &builder.CargoBuilder{
			Command: cargo.Command(env("CARGO", "cargo")),
			NDK:     ndkRoot,
			Stderr:  cmd.ErrOrStderr(),
		},
		Open: func(ctx context.Context, id config.SigningIdentity) (sign.KeySigner, error) {
			return sign.Open(ctx, id, sign.WithKeytool(keytool.Command(env("KEYTOOL", "keytool"))))
		},
		Linker:    linker,
		Transport: adb.Command(env("ADB", "adb")),
		Jobs:      f.jobs,
	}

	out := f.out
	if out == "" {
		out = ArtifactsURL(cfg.TargetDir)
	}

	log.V(2).Info("opening bucket", "url", out)

	if pipeline.Bucket, err = blob.OpenBucket(ctx, out); err != nil {
		return nil, nil, apkerr.New(apkerr.Config, err)
	}

	return pipeline, pipeline.Bucket.Close, nil
}

func newLinker(sdk string, cfg *config.AndroidConfig) (assemble.ResourceLinker, error) {
	command := os.Getenv("AAPT2")
	if command == "" {
		if sdk == "" {
			return nil, fmt.Errorf("ANDROID_HOME is not set")
		}

		buildTools, err := ndk.BuildTools(sdk)
		if err != nil {
			return nil, err
		}

		command = filepath.Join(buildTools, "aapt2")
	}

	jar, err := ndk.AndroidJar(sdk, cfg.CompileSDKVersion)
	if err != nil {
		return nil, err
	}

	return &assemble.AAPT2Linker{
		Command:          aapt2.Command(command),
		AndroidJar:       jar,
		MinSDKVersion:    cfg.MinSDKVersion,
		TargetSDKVersion: cfg.TargetSDKVersion,
		VersionCode:      cfg.VersionCode,
		VersionName:      cfg.VersionName,
		Debuggable:       !cfg.Release,
	}, nil
}

func printOutput(cmd *cobra.Command, out *cargoapk.BuildOutput) error {
	dropped := xslice.Map(out.Dropped, func(f builder.Failure, _ int) string {
		return f.ABI.Name
	})

	if flag := cmd.Flag("message-format"); flag != nil && flag.Value.String() == MessageFormatJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
			"reason":      "apk-artifact",
			"key":         out.Key,
			"assetlinks":  out.AssetLinksKey,
			"digest":      out.Package.Digest.String(),
			"size":        len(out.Package.Bytes),
			"dropped_abi": dropped,
		})
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Finished %s (%s)\n", out.Key, out.Package.Digest)
	return err
}

func runBuild(cmd *cobra.Command, f *buildFlags) error {
	ctx := cmd.Context()

	cfg, err := config.LoadContext(ctx, f.manifestPath, f.loadOpts()...)
	if err != nil {
		return err
	}

	pipeline, closeBucket, err := newPipeline(cmd, f, cfg, false)
	if err != nil {
		return err
	}
	defer closeBucket()

	out, err := pipeline.Build(ctx, cfg)
	if err != nil {
		return err
	}

	return printOutput(cmd, out)
}

// NewCargoAPK returns the root command for
// cargo-apk which acts as its CLI entrypoint.
func NewCargoAPK() *cobra.Command {
	var (
		f   = &buildFlags{}
		cmd = &cobra.Command{
			Use:   "cargo-apk",
			Short: "Build and install Rust crates as Android packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBuild(cmd, f)
			},
		}
	)

	f.addFlags(cmd)
	cmd.AddCommand(newBuild(), newInstall())

	return SetCommon(cmd, cargoapk.SemVer())
}

func newBuild() *cobra.Command {
	var (
		f   = &buildFlags{}
		cmd = &cobra.Command{
			Use:   "build",
			Short: "Build a signed package",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBuild(cmd, f)
			},
		}
	)

	f.addFlags(cmd)

	return cmd
}

func newInstall() *cobra.Command {
	var (
		f        = &buildFlags{}
		device   string
		noLaunch bool
		cmd      = &cobra.Command{
			Use:   "install",
			Short: "Build a signed package and install it onto a device",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()

				cfg, err := config.LoadContext(ctx, f.manifestPath, f.loadOpts()...)
				if err != nil {
					return err
				}

				pipeline, closeBucket, err := newPipeline(cmd, f, cfg, true)
				if err != nil {
					return err
				}
				defer closeBucket()

				out, err := pipeline.Install(ctx, cfg, deploy.Selector(device), !noLaunch)
				if err != nil {
					return err
				}

				return printOutput(cmd, out)
			},
		}
	)

	f.addFlags(cmd)
	cmd.Flags().StringVarP(&device, "device", "s", "", "Device to install to: a serial, usb or emulator.")
	cmd.Flags().BoolVar(&noLaunch, "no-launch", false, "Do not launch the package once it is installed.")

	return cmd
}
