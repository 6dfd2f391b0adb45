package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/apkregexp"
	xslice "github.com/frantjc/x/slice"
	"github.com/go-logr/logr"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMinSDKVersion    = 21
	DefaultTargetSDKVersion = 29
	DefaultAlignment        = 4
	DefaultABI              = "arm64-v8a"
	DefaultAssetsDir        = "assets"

	// EnvKeystorePassword supplies the keystore password when the
	// configuration leaves it out.
	EnvKeystorePassword = "CARGO_APK_KEYSTORE_PASSWORD"
)

// DefaultPageAlignment is the boundary native libraries are stored on so
// that they can be mapped straight out of the package.
const DefaultPageAlignment = 4096

// MaxAlignment is the largest boundary the alignment extra field can express.
const MaxAlignment = 1 << 15

// MaxTargetSDKVersion is the highest target SDK that accepts a package
// carrying only a JAR signature.
const MaxTargetSDKVersion = 29

// DebugKeystore selects the well-known debug signing identity.
const DebugKeystore = "debug"

// SigningIdentity says where the key and certificate that sign a package come from.
type SigningIdentity struct {
	// Keystore is DebugKeystore, a PKCS#12 (.p12, .pfx), JKS (.jks, .keystore)
	// or PEM-encoded private key (.pem, .key) file.
	Keystore         string
	Alias            string
	KeystorePassword string
	KeyPassword      string
	// Certificate is the PEM-encoded certificate that goes with a PEM private key.
	Certificate string
}

func (i SigningIdentity) IsDebug() bool {
	return i.Keystore == "" || i.Keystore == DebugKeystore
}

// CargoFlags are passed through to every `cargo build`.
type CargoFlags struct {
	Features          []string
	AllFeatures       bool
	NoDefaultFeatures bool
	Frozen            bool
	Locked            bool
}

// AndroidConfig is everything the later stages need to know about the
// package being built. It is produced once by Load and never mutated.
type AndroidConfig struct {
	ManifestPath string
	ProjectDir   string
	TargetDir    string
	CrateName    string
	CrateVersion string

	PackageName string
	Label       string
	// Target is the library whose cdylib becomes the entry point.
	Target            string
	VersionCode       int
	VersionName       string
	Permissions       []string
	MinSDKVersion     int
	TargetSDKVersion  int
	CompileSDKVersion int
	ABIs              []android.ABI
	AssetDirs         []string

	Release       bool
	Atomic        bool
	Alignment     int
	PageAlignment int
	Signing       SigningIdentity
	Cargo         CargoFlags
}

// Profile returns the cargo profile directory name for the build.
func (c *AndroidConfig) Profile() string {
	if c.Release {
		return "release"
	}

	return "debug"
}

// Application returns the package-wide manifest inputs.
func (c *AndroidConfig) Application() *android.Application {
	return &android.Application{
		PackageName:      c.PackageName,
		Label:            c.Label,
		LibName:          c.Target,
		VersionCode:      c.VersionCode,
		VersionName:      c.VersionName,
		MinSDKVersion:    c.MinSDKVersion,
		TargetSDKVersion: c.TargetSDKVersion,
		Permissions:      c.Permissions,
		Debuggable:       !c.Release,
	}
}

// ABINames returns the tags of the configured ABIs in order.
func (c *AndroidConfig) ABINames() []string {
	return xslice.Map(c.ABIs, func(abi android.ABI, _ int) string {
		return abi.Name
	})
}

type LoadOpts struct {
	Release   bool
	Target    string
	Atomic    *bool
	TargetDir string
	Package   string
	Cargo     CargoFlags
}

type LoadOpt func(*LoadOpts)

func WithRelease(release bool) LoadOpt {
	return func(o *LoadOpts) {
		o.Release = release
	}
}

// WithTarget overrides the entry-point library, as --bin does.
func WithTarget(target string) LoadOpt {
	return func(o *LoadOpts) {
		o.Target = target
	}
}

// WithAtomic overrides the atomic key of the configuration.
func WithAtomic(atomic bool) LoadOpt {
	return func(o *LoadOpts) {
		o.Atomic = &atomic
	}
}

func WithTargetDir(dir string) LoadOpt {
	return func(o *LoadOpts) {
		o.TargetDir = dir
	}
}

// WithPackage names the crate to build, as -p does. It must be the crate
// the configuration is read from.
func WithPackage(pkg string) LoadOpt {
	return func(o *LoadOpts) {
		o.Package = pkg
	}
}

// WithCargoFlags sets the feature and lockfile flags cargo builds with.
func WithCargoFlags(flags CargoFlags) LoadOpt {
	return func(o *LoadOpts) {
		o.Cargo = flags
	}
}

// Load reads the configuration at manifestPath. See LoadContext.
func Load(manifestPath string, opts ...LoadOpt) (*AndroidConfig, error) {
	return LoadContext(context.Background(), manifestPath, opts...)
}

// LoadContext reads the [package.metadata.android] table of the Cargo.toml at
// manifestPath, or a standalone YAML document if manifestPath ends in .yml or
// .yaml, applies defaults and overrides, and validates the result. Keys it does
// not understand are logged and otherwise ignored. Every failure is a ConfigError.
func LoadContext(ctx context.Context, manifestPath string, opts ...LoadOpt) (*AndroidConfig, error) {
	cfg, err := load(ctx, manifestPath, opts...)
	if err != nil {
		return nil, apkerr.New(apkerr.Config, err)
	}

	return cfg, nil
}

func load(ctx context.Context, manifestPath string, opts ...LoadOpt) (*AndroidConfig, error) {
	var (
		log = logr.FromContextOrDiscard(ctx)
		o   = &LoadOpts{}
	)

	for _, opt := range opts {
		opt(o)
	}

	manifestPath, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, err
	}

	var (
		crate   string
		version string
		lib     string
		md      *Metadata
	)

	switch strings.ToLower(filepath.Ext(manifestPath)) {
	case ".yml", ".yaml":
		f, err := os.Open(manifestPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		doc := &yamlDocument{}
		if err := yaml.NewDecoder(f).Decode(doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
		}

		crate, version, md = doc.Crate, doc.Version, &doc.Metadata
	default:
		cm := &cargoManifest{}
		meta, err := toml.DecodeFile(manifestPath, cm)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
		}

		for _, key := range meta.Undecoded() {
			if len(key) > 3 && key[0] == "package" && key[1] == "metadata" && key[2] == "android" {
				log.V(1).Info("ignoring unknown configuration key", "key", key.String(), "path", manifestPath)
			}
		}

		crate, version, md = cm.Package.Name, cm.Package.Version, &cm.Package.Metadata.Android
		if cm.Lib != nil {
			lib = cm.Lib.Name
		}
	}

	if crate == "" {
		return nil, fmt.Errorf("%s: no crate name", manifestPath)
	} else if !apkregexp.IsCrateName(crate) {
		return nil, fmt.Errorf("%s: invalid crate name %q", manifestPath, crate)
	} else if o.Package != "" && o.Package != crate {
		return nil, fmt.Errorf("package %q is not the crate %q at %s", o.Package, crate, manifestPath)
	}

	cfg := &AndroidConfig{
		ManifestPath:     manifestPath,
		ProjectDir:       filepath.Dir(manifestPath),
		CrateName:        crate,
		CrateVersion:     version,
		PackageName:      md.PackageName,
		Label:            md.Label,
		Target:           md.Target,
		VersionName:      md.VersionName,
		MinSDKVersion:    DefaultMinSDKVersion,
		TargetSDKVersion: DefaultTargetSDKVersion,
		Release:          o.Release,
		Alignment:        DefaultAlignment,
		PageAlignment:    DefaultPageAlignment,
		Cargo:            o.Cargo,
	}

	if cfg.Cargo.AllFeatures && len(cfg.Cargo.Features) > 0 {
		log.V(1).Info("features are ignored when all features are enabled", "features", cfg.Cargo.Features)
	}

	if cfg.PackageName == "" {
		cfg.PackageName = "rust." + strings.ReplaceAll(crate, "-", "_")
	}

	if !apkregexp.IsPackageName(cfg.PackageName) {
		return nil, fmt.Errorf("invalid package_name %q", cfg.PackageName)
	}

	if cfg.Label == "" {
		cfg.Label = crate
	}

	switch {
	case o.Target != "":
		cfg.Target = o.Target
	case cfg.Target != "":
	case lib != "":
		cfg.Target = lib
	default:
		cfg.Target = crate
	}
	cfg.Target = strings.ReplaceAll(cfg.Target, "-", "_")

	if !apkregexp.IsLibName(cfg.Target) {
		return nil, fmt.Errorf("invalid target %q", cfg.Target)
	}

	if cfg.VersionName == "" {
		cfg.VersionName = version
	}

	if md.VersionCode != nil {
		if *md.VersionCode < 1 {
			return nil, fmt.Errorf("version_code must be positive, got %d", *md.VersionCode)
		}

		cfg.VersionCode = *md.VersionCode
	} else if cfg.VersionName == "" {
		cfg.VersionCode = 1
	} else if cfg.VersionCode, err = VersionCode(cfg.VersionName); err != nil {
		return nil, err
	}

	for _, token := range md.Permissions {
		permission, err := android.CanonicalPermission(token)
		if err != nil {
			return nil, err
		}

		cfg.Permissions = append(cfg.Permissions, permission)
	}
	cfg.Permissions = sortedUnique(cfg.Permissions)

	if md.MinSDKVersion != nil {
		cfg.MinSDKVersion = *md.MinSDKVersion
	}

	if md.TargetSDKVersion != nil {
		cfg.TargetSDKVersion = *md.TargetSDKVersion
	}

	if cfg.MinSDKVersion < 1 {
		return nil, fmt.Errorf("min_sdk_version must be positive, got %d", cfg.MinSDKVersion)
	} else if cfg.MinSDKVersion > cfg.TargetSDKVersion {
		return nil, fmt.Errorf("min_sdk_version %d is greater than target_sdk_version %d", cfg.MinSDKVersion, cfg.TargetSDKVersion)
	} else if cfg.TargetSDKVersion > MaxTargetSDKVersion {
		return nil, fmt.Errorf("target_sdk_version %d requires APK signature scheme v2, but packages are only signed with the v1 JAR scheme, which Android accepts up to target_sdk_version %d", cfg.TargetSDKVersion, MaxTargetSDKVersion)
	}

	cfg.CompileSDKVersion = cfg.TargetSDKVersion
	if md.CompileSDKVersion != nil {
		cfg.CompileSDKVersion = *md.CompileSDKVersion
	}

	tags, ok := md.abiTags()
	if !ok {
		tags = []string{DefaultABI}
	} else if len(tags) == 0 {
		return nil, fmt.Errorf("abis must not be empty")
	}

	for _, tag := range tags {
		abi, err := android.LookupABI(tag)
		if err != nil {
			return nil, err
		}

		if !xslice.Some(cfg.ABIs, func(seen android.ABI, _ int) bool {
			return seen.Name == abi.Name
		}) {
			cfg.ABIs = append(cfg.ABIs, abi)
		}
	}

	if md.Alignment != nil {
		cfg.Alignment = *md.Alignment
	}

	if md.PageAlignment != nil {
		cfg.PageAlignment = *md.PageAlignment
	}

	if cfg.Alignment < 1 || cfg.Alignment&(cfg.Alignment-1) != 0 || cfg.Alignment > MaxAlignment {
		return nil, fmt.Errorf("alignment must be a power of two no greater than %d, got %d", MaxAlignment, cfg.Alignment)
	}

	if cfg.PageAlignment < DefaultPageAlignment || cfg.PageAlignment&(cfg.PageAlignment-1) != 0 || cfg.PageAlignment > MaxAlignment {
		return nil, fmt.Errorf("page_alignment must be a power of two from %d to %d, got %d", DefaultPageAlignment, MaxAlignment, cfg.PageAlignment)
	}

	switch {
	case o.Atomic != nil:
		cfg.Atomic = *o.Atomic
	case md.Atomic != nil:
		cfg.Atomic = *md.Atomic
	default:
		cfg.Atomic = cfg.Release
	}

	dirs, err := md.assetDirs()
	if err != nil {
		return nil, err
	}

	if dirs == nil {
		if fi, err := os.Stat(filepath.Join(cfg.ProjectDir, DefaultAssetsDir)); err == nil && fi.IsDir() {
			dirs = []string{DefaultAssetsDir}
		}
	}

	for _, dir := range dirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cfg.ProjectDir, dir)
		}

		if fi, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("assets: %w", err)
		} else if !fi.IsDir() {
			return nil, fmt.Errorf("assets: %s is not a directory", dir)
		}

		cfg.AssetDirs = append(cfg.AssetDirs, dir)
	}

	if cfg.Signing, err = signingIdentity(cfg.ProjectDir, md.Signing); err != nil {
		return nil, err
	}

	switch {
	case o.TargetDir != "":
		cfg.TargetDir = o.TargetDir
	case os.Getenv("CARGO_TARGET_DIR") != "":
		cfg.TargetDir = os.Getenv("CARGO_TARGET_DIR")
	default:
		cfg.TargetDir = filepath.Join(cfg.ProjectDir, "target")
	}

	if cfg.TargetDir, err = filepath.Abs(cfg.TargetDir); err != nil {
		return nil, err
	}

	log.V(2).Info("loaded configuration", "path", manifestPath, "package", cfg.PackageName, "abis", cfg.ABINames(), "atomic", cfg.Atomic)

	return cfg, nil
}

func signingIdentity(dir string, s *Signing) (SigningIdentity, error) {
	if s == nil || s.Keystore == "" || s.Keystore == DebugKeystore {
		return SigningIdentity{Keystore: DebugKeystore}, nil
	}

	id := SigningIdentity{
		Keystore:         s.Keystore,
		Alias:            s.Alias,
		KeystorePassword: s.KeystorePassword,
		KeyPassword:      s.KeyPassword,
		Certificate:      s.Certificate,
	}

	if !filepath.IsAbs(id.Keystore) {
		id.Keystore = filepath.Join(dir, id.Keystore)
	}

	if id.Certificate != "" && !filepath.IsAbs(id.Certificate) {
		id.Certificate = filepath.Join(dir, id.Certificate)
	}

	if id.KeystorePassword == "" {
		id.KeystorePassword = os.Getenv(EnvKeystorePassword)
	}

	if id.KeyPassword == "" {
		id.KeyPassword = id.KeystorePassword
	}

	switch strings.ToLower(filepath.Ext(id.Keystore)) {
	case ".jks", ".keystore":
		if id.Alias == "" {
			return SigningIdentity{}, fmt.Errorf("signing: keystore %s requires an alias", id.Keystore)
		}
	case ".pem", ".key":
		if id.Certificate == "" {
			return SigningIdentity{}, fmt.Errorf("signing: key %s requires a certificate", id.Keystore)
		}
	}

	return id, nil
}

// VersionCode derives an integer version code from a semantic version as
// major*1000000 + minor*1000 + patch. The result is at least 1.
func VersionCode(versionName string) (int, error) {
	v := versionName
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}

	if !semver.IsValid(v) {
		return 0, fmt.Errorf("version %q is not a semantic version, set version_code", versionName)
	}

	v = semver.Canonical(v)
	v = strings.TrimSuffix(v, semver.Prerelease(v))

	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("version %q: expected major.minor.patch", versionName)
	}

	var code int
	for i, weight := range []int{1_000_000, 1_000, 1} {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, err
		}

		if i > 0 && n >= 1_000 {
			return 0, fmt.Errorf("version %q: component %d too large to derive a version code, set version_code", versionName, n)
		}

		code += n * weight
	}

	return max(code, 1), nil
}

func sortedUnique(in []string) []string {
	out := []string{}
	for _, s := range in {
		if !xslice.Includes(out, s) {
			out = append(out, s)
		}
	}

	sort.Strings(out)

	return out
}
