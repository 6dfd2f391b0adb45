package cargoapk

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/apkblob"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/assemble"
	"github.com/frantjc/cargo-apk/internal/builder"
	"github.com/frantjc/cargo-apk/internal/config"
	"github.com/frantjc/cargo-apk/internal/deploy"
	"github.com/frantjc/cargo-apk/internal/sign"
	xslice "github.com/frantjc/x/slice"
	"gocloud.dev/blob"
)

// SignerOpener turns a configured signing identity into a sign.KeySigner.
type SignerOpener func(context.Context, config.SigningIdentity) (sign.KeySigner, error)

// Pipeline builds, packages, signs and installs a crate. Its stages run
// one after another; only the per-ABI builds run in parallel.
type Pipeline struct {
	Builder builder.Builder
	// Linker compiles the manifest into binary form. Without one the
	// manifest is packaged as text.
	Linker assemble.ResourceLinker
	// Open defaults to sign.Open.
	Open      SignerOpener
	Transport deploy.Transport
	// Bucket is where packages are written.
	Bucket *blob.Bucket
	Jobs   int

	MaxTries      uint
	RetryInterval time.Duration
}

// BuildOutput is what a Pipeline produced.
type BuildOutput struct {
	Package       *sign.SignedPackage
	Key           string
	AssetLinksKey string
	Artifacts     []builder.Artifact
	// Dropped are the ABIs a non-atomic build left out of Package.
	Dropped []builder.Failure
}

func (p *Pipeline) open(ctx context.Context, id config.SigningIdentity) (sign.KeySigner, error) {
	if p.Open != nil {
		return p.Open(ctx, id)
	}

	return sign.Open(ctx, id)
}

// Build builds a library for each of cfg's ABIs, then writes a signed
// package containing them to the Pipeline's Bucket. Nothing is written
// at the package's key unless every stage succeeds.
func (p *Pipeline) Build(ctx context.Context, cfg *config.AndroidConfig) (*BuildOutput, error) {
	log := LoggerFrom(ctx).WithValues("package", cfg.PackageName, "profile", cfg.Profile())

	if p.Bucket == nil {
		return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("no output bucket"))
	}

	log.Info("building", "abis", cfg.ABINames(), "atomic", cfg.Atomic)

	result, err := (&builder.Driver{Builder: p.Builder, Jobs: p.Jobs}).Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	manifest, err := android.Synthesize(cfg.Application(), xslice.Map(result.Artifacts, func(artifact builder.Artifact, _ int) android.NativeLibrary {
		return artifact.Library()
	}))
	if err != nil {
		return nil, err
	}

	opts := []assemble.AssembleOpt{assemble.WithAlignment(cfg.Alignment)}
	if manifest.ExtractsNativeLibs() {
		opts = append(opts, assemble.WithPageAlignment(cfg.Alignment))
	} else {
		opts = append(opts, assemble.WithPageAlignment(cfg.PageAlignment))
	}
	if p.Linker != nil {
		opts = append(opts, assemble.WithResourceLinker(p.Linker))
	}

	layout, err := assemble.Assemble(ctx, manifest, result.Artifacts, cfg.AssetDirs, opts...)
	if err != nil {
		return nil, err
	}

	var (
		profile = cfg.Profile()
		out     = &BuildOutput{
			Key:           apkblob.APKKey(profile, cfg.Target),
			AssetLinksKey: apkblob.AssetLinksKey(profile, cfg.Target),
			Artifacts:     result.Artifacts,
			Dropped:       result.Failures,
		}
	)

	unsigned, err := layout.Bytes()
	if err != nil {
		return nil, err
	}

	if err = assemble.VerifyAlignment(bytes.NewReader(unsigned), int64(len(unsigned)), layout.Alignment, layout.PageAlignment); err != nil {
		return nil, err
	}

	if err = apkblob.Copy(ctx, p.Bucket, apkblob.UnsignedAPKKey(profile, cfg.Target), bytes.NewReader(unsigned), apkblob.ContentTypeAPK); err != nil {
		return nil, apkerr.New(apkerr.Assembly, err)
	}

	signer, err := p.open(ctx, cfg.Signing)
	if err != nil {
		return nil, apkerr.New(apkerr.Signing, err)
	}

	if out.Package, err = sign.Sign(ctx, layout, signer); err != nil {
		return nil, err
	}
	out.Package.Name = cfg.Target + ".apk"

	if err = apkblob.WritePackage(ctx, p.Bucket, out.Key, out.Package); err != nil {
		return nil, apkerr.New(apkerr.Assembly, err)
	}

	if err = apkblob.WriteAssetLinks(ctx, p.Bucket, out.AssetLinksKey, cfg.PackageName, out.Package); err != nil {
		return nil, apkerr.New(apkerr.Assembly, err)
	}

	log.Info("wrote package", "key", out.Key, "digest", out.Package.Digest.String(), "size", len(out.Package.Bytes))

	return out, nil
}

// Install resolves sel to a single device, then builds and installs the
// package onto it, launching it afterwards if launch is set. An ambiguous
// sel fails before anything is built.
func (p *Pipeline) Install(ctx context.Context, cfg *config.AndroidConfig, sel deploy.Selector, launch bool) (*BuildOutput, error) {
	var (
		log      = LoggerFrom(ctx)
		deployer = &deploy.Deployer{
			Transport: p.Transport,
			MaxTries:  p.MaxTries,
			Interval:  p.RetryInterval,
		}
	)

	if p.Transport == nil {
		return nil, apkerr.New(apkerr.Transport, fmt.Errorf("no device transport"))
	}

	device, err := deployer.Select(ctx, sel)
	if err != nil {
		return nil, err
	}

	out, err := p.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var opts []deploy.InstallOpt
	if launch {
		opts = append(opts, deploy.WithLaunch(cfg.PackageName))
	}

	log.Info("installing", "device", device.Serial, "key", out.Key)

	if err = deployer.Install(ctx, out.Package, deploy.Selector(device.Serial), opts...); err != nil {
		return nil, err
	}

	return out, nil
}
