package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/config"
	xslice "github.com/frantjc/x/slice"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Failure records an ABI that did not build.
type Failure struct {
	ABI android.ABI
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.ABI.Name, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of building every configured ABI.
type Result struct {
	// Artifacts are ordered by ABI.
	Artifacts []Artifact
	// Failures are the ABIs dropped from a non-atomic build.
	Failures []Failure
}

// Driver builds one library per configured ABI in parallel.
type Driver struct {
	Builder Builder
	// Jobs bounds how many ABIs build at once. Defaults to the number of CPUs.
	Jobs int
}

// Build builds every ABI in cfg. In atomic mode the first failure cancels the
// remaining builds and no artifacts are returned. Otherwise failed ABIs are
// dropped with a warning, and the build only fails if no ABI succeeded.
// Either way a failure is a BuildError, except that an artifact which is
// missing or unreadable after its build reported success is an IntegrityError.
func (d *Driver) Build(ctx context.Context, cfg *config.AndroidConfig) (*Result, error) {
	if len(cfg.ABIs) == 0 {
		return nil, apkerr.New(apkerr.Build, fmt.Errorf("no ABIs to build"))
	}

	var (
		log       = logr.FromContextOrDiscard(ctx)
		eg, egctx = errgroup.WithContext(ctx)
		mu        sync.Mutex
		result    = &Result{}
		jobs      = d.Jobs
	)

	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	eg.SetLimit(jobs)

	for _, abi := range cfg.ABIs {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}

			path, err := d.Builder.Build(egctx, &Request{
				ABI:           abi,
				ManifestPath:  cfg.ManifestPath,
				Crate:         cfg.CrateName,
				Target:        cfg.Target,
				TargetDir:     cfg.TargetDir,
				Release:       cfg.Release,
				MinSDKVersion: cfg.MinSDKVersion,
				Cargo:         cfg.Cargo,
			})
			if err != nil {
				failure := Failure{ABI: abi, Err: err}
				if cfg.Atomic {
					return &failure
				}

				mu.Lock()
				result.Failures = append(result.Failures, failure)
				mu.Unlock()

				return nil
			}

			if err := checkIntegrity(path); err != nil {
				return apkerr.New(apkerr.Integrity, fmt.Errorf("%s: %w", abi.Name, err))
			}

			mu.Lock()
			result.Artifacts = append(result.Artifacts, Artifact{ABI: abi, Name: cfg.Target, Path: path})
			mu.Unlock()

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		if apkerr.KindOf(err) == apkerr.Integrity {
			return nil, err
		}

		return nil, apkerr.New(apkerr.Build, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, apkerr.New(apkerr.Build, err)
	}

	sort.Slice(result.Artifacts, func(i, j int) bool {
		return result.Artifacts[i].ABI.Name < result.Artifacts[j].ABI.Name
	})

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].ABI.Name < result.Failures[j].ABI.Name
	})

	if len(result.Artifacts) == 0 {
		return nil, apkerr.New(apkerr.Build, errors.Join(xslice.Map(result.Failures, func(f Failure, _ int) error {
			return &f
		})...))
	}

	warn := slog.New(logr.ToSlogHandler(log))
	for _, f := range result.Failures {
		warn.Warn("dropping ABI that failed to build", "abi", f.ABI.Name, "err", f.Err.Error())
	}

	return result, nil
}

// checkIntegrity makes sure the artifact at path exists, is a regular file and
// can be read.
func checkIntegrity(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	} else if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}

	return f.Close()
}
