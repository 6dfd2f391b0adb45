package assemble

import (
	"archive/zip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/frantjc/cargo-apk/internal/builder"
	"github.com/go-logr/logr"
)

// LinkedResources is the output of a ResourceLinker.
type LinkedResources struct {
	// Manifest is the compiled, binary AndroidManifest.xml.
	Manifest []byte
	// Resources is the resource table, if any.
	Resources []byte
}

// ResourceLinker compiles a textual manifest into its binary form.
type ResourceLinker interface {
	Link(ctx context.Context, manifest []byte) (*LinkedResources, error)
}

const (
	DefaultPageAlignment = 4096
	// MaxAlignment is the largest boundary the alignment extra field can express.
	MaxAlignment = 1 << 15
)

type AssembleOpts struct {
	Alignment     int
	PageAlignment int
	Linker        ResourceLinker
}

type AssembleOpt func(*AssembleOpts)

func WithAlignment(alignment int) AssembleOpt {
	return func(o *AssembleOpts) {
		o.Alignment = alignment
	}
}

// WithPageAlignment sets the boundary native libraries are stored on.
// They must be page-aligned for the platform to load them without
// extracting them first.
func WithPageAlignment(pageAlignment int) AssembleOpt {
	return func(o *AssembleOpts) {
		o.PageAlignment = pageAlignment
	}
}

func WithResourceLinker(linker ResourceLinker) AssembleOpt {
	return func(o *AssembleOpts) {
		o.Linker = linker
	}
}

type asset struct {
	name string
	path string
}

// Assemble lays out a package: the manifest first, then the resource table if
// one was linked, then every library ordered by ABI, then every file under
// assetDirs ordered by archive path. Libraries and the resource table are stored
// and aligned, everything else is deflated. Failures are AssemblyErrors.
func Assemble(ctx context.Context, manifest *android.Manifest, artifacts []builder.Artifact, assetDirs []string, opts ...AssembleOpt) (*Layout, error) {
	var (
		log = logr.FromContextOrDiscard(ctx)
		o   = &AssembleOpts{Alignment: 4, PageAlignment: DefaultPageAlignment}
	)

	for _, opt := range opts {
		opt(o)
	}

	if manifest == nil {
		return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("no manifest"))
	}

	for _, alignment := range []int{o.Alignment, o.PageAlignment} {
		if alignment < 1 || alignment&(alignment-1) != 0 || alignment > MaxAlignment {
			return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("alignment must be a power of two no greater than %d, got %d", MaxAlignment, alignment))
		}
	}

	manifestXML, err := manifest.Encode()
	if err != nil {
		return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("encode %s: %w", android.AndroidManifestName, err))
	}

	var (
		layout    = &Layout{Alignment: o.Alignment, PageAlignment: o.PageAlignment}
		resources []byte
	)

	if o.Linker != nil {
		linked, err := o.Linker.Link(ctx, manifestXML)
		if err != nil {
			return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("link resources: %w", err))
		}

		manifestXML, resources = linked.Manifest, linked.Resources
	}

	if err := layout.Add(Entry{Name: android.AndroidManifestName, Data: manifestXML, Method: zip.Deflate}); err != nil {
		return nil, err
	}

	if len(resources) > 0 {
		if err := layout.Add(Entry{Name: ResourcesName, Data: resources, Method: zip.Store}); err != nil {
			return nil, err
		}
	}

	libs := append([]builder.Artifact{}, artifacts...)
	sort.SliceStable(libs, func(i, j int) bool {
		return libs[i].Library().ArchivePath() < libs[j].Library().ArchivePath()
	})

	for _, lib := range libs {
		name := lib.Library().ArchivePath()

		data, err := os.ReadFile(lib.Path)
		if err != nil {
			return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("read %s for %s: %w", lib.Path, name, err))
		}

		if err := layout.Add(Entry{Name: name, Data: data, Method: zip.Store}); err != nil {
			return nil, err
		}

		log.V(2).Info("added native library", "abi", lib.ABI.Name, "path", name)
	}

	assets, err := enumerateAssets(assetDirs)
	if err != nil {
		return nil, err
	}

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return nil, apkerr.New(apkerr.Assembly, err)
		}

		data, err := os.ReadFile(a.path)
		if err != nil {
			return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("read asset %s: %w", a.path, err))
		}

		if err := layout.Add(Entry{Name: a.name, Data: data, Method: zip.Deflate}); err != nil {
			return nil, err
		}
	}

	log.V(2).Info("assembled package layout", "entries", len(layout.Entries), "assets", len(assets))

	return layout, nil
}

func enumerateAssets(dirs []string) ([]asset, error) {
	var assets []asset

	for _, dir := range dirs {
		if err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			} else if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}

			assets = append(assets, asset{
				name: path.Join(AssetsDir, filepath.ToSlash(rel)),
				path: p,
			})

			return nil
		}); err != nil {
			return nil, apkerr.New(apkerr.Assembly, fmt.Errorf("enumerate assets in %s: %w", dir, err))
		}
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].name < assets[j].name
	})

	return assets, nil
}
