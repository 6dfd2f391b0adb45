package android

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/frantjc/cargo-apk/internal/apkerr"
)

const (
	// NativeActivity is the framework activity that loads the native
	// library named by MetadataLibName and hands control to it.
	NativeActivity  = "android.app.NativeActivity"
	MetadataLibName = "android.app.lib_name"
	// MetadataNativeLibraryPrefix prefixes the per-ABI meta-data entries
	// that reference each packaged native library.
	MetadataNativeLibraryPrefix = "rust.native_library."
)

// Application is what the manifest says about the package as a whole.
type Application struct {
	PackageName      string
	Label            string
	LibName          string
	VersionCode      int
	VersionName      string
	MinSDKVersion    int
	TargetSDKVersion int
	// Permissions are fully-qualified permission names.
	Permissions []string
	Debuggable  bool
}

// Synthesize builds the Manifest for app loading libs. It is deterministic:
// permissions are sorted and de-duplicated and libraries are declared once
// per distinct ABI in ABI order, regardless of input order.
func Synthesize(app *Application, libs []NativeLibrary) (*Manifest, error) {
	if len(libs) == 0 {
		return nil, apkerr.New(apkerr.Manifest, fmt.Errorf("no native libraries to declare in %s", AndroidManifestName))
	}

	if app.LibName == "" {
		return nil, apkerr.New(apkerr.Manifest, fmt.Errorf("no entry point library name for %s", app.PackageName))
	}

	byABI := map[string]NativeLibrary{}
	for _, lib := range libs {
		byABI[lib.ABI.Name] = lib
	}

	abiNames := make([]string, 0, len(byABI))
	for name := range byABI {
		abiNames = append(abiNames, name)
	}
	sort.Strings(abiNames)

	m := &Manifest{
		Attrs: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:android"}, Value: NamespaceAndroid},
			{Name: xml.Name{Local: "package"}, Value: app.PackageName},
			androidAttr("versionCode", strconv.Itoa(app.VersionCode)),
			androidAttr("versionName", app.VersionName),
		},
		UsesSDK: &ManifestUsesSDK{
			Attrs: []xml.Attr{
				androidAttr("minSdkVersion", strconv.Itoa(app.MinSDKVersion)),
				androidAttr("targetSdkVersion", strconv.Itoa(app.TargetSDKVersion)),
			},
		},
	}

	for _, permission := range sortedUnique(app.Permissions) {
		m.UsesPermission = append(m.UsesPermission, ManifestUsesPermission{
			Attrs: []xml.Attr{androidAttr("name", permission)},
		})
	}

	m.Application.Attrs = []xml.Attr{
		androidAttr("label", app.Label),
		androidAttr("hasCode", "false"),
		androidAttr("debuggable", strconv.FormatBool(app.Debuggable)),
		androidAttr("extractNativeLibs", "false"),
	}

	for _, name := range abiNames {
		m.Application.Metadata = append(m.Application.Metadata, ManifestApplicationMetadata{
			Attrs: []xml.Attr{
				androidAttr("name", MetadataNativeLibraryPrefix+name),
				androidAttr("value", byABI[name].ArchivePath()),
			},
		})
	}

	m.Application.Activities = []ManifestApplicationActivity{
		{
			Metadata: []ManifestApplicationMetadata{
				{
					Attrs: []xml.Attr{
						androidAttr("name", MetadataLibName),
						androidAttr("value", app.LibName),
					},
				},
			},
			IntentFilter: &ManifestApplicationIntentFilter{
				Actions: []ManifestApplicationMetadata{
					{Attrs: []xml.Attr{androidAttr("name", "android.intent.action.MAIN")}},
				},
				Categories: []ManifestApplicationMetadata{
					{Attrs: []xml.Attr{androidAttr("name", "android.intent.category.LAUNCHER")}},
				},
			},
			Attrs: []xml.Attr{
				androidAttr("name", NativeActivity),
				androidAttr("label", app.Label),
				androidAttr("exported", "true"),
				androidAttr("configChanges", "orientation|keyboardHidden|screenSize"),
			},
		},
	}

	return m, nil
}

// LaunchComponent returns the component name that starts app's entry point.
func LaunchComponent(packageName string) string {
	return packageName + "/" + NativeActivity
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
