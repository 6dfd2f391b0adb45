package android

import (
	"fmt"
	"path"
	"sort"
)

// ABI identifies a CPU architecture variant that native libraries are built for.
// Name is used verbatim as the directory under lib/ in a package.
type ABI struct {
	Name string
	// Triple is the Rust target triple that cargo builds for.
	Triple string
	// ClangTriple is the prefix of the NDK's clang wrapper scripts.
	ClangTriple string
}

func (a ABI) String() string {
	return a.Name
}

var abis = map[string]ABI{
	"arm64-v8a":   {"arm64-v8a", "aarch64-linux-android", "aarch64-linux-android"},
	"armeabi-v7a": {"armeabi-v7a", "armv7-linux-androideabi", "armv7a-linux-androideabi"},
	"x86":         {"x86", "i686-linux-android", "i686-linux-android"},
	"x86_64":      {"x86_64", "x86_64-linux-android", "x86_64-linux-android"},
	"arm64":       {"arm64", "aarch64-linux-android", "aarch64-linux-android"},
	"arm":         {"arm", "armv7-linux-androideabi", "armv7a-linux-androideabi"},
}

// triples maps Rust target triples, as written in legacy build_targets
// lists, to the Android ABI they produce.
var triples = map[string]string{
	"aarch64-linux-android":   "arm64-v8a",
	"armv7-linux-androideabi": "armeabi-v7a",
	"arm-linux-androideabi":   "armeabi-v7a",
	"i686-linux-android":      "x86",
	"x86_64-linux-android":    "x86_64",
}

// LookupABI resolves an ABI tag or a Rust target triple.
func LookupABI(tag string) (ABI, error) {
	if abi, ok := abis[tag]; ok {
		return abi, nil
	}

	if name, ok := triples[tag]; ok {
		return abis[name], nil
	}

	return ABI{}, fmt.Errorf("unknown ABI %q, expected one of %v", tag, ABINames())
}

// ABINames returns the sorted known ABI tags.
func ABINames() []string {
	names := make([]string, 0, len(abis))
	for name := range abis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NativeLibrary is a shared library for a single ABI as it appears inside a package.
type NativeLibrary struct {
	ABI ABI
	// Name is the library name without the lib prefix and .so suffix.
	Name string
}

// FileName returns lib<name>.so.
func (l NativeLibrary) FileName() string {
	return "lib" + l.Name + ".so"
}

// ArchivePath returns lib/<abi>/lib<name>.so.
func (l NativeLibrary) ArchivePath() string {
	return path.Join("lib", l.ABI.Name, l.FileName())
}
