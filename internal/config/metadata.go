package config

import (
	"fmt"
)

// Metadata is the [package.metadata.android] table of a Cargo.toml, or
// the whole of a standalone YAML configuration. Every key is optional.
type Metadata struct {
	PackageName       string   `toml:"package_name" yaml:"package_name"`
	Label             string   `toml:"label" yaml:"label"`
	Target            string   `toml:"target" yaml:"target"`
	VersionCode       *int     `toml:"version_code" yaml:"version_code"`
	VersionName       string   `toml:"version_name" yaml:"version_name"`
	Permissions       []string `toml:"permissions" yaml:"permissions"`
	MinSDKVersion     *int     `toml:"min_sdk_version" yaml:"min_sdk_version"`
	TargetSDKVersion  *int     `toml:"target_sdk_version" yaml:"target_sdk_version"`
	CompileSDKVersion *int     `toml:"compile_sdk_version" yaml:"compile_sdk_version"`
	ABIs              []string `toml:"abis" yaml:"abis"`
	BuildTargets      []string `toml:"build_targets" yaml:"build_targets"`
	Assets            any      `toml:"assets" yaml:"assets"`
	Atomic            *bool    `toml:"atomic" yaml:"atomic"`
	Alignment         *int     `toml:"alignment" yaml:"alignment"`
	PageAlignment     *int     `toml:"page_alignment" yaml:"page_alignment"`
	Signing           *Signing `toml:"signing" yaml:"signing"`
}

type Signing struct {
	Keystore         string `toml:"keystore" yaml:"keystore"`
	Alias            string `toml:"alias" yaml:"alias"`
	KeystorePassword string `toml:"keystore_password" yaml:"keystore_password"`
	KeyPassword      string `toml:"key_password" yaml:"key_password"`
	Certificate      string `toml:"certificate" yaml:"certificate"`
}

// abiTags returns the configured ABI tags, preferring abis over the legacy
// build_targets key, and whether either was set at all.
func (m *Metadata) abiTags() ([]string, bool) {
	switch {
	case m.ABIs != nil:
		return m.ABIs, true
	case m.BuildTargets != nil:
		return m.BuildTargets, true
	}

	return nil, false
}

// assetDirs accepts both a single directory and a list of directories.
func (m *Metadata) assetDirs() ([]string, error) {
	switch assets := m.Assets.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{assets}, nil
	case []string:
		return assets, nil
	case []any:
		dirs := make([]string, 0, len(assets))
		for _, a := range assets {
			dir, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("assets: expected a string, got %T", a)
			}
			dirs = append(dirs, dir)
		}
		return dirs, nil
	}

	return nil, fmt.Errorf("assets: expected a string or a list of strings, got %T", m.Assets)
}

type cargoManifest struct {
	Package cargoPackage `toml:"package"`
	Lib     *cargoLib    `toml:"lib"`
}

type cargoPackage struct {
	Name     string        `toml:"name"`
	Version  string        `toml:"version"`
	Metadata cargoMetadata `toml:"metadata"`
}

type cargoMetadata struct {
	Android Metadata `toml:"android"`
}

type cargoLib struct {
	Name      string   `toml:"name"`
	CrateType []string `toml:"crate-type"`
}

// yamlDocument is a standalone configuration. It carries the crate
// identity that a Cargo.toml would otherwise provide.
type yamlDocument struct {
	Crate    string `yaml:"crate"`
	Version  string `yaml:"version"`
	Metadata `yaml:",inline"`
}
