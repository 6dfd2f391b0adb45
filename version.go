package cargoapk

import (
	"runtime/debug"
)

// These are set at build time with -ldflags "-X github.com/frantjc/cargo-apk.Version=...".
var (
	Version    = "0.0.0"
	Prerelease = ""
)

// SemVer returns the semantic version of cargo-apk, with the VCS revision
// it was built from as build metadata when it is known.
func SemVer() string {
	semver := Version

	if Prerelease != "" {
		semver = semver + "-" + Prerelease
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				revision := setting.Value
				if len(revision) > 7 {
					revision = revision[:7]
				}

				semver = semver + "+" + revision
				break
			}
		}
	}

	return semver
}
