// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildvars contains variables injected at build time.
package buildvars

import (
	"runtime/debug"
	"strings"
)

// ModulePath is the module path used to find our version among the
// dependencies of a binary that embeds keysetup.
const ModulePath = "github.com/toeirei/keysetup"

// Set at link time via `-ldflags -X github.com/toeirei/keysetup/buildvars.Version=...`.
// They are empty for local or development builds.
var (
	Version string
	Commit  string
	Date    string
)

// VersionOrDefault returns `Version` if set, otherwise returns the provided default.
func VersionOrDefault(def string) string {
	if len(Version) > 0 {
		return Version
	}
	return def
}

// Resolve computes the best-available version, commit and build date. If
// info is nil, build info is read from the runtime.
func Resolve(info *debug.BuildInfo) (version, commit, date string) {
	version = VersionOrDefault("dev")
	commit = Commit
	if commit == "" {
		commit = "dev"
	}
	date = Date

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}
	if info != nil {
		if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		// Some build paths only record our version as a dependency.
		if version == "dev" {
			for _, dep := range info.Deps {
				if dep.Path == ModulePath && dep.Version != "" {
					version = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" && commit == "dev" {
					commit = s.Value
				}
			case "vcs.time":
				if s.Value != "" && date == "" {
					date = s.Value
				}
			}
		}
	}

	// Last resort: show the commit to aid support.
	if version == "dev" && commit != "dev" {
		version = commit
	}
	return version, commit, date
}

// String renders "version (commit) built: date", leaving out unknown parts.
func String(info *debug.BuildInfo) string {
	v, c, d := Resolve(info)
	var b strings.Builder
	b.WriteString(v)
	if c != "" && c != "dev" && c != v {
		b.WriteString(" (" + c + ")")
	}
	if d != "" {
		b.WriteString(" built: " + d)
	}
	return b.String()
}
