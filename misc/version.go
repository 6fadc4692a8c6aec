// Package misc keeps small helpers needed across the program which do not
// belong anywhere else.
package misc

import (
	"runtime/debug"
	"sync"
)

const appName = "epr"

// Set at build time via -ldflags, falls back to module build info.
var (
	version string
	gitHash string
)

var readBuildInfo = sync.OnceFunc(func() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if version == "" {
		version = bi.Main.Version
	}
	if gitHash == "" {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				gitHash = s.Value
				break
			}
		}
	}
})

// GetAppName returns short program name used for logs, temp files and reports.
func GetAppName() string {
	return appName
}

// GetVersion returns program version.
func GetVersion() string {
	readBuildInfo()
	if version == "" {
		return "(devel)"
	}
	return version
}

// GetGitHash returns VCS revision program was built from.
func GetGitHash() string {
	readBuildInfo()
	if gitHash == "" {
		return "unknown"
	}
	return gitHash
}
