// Package version reports the build version of the binary.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set at link time with -ldflags "-X github.com/evagent/evagent/pkg/version.Version=...".
var (
	Version = ""
	Commit  = ""
)

// DetectionSource represents the source of version information
type DetectionSource string

const (
	SourceExplicit  DetectionSource = "explicit"
	SourceBuildInfo DetectionSource = "buildinfo"
	SourceDev       DetectionSource = "dev"
)

// Info contains version information and its source
type Info struct {
	Version   string          `json:"version"`
	Commit    string          `json:"commit,omitempty"`
	GoVersion string          `json:"go_version"`
	Source    DetectionSource `json:"source"`
}

// Detect resolves the version from the linker flags, then from the module
// build information, falling back to "dev".
func Detect() Info {
	return detect(Version, Commit, debug.ReadBuildInfo)
}

func detect(explicit, commit string, read func() (*debug.BuildInfo, bool)) Info {
	info := Info{GoVersion: runtime.Version(), Commit: commit}
	if explicit != "" {
		info.Version = explicit
		info.Source = SourceExplicit
		return info
	}

	if bi, ok := read(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && info.Commit == "" {
				info.Commit = s.Value
			}
		}
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			info.Version = v
			info.Source = SourceBuildInfo
			return info
		}
	}

	info.Version = "dev"
	info.Source = SourceDev
	return info
}

// String returns the bare version.
func (i Info) String() string { return i.Version }
