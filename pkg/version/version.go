// Package version exposes build metadata injected through -ldflags, with a
// fallback to the VCS stamp the Go toolchain embeds in the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

const unknown = "unknown"

// Set through -ldflags "-X github.com/telekom/signature-relay/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// Platform is GOOS/GOARCH of the running binary.
var Platform = runtime.GOOS + "/" + runtime.GOARCH

// BuildInfo is served by /version and printed by `sigctl version`.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"gitCommit"`
	BuildDate string    `json:"buildDate"`
	GoVersion string    `json:"goVersion"`
	Platform  string    `json:"platform"`
	Modified  bool      `json:"modified,omitempty"`
	BuildTime time.Time `json:"buildTime,omitempty"`
}

// GetBuildInfo merges ldflags values with the embedded VCS settings.
// Values set through ldflags win.
func GetBuildInfo() BuildInfo {
	return collect(debug.ReadBuildInfo)
}

func collect(read func() (*debug.BuildInfo, bool)) BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  Platform,
	}

	if bi, ok := read(); ok && bi != nil {
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = s.Value
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}

	if info.GitCommit == "" {
		info.GitCommit = unknown
	}
	if info.BuildDate == "" {
		info.BuildDate = unknown
	}
	if t, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildTime = t
	}
	return info
}

// ShortCommit returns the first 12 characters of the commit hash.
func (b BuildInfo) ShortCommit() string {
	if len(b.GitCommit) > 12 {
		return b.GitCommit[:12]
	}
	return b.GitCommit
}

// String renders the build info on one line, as printed by `sigctl version`.
func (b BuildInfo) String() string {
	commit := b.ShortCommit()
	if b.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("signature-relay %s (commit %s, built %s, %s %s)",
		b.Version, commit, b.BuildDate, b.GoVersion, b.Platform)
}

// UserAgent identifies relay clients in outgoing HTTP requests.
func UserAgent() string {
	return "sigctl/" + Version + " (" + Platform + ")"
}
