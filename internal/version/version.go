package version

import (
	"runtime/debug"
	"time"
)

// Set with -ldflags "-X github.com/you/streamrig/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Resolve fills Commit and BuildTime from the embedded VCS stamp when the
// linker flags were not set.
func Resolve() (version, commit string, built time.Time) {
	version, commit = Version, Commit
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		built = t
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version, commit, built
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "unknown" {
				commit = s.Value
			}
		case "vcs.time":
			if built.IsZero() {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					built = t
				}
			}
		}
	}
	return version, commit, built
}
