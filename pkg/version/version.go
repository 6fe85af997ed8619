// Package version reports which bulkmail build is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Stamped with -ldflags "-X github.com/telekom/bulkmail/pkg/version.Version=...".
// Empty stamps fall back to the VCS data the Go toolchain embeds.
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary.
type Info struct {
	Version  string    `json:"version" yaml:"version"`
	Commit   string    `json:"commit" yaml:"commit"`
	Modified bool      `json:"modified,omitempty" yaml:"modified,omitempty"`
	Built    time.Time `json:"built,omitzero" yaml:"built,omitempty"`
	Go       string    `json:"go" yaml:"go"`
	Platform string    `json:"platform" yaml:"platform"`
}

// Get merges the stamped values with the embedded VCS settings. Stamped
// values win.
func Get() Info {
	info := Info{
		Version:  Version,
		Commit:   GitCommit,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	built := BuildDate

	if bi, ok := readBuildInfo(); ok {
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		fromVCS := info.Commit == ""
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if fromVCS {
					info.Commit = s.Value
				}
			case "vcs.modified":
				if fromVCS {
					info.Modified = s.Value == "true"
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	if t, err := time.Parse(time.RFC3339, built); err == nil {
		info.Built = t.UTC()
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}

// String is the one-line form printed by "bulkmail version".
func (i Info) String() string {
	commit := i.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if i.Modified {
		commit += "-dirty"
	}
	built := "unknown"
	if !i.Built.IsZero() {
		built = i.Built.Format(time.RFC3339)
	}
	return fmt.Sprintf("bulkmail %s (commit: %s, built: %s, %s %s)", i.Version, commit, built, i.Go, i.Platform)
}
