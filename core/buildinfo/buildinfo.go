// Package buildinfo carries release metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/m3rciful/sessiongen/core/buildinfo.Version=v0.3.0"
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

func init() {
	if Commit != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	// fall back to the VCS stamp the toolchain records for module builds
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = shortRev(s.Value)
		case "vcs.time":
			if Date == "" {
				Date = s.Value
			}
		}
	}
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String renders "version (commit, date)", omitting unknown parts.
func String() string {
	switch {
	case Commit != "" && Date != "":
		return fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
	case Commit != "":
		return fmt.Sprintf("%s (%s)", Version, Commit)
	default:
		return Version
	}
}
