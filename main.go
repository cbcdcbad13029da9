package main

import (
	"runtime/debug"

	"github.com/apexion-ai/cg/cmd"
)

// Release builds set these with
//
//	go build -ldflags "-X main.version=$VERSION -X main.commit=$(git rev-parse --short HEAD) -X main.date=$(date -u +%F)"
var (
	version = "0.1.0"
	commit  = "none"
	date    = "unknown"
)

// fillFromBuildInfo fills commit and date from the VCS stamp of `go install` builds.
func fillFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "none" && len(s.Value) >= 7 {
				commit = s.Value[:7]
			}
		case "vcs.time":
			if date == "unknown" && len(s.Value) >= 10 {
				date = s.Value[:10]
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && commit != "none" {
		commit += "-dirty"
	}
}

func main() {
	fillFromBuildInfo()
	cmd.Execute(version, commit, date)
}
