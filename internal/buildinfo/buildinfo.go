// Package buildinfo reports which build of the ingestion service is running.
package buildinfo

import (
	"runtime/debug"
	"sync"
	"time"
)

// Overridden with -ldflags "-X github.com/xelth-com/sensestamp/internal/buildinfo.CommitHash=..."
var (
	BuildTime  string
	CommitTime string
	CommitHash string
)

var startedAt = time.Now().UTC()

// Info is the build and process identity served by the health endpoint
type Info struct {
	Commit     string    `json:"commit"`
	CommitTime string    `json:"commit_time,omitempty"`
	BuildTime  string    `json:"build_time,omitempty"`
	GoVersion  string    `json:"go_version"`
	Modified   bool      `json:"modified,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

var (
	once   sync.Once
	cached Info
)

// Get returns the running build. Values set through ldflags win over the
// VCS stamp the Go toolchain embeds.
func Get() Info {
	once.Do(func() { cached = collect(debug.ReadBuildInfo) })
	return cached
}

func collect(read func() (*debug.BuildInfo, bool)) Info {
	info := Info{
		Commit:     CommitHash,
		CommitTime: CommitTime,
		BuildTime:  BuildTime,
		StartedAt:  startedAt,
	}

	bi, ok := read()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" && len(s.Value) >= 7 {
				info.Commit = s.Value[:7]
			}
		case "vcs.time":
			if info.CommitTime == "" {
				info.CommitTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}
