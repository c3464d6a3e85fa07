package web

import "sync/atomic"

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

var buildInfo atomic.Pointer[BuildInfo]

func init() {
	buildInfo.Store(&BuildInfo{Version: "dev", Commit: "unknown", BuildTime: "unknown"})
}

// SetVersionInfo records the build reported by /api/status. Empty values
// keep the current ones.
func SetVersionInfo(version, commit, buildTime string) {
	next := *buildInfo.Load()
	if version != "" {
		next.Version = version
	}
	if commit != "" {
		next.Commit = commit
	}
	if buildTime != "" {
		next.BuildTime = buildTime
	}
	buildInfo.Store(&next)
}

// GetBuildInfo returns the recorded build
func GetBuildInfo() BuildInfo {
	return *buildInfo.Load()
}
