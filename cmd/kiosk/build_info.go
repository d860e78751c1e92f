package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// 构建时通过 -ldflags "-X main.buildVersion=..." 注入。
var (
	buildVersion = "dev"
	buildCommit  = ""
)

// BuildInfo 版本信息。
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Runtime string `json:"runtime"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("kiosk %s (%s) %s", b.Version, b.Commit, b.Runtime)
}

// vcsRevision 从 Go 构建信息读取提交号, 工作区有改动时追加 -dirty。
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = shortCommit(s.Value)
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}

func shortCommit(revision string) string {
	revision = strings.TrimSpace(revision)
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

func currentBuildInfo() BuildInfo {
	return buildInfoFrom(buildVersion, buildCommit, vcsRevision())
}

func buildInfoFrom(version, commit, vcs string) BuildInfo {
	version = strings.TrimSpace(version)
	commit = strings.TrimSpace(commit)
	if commit == "" {
		commit = vcs
	}
	if commit == "" {
		commit = "unknown"
	}
	if version == "" || version == "dev" {
		version = "dev"
		if vcs != "" {
			version += "+" + vcs
		}
	}
	return BuildInfo{
		Version: version,
		Commit:  commit,
		Runtime: runtime.GOOS + "/" + runtime.GOARCH,
	}
}
