// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version values are set at build time using -ldflags. Major, Minor and
// Patch are only consulted when Version is not a semantic version.
var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version    string `json:"version"`
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
	Built      string `json:"built"`
	GitCommit  string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
	if parsed, err := semver.NewVersion(Version); err == nil {
		info.Major = int(parsed.Major())
		info.Minor = int(parsed.Minor())
		info.Patch = int(parsed.Patch())
		info.Prerelease = parsed.Prerelease()
		return info
	}
	info.Major = parseInt(Major)
	info.Minor = parseInt(Minor)
	info.Patch = parseInt(Patch)
	return info
}

// String renders the one-line form printed by `brook version`.
func (info VersionInfo) String() string {
	var details []string
	if commit := info.GitCommit; commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		details = append(details, "commit "+commit)
	}
	if info.Built != "" {
		details = append(details, "built "+info.Built)
	}
	if len(details) == 0 {
		return "brook " + info.Version
	}
	return fmt.Sprintf("brook %s (%s)", info.Version, strings.Join(details, ", "))
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
