// Package version reports the build version of backupguard.
package version

import (
	"runtime/debug"
	"strings"
)

// Set at build time with
//
//	-ldflags "-X github.com/tis24dev/backupguard/internal/version.Version=v1.0.0"
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

const devVersion = "0.0.0-dev"

var readBuildInfo = debug.ReadBuildInfo

// String returns the injected version, else the main module version from the
// build info, else a development placeholder. A leading "v" is stripped.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "(devel)" {
				v = mv
			}
		}
	}
	if v == "" {
		v = devVersion
	}
	return strings.TrimPrefix(v, "v")
}

// Full appends the commit and build date, when known, to String.
func Full() string {
	var extra []string
	if c := strings.TrimSpace(Commit); c != "" {
		if len(c) > 12 {
			c = c[:12]
		}
		extra = append(extra, "commit "+c)
	}
	if d := strings.TrimSpace(Date); d != "" {
		extra = append(extra, "built "+d)
	}
	if len(extra) == 0 {
		return String()
	}
	return String() + " (" + strings.Join(extra, ", ") + ")"
}
