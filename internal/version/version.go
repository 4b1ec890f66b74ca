// Package version carries the build version shared by the server and cdpctl.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is set at build time with -ldflags "-X .../internal/version.Version=...".
var Version = "0.1.0-dev"

// Info is the payload of GET /version.
type Info struct {
	Version string `json:"version"`
	Major   uint64 `json:"major"`
	Minor   uint64 `json:"minor"`
	Patch   uint64 `json:"patch"`
}

// Current describes Version. An unparseable build version reports zeros.
func Current() Info {
	info := Info{Version: Version}
	if v, err := semver.NewVersion(Version); err == nil {
		info.Major, info.Minor, info.Patch = v.Major(), v.Minor(), v.Patch()
	}
	return info
}

// Compatible reports whether a client built at clientVersion can talk to a
// server at serverVersion: same major version and a server at least as new.
// Pre-1.0 releases must also share the minor version. Pre-release tags are
// ignored on both sides.
func Compatible(clientVersion, serverVersion string) (bool, error) {
	client, err := semver.NewVersion(clientVersion)
	if err != nil {
		return false, fmt.Errorf("parse client version %q: %w", clientVersion, err)
	}
	server, err := semver.NewVersion(serverVersion)
	if err != nil {
		return false, fmt.Errorf("parse server version %q: %w", serverVersion, err)
	}

	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d.%d", client.Major(), client.Minor()))
	if err != nil {
		return false, err
	}

	release, err := server.SetPrerelease("")
	if err != nil {
		return false, err
	}
	return constraint.Check(&release), nil
}
