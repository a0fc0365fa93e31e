// Package version carries build metadata stamped in with -ldflags -X, e.g.
//
//	-X github.com/newtron-network/nbseed/pkg/version.Version=v0.3.0
//	-X github.com/newtron-network/nbseed/pkg/version.GitCommit=$(git rev-parse --short HEAD)
package version

import "runtime"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the one-line version shown by "nbseed version".
func Info() string {
	return Version + " (" + GitCommit + ", " + runtime.Version() + ") built " + BuildDate
}

// UserAgent is sent with every NetBox request.
func UserAgent() string {
	return "nbseed/" + Version
}
