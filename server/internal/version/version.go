// Package version holds the leadclaim build version.
package version

// Version is set at build time with
// -ldflags "-X github.com/delsolprimehomes/leadclaim/server/internal/version.Version=v1.2.3".
var Version = "dev"

// Get returns the current version string
func Get() string {
	return Version
}
