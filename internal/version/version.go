// Package version holds the build identity stamped in at link time via
// -ldflags "-X".
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// Commit is the short hash of the built revision.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full build identity for logs and the version command.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
