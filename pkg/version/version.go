// Package version provides build and version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current Marqo version. Set via ldflags at build time.
var Version = "2.12.0"

// Build information set via ldflags at build time.
var (
	// Commit is the git commit hash.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary (set at runtime).
	GoVersion = runtime.Version()
)

// String returns a formatted version string with all build info.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)",
		Version, Commit, Date, GoVersion, runtime.GOOS, runtime.GOARCH)
}
