// Package version carries build metadata stamped via -ldflags.
package version

// Set at build time with
// -X dexwatch/internal/version.Version=... (and Commit, BuildDate).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
