// Package build holds the name, build time, commit and version stamped into
// the pulse binary with linker flags:
//
//	go build -ldflags "-X pulse/pkg/build.buildVersion=0.3.0 -X pulse/pkg/build.buildCommit=$(git rev-parse --short HEAD) ..."
package build

import "fmt"

// Description is the one-line summary shown by the CLI.
const Description = "Remote photoplethysmography heart-rate monitor"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation. Default values of "unknown" are used during development.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        "pulse",
		Description: Description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
)

// Initialize validates and copies build information from ldflags variables
// into the buildFlags struct. This must be called early in program startup
// to ensure all build information is properly set. Returns an error if any
// required build flag is missing.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// String formats the flags for the version command.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// GetBuildFlags returns the current build information. Initialize()
// must be called before this function to ensure the build information
// is valid. This function is safe to call after initialization.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
