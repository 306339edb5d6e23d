package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stamp sets the ldflags variables for one test and restores them afterwards.
func stamp(t *testing.T, name, time, commit, version string) {
	t.Helper()
	saved := [4]string{buildName, buildTime, buildCommit, buildVersion}
	savedFlags := *buildFlags
	t.Cleanup(func() {
		buildName, buildTime, buildCommit, buildVersion = saved[0], saved[1], saved[2], saved[3]
		*buildFlags = savedFlags
	})
	buildName, buildTime, buildCommit, buildVersion = name, time, commit, version
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		desc                        string
		name, time, commit, version string
		wantErr                     string
	}{
		{"Missing BuildName", "", "2026-10-01", "1a2b3c", "v0.3.0", "BuildName is required"},
		{"Missing BuildTime", "pulse", "", "1a2b3c", "v0.3.0", "BuildTime is required"},
		{"Missing BuildCommit", "pulse", "2026-10-01", "", "v0.3.0", "BuildCommit is required"},
		{"Missing BuildVersion", "pulse", "2026-10-01", "1a2b3c", "", "BuildVersion is required"},
		{"Stamped", "pulse", "2026-10-01", "1a2b3c", "v0.3.0", ""},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			stamp(t, tt.name, tt.time, tt.commit, tt.version)

			err := Initialize()
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				assert.Equal(t, "dev", GetBuildFlags().Version, "flags untouched on error")
				return
			}
			require.NoError(t, err)

			flags := GetBuildFlags()
			assert.Equal(t, tt.name, flags.Name)
			assert.Equal(t, tt.time, flags.Time)
			assert.Equal(t, tt.commit, flags.Commit)
			assert.Equal(t, tt.version, flags.Version)
			assert.Equal(t, Description, flags.Description)
		})
	}
}

func TestDevelopmentDefaults(t *testing.T) {
	flags := GetBuildFlags()
	assert.Equal(t, "pulse", flags.Name)
	assert.Equal(t, "dev", flags.Version)
	assert.NotEmpty(t, flags.Description)
}

func TestFlagsString(t *testing.T) {
	f := &ldFlags{Name: "pulse", Description: Description, Time: "2026-10-01", Commit: "1a2b3c", Version: "v0.3.0"}
	assert.Equal(t, "pulse v0.3.0 (commit 1a2b3c, built 2026-10-01)", f.String())
}
