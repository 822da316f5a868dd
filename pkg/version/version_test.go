package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	withModule := func(v string) func() (*debug.BuildInfo, bool) {
		return func() (*debug.BuildInfo, bool) {
			return &debug.BuildInfo{
				Main:     debug.Module{Version: v},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
			}, true
		}
	}
	noBuildInfo := func() (*debug.BuildInfo, bool) { return nil, false }

	t.Run("explicit", func(t *testing.T) {
		t.Parallel()
		info := detect("v1.2.3", "deadbeef", withModule("v0.9.0"))
		assert.Equal(t, "v1.2.3", info.Version)
		assert.Equal(t, "deadbeef", info.Commit)
		assert.Equal(t, SourceExplicit, info.Source)
	})

	t.Run("build info", func(t *testing.T) {
		t.Parallel()
		info := detect("", "", withModule("v0.9.0"))
		assert.Equal(t, "v0.9.0", info.Version)
		assert.Equal(t, "abc123", info.Commit)
		assert.Equal(t, SourceBuildInfo, info.Source)
	})

	t.Run("devel build", func(t *testing.T) {
		t.Parallel()
		info := detect("", "", withModule("(devel)"))
		assert.Equal(t, "dev", info.Version)
		assert.Equal(t, "abc123", info.Commit)
		assert.Equal(t, SourceDev, info.Source)
	})

	t.Run("no build info", func(t *testing.T) {
		t.Parallel()
		info := detect("", "", noBuildInfo)
		assert.Equal(t, "dev", info.String())
		assert.NotEmpty(t, info.GoVersion)
	})
}
