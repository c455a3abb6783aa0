package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProjectDir(t *testing.T) {
	tests := map[string]string{
		"-Users-ozan-Projects-app--rsworktree-feature":        "/Users/ozan/Projects/app/.rsworktree/feature",
		"-Users-ozan-Projects-myproject--hidden--subfolder":   "/Users/ozan/Projects/myproject/.hidden/.subfolder",
		"-Users-ozan-UnityProjects-my-game":                   "/Users/ozan/UnityProjects/my-game",
		"-Users-ozan-Projects":                                "/Users/ozan/Projects",
		"-home-me-code-app":                                   "/home/me/code/app",
		"-Users-ozan-Projects-agent-manager-x":                "/Users/ozan/Projects/agent-manager-x",
	}
	for in, want := range tests {
		assert.Equal(t, want, DecodeProjectDir(in), in)
	}
}

func TestEncodeProjectPath(t *testing.T) {
	assert.Equal(t, "-Users-ozan-Projects-app--rsworktree-feature", EncodeProjectPath("/Users/ozan/Projects/app/.rsworktree/feature"))
	assert.Equal(t, "-home-me--config-nvim", EncodeProjectPath("/home/me/.config/nvim"))
	assert.Equal(t, "-", EncodeProjectPath("/"))
}

// Decoding only recovers paths without dashes in separator positions.
func TestDecodeProjectDirRecoversDashFreePaths(t *testing.T) {
	paths := []string{
		"/home/me/code/app",
		"/Users/ozan/Projects/agent-manager-x",
		"/Users/ozan/Projects/app",
		"/Users/ozan/UnityProjects/my-game",
		"/srv/www",
	}
	for _, p := range paths {
		assert.Equal(t, p, DecodeProjectDir(EncodeProjectPath(p)), p)
	}
}

func TestDecodeProjectDirIsLossy(t *testing.T) {
	// A dash in a name reads as a separator outside Projects.
	assert.Equal(t, "/home/u/my/app", DecodeProjectDir(EncodeProjectPath("/home/u/my-app")))
	// A separator below Projects reads as part of the project name.
	assert.Equal(t, "/Users/me/Projects/app-sub", DecodeProjectDir(EncodeProjectPath("/Users/me/Projects/app/sub")))
}

func TestProjectDirIndexNormalizedFallback(t *testing.T) {
	projects := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projects, "-home-me-my-app"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(projects, "-home-me-exact"), 0o755))

	idx := newProjectDirIndex(projects)
	assert.Equal(t, "-home-me-exact", idx.lookup("/home/me/exact"))
	assert.Equal(t, "-home-me-my-app", idx.lookup("/home/me/my_app"))
	assert.Equal(t, "-home-me-my-app", idx.lookup("/home/me/My.App"))
	assert.Equal(t, "", idx.lookup("/home/me/other"))
}
