package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/app"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/storage"
)

// writeTestConfig writes a config that needs no camera or analysis service
func writeTestConfig(t *testing.T, imageDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
log:
  level: error
camera:
  type: remote
  attempts: 1
  remote:
    snapshot_url: http://127.0.0.1:1/snap.jpg
capture:
  image_dir: %s
retention:
  max_age: 1h
analysis:
  enabled: false
archive:
  policy: never
`, imageDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func frameName(t time.Time) string {
	return "image_" + t.UTC().Format(storage.TimestampLayout) + ".jpg"
}

func TestCLI_Sweep(t *testing.T) {
	imageDir := t.TempDir()
	old := filepath.Join(imageDir, frameName(time.Now().Add(-3*time.Hour)))
	fresh := filepath.Join(imageDir, frameName(time.Now()))
	for _, p := range []string{old, fresh} {
		require.NoError(t, os.WriteFile(p, []byte{0xFF, 0xD8}, 0644))
	}

	err := newCLIApp().Run([]string{"floorwatch", "-c", writeTestConfig(t, imageDir), "sweep"})
	require.NoError(t, err)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestCLI_MissingConfigIsStartupError(t *testing.T) {
	err := newCLIApp().Run([]string{"floorwatch", "-c", filepath.Join(t.TempDir(), "nope.yaml"), "sweep"})
	require.Error(t, err)

	var se *app.StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "config", se.Component)
}

func TestCLI_AnalyzeNeedsOneFile(t *testing.T) {
	err := newCLIApp().Run([]string{"floorwatch", "-c", writeTestConfig(t, t.TempDir()), "analyze"})
	assert.Error(t, err)
}

func TestCLI_AnalyzeDisabled(t *testing.T) {
	img := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(img, []byte{0xFF, 0xD8, 0xFF}, 0644))

	err := newCLIApp().Run([]string{"floorwatch", "-c", writeTestConfig(t, t.TempDir()), "analyze", img})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestCLI_SnapshotUnreachableCamera(t *testing.T) {
	imageDir := t.TempDir()
	err := newCLIApp().Run([]string{"floorwatch", "-c", writeTestConfig(t, imageDir), "snapshot"})
	require.Error(t, err)

	entries, rerr := os.ReadDir(imageDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}
