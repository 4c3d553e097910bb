package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/alert"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 40, G: 80, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func cameraServer(t *testing.T) *httptest.Server {
	t.Helper()
	frame := jpegFrame(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func baseYAML(t *testing.T, cameraURL string) string {
	dir := t.TempDir()
	return fmt.Sprintf(`
camera:
  type: remote
  attempts: 1
  remote:
    snapshot_url: %s/snap.jpg
    timeout: 2s
capture:
  interval: 100ms
  run_for: 350ms
  image_dir: %s
retention:
  max_count: 2
archive:
  policy: never
state:
  enabled: true
  db_path: %s
web:
  enabled: false
`, cameraURL, filepath.Join(dir, "images"), filepath.Join(dir, "frames.db"))
}

func countJPEGs(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	require.NoError(t, err)
	return len(matches)
}

func TestBuild_InvalidConfigIsStartupError(t *testing.T) {
	cfg := loadConfig(t, `
camera:
  type: carrier-pigeon
analysis:
  enabled: false
`)
	_, err := Build(context.Background(), cfg, "test", logger.NewNopLogger())
	require.Error(t, err)

	var se *StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "config", se.Component)
	assert.Contains(t, err.Error(), "camera.type")
}

func TestBuild_UnreachableBrokerIsStartupError(t *testing.T) {
	cam := cameraServer(t)
	cfg := loadConfig(t, baseYAML(t, cam.URL)+`
analysis:
  enabled: false
alerts:
  mqtt:
    enabled: true
    broker: 127.0.0.1:1
    connect_timeout: 1s
`)
	_, err := Build(context.Background(), cfg, "test", logger.NewNopLogger())

	var se *StartupError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "mqtt", se.Component)
}

func TestApp_RunForCapturesAndSweeps(t *testing.T) {
	cam := cameraServer(t)
	cfg := loadConfig(t, baseYAML(t, cam.URL)+`
analysis:
  enabled: false
`)
	a, err := Build(context.Background(), cfg, "test", logger.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, a.Analyzer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, "run_for elapsed", a.Wait(ctx))
	require.NoError(t, a.Shutdown(context.Background()))

	st := a.Loop.Status()
	assert.GreaterOrEqual(t, st.Cycles, 3)
	assert.Equal(t, 0, st.FailedCycles)
	assert.Equal(t, 2, countJPEGs(t, cfg.Capture.ImageDir))
	assert.Equal(t, st.Cycles-2, st.FramesDeleted)
}

func TestApp_DetectionPublishedToRedis(t *testing.T) {
	cam := cameraServer(t)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()
	analysisSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"water_detected": true, "confidence": 0.93, "analysis_reason": "puddle"}`))
	}))
	defer analysisSrv.Close()

	mr := miniredis.RunT(t)
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	pubsub := sub.Subscribe(context.Background(), "floorwatch:alerts")
	defer pubsub.Close()
	_, err := pubsub.Receive(context.Background())
	require.NoError(t, err)

	archiveDir := filepath.Join(t.TempDir(), "archive")
	cfg := loadConfig(t, baseYAML(t, cam.URL)+fmt.Sprintf(`
analysis:
  base_url: %s
  token_url: %s
  client_id: floor-client
  client_secret: s3cret
  user_email: ops@example.com
  prompt: Is there water on the floor?
  retry_base_delay: 10ms
alerts:
  cooldown: 1h
  redis:
    enabled: true
    addr: %s
`, analysisSrv.URL, tokenSrv.URL, mr.Addr()))
	cfg.Archive.Policy = config.ArchiveOnDetection
	cfg.Archive.Dir = archiveDir

	a, err := Build(context.Background(), cfg, "test", logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))
	a.Wait(ctx)

	frames, err := a.State.ListFrames(context.Background(), 10, true)
	require.NoError(t, err)
	assert.NotEmpty(t, frames)
	require.NoError(t, a.Shutdown(context.Background()))

	select {
	case msg := <-pubsub.Channel():
		var got alert.Alert
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, alert.KindDetection, got.Kind)
		assert.Equal(t, "puddle", got.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert published")
	}

	st := a.Loop.Status()
	assert.Equal(t, st.Cycles, st.Detections)
	// cooldown lets only the first detection through
	assert.Equal(t, 1, st.AlertsSent)
	assert.Equal(t, st.Cycles, st.FramesArchived)
}
