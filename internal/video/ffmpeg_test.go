package video

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	t.Helper()
	ffmpeg, err := NewFFmpegWrapper(logger.NewNopLogger(), "")
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

func encodeTestImage(t *testing.T, asPNG bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if asPNG {
		require.NoError(t, png.Encode(&buf, img))
	} else {
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func TestNewFFmpegWrapper(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	assert.NotEmpty(t, ffmpeg.Path())
	assert.True(t, ffmpeg.IsCodecAvailable("mjpeg"))
}

func TestNewFFmpegWrapper_BadPath(t *testing.T) {
	_, err := NewFFmpegWrapper(logger.NewNopLogger(), "/nonexistent/ffmpeg")
	require.Error(t, err)
}

func TestFFmpegWrapper_BuildCommand(t *testing.T) {
	ffmpeg := &FFmpegWrapper{ffmpegPath: "ffmpeg"}
	cmd := ffmpeg.BuildCommand(context.Background(), []string{"-version"})
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"ffmpeg", "-version"}, cmd.Args)
}

func TestFFmpegWrapper_GetVersion(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	version, err := ffmpeg.GetVersion()
	require.NoError(t, err)
	assert.Contains(t, version, "ffmpeg")
}

func TestFFmpegWrapper_ProbeInput_Missing(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	err := ffmpeg.ProbeInput(context.Background(), "/dev/does-not-exist", "", 5*time.Second)
	require.Error(t, err)
}

func TestFFmpegWrapper_CaptureFrameJPEG_FromFile(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	src := filepath.Join(t.TempDir(), "src.png")
	require.NoError(t, os.WriteFile(src, encodeTestImage(t, true), 0644))

	data, err := ffmpeg.CaptureFrameJPEG(context.Background(), CaptureOptions{
		Input:   src,
		Quality: 5,
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.NoError(t, ValidateJPEG(data))
}

func TestParseCodecList(t *testing.T) {
	output := `Encoders:
 V..... = Video
 ------
 V....D mjpeg                MJPEG (Motion JPEG)
 V....D png                  PNG (Portable Network Graphics) image
 A....D aac                  AAC (Advanced Audio Coding)
`
	codecs := parseCodecList(output)
	assert.True(t, codecs["mjpeg"])
	assert.True(t, codecs["png"])
	assert.True(t, codecs["aac"])
	assert.False(t, codecs["libx264"])
}

func TestValidateJPEG(t *testing.T) {
	assert.NoError(t, ValidateJPEG(encodeTestImage(t, false)))
	assert.ErrorIs(t, ValidateJPEG(nil), ErrNoFrame)
	assert.Error(t, ValidateJPEG([]byte("<html>login</html>")))
	assert.Error(t, ValidateJPEG(encodeTestImage(t, true)))
}
