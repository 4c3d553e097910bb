package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGrabber struct {
	data  []byte
	err   error
	calls int
	last  video.CaptureOptions
}

func (g *fakeGrabber) CaptureFrameJPEG(ctx context.Context, opts video.CaptureOptions) ([]byte, error) {
	g.calls++
	g.last = opts
	return g.data, g.err
}

// fakeDevice creates a regular file standing in for /dev/videoN
func fakeDevice(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	return path
}

func TestLocalSource_Acquire(t *testing.T) {
	device := fakeDevice(t)
	grabber := &fakeGrabber{data: testJPEG(t)}

	src, err := newLocalSource(LocalOptions{Device: device, InputFormat: "v4l2", Quality: 3, Timeout: time.Second}, grabber, logger.NewNopLogger())
	require.NoError(t, err)
	defer src.Close()

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return fixed }

	frame, err := src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, frame.Source)
	assert.Equal(t, fixed, frame.CapturedAt)
	assert.Equal(t, grabber.data, frame.Data)
	assert.Equal(t, device, grabber.last.Input)
	assert.Equal(t, "v4l2", grabber.last.Format)
	assert.Equal(t, 3, grabber.last.Quality)
}

func TestLocalSource_OpenMissingDevice(t *testing.T) {
	_, err := newLocalSource(LocalOptions{Device: "/dev/definitely-not-a-camera"}, &fakeGrabber{}, logger.NewNopLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestLocalSource_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		grabber  *fakeGrabber
		wantKind ErrorKind
	}{
		{"zero-byte frame", &fakeGrabber{data: nil}, KindBadResponse},
		{"no frame from ffmpeg", &fakeGrabber{err: video.ErrNoFrame}, KindBadResponse},
		{"corrupt frame", &fakeGrabber{err: fmt.Errorf("%w: bad marker", video.ErrInvalidFrame)}, KindBadResponse},
		{"device busy", &fakeGrabber{err: errors.New("Device or resource busy")}, KindDeviceUnavailable},
		{"timeout", &fakeGrabber{err: context.DeadlineExceeded}, KindDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := newLocalSource(LocalOptions{Device: fakeDevice(t)}, tt.grabber, logger.NewNopLogger())
			require.NoError(t, err)
			defer src.Close()

			_, err = src.Acquire(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestLocalSource_DeviceUnplugged(t *testing.T) {
	device := fakeDevice(t)
	grabber := &fakeGrabber{data: testJPEG(t)}
	src, err := newLocalSource(LocalOptions{Device: device}, grabber, logger.NewNopLogger())
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, os.Remove(device))

	_, err = src.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, 0, grabber.calls)
}

func TestLocalSource_Close(t *testing.T) {
	grabber := &fakeGrabber{data: testJPEG(t)}
	src, err := newLocalSource(LocalOptions{Device: fakeDevice(t)}, grabber, logger.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = src.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, 0, grabber.calls)
}

func TestLocalSource_URLInputHasNoHandle(t *testing.T) {
	src, err := newLocalSource(LocalOptions{Device: "rtsp://10.0.0.5/stream"}, &fakeGrabber{data: testJPEG(t)}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, src.handle)

	_, err = src.Acquire(context.Background())
	require.NoError(t, err)
}

func TestNewFrame_IDsSortByTime(t *testing.T) {
	base := time.Now()
	a := NewFrame([]byte{1}, "", SourceLocal, base)
	b := NewFrame([]byte{2}, "", SourceLocal, base.Add(time.Millisecond))

	assert.Len(t, a.ID, 26)
	assert.Less(t, a.ID, b.ID)
	assert.Equal(t, "image/jpeg", a.ContentType)
	assert.Equal(t, 1, a.Size())
}

func TestCaptureError(t *testing.T) {
	err := newError(KindNetworkError, SourceRemote, "GET http://cam", errors.New("connection refused"))
	wrapped := fmt.Errorf("cycle: %w", err)

	assert.ErrorIs(t, wrapped, ErrNetwork)
	assert.NotErrorIs(t, wrapped, ErrAuth)
	assert.Equal(t, KindNetworkError, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "connection refused")
}
