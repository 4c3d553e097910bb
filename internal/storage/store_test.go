package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2024, 3, 1, 8, 30, 15, 250*int(time.Millisecond), time.UTC)

func newTestStore(t *testing.T, mutate ...func(*StoreConfig)) *Store {
	t.Helper()
	cfg := StoreConfig{Dir: filepath.Join(t.TempDir(), "captured_images"), Prefix: "image"}
	for _, m := range mutate {
		m(&cfg)
	}
	store, err := NewStore(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	return store
}

func frameAt(at time.Time) *camera.Frame {
	return camera.NewFrame([]byte("\xff\xd8jpeg-bytes"), "image/jpeg", camera.SourceRemote, at)
}

func TestNewStore_CreatesDirectory(t *testing.T) {
	store := newTestStore(t)
	info, err := os.Stat(store.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = NewStore(StoreConfig{}, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestStore_Save(t *testing.T) {
	store := newTestStore(t)
	frame := frameAt(testBase)

	path, err := store.Save(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store.Dir(), "image_20240301-083015.250Z.jpg"), path)
	assert.Equal(t, path, frame.Path)

	data, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, frame.Data, data)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStore_Save_SameMillisecond(t *testing.T) {
	store := newTestStore(t)

	p1, err := store.Save(context.Background(), frameAt(testBase))
	require.NoError(t, err)
	p2, err := store.Save(context.Background(), frameAt(testBase))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.True(t, strings.HasSuffix(p2, "image_20240301-083015.250Z-1.jpg"))

	at, ok := ParseTimestamp(p2)
	require.True(t, ok)
	assert.True(t, testBase.Equal(at))
}

func TestStore_Save_DailySubdirs(t *testing.T) {
	store := newTestStore(t, func(c *StoreConfig) {
		c.DailySubdirs = true
		c.Prefix = "dataset"
	})

	path, err := store.Save(context.Background(), frameAt(testBase))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "20240301", "dataset_20240301-083015.250Z.jpg"), path)
}

func TestStore_Save_EmptyFrame(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save(context.Background(), &camera.Frame{CapturedAt: testBase})
	assert.Error(t, err)
}

func TestStore_Save_Indexes(t *testing.T) {
	index := state.NewTestManager(t)
	store := newTestStore(t, func(c *StoreConfig) { c.Index = index })

	frame := frameAt(testBase)
	_, err := store.Save(context.Background(), frame)
	require.NoError(t, err)

	rec, err := index.GetFrame(context.Background(), frame.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, frame.Path, rec.Path)
	assert.Equal(t, camera.SourceRemote, rec.Source)
	assert.Equal(t, int64(len(frame.Data)), rec.SizeBytes)
}

func TestParseTimestamp(t *testing.T) {
	utc := time.Date(2024, 3, 1, 8, 30, 15, 250*int(time.Millisecond), time.UTC)
	tests := []struct {
		name string
		want time.Time
		ok   bool
	}{
		{"image_20240301-083015.250Z.jpg", utc, true},
		{"/some/dir/dataset_20240301-083015.250Z.JPEG", utc, true},
		{"image_20240301-083015.250Z-7.jpg", utc, true},
		{"image_20240301-093015.250+0100.jpg", utc, true},
		{"image_20240301-083015.250.jpg", time.Date(2024, 3, 1, 8, 30, 15, 250*int(time.Millisecond), time.Local), true},
		{"image_20240301-083015.250-7.jpg", time.Date(2024, 3, 1, 8, 30, 15, 250*int(time.Millisecond), time.Local), true},
		{"image_20240301-083015.jpg", time.Time{}, false},
		{"holiday.jpg", time.Time{}, false},
		{"image_20241301-083015.250Z.jpg", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, ok := ParseTimestamp(tt.name)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(at), "got %s", at)
			}
		})
	}
}

func TestStore_FileNameIsUTC(t *testing.T) {
	store := newTestStore(t)
	east := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2024, 3, 1, 10, 30, 15, 250*int(time.Millisecond), east)

	assert.Equal(t, "image_20240301-083015.250Z.jpg", store.FileName(at))
	parsed, ok := ParseTimestamp(store.FileName(at))
	require.True(t, ok)
	assert.True(t, at.Equal(parsed))
}
