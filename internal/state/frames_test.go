package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFrames(t *testing.T, mgr *Manager, n int) time.Time {
	t.Helper()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, mgr.AddFrame(context.Background(), FrameRecord{
			ID:         fmt.Sprintf("frame-%d", i),
			Path:       fmt.Sprintf("/img/image_%d.jpg", i),
			Source:     "local",
			SizeBytes:  int64(1000 + i),
			CapturedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	return base
}

func TestManager_AddAndGetFrame(t *testing.T) {
	mgr := NewTestManager(t)
	base := seedFrames(t, mgr, 1)

	rec, err := mgr.GetFrame(context.Background(), "frame-0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "/img/image_0.jpg", rec.Path)
	assert.Equal(t, "local", rec.Source)
	assert.Equal(t, int64(1000), rec.SizeBytes)
	assert.True(t, base.Equal(rec.CapturedAt))
	assert.False(t, rec.Analyzed)
	assert.Empty(t, rec.ArchivePath)

	missing, err := mgr.GetFrame(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestManager_AddFrame_SamePathReplaces(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, mgr.AddFrame(ctx, FrameRecord{ID: "a", Path: "/img/x.jpg", Source: "local", CapturedAt: now}))
	require.NoError(t, mgr.AddFrame(ctx, FrameRecord{ID: "b", Path: "/img/x.jpg", Source: "remote", CapturedAt: now}))

	n, err := mgr.CountFrames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := mgr.GetFrame(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "remote", rec.Source)
}

func TestManager_LatestAndList(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()

	latest, err := mgr.LatestFrame(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	seedFrames(t, mgr, 5)

	latest, err = mgr.LatestFrame(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "frame-4", latest.ID)

	frames, err := mgr.ListFrames(ctx, 3, false)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "frame-4", frames[0].ID)
	assert.Equal(t, "frame-2", frames[2].ID)
}

func TestManager_MarkAnalyzedAndArchived(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()
	seedFrames(t, mgr, 3)

	require.NoError(t, mgr.MarkAnalyzed(ctx, "frame-1", true))
	require.NoError(t, mgr.MarkAnalyzed(ctx, "frame-2", false))
	require.NoError(t, mgr.MarkArchived(ctx, "frame-1", "/archive/detections/20240301/image_1.jpg"))

	detected, err := mgr.ListFrames(ctx, 10, true)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.Equal(t, "frame-1", detected[0].ID)
	assert.True(t, detected[0].Analyzed)
	assert.Equal(t, "/archive/detections/20240301/image_1.jpg", detected[0].ArchivePath)

	rec, err := mgr.GetFrame(ctx, "frame-2")
	require.NoError(t, err)
	assert.True(t, rec.Analyzed)
	assert.False(t, rec.Detected)
}

func TestManager_RemoveFrame(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()
	seedFrames(t, mgr, 2)

	require.NoError(t, mgr.RemoveFrame(ctx, "/img/image_0.jpg"))
	require.NoError(t, mgr.RemoveFrame(ctx, "/img/unknown.jpg"))

	n, err := mgr.CountFrames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	latest, err := mgr.LatestFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame-1", latest.ID)
}
