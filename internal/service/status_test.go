package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceStatus_CaptureLoopLifecycle(t *testing.T) {
	s := NewServiceStatus("capture-loop")
	assert.Equal(t, StatusStopped, s.GetStatus())
	assert.Zero(t, s.GetUptime())

	s.SetStatus(StatusStarting)
	assert.False(t, s.IsRunning())
	assert.True(t, s.StartedAt.IsZero())

	s.SetStatus(StatusRunning)
	assert.True(t, s.IsRunning())
	assert.False(t, s.StartedAt.IsZero())
	startedAt := s.StartedAt

	// re-entering running keeps the original start time
	time.Sleep(5 * time.Millisecond)
	s.SetStatus(StatusRunning)
	assert.Equal(t, startedAt, s.StartedAt)
	assert.Greater(t, s.GetUptime(), time.Duration(0))

	s.SetStatus(StatusStopping)
	assert.Zero(t, s.GetUptime(), "uptime only counts while running")

	s.SetStatus(StatusStopped)
	assert.True(t, s.StartedAt.IsZero())
}

func TestServiceStatus_ErrorClearedOnRestart(t *testing.T) {
	s := NewServiceStatus("web-server")
	bindErr := errors.New("listen tcp :8080: address already in use")

	s.SetError(bindErr)
	assert.Equal(t, StatusError, s.GetStatus())
	assert.ErrorIs(t, s.GetError(), bindErr)
	assert.False(t, s.IsRunning())

	s.SetStatus(StatusRunning)
	assert.NoError(t, s.GetError())
	assert.True(t, s.IsRunning())
}

func TestServiceStatus_ReadWhileLoopUpdates(t *testing.T) {
	s := NewServiceStatus("capture-loop")
	stages := []Status{StatusStarting, StatusRunning, StatusStopping, StatusStopped}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.SetStatus(stages[i%len(stages)])
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.GetStatus()
			_ = s.GetUptime()
			_ = s.IsRunning()
		}
	}()
	wg.Wait()

	assert.Equal(t, StatusStopped, s.GetStatus())
}
