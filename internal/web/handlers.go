package web

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/health"
)

const maxFrameListLimit = 500

// handleHealth returns the full health report
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
		return
	}

	report := s.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// handleLiveness answers as long as the process serves requests
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReadiness is ready unless a check is unhealthy
func (s *Server) handleReadiness(c *gin.Context) {
	ready := true
	var status health.Status = health.StatusHealthy
	if s.health != nil {
		status = s.health.Check(c.Request.Context()).Status
		ready = status != health.StatusUnhealthy
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"ready":  ready,
	})
}

// handleStatus returns the capture loop status
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)
	resp := gin.H{
		"version":        s.version,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.loop != nil {
		resp["loop"] = s.loop.Status()
	}
	if s.frames != nil {
		if n, err := s.frames.CountFrames(c.Request.Context()); err == nil {
			resp["stored_frames"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleLatestFrame serves the most recently persisted frame as JPEG
func (s *Server) handleLatestFrame(c *gin.Context) {
	if s.loop == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture loop not available"})
		return
	}

	path, capturedAt, ok := s.loop.LatestFrame()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No frame captured yet"})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// already removed by retention
			c.JSON(http.StatusNotFound, gin.H{"error": "Latest frame no longer stored"})
			return
		}
		s.LogError("Failed to read latest frame", err, "path", path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read frame"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-Name", filepath.Base(path))
	c.Header("X-Captured-At", capturedAt.Format(time.RFC3339Nano))
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleListFrames lists indexed frames, newest first
func (s *Server) handleListFrames(c *gin.Context) {
	if s.frames == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Frame index not enabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxFrameListLimit)
	}
	detectedOnly := c.Query("detected") == "true"

	frames, err := s.frames.ListFrames(c.Request.Context(), limit, detectedOnly)
	if err != nil {
		s.LogError("Failed to list frames", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list frames"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"frames": frames,
		"count":  len(frames),
	})
}
