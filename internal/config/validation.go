package config

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxAnalysisRetries bounds analysis.max_retries
const MaxAnalysisRetries = 10

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Camera
	switch c.Camera.Type {
	case CameraTypeLocal:
		if c.Camera.Local.Device == "" {
			errors = append(errors, "camera.local.device is required for a local camera")
		}
		if c.Camera.Local.Quality < 2 || c.Camera.Local.Quality > 31 {
			errors = append(errors, fmt.Sprintf("camera.local.quality must be between 2 and 31, got: %d", c.Camera.Local.Quality))
		}
		if c.Camera.Local.CaptureTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("camera.local.capture_timeout must be > 0, got: %v", c.Camera.Local.CaptureTimeout))
		}
	case CameraTypeRemote:
		if c.Camera.Remote.SnapshotURL == "" {
			if c.Camera.Remote.Host == "" {
				errors = append(errors, "camera.remote.host or camera.remote.snapshot_url is required for a remote camera")
			}
			if c.Camera.Remote.User == "" || c.Camera.Remote.Password == "" {
				errors = append(errors, "camera.remote.user and camera.remote.password are required for a remote camera")
			}
		} else if !validHTTPURL(c.Camera.Remote.SnapshotURL) {
			errors = append(errors, fmt.Sprintf("camera.remote.snapshot_url must be an http(s) URL, got: %s", c.Camera.Remote.SnapshotURL))
		}
		if c.Camera.Remote.Timeout <= 0 {
			errors = append(errors, fmt.Sprintf("camera.remote.timeout must be > 0, got: %v", c.Camera.Remote.Timeout))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid camera.type: %s (must be: local or remote)", c.Camera.Type))
	}
	if c.Camera.Attempts < 1 {
		errors = append(errors, fmt.Sprintf("camera.attempts must be >= 1, got: %d", c.Camera.Attempts))
	}
	if c.Camera.RetryDelay < 0 {
		errors = append(errors, fmt.Sprintf("camera.retry_delay must be >= 0, got: %v", c.Camera.RetryDelay))
	}

	// Capture loop
	if c.Capture.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("capture.interval must be > 0, got: %v", c.Capture.Interval))
	}
	if c.Capture.ImageDir == "" {
		errors = append(errors, "capture.image_dir is required")
	}
	if strings.ContainsAny(c.Capture.FilenamePrefix, `/\`) {
		errors = append(errors, fmt.Sprintf("capture.filename_prefix must not contain path separators, got: %s", c.Capture.FilenamePrefix))
	}
	if c.Capture.RunFor < 0 {
		errors = append(errors, fmt.Sprintf("capture.run_for must be >= 0, got: %v", c.Capture.RunFor))
	}

	// Analysis service
	if c.Analysis.IsEnabled() {
		if strings.TrimSpace(c.Analysis.Prompt) == "" {
			errors = append(errors, "analysis.prompt (or analysis.prompt_file) is required")
		}
		if !validHTTPURL(c.Analysis.BaseURL) {
			errors = append(errors, "analysis.base_url is required (ANALYSIS_BASE_URL) and must be an http(s) URL")
		}
		if !validHTTPURL(c.Analysis.TokenURL) {
			errors = append(errors, "analysis.token_url is required (ANALYSIS_TOKEN_URL) and must be an http(s) URL")
		}
		if c.Analysis.ClientID == "" {
			errors = append(errors, "analysis client id is required (ANALYSIS_CLIENT_ID)")
		}
		if c.Analysis.ClientSecret == "" {
			errors = append(errors, "analysis client secret is required (ANALYSIS_CLIENT_SECRET)")
		}
		if c.Analysis.UserEmail == "" {
			errors = append(errors, "analysis user identity is required (ANALYSIS_USER_EMAIL)")
		}
		if c.Analysis.Timeout <= 0 {
			errors = append(errors, fmt.Sprintf("analysis.timeout must be > 0, got: %v", c.Analysis.Timeout))
		}
		if c.Analysis.MaxRetries < 0 || c.Analysis.MaxRetries > MaxAnalysisRetries {
			errors = append(errors, fmt.Sprintf("analysis.max_retries must be between 0 and %d, got: %d", MaxAnalysisRetries, c.Analysis.MaxRetries))
		}
		if c.Analysis.Temperature < 0 || c.Analysis.Temperature > 2 {
			errors = append(errors, fmt.Sprintf("analysis.temperature must be between 0 and 2, got: %.2f", c.Analysis.Temperature))
		}
		if c.Analysis.TokenRefreshSkew < 0 {
			errors = append(errors, fmt.Sprintf("analysis.token_refresh_skew must be >= 0, got: %v", c.Analysis.TokenRefreshSkew))
		}
	}

	// Retention
	if c.Retention.MaxAge < 0 {
		errors = append(errors, fmt.Sprintf("retention.max_age must be >= 0, got: %v", c.Retention.MaxAge))
	}
	if c.Retention.MaxCount < 0 {
		errors = append(errors, fmt.Sprintf("retention.max_count must be >= 0, got: %d", c.Retention.MaxCount))
	}
	if c.Retention.MaxDiskUsagePercent < 0 || c.Retention.MaxDiskUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("retention.max_disk_usage_percent must be between 0 and 100, got: %v", c.Retention.MaxDiskUsagePercent))
	}

	// Alerts
	if c.Alerts.Cooldown < 0 {
		errors = append(errors, fmt.Sprintf("alerts.cooldown must be >= 0, got: %v", c.Alerts.Cooldown))
	}
	if c.Alerts.MQTT.Enabled {
		if c.Alerts.MQTT.Broker == "" {
			errors = append(errors, "alerts.mqtt.broker is required when mqtt alerts are enabled")
		}
		if c.Alerts.MQTT.QoS > 2 {
			errors = append(errors, fmt.Sprintf("alerts.mqtt.qos must be 0, 1 or 2, got: %d", c.Alerts.MQTT.QoS))
		}
	}
	if c.Alerts.Redis.Enabled && c.Alerts.Redis.Addr == "" {
		errors = append(errors, "alerts.redis.addr is required when redis alerts are enabled")
	}

	// Archive
	switch c.Archive.Policy {
	case ArchiveOnDetection, ArchiveAlways, ArchiveNever:
	default:
		errors = append(errors, fmt.Sprintf("invalid archive.policy: %s (must be: on_detection, always or never)", c.Archive.Policy))
	}
	if c.Archive.Policy != ArchiveNever && c.Archive.Dir == "" {
		errors = append(errors, "archive.dir is required unless archive.policy is never")
	}

	// Status server
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validHTTPURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
