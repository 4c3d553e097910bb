package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// Service holds the validated configuration for the running process.
// Configuration is read once at startup; changes need a restart.
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewService loads, overrides and validates the configuration
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if log != nil {
		redacted := cfg.Redacted()
		log.Debug("Configuration loaded", "path", configPath, "config", redacted)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
	}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Path returns the file the configuration was read from
func (s *Service) Path() string {
	return s.configPath
}

// applyEnvOverrides applies environment variable overrides to configuration.
// Credentials are expected to come from the environment rather than the file.
func applyEnvOverrides(cfg *Config) {
	// Analysis service credentials and endpoints
	if val := os.Getenv("ANALYSIS_CLIENT_ID"); val != "" {
		cfg.Analysis.ClientID = val
	}
	if val := os.Getenv("ANALYSIS_CLIENT_SECRET"); val != "" {
		cfg.Analysis.ClientSecret = val
	}
	if val := os.Getenv("ANALYSIS_USER_EMAIL"); val != "" {
		cfg.Analysis.UserEmail = val
	}
	if val := os.Getenv("ANALYSIS_BASE_URL"); val != "" {
		cfg.Analysis.BaseURL = val
	}
	if val := os.Getenv("ANALYSIS_TOKEN_URL"); val != "" {
		cfg.Analysis.TokenURL = val
	}
	if val := os.Getenv("ANALYSIS_SCOPES"); val != "" {
		scopes := strings.Split(val, ",")
		for i := range scopes {
			scopes[i] = strings.TrimSpace(scopes[i])
		}
		cfg.Analysis.Scopes = scopes
	}
	if val := os.Getenv("ANALYSIS_ENABLED"); val != "" {
		enabled := GetEnvBool("ANALYSIS_ENABLED", true)
		cfg.Analysis.Enabled = &enabled
	}

	// Camera
	if val := os.Getenv("CAMERA_TYPE"); val != "" {
		cfg.Camera.Type = val
	}
	if val := os.Getenv("CAMERA_HOST"); val != "" {
		cfg.Camera.Remote.Host = val
	}
	if val := os.Getenv("CAMERA_USER"); val != "" {
		cfg.Camera.Remote.User = val
	}
	if val := os.Getenv("CAMERA_PASSWORD"); val != "" {
		cfg.Camera.Remote.Password = val
	}

	// Capture loop
	if val := os.Getenv("CAPTURE_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			cfg.Capture.Interval = interval
		}
	}
	if val := os.Getenv("CAPTURE_IMAGE_DIR"); val != "" {
		cfg.Capture.ImageDir = val
	}
	if val := os.Getenv("RETENTION_MAX_AGE"); val != "" {
		if age, err := time.ParseDuration(val); err == nil {
			cfg.Retention.MaxAge = age
		}
	}
	if val := os.Getenv("RETENTION_MAX_COUNT"); val != "" {
		if count, err := parseInt(val); err == nil {
			cfg.Retention.MaxCount = count
		}
	}

	// Alert transports
	if val := os.Getenv("MQTT_PASSWORD"); val != "" {
		cfg.Alerts.MQTT.Password = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Alerts.Redis.Password = val
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// Helper functions for parsing environment variables
func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}
