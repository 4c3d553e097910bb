package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Camera types
const (
	CameraTypeLocal  = "local"
	CameraTypeRemote = "remote"
)

// Archive policies
const (
	ArchiveOnDetection = "on_detection"
	ArchiveAlways      = "always"
	ArchiveNever       = "never"
)

// Config represents the application configuration
type Config struct {
	Log       LogConfig       `yaml:"log,omitempty"`
	Camera    CameraConfig    `yaml:"camera"`
	Capture   CaptureConfig   `yaml:"capture"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Retention RetentionConfig `yaml:"retention"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Archive   ArchiveConfig   `yaml:"archive"`
	State     StateConfig     `yaml:"state"`
	Web       WebConfig       `yaml:"web"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CameraConfig selects and configures the frame source
type CameraConfig struct {
	Type       string             `yaml:"type"` // local or remote
	Attempts   int                `yaml:"attempts"`
	RetryDelay time.Duration      `yaml:"retry_delay"`
	Local      LocalCameraConfig  `yaml:"local"`
	Remote     RemoteCameraConfig `yaml:"remote"`
}

// LocalCameraConfig configures an on-device capture device
type LocalCameraConfig struct {
	Device         string        `yaml:"device"` // e.g. /dev/video0; derived from Index when empty
	Index          int           `yaml:"index"`
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	InputFormat    string        `yaml:"input_format"` // ffmpeg -f value, v4l2 by default on linux
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	Quality        int           `yaml:"quality"` // ffmpeg mjpeg -q:v (2 best .. 31 worst)
}

// RemoteCameraConfig configures an IP camera reachable over HTTP
type RemoteCameraConfig struct {
	Host        string        `yaml:"host"`
	Channel     int           `yaml:"channel"`
	SnapshotURL string        `yaml:"snapshot_url"` // overrides the Host/Channel template when set
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"` // never logged
	BasicAuth   bool          `yaml:"basic_auth"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CaptureConfig contains capture loop configuration
type CaptureConfig struct {
	Interval              time.Duration `yaml:"interval"`
	ImageDir              string        `yaml:"image_dir"`
	FilenamePrefix        string        `yaml:"filename_prefix"`
	DailySubdirs          bool          `yaml:"daily_subdirs"`
	RunFor                time.Duration `yaml:"run_for"` // 0 runs until a shutdown signal
	FailureAlertThreshold int           `yaml:"failure_alert_threshold"`
}

// AnalysisConfig contains remote analysis service configuration
type AnalysisConfig struct {
	Enabled              *bool         `yaml:"enabled"`
	BaseURL              string        `yaml:"base_url"`
	TokenURL             string        `yaml:"token_url"`
	ClientID             string        `yaml:"client_id"`
	ClientSecret         string        `yaml:"client_secret"` // never logged
	UserEmail            string        `yaml:"user_email"`
	Scopes               []string      `yaml:"scopes"`
	SendUserInToken      bool          `yaml:"send_user_in_token_request"`
	Model                string        `yaml:"model"`
	Temperature          float64       `yaml:"temperature"`
	Prompt               string        `yaml:"prompt"`
	PromptFile           string        `yaml:"prompt_file"`
	DetectionKey         string        `yaml:"detection_key"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxRetries           int           `yaml:"max_retries"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay"`
	TokenRefreshSkew     time.Duration `yaml:"token_refresh_skew"`
	DefaultTokenLifetime time.Duration `yaml:"default_token_lifetime"`
}

// IsEnabled reports whether frames are sent for analysis
func (a AnalysisConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// RetentionConfig bounds the locally stored frames
type RetentionConfig struct {
	MaxAge              time.Duration `yaml:"max_age"`
	MaxCount            int           `yaml:"max_count"`
	MaxDiskUsagePercent float64       `yaml:"max_disk_usage_percent"` // warn above this
}

// AlertsConfig contains alert dispatch configuration
type AlertsConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Redis    RedisConfig   `yaml:"redis"`
}

// MQTTConfig configures the MQTT alert notifier
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"` // host:port
	ClientID       string        `yaml:"client_id"`
	Topic          string        `yaml:"topic"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RedisConfig configures the Redis pub/sub alert notifier
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// ArchiveConfig contains long-term archival configuration
type ArchiveConfig struct {
	Policy      string `yaml:"policy"`
	Dir         string `yaml:"dir"`
	Destination string `yaml:"destination"`
}

// StateConfig contains frame index configuration
type StateConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// WebConfig contains status server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Load reads and parses the configuration file, applies environment
// overrides and defaults. Callers must still run Validate.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.setDefaults()

	if err := cfg.resolvePrompt(filepath.Dir(configPath)); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.yaml",
		"./config.yaml",
		"/etc/floorwatch/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// resolvePrompt loads the prompt from PromptFile when no inline prompt is set.
// Relative prompt files are resolved against the config file's directory.
func (c *Config) resolvePrompt(baseDir string) error {
	if strings.TrimSpace(c.Analysis.Prompt) != "" || c.Analysis.PromptFile == "" {
		return nil
	}

	path := c.Analysis.PromptFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt file: %w", err)
	}
	c.Analysis.Prompt = strings.TrimSpace(string(data))
	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Camera.Type == "" {
		c.Camera.Type = CameraTypeLocal
	}
	c.Camera.Type = strings.ToLower(c.Camera.Type)
	if c.Camera.Attempts == 0 {
		c.Camera.Attempts = 3
	}
	if c.Camera.RetryDelay == 0 {
		c.Camera.RetryDelay = time.Second
	}
	if c.Camera.Local.Device == "" {
		c.Camera.Local.Device = fmt.Sprintf("/dev/video%d", c.Camera.Local.Index)
	}
	if c.Camera.Local.InputFormat == "" {
		c.Camera.Local.InputFormat = "v4l2"
	}
	if c.Camera.Local.CaptureTimeout == 0 {
		c.Camera.Local.CaptureTimeout = 10 * time.Second
	}
	if c.Camera.Local.Quality == 0 {
		c.Camera.Local.Quality = 2
	}
	if c.Camera.Remote.Timeout == 0 {
		c.Camera.Remote.Timeout = 10 * time.Second
	}

	if c.Capture.Interval == 0 {
		c.Capture.Interval = 10 * time.Second
	}
	if c.Capture.ImageDir == "" {
		c.Capture.ImageDir = "captured_images"
	}
	if c.Capture.FilenamePrefix == "" {
		c.Capture.FilenamePrefix = "image"
	}
	if c.Capture.FailureAlertThreshold == 0 {
		c.Capture.FailureAlertThreshold = 10
	}

	if c.Analysis.Model == "" {
		c.Analysis.Model = "gemini-pro-vision-1.5"
	}
	if c.Analysis.Temperature == 0 {
		c.Analysis.Temperature = 0.1
	}
	if c.Analysis.DetectionKey == "" {
		c.Analysis.DetectionKey = "water_detected"
	}
	if c.Analysis.Timeout == 0 {
		c.Analysis.Timeout = 30 * time.Second
	}
	if c.Analysis.MaxRetries == 0 {
		c.Analysis.MaxRetries = 2
	}
	if c.Analysis.RetryBaseDelay == 0 {
		c.Analysis.RetryBaseDelay = time.Second
	}
	if c.Analysis.TokenRefreshSkew == 0 {
		c.Analysis.TokenRefreshSkew = 60 * time.Second
	}
	if c.Analysis.DefaultTokenLifetime == 0 {
		c.Analysis.DefaultTokenLifetime = time.Hour
	}

	if c.Retention.MaxAge == 0 && c.Retention.MaxCount == 0 {
		c.Retention.MaxAge = 300 * time.Second
	}
	if c.Retention.MaxDiskUsagePercent == 0 {
		c.Retention.MaxDiskUsagePercent = 90
	}

	if c.Alerts.Cooldown == 0 {
		c.Alerts.Cooldown = 5 * time.Minute
	}
	if c.Alerts.MQTT.ClientID == "" {
		c.Alerts.MQTT.ClientID = "floorwatch"
	}
	if c.Alerts.MQTT.Topic == "" {
		c.Alerts.MQTT.Topic = "floorwatch/alerts"
	}
	if c.Alerts.MQTT.ConnectTimeout == 0 {
		c.Alerts.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.Alerts.Redis.Addr == "" {
		c.Alerts.Redis.Addr = "localhost:6379"
	}
	if c.Alerts.Redis.Channel == "" {
		c.Alerts.Redis.Channel = "floorwatch:alerts"
	}

	if c.Archive.Policy == "" {
		c.Archive.Policy = ArchiveOnDetection
	}
	c.Archive.Policy = strings.ToLower(c.Archive.Policy)
	if c.Archive.Dir == "" {
		c.Archive.Dir = "archive"
	}
	if c.Archive.Destination == "" {
		c.Archive.Destination = "detections"
	}

	if c.State.DBPath == "" {
		c.State.DBPath = filepath.Join("data", "frames.db")
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
}

// Redacted returns a copy safe to log: secrets are masked
func (c *Config) Redacted() Config {
	out := *c
	out.Analysis.ClientSecret = mask(out.Analysis.ClientSecret)
	out.Analysis.ClientID = mask(out.Analysis.ClientID)
	out.Camera.Remote.Password = mask(out.Camera.Remote.Password)
	out.Alerts.MQTT.Password = mask(out.Alerts.MQTT.Password)
	out.Alerts.Redis.Password = mask(out.Alerts.Redis.Password)
	out.Analysis.Prompt = fmt.Sprintf("<%d chars>", len(c.Analysis.Prompt))
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
