package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// Kind identifies what an alert is about. Cooldown is tracked per kind.
type Kind string

const (
	KindDetection         Kind = "detection"
	KindCameraUnavailable Kind = "camera_unavailable"
	KindStorage           Kind = "storage"
)

// Alert is a notification raised by the capture loop
type Alert struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Message    string         `json:"message"`
	CycleID    string         `json:"cycle_id,omitempty"`
	FrameID    string         `json:"frame_id,omitempty"`
	FramePath  string         `json:"frame_path,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	RaisedAt   time.Time      `json:"raised_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// New creates an alert with a generated ID
func New(kind Kind, message string, at time.Time) Alert {
	return Alert{
		ID:       uuid.New().String(),
		Kind:     kind,
		Message:  message,
		RaisedAt: at,
	}
}

// JSON returns the wire payload published by the broker notifiers
func (a Alert) JSON() ([]byte, error) {
	return json.Marshal(a)
}

// Notifier delivers alerts to one destination
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
	Name() string
	Close() error
}

// LogNotifier writes alerts to the application log
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Close() error { return nil }

// Notify logs the alert at warn level
func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	fields := []interface{}{
		"alert_id", a.ID,
		"kind", a.Kind,
		"raised_at", a.RaisedAt,
	}
	if a.CycleID != "" {
		fields = append(fields, "cycle_id", a.CycleID)
	}
	if a.FramePath != "" {
		fields = append(fields, "frame_path", a.FramePath)
	}
	if a.Confidence != nil {
		fields = append(fields, "confidence", *a.Confidence)
	}
	if a.Reason != "" {
		fields = append(fields, "reason", a.Reason)
	}
	n.logger.Warn("ALERT: "+a.Message, fields...)
	return nil
}

// MultiNotifier fans an alert out to every notifier. Delivery continues past
// individual failures; the joined error names each failed destination.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a fan-out notifier
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Name() string { return "multi" }

// Notifiers returns the wrapped notifiers
func (m *MultiNotifier) Notifiers() []Notifier {
	return m.notifiers
}

// Notify delivers to every notifier
func (m *MultiNotifier) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier
func (m *MultiNotifier) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
