package analysis

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Request is the body posted to the vision-language service
type Request struct {
	UserEmail   string    `json:"useremail"`
	History     []Message `json:"history"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
}

// Message is one chat turn
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either a text part or an image part
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries the frame as a data URL
type ImageURL struct {
	URL string `json:"url"`
}

// Verdict is the service's answer for one frame. Its content is opaque to the
// capture loop apart from the detection flag.
type Verdict struct {
	Raw        []byte         `json:"-"`
	ReceivedAt time.Time      `json:"received_at"`
	Success    bool           `json:"success"`
	Fields     map[string]any `json:"fields,omitempty"`
	Text       string         `json:"text,omitempty"` // set when the answer is free text
	Attempts   int            `json:"attempts"`

	detectionKey string
}

// Detected reports whether the monitored condition was found
func (v *Verdict) Detected() bool {
	if v == nil || v.Fields == nil {
		return false
	}
	return truthy(v.Fields[v.key()])
}

// Confidence returns the reported confidence, if any
func (v *Verdict) Confidence() (float64, bool) {
	if v == nil || v.Fields == nil {
		return 0, false
	}
	switch c := v.Fields["confidence"].(type) {
	case float64:
		return c, true
	case json.Number:
		f, err := c.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(c), "%"), 64)
		if err != nil {
			return 0, false
		}
		if strings.HasSuffix(strings.TrimSpace(c), "%") {
			f /= 100
		}
		return f, true
	}
	return 0, false
}

// Reason returns the service's explanation, or the free-text answer
func (v *Verdict) Reason() string {
	if v == nil {
		return ""
	}
	for _, key := range []string{"analysis_reason", "reason", "explanation"} {
		if s, ok := v.Fields[key].(string); ok {
			return s
		}
	}
	return v.Text
}

func (v *Verdict) key() string {
	if v.detectionKey == "" {
		return "water_detected"
	}
	return v.detectionKey
}

func truthy(val any) bool {
	switch b := val.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1", "si", "sí":
			return true
		}
	case float64:
		return b != 0
	}
	return false
}
