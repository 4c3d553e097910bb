package camera

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source identifiers
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Frame is a single captured image
type Frame struct {
	ID          string
	Data        []byte
	ContentType string
	CapturedAt  time.Time
	Source      string
	Path        string // set once persisted
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewFrame wraps freshly captured bytes in a Frame with a sortable ID
func NewFrame(data []byte, contentType, source string, capturedAt time.Time) *Frame {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return &Frame{
		ID:          newFrameID(capturedAt),
		Data:        data,
		ContentType: contentType,
		CapturedAt:  capturedAt,
		Source:      source,
	}
}

// Size returns the frame size in bytes
func (f *Frame) Size() int {
	return len(f.Data)
}

func newFrameID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
