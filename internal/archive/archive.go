// Package archive hands frames worth keeping to long-term storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// Archiver copies a frame to a named destination and returns where it landed
type Archiver interface {
	Archive(ctx context.Context, frame *camera.Frame, destination string) (string, error)
}

// Policy decides which frames are archived
type Policy string

const (
	PolicyOnDetection Policy = config.ArchiveOnDetection
	PolicyAlways      Policy = config.ArchiveAlways
	PolicyNever       Policy = config.ArchiveNever
)

// ShouldArchive reports whether a frame with the given verdict outcome is
// archived. detected is false when no verdict was obtained.
func (p Policy) ShouldArchive(detected bool) bool {
	switch p {
	case PolicyAlways:
		return true
	case PolicyNever:
		return false
	default:
		return detected
	}
}

// DirArchiver copies frames into <root>/<destination>/YYYYMMDD/. The local
// copy is left in place for the retention sweep.
type DirArchiver struct {
	root   string
	logger *logger.Logger
}

// NewDirArchiver creates the archive root
func NewDirArchiver(root string, log *logger.Logger) (*DirArchiver, error) {
	if root == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &DirArchiver{root: root, logger: log}, nil
}

// Root returns the archive root directory
func (a *DirArchiver) Root() string {
	return a.root
}

// Archive writes the frame bytes, or copies the persisted file when the
// frame no longer carries its data
func (a *DirArchiver) Archive(ctx context.Context, frame *camera.Frame, destination string) (string, error) {
	if frame == nil {
		return "", errors.New("nil frame")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if destination == "" || filepath.IsAbs(destination) || containsDotDot(destination) {
		return "", fmt.Errorf("invalid archive destination %q", destination)
	}

	name := filepath.Base(frame.Path)
	if frame.Path == "" {
		name = frame.ID + ".jpg"
	}

	dir := filepath.Join(a.root, destination, frame.CapturedAt.UTC().Format("20060102"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive folder: %w", err)
	}
	target := filepath.Join(dir, name)

	var err error
	if len(frame.Data) > 0 {
		err = writeFile(target, frame.Data)
	} else {
		err = copyFile(frame.Path, target)
	}
	if err != nil {
		return "", fmt.Errorf("failed to archive frame %s: %w", frame.ID, err)
	}

	a.logger.Info("Frame archived", "frame_id", frame.ID, "path", target)
	return target, nil
}

func containsDotDot(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func writeFile(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
