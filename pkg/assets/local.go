package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"imagestudio/pkg/domain"
)

// LocalUploader writes images to a directory served at /images/ by the HTTP
// server. Used by filesystem-backed deployments.
type LocalUploader struct {
	baseDir string
	baseURL string
}

// NewLocalUploader creates the images directory if missing. baseURL is the
// externally reachable prefix, e.g. "http://localhost:4000/images".
func NewLocalUploader(baseDir, baseURL string) (*LocalUploader, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, domain.ConfigError("images directory required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	return &LocalUploader{
		baseDir: baseDir,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}, nil
}

// Upload writes the file under a collision-proof name and returns its URL.
// The thumbnail URL is the file itself; local deployments do no resizing.
func (l *LocalUploader) Upload(_ context.Context, req UploadRequest) (UploadResult, error) {
	name := uniqueFilename(req.FileName)
	target := filepath.Join(l.baseDir, name)
	if err := os.WriteFile(target, req.Data, 0o644); err != nil {
		return UploadResult{}, fmt.Errorf("write image file: %w", err)
	}
	url := l.baseURL + "/" + name
	return UploadResult{
		FileID:       name,
		Name:         name,
		URL:          url,
		ThumbnailURL: url,
		FilePath:     "/" + name,
		Size:         int64(len(req.Data)),
	}, nil
}

// Dir returns the directory static file handlers should serve.
func (l *LocalUploader) Dir() string {
	return l.baseDir
}

func uniqueFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." {
		name = "image.png"
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".png"
	}
	return stem + "_" + uuid.NewString()[:8] + ext
}
