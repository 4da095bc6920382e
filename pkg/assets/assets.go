package assets

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// UploadRequest carries decoded image bytes plus placement metadata.
type UploadRequest struct {
	Data     []byte
	FileName string
	Folder   string
	Tags     []string
}

// UploadResult is the canonical description of a stored asset.
type UploadResult struct {
	FileID       string
	Name         string
	URL          string
	ThumbnailURL string
	FilePath     string
	Size         int64
}

// Uploader stores generated image bytes on an asset host and returns public
// URLs. Upload failure is fatal to the enclosing generation request.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}

var dataURIPrefix = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

// DecodeBase64Image decodes a base64 payload into raw bytes, stripping any
// data-URI prefix first.
func DecodeBase64Image(payload string) ([]byte, error) {
	payload = dataURIPrefix.ReplaceAllString(strings.TrimSpace(payload), "")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}
