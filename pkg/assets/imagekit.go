package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"imagestudio/pkg/domain"
)

const defaultImageKitUploadURL = "https://upload.imagekit.io/api/v1/files/upload"

// ImageKitConfig holds credentials for the ImageKit upload API.
type ImageKitConfig struct {
	PrivateKey string
	UploadURL  string
}

// ImageKitUploader uploads images through the ImageKit REST upload API.
type ImageKitUploader struct {
	privateKey string
	uploadURL  string
	httpClient *http.Client
}

// NewImageKitUploader constructs the uploader, failing fast on missing
// credentials.
func NewImageKitUploader(cfg ImageKitConfig) (*ImageKitUploader, error) {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, domain.ConfigError("imagekit private key required")
	}
	uploadURL := strings.TrimSpace(cfg.UploadURL)
	if uploadURL == "" {
		uploadURL = defaultImageKitUploadURL
	}
	return &ImageKitUploader{
		privateKey: strings.TrimSpace(cfg.PrivateKey),
		uploadURL:  uploadURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type imageKitUploadResponse struct {
	FileID       string `json:"fileId"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	FilePath     string `json:"filePath"`
	Size         int64  `json:"size"`
	Message      string `json:"message"`
}

// Upload sends the image as a base64 multipart field, letting ImageKit pick a
// unique final file name.
func (u *ImageKitUploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	fields := map[string]string{
		"file":              base64.StdEncoding.EncodeToString(req.Data),
		"fileName":          req.FileName,
		"useUniqueFileName": "true",
	}
	if req.Folder != "" {
		fields["folder"] = req.Folder
	}
	if len(req.Tags) > 0 {
		fields["tags"] = strings.Join(req.Tags, ",")
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return UploadResult{}, fmt.Errorf("write form field %s: %w", key, err)
		}
	}
	if err := form.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, body)
	if err != nil {
		return UploadResult{}, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.SetBasicAuth(u.privateKey, "")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return UploadResult{}, fmt.Errorf("imagekit upload: %w", err)
	}
	defer resp.Body.Close()

	var decoded imageKitUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return UploadResult{}, fmt.Errorf("imagekit decode: %w", err)
	}
	if resp.StatusCode >= 400 {
		if decoded.Message != "" {
			return UploadResult{}, fmt.Errorf("imagekit api error: %s", decoded.Message)
		}
		return UploadResult{}, fmt.Errorf("imagekit api error: %s", resp.Status)
	}
	if decoded.URL == "" {
		return UploadResult{}, fmt.Errorf("imagekit returned no url")
	}
	thumbnail := decoded.ThumbnailURL
	if thumbnail == "" {
		thumbnail = decoded.URL
	}
	return UploadResult{
		FileID:       decoded.FileID,
		Name:         decoded.Name,
		URL:          decoded.URL,
		ThumbnailURL: thumbnail,
		FilePath:     decoded.FilePath,
		Size:         decoded.Size,
	}, nil
}
