package ai

import (
	"context"
	"regexp"
	"strings"
	"time"

	"imagestudio/pkg/assets"
	"imagestudio/pkg/domain"
)

// Workers AI model identifiers, one per adapter.
const (
	ModelFluxSchnell = "@cf/black-forest-labs/flux-1-schnell"
	ModelLucidOrigin = "@cf/leonardo/lucid-origin"
	ModelSDXL        = "@cf/stabilityai/stable-diffusion-xl-base-1.0"
	ModelImg2Img     = "@cf/runwayml/stable-diffusion-v1-5-img2img"
	ModelInpaint     = "@cf/runwayml/stable-diffusion-inpainting"
)

const uploadFolder = "/generated-images"

// TextToImageRequest is the normalized input for the simple text-to-image
// models (flux-1-schnell by default).
type TextToImageRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
	Model  string `json:"model,omitempty"`
}

// LucidOriginRequest is the normalized input for the lucid-origin model.
type LucidOriginRequest struct {
	Prompt   string  `json:"prompt"`
	Guidance float64 `json:"guidance"`
	Seed     *int64  `json:"seed,omitempty"`
	Height   int     `json:"height"`
	Width    int     `json:"width"`
	Steps    int     `json:"steps"`
}

// DiffusionRequest is the normalized input shared by the SDXL and
// image-to-image stable-diffusion models. Source images arrive either as a
// byte array (Image) or a base64 string (ImageB64); both are forwarded
// verbatim.
type DiffusionRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Height         int     `json:"height,omitempty"`
	Width          int     `json:"width,omitempty"`
	Image          []int   `json:"image,omitempty"`
	ImageB64       string  `json:"image_b64,omitempty"`
	Mask           []int   `json:"mask,omitempty"`
	NumSteps       int     `json:"num_steps"`
	Strength       float64 `json:"strength"`
	Guidance       float64 `json:"guidance"`
	Seed           *int64  `json:"seed,omitempty"`
}

// InpaintRequest is the normalized input for masked edits. Image and mask are
// base64 payloads.
type InpaintRequest struct {
	Image  string `json:"image"`
	Mask   string `json:"mask"`
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
	Model  string `json:"model,omitempty"`
}

// FluxAdapter generates images with flux-1-schnell, which replies with a
// JSON-enveloped base64 image.
type FluxAdapter struct {
	client   *CloudflareClient
	uploader assets.Uploader
}

func NewFluxAdapter(client *CloudflareClient, uploader assets.Uploader) *FluxAdapter {
	return &FluxAdapter{client: client, uploader: uploader}
}

func (a *FluxAdapter) Generate(ctx context.Context, req TextToImageRequest) (domain.GeneratedResult, error) {
	model := req.Model
	if model == "" {
		model = ModelFluxSchnell
	}
	payload := map[string]any{"prompt": req.Prompt, "steps": req.Steps}
	data, err := a.client.Run(ctx, model, payload, responseJSON)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	sanitized := sanitizePrompt(req.Prompt, 50)
	return upload(ctx, a.uploader, data, timestamp()+"_"+sanitized+".png",
		[]string{"ai-generated", "text-to-image", clip(sanitized, 20)})
}

// LucidOriginAdapter generates images with leonardo/lucid-origin
// (JSON-enveloped base64 response).
type LucidOriginAdapter struct {
	client   *CloudflareClient
	uploader assets.Uploader
}

func NewLucidOriginAdapter(client *CloudflareClient, uploader assets.Uploader) *LucidOriginAdapter {
	return &LucidOriginAdapter{client: client, uploader: uploader}
}

func (a *LucidOriginAdapter) Generate(ctx context.Context, req LucidOriginRequest) (domain.GeneratedResult, error) {
	payload := map[string]any{
		"prompt":   req.Prompt,
		"steps":    req.Steps,
		"guidance": req.Guidance,
		"height":   req.Height,
		"width":    req.Width,
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	data, err := a.client.Run(ctx, ModelLucidOrigin, payload, responseJSON)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	sanitized := sanitizePrompt(req.Prompt, 50)
	return upload(ctx, a.uploader, data, timestamp()+"_lucid-origin_"+sanitized+".png",
		[]string{"ai-generated", "lucid-origin", "text-to-image", clip(sanitized, 20)})
}

// SDXLAdapter generates images with stable-diffusion-xl-base-1.0, which
// replies with a raw PNG body.
type SDXLAdapter struct {
	client   *CloudflareClient
	uploader assets.Uploader
}

func NewSDXLAdapter(client *CloudflareClient, uploader assets.Uploader) *SDXLAdapter {
	return &SDXLAdapter{client: client, uploader: uploader}
}

func (a *SDXLAdapter) Generate(ctx context.Context, req DiffusionRequest) (domain.GeneratedResult, error) {
	data, err := a.client.Run(ctx, ModelSDXL, req, responseBinary)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	sanitized := sanitizePrompt(req.Prompt, 50)
	return upload(ctx, a.uploader, data, timestamp()+"_sdxl_"+sanitized+".png",
		[]string{"ai-generated", "sdxl", "stable-diffusion", clip(sanitized, 20)})
}

// Img2ImgAdapter transforms source images with stable-diffusion-v1-5-img2img
// (raw PNG response).
type Img2ImgAdapter struct {
	client   *CloudflareClient
	uploader assets.Uploader
}

func NewImg2ImgAdapter(client *CloudflareClient, uploader assets.Uploader) *Img2ImgAdapter {
	return &Img2ImgAdapter{client: client, uploader: uploader}
}

func (a *Img2ImgAdapter) Generate(ctx context.Context, req DiffusionRequest) (domain.GeneratedResult, error) {
	data, err := a.client.Run(ctx, ModelImg2Img, req, responseBinary)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	sanitized := sanitizePrompt(req.Prompt, 50)
	return upload(ctx, a.uploader, data, timestamp()+"_img2img_"+sanitized+".png",
		[]string{"ai-generated", "image-to-image", "stable-diffusion", clip(sanitized, 20)})
}

// InpaintAdapter performs masked edits with stable-diffusion-inpainting
// (JSON-enveloped base64 response).
type InpaintAdapter struct {
	client   *CloudflareClient
	uploader assets.Uploader
}

func NewInpaintAdapter(client *CloudflareClient, uploader assets.Uploader) *InpaintAdapter {
	return &InpaintAdapter{client: client, uploader: uploader}
}

func (a *InpaintAdapter) Generate(ctx context.Context, req InpaintRequest) (domain.GeneratedResult, error) {
	model := req.Model
	if model == "" {
		model = ModelInpaint
	}
	payload := map[string]any{
		"image":  req.Image,
		"mask":   req.Mask,
		"prompt": req.Prompt,
		"steps":  req.Steps,
	}
	data, err := a.client.Run(ctx, model, payload, responseJSON)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	sanitized := sanitizePrompt(req.Prompt, 30)
	return upload(ctx, a.uploader, data, "inpaint_"+timestamp()+"_"+sanitized+".png",
		[]string{"ai-generated", "inpainting", clip(sanitized, 20)})
}

func upload(ctx context.Context, uploader assets.Uploader, data []byte, fileName string, tags []string) (domain.GeneratedResult, error) {
	res, err := uploader.Upload(ctx, assets.UploadRequest{
		Data:     data,
		FileName: fileName,
		Folder:   uploadFolder,
		Tags:     tags,
	})
	if err != nil {
		return domain.GeneratedResult{}, domain.ProviderError("Failed to upload image", err)
	}
	return domain.GeneratedResult{
		FileID:       res.FileID,
		URL:          res.URL,
		ThumbnailURL: res.ThumbnailURL,
		FileName:     res.Name,
		FilePath:     res.FilePath,
	}, nil
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
var spaces = regexp.MustCompile(`\s+`)

// sanitizePrompt turns a prompt into a filename-safe, length-limited slug.
func sanitizePrompt(prompt string, max int) string {
	s := nonAlnum.ReplaceAllString(prompt, "")
	s = spaces.ReplaceAllString(s, "-")
	return clip(s, max)
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func timestamp() string {
	ts := time.Now().UTC().Format(time.RFC3339)
	ts = strings.ReplaceAll(ts, ":", "-")
	return strings.ReplaceAll(ts, ".", "-")
}
