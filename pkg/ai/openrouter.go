package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"imagestudio/pkg/assets"
	"imagestudio/pkg/domain"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ModelNanoBanana is the multimodal editing model reached through OpenRouter.
const ModelNanoBanana = "google/gemini-2.5-flash-image-preview:free"

// OpenRouterConfig carries credentials and optional attribution headers for
// the OpenRouter chat completions API.
type OpenRouterConfig struct {
	APIKey    string
	BaseURL   string
	SiteURL   string
	SiteTitle string
}

// NanoBananaRequest is the normalized input for the OpenRouter image edit
// operation. ImageURL may be a data URI or a fetchable URL.
type NanoBananaRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"imageUrl"`
}

// OpenRouterAdapter edits images through OpenRouter chat completions and
// uploads the returned data URI through the asset gateway.
type OpenRouterAdapter struct {
	cfg      OpenRouterConfig
	http     *http.Client
	uploader assets.Uploader
}

func NewOpenRouterAdapter(cfg OpenRouterConfig, uploader assets.Uploader) (*OpenRouterAdapter, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("OpenRouter API key is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterBaseURL
	}
	return &OpenRouterAdapter{
		cfg:      cfg,
		http:     &http.Client{Timeout: 120 * time.Second},
		uploader: uploader,
	}, nil
}

type chatContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *OpenRouterAdapter) Generate(ctx context.Context, req NanoBananaRequest) (domain.GeneratedResult, error) {
	body := chatRequest{
		Model: ModelNanoBanana,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &struct {
					URL string `json:"url"`
				}{URL: req.ImageURL}},
			},
		}},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.GeneratedResult{}, domain.InternalError("encode openrouter request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return domain.GeneratedResult{}, domain.InternalError("build openrouter request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", a.cfg.SiteURL)
	}
	if a.cfg.SiteTitle != "" {
		httpReq.Header.Set("X-Title", a.cfg.SiteTitle)
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return domain.GeneratedResult{}, domain.ProviderError("OpenRouter request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GeneratedResult{}, domain.ProviderError("read OpenRouter response", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return domain.GeneratedResult{}, domain.ProviderError("decode OpenRouter response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := fmt.Sprintf("OpenRouter returned status %d", resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return domain.GeneratedResult{}, domain.ProviderError(msg, nil)
	}
	if len(decoded.Choices) == 0 || len(decoded.Choices[0].Message.Images) == 0 {
		return domain.GeneratedResult{}, domain.ProviderError("No image data received from API", nil)
	}

	data, err := assets.DecodeBase64Image(decoded.Choices[0].Message.Images[0].ImageURL.URL)
	if err != nil {
		return domain.GeneratedResult{}, domain.ProviderError("decode generated image", err)
	}

	return upload(ctx, a.uploader, data, timestamp()+"_nanoBanana.png",
		[]string{"ai-generated", "nano-banana", clip(sanitizePrompt(req.Prompt, 50), 20)})
}
