package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagestudio/pkg/assets"
	"imagestudio/pkg/domain"
)

const defaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// responseKind tags the wire shape a Workers AI model replies with. It is
// decided once per adapter from the known contract of that model, not sniffed
// at runtime.
type responseKind int

const (
	// responseJSON is a JSON envelope with a base64 image in result.image.
	responseJSON responseKind = iota + 1
	// responseBinary is a raw PNG body.
	responseBinary
)

// CloudflareConfig holds Workers AI credentials. Adapters receive it at
// construction; nothing reads process-wide state.
type CloudflareConfig struct {
	AccountID string
	APIToken  string
	BaseURL   string
}

// CloudflareClient calls the Cloudflare Workers AI run API.
type CloudflareClient struct {
	accountID  string
	apiToken   string
	baseURL    string
	httpClient *http.Client
}

// NewCloudflareClient constructs a client, failing fast on missing
// credentials before any network call can happen.
func NewCloudflareClient(cfg CloudflareConfig) (*CloudflareClient, error) {
	accountID := strings.TrimSpace(cfg.AccountID)
	apiToken := strings.TrimSpace(cfg.APIToken)
	if accountID == "" || apiToken == "" {
		return nil, domain.ConfigError("cloudflare account id and api token required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultCloudflareBaseURL
	}
	return &CloudflareClient{
		accountID:  accountID,
		apiToken:   apiToken,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type cloudflareJSONResponse struct {
	Result struct {
		Image string `json:"image"`
	} `json:"result"`
	Success bool `json:"success"`
}

type cloudflareErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Message string `json:"message"`
}

// Run invokes a model and returns decoded PNG bytes regardless of which wire
// shape the model uses.
func (c *CloudflareClient) Run(ctx context.Context, model string, payload any, kind responseKind) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.baseURL, c.accountID, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.ProviderError("Failed to generate image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, upstreamError(resp)
	}

	switch kind {
	case responseBinary:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.ProviderError("Failed to read image data", err)
		}
		if len(data) == 0 {
			return nil, domain.ProviderError("No image data received from API", nil)
		}
		return data, nil
	default:
		var decoded cloudflareJSONResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, domain.ProviderError("Failed to decode image response", err)
		}
		if decoded.Result.Image == "" {
			return nil, domain.ProviderError("No image data received from API", nil)
		}
		data, err := assets.DecodeBase64Image(decoded.Result.Image)
		if err != nil {
			return nil, domain.ProviderError("Failed to decode image data", err)
		}
		return data, nil
	}
}

func upstreamError(resp *http.Response) error {
	var decoded cloudflareErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	if len(decoded.Errors) > 0 && decoded.Errors[0].Message != "" {
		return domain.ProviderError(decoded.Errors[0].Message, nil)
	}
	if decoded.Message != "" {
		return domain.ProviderError(decoded.Message, nil)
	}
	return domain.ProviderError(fmt.Sprintf("API Error: %d", resp.StatusCode), nil)
}
