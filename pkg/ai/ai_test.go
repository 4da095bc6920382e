package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"imagestudio/pkg/assets"
	"imagestudio/pkg/domain"
)

type fakeUploader struct {
	lastReq assets.UploadRequest
	calls   int
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, req assets.UploadRequest) (assets.UploadResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return assets.UploadResult{}, f.err
	}
	return assets.UploadResult{
		FileID:       "file-123",
		Name:         req.FileName,
		URL:          "https://cdn.example.com/" + req.FileName,
		ThumbnailURL: "https://cdn.example.com/tr:n-media_library_thumbnail/" + req.FileName,
		FilePath:     req.Folder + "/" + req.FileName,
		Size:         int64(len(req.Data)),
	}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*CloudflareClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewCloudflareClient(CloudflareConfig{
		AccountID: "acct-1",
		APIToken:  "token-1",
		BaseURL:   srv.URL,
	})
	if err != nil {
		t.Fatalf("NewCloudflareClient: %v", err)
	}
	return client, srv
}

func TestCloudflareClientJSONResponse(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q", got)
		}
		wantPath := "/accounts/acct-1/ai/run/" + ModelFluxSchnell
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"image": base64.StdEncoding.EncodeToString(png)},
		})
	})

	data, err := client.Run(context.Background(), ModelFluxSchnell, map[string]any{"prompt": "a cat"}, responseJSON)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(data) != string(png) {
		t.Errorf("decoded bytes mismatch: got %v", data)
	}
}

func TestCloudflareClientBinaryResponse(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 9, 8, 7}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})

	data, err := client.Run(context.Background(), ModelSDXL, map[string]any{"prompt": "a dog"}, responseBinary)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(data) != string(png) {
		t.Errorf("binary bytes mismatch")
	}
}

func TestCloudflareClientUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "invalid model parameter"}},
		})
	})

	_, err := client.Run(context.Background(), ModelSDXL, map[string]any{}, responseBinary)
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindProvider {
		t.Errorf("kind = %v, want provider", domain.KindOf(err))
	}
	if !strings.Contains(domain.MessageOf(err), "invalid model parameter") {
		t.Errorf("message = %q, want upstream detail", domain.MessageOf(err))
	}
}

func TestCloudflareClientNoImageData(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{}})
	})

	_, err := client.Run(context.Background(), ModelFluxSchnell, map[string]any{"prompt": "x"}, responseJSON)
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.MessageOf(err) != "No image data received from API" {
		t.Errorf("message = %q", domain.MessageOf(err))
	}
}

func TestNewCloudflareClientMissingCredentials(t *testing.T) {
	if _, err := NewCloudflareClient(CloudflareConfig{APIToken: "t"}); err == nil {
		t.Error("expected error for missing account ID")
	}
	if _, err := NewCloudflareClient(CloudflareConfig{AccountID: "a"}); err == nil {
		t.Error("expected error for missing API token")
	}
}

func TestFluxAdapterGenerate(t *testing.T) {
	png := []byte("fake-png-bytes")
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["prompt"] != "A red fox, painted!" {
			t.Errorf("prompt = %v", payload["prompt"])
		}
		if payload["steps"] != float64(4) {
			t.Errorf("steps = %v", payload["steps"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"image": base64.StdEncoding.EncodeToString(png)},
		})
	})

	up := &fakeUploader{}
	adapter := NewFluxAdapter(client, up)
	res, err := adapter.Generate(context.Background(), TextToImageRequest{Prompt: "A red fox, painted!", Steps: 4})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.URL == "" || res.FileID != "file-123" {
		t.Errorf("unexpected result %+v", res)
	}
	if up.calls != 1 {
		t.Fatalf("uploader calls = %d", up.calls)
	}
	if up.lastReq.Folder != uploadFolder {
		t.Errorf("folder = %q", up.lastReq.Folder)
	}
	if strings.ContainsAny(up.lastReq.FileName, "!,") {
		t.Errorf("filename not sanitized: %q", up.lastReq.FileName)
	}
	if !strings.HasSuffix(up.lastReq.FileName, ".png") {
		t.Errorf("filename = %q", up.lastReq.FileName)
	}
}

func TestSDXLAdapterUploadFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png"))
	})

	up := &fakeUploader{err: errors.New("bucket unavailable")}
	adapter := NewSDXLAdapter(client, up)
	_, err := adapter.Generate(context.Background(), DiffusionRequest{Prompt: "hills", NumSteps: 20, Strength: 1, Guidance: 7.5})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindProvider {
		t.Errorf("kind = %v", domain.KindOf(err))
	}
}

func TestInpaintAdapterFileNamePrefix(t *testing.T) {
	png := []byte("inpainted")
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"image": base64.StdEncoding.EncodeToString(png)},
		})
	})

	up := &fakeUploader{}
	adapter := NewInpaintAdapter(client, up)
	_, err := adapter.Generate(context.Background(), InpaintRequest{
		Image: "aGk=", Mask: "aGk=", Prompt: "remove the lamp", Steps: 4,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(up.lastReq.FileName, "inpaint_") {
		t.Errorf("filename = %q", up.lastReq.FileName)
	}
}

func TestSanitizePrompt(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"A red fox, painted!", 50, "A-red-fox-painted"},
		{"hello   world", 50, "hello-world"},
		{"abcdefghij", 5, "abcde"},
		{"", 50, ""},
	}
	for _, tc := range cases {
		if got := sanitizePrompt(tc.in, tc.max); got != tc.want {
			t.Errorf("sanitizePrompt(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestOpenRouterAdapterGenerate(t *testing.T) {
	png := []byte("edited-image")
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer or-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("HTTP-Referer"); got != "https://studio.example.com" {
			t.Errorf("HTTP-Referer = %q", got)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != ModelNanoBanana {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Fatalf("unexpected message shape: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"images": []map[string]any{{
						"image_url": map[string]any{"url": dataURI},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	up := &fakeUploader{}
	adapter, err := NewOpenRouterAdapter(OpenRouterConfig{
		APIKey:  "or-key",
		BaseURL: srv.URL,
		SiteURL: "https://studio.example.com",
	}, up)
	if err != nil {
		t.Fatalf("NewOpenRouterAdapter: %v", err)
	}

	res, err := adapter.Generate(context.Background(), NanoBananaRequest{
		Prompt:   "make it night",
		ImageURL: "data:image/png;base64,aGk=",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(up.lastReq.Data) != string(png) {
		t.Errorf("uploaded bytes mismatch")
	}
	if !strings.HasSuffix(up.lastReq.FileName, "_nanoBanana.png") {
		t.Errorf("filename = %q", up.lastReq.FileName)
	}
	if res.URL == "" {
		t.Error("empty URL")
	}
}

func TestOpenRouterAdapterNoImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{}}},
		})
	}))
	defer srv.Close()

	adapter, err := NewOpenRouterAdapter(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL}, &fakeUploader{})
	if err != nil {
		t.Fatalf("NewOpenRouterAdapter: %v", err)
	}
	_, err = adapter.Generate(context.Background(), NanoBananaRequest{Prompt: "x", ImageURL: "y"})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.MessageOf(err) != "No image data received from API" {
		t.Errorf("message = %q", domain.MessageOf(err))
	}
}

func TestOpenRouterAdapterMissingKey(t *testing.T) {
	if _, err := NewOpenRouterAdapter(OpenRouterConfig{}, &fakeUploader{}); err == nil {
		t.Error("expected config error")
	}
}
