package app

import (
	"context"
	"strings"
	"testing"

	"imagestudio/pkg/ai"
	"imagestudio/pkg/domain"
)

func TestGenerateFluxValidationShortCircuits(t *testing.T) {
	cases := []struct {
		name    string
		req     ai.TextToImageRequest
		wantMsg string
	}{
		{"empty prompt", ai.TextToImageRequest{Prompt: "   "}, MsgPromptRequired},
		{"prompt too long", ai.TextToImageRequest{Prompt: strings.Repeat("x", 2049)}, MsgPromptTooLong},
		{"steps too high", ai.TextToImageRequest{Prompt: "ok", Steps: 9}, MsgStepsRange},
		{"steps negative", ai.TextToImageRequest{Prompt: "ok", Steps: -1}, MsgStepsRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestApp(t)
			_, err := env.app.GenerateFlux(context.Background(), "u@example.com", tc.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if domain.MessageOf(err) != tc.wantMsg {
				t.Errorf("message = %q, want %q", domain.MessageOf(err), tc.wantMsg)
			}
			if env.flux.calls != 0 {
				t.Errorf("provider invoked %d times on invalid input", env.flux.calls)
			}
			if len(env.outbox.entries) != 0 {
				t.Errorf("outbox received %d entries on invalid input", len(env.outbox.entries))
			}
		})
	}
}

func TestGenerateFluxPromptLimitCountsCharacters(t *testing.T) {
	// 2048 two-byte characters must pass, the limit is not a byte count.
	env := newTestApp(t)
	if _, err := env.app.GenerateFlux(context.Background(), "u@example.com", ai.TextToImageRequest{Prompt: strings.Repeat("é", 2048)}); err != nil {
		t.Fatalf("2048-character prompt rejected: %v", err)
	}
	if env.flux.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", env.flux.calls)
	}

	env = newTestApp(t)
	_, err := env.app.GenerateFlux(context.Background(), "u@example.com", ai.TextToImageRequest{Prompt: strings.Repeat("é", 2049)})
	if err == nil {
		t.Fatal("expected validation error at 2049 characters")
	}
	if domain.MessageOf(err) != MsgPromptTooLong {
		t.Errorf("message = %q, want %q", domain.MessageOf(err), MsgPromptTooLong)
	}
}

func TestGenerateFluxEnqueuesRecord(t *testing.T) {
	env := newTestApp(t)
	res, err := env.app.GenerateFlux(context.Background(), "Owner@Example.com", ai.TextToImageRequest{Prompt: "a red bicycle"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.URL == "" {
		t.Error("empty result URL")
	}
	if env.flux.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", env.flux.calls)
	}
	if len(env.outbox.entries) != 1 {
		t.Fatalf("outbox entries = %d, want 1", len(env.outbox.entries))
	}
	rec := env.outbox.entries[0]
	if rec.UserEmail != "owner@example.com" {
		t.Errorf("owner = %q", rec.UserEmail)
	}
	if rec.Prompt != "a red bicycle" {
		t.Errorf("prompt = %q", rec.Prompt)
	}
	if rec.Steps != 4 {
		t.Errorf("steps = %d, want default 4", rec.Steps)
	}
	if rec.URL != res.URL {
		t.Errorf("record url = %q", rec.URL)
	}
}

func TestGenerateFluxAnonymousSkipsRecord(t *testing.T) {
	env := newTestApp(t)
	if _, err := env.app.GenerateFlux(context.Background(), "", ai.TextToImageRequest{Prompt: "no owner"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(env.outbox.entries) != 0 {
		t.Errorf("outbox entries = %d, want 0 for anonymous generation", len(env.outbox.entries))
	}
}

func TestGenerateLucidOriginDefaultsAndBounds(t *testing.T) {
	env := newTestApp(t)
	if _, err := env.app.GenerateLucidOrigin(context.Background(), "u@example.com", ai.LucidOriginRequest{Prompt: "hills"}); err != nil {
		t.Fatalf("generate with defaults: %v", err)
	}
	rec := env.outbox.entries[0]
	if rec.Guidance != 4.5 || rec.Height != 1120 || rec.Width != 1120 || rec.Steps != 8 {
		t.Errorf("defaults not applied: %+v", rec)
	}

	cases := []struct {
		name    string
		req     ai.LucidOriginRequest
		wantMsg string
	}{
		{"guidance too high", ai.LucidOriginRequest{Prompt: "ok", Guidance: 11}, MsgGuidanceRange},
		{"steps too high", ai.LucidOriginRequest{Prompt: "ok", Steps: 41}, MsgLucidStepsRange},
		{"height too high", ai.LucidOriginRequest{Prompt: "ok", Height: 2501}, MsgLucidHeightRange},
		{"width too high", ai.LucidOriginRequest{Prompt: "ok", Width: 2501}, MsgLucidWidthRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestApp(t)
			_, err := env.app.GenerateLucidOrigin(context.Background(), "u@example.com", tc.req)
			if err == nil || domain.MessageOf(err) != tc.wantMsg {
				t.Errorf("err = %v, want %q", err, tc.wantMsg)
			}
			if env.lucid.calls != 0 {
				t.Errorf("provider invoked on invalid input")
			}
		})
	}
}

func TestGenerateSDXLHeightOutOfRange(t *testing.T) {
	env := newTestApp(t)
	_, err := env.app.GenerateSDXL(context.Background(), "u@example.com", ai.DiffusionRequest{Prompt: "ok", Height: 3000})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if domain.MessageOf(err) != MsgHeightRange {
		t.Errorf("message = %q, want %q", domain.MessageOf(err), MsgHeightRange)
	}
	if env.sdxl.calls != 0 {
		t.Error("provider invoked on invalid input")
	}
}

func TestGenerateSDXLDefaults(t *testing.T) {
	env := newTestApp(t)
	if _, err := env.app.GenerateSDXL(context.Background(), "u@example.com", ai.DiffusionRequest{Prompt: "a castle"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	rec := env.outbox.entries[0]
	if rec.Steps != 20 || rec.Strength != 1 || rec.Guidance != 7.5 {
		t.Errorf("defaults not applied: steps=%d strength=%v guidance=%v", rec.Steps, rec.Strength, rec.Guidance)
	}
}

func TestGenerateSDXLStepsCapped(t *testing.T) {
	env := newTestApp(t)
	_, err := env.app.GenerateSDXL(context.Background(), "u@example.com", ai.DiffusionRequest{Prompt: "ok", NumSteps: 25})
	if err == nil || domain.MessageOf(err) != MsgMaxNumSteps {
		t.Errorf("err = %v, want %q", err, MsgMaxNumSteps)
	}
}

func TestGenerateImg2ImgRequiresSourceImage(t *testing.T) {
	env := newTestApp(t)
	_, err := env.app.GenerateImg2Img(context.Background(), "u@example.com", ai.DiffusionRequest{Prompt: "ok"})
	if err == nil || domain.MessageOf(err) != MsgSourceImageMissing {
		t.Errorf("err = %v, want %q", err, MsgSourceImageMissing)
	}
	if env.img2img.calls != 0 {
		t.Error("provider invoked without source image")
	}

	if _, err := env.app.GenerateImg2Img(context.Background(), "u@example.com", ai.DiffusionRequest{Prompt: "ok", ImageB64: "aGk="}); err != nil {
		t.Errorf("generate with image: %v", err)
	}
}

func TestGenerateInpaintRequiresImageAndMask(t *testing.T) {
	env := newTestApp(t)
	_, err := env.app.GenerateInpaint(context.Background(), "u@example.com", ai.InpaintRequest{Prompt: "fix", Image: "aGk="})
	if err == nil || domain.MessageOf(err) != MsgInpaintInputs {
		t.Errorf("err = %v, want %q", err, MsgInpaintInputs)
	}
	if env.inpaint.calls != 0 {
		t.Error("provider invoked without mask")
	}
}

func TestGenerateNanoBananaRequiresImageURL(t *testing.T) {
	env := newTestApp(t)
	_, err := env.app.GenerateNanoBanana(context.Background(), "u@example.com", ai.NanoBananaRequest{Prompt: "make it night"})
	if err == nil || domain.MessageOf(err) != MsgImageURLRequired {
		t.Errorf("err = %v, want %q", err, MsgImageURLRequired)
	}
	if env.nano.calls != 0 {
		t.Error("provider invoked without image url")
	}
}

func TestProviderErrorPassesThrough(t *testing.T) {
	env := newTestApp(t)
	env.flux.err = domain.ProviderError("upstream exploded", nil)
	_, err := env.app.GenerateFlux(context.Background(), "u@example.com", ai.TextToImageRequest{Prompt: "boom"})
	if domain.KindOf(err) != domain.KindProvider {
		t.Errorf("kind = %v, want provider", domain.KindOf(err))
	}
	if len(env.outbox.entries) != 0 {
		t.Error("record enqueued despite provider failure")
	}
}

func TestPersistRecordWritesToStore(t *testing.T) {
	env := newTestApp(t)
	img := domain.GeneratedImage{ID: "img-9", URL: "u", Prompt: "p", UserEmail: "u@example.com"}
	if err := env.app.PersistRecord(context.Background(), img); err != nil {
		t.Fatalf("persist: %v", err)
	}
	got, ok, err := env.store.GetImage("img-9")
	if err != nil || !ok {
		t.Fatalf("image not stored: ok=%v err=%v", ok, err)
	}
	if got.Prompt != "p" {
		t.Errorf("prompt = %q", got.Prompt)
	}
}
