package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"imagestudio/pkg/ai"
	"imagestudio/pkg/domain"
	"imagestudio/pkg/events"
)

// Generator interfaces are defined on the consumer side so tests can count
// provider invocations without touching the network.
type TextToImageGenerator interface {
	Generate(ctx context.Context, req ai.TextToImageRequest) (domain.GeneratedResult, error)
}

type LucidOriginGenerator interface {
	Generate(ctx context.Context, req ai.LucidOriginRequest) (domain.GeneratedResult, error)
}

type DiffusionGenerator interface {
	Generate(ctx context.Context, req ai.DiffusionRequest) (domain.GeneratedResult, error)
}

type InpaintGenerator interface {
	Generate(ctx context.Context, req ai.InpaintRequest) (domain.GeneratedResult, error)
}

type ImageEditGenerator interface {
	Generate(ctx context.Context, req ai.NanoBananaRequest) (domain.GeneratedResult, error)
}

const maxPromptLength = 2048

func validatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return badRequest(MsgPromptRequired)
	}
	// The limit is characters, not bytes, so multibyte prompts count fairly.
	if utf8.RuneCountInString(prompt) > maxPromptLength {
		return badRequest(MsgPromptTooLong)
	}
	return nil
}

// GenerateFlux runs the default text-to-image model.
func (a *App) GenerateFlux(ctx context.Context, owner string, req ai.TextToImageRequest) (domain.GeneratedResult, error) {
	if req.Steps == 0 {
		req.Steps = 4
	}
	if err := validatePrompt(req.Prompt); err != nil {
		return domain.GeneratedResult{}, err
	}
	if req.Steps < 1 || req.Steps > 8 {
		return domain.GeneratedResult{}, badRequest(MsgStepsRange)
	}
	res, err := a.flux.Generate(ctx, req)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	steps := req.Steps
	a.recordGeneration(ctx, owner, req.Prompt, res, recordParams{
		Steps:  &steps,
		Params: map[string]string{"model": ai.ModelFluxSchnell},
	})
	return res, nil
}

// GenerateLucidOrigin runs the lucid-origin text-to-image model.
func (a *App) GenerateLucidOrigin(ctx context.Context, owner string, req ai.LucidOriginRequest) (domain.GeneratedResult, error) {
	if req.Guidance == 0 {
		req.Guidance = 4.5
	}
	if req.Height == 0 {
		req.Height = 1120
	}
	if req.Width == 0 {
		req.Width = 1120
	}
	if req.Steps == 0 {
		req.Steps = 8
	}
	if err := validatePrompt(req.Prompt); err != nil {
		return domain.GeneratedResult{}, err
	}
	if req.Guidance < 0 || req.Guidance > 10 {
		return domain.GeneratedResult{}, badRequest(MsgGuidanceRange)
	}
	if req.Steps < 1 || req.Steps > 40 {
		return domain.GeneratedResult{}, badRequest(MsgLucidStepsRange)
	}
	if req.Height < 1 || req.Height > 2500 {
		return domain.GeneratedResult{}, badRequest(MsgLucidHeightRange)
	}
	if req.Width < 1 || req.Width > 2500 {
		return domain.GeneratedResult{}, badRequest(MsgLucidWidthRange)
	}
	res, err := a.lucid.Generate(ctx, req)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	steps := req.Steps
	a.recordGeneration(ctx, owner, req.Prompt, res, recordParams{
		Guidance: req.Guidance,
		Seed:     req.Seed,
		Height:   req.Height,
		Width:    req.Width,
		Steps:    &steps,
		Params:   map[string]string{"model": ai.ModelLucidOrigin},
	})
	return res, nil
}

// GenerateSDXL runs the SDXL base model.
func (a *App) GenerateSDXL(ctx context.Context, owner string, req ai.DiffusionRequest) (domain.GeneratedResult, error) {
	applyDiffusionDefaults(&req)
	if err := validateDiffusion(req, false); err != nil {
		return domain.GeneratedResult{}, err
	}
	res, err := a.sdxl.Generate(ctx, req)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	a.recordDiffusion(ctx, owner, req, res, ai.ModelSDXL)
	return res, nil
}

// GenerateImg2Img transforms a source image with stable diffusion.
func (a *App) GenerateImg2Img(ctx context.Context, owner string, req ai.DiffusionRequest) (domain.GeneratedResult, error) {
	applyDiffusionDefaults(&req)
	if err := validateDiffusion(req, true); err != nil {
		return domain.GeneratedResult{}, err
	}
	res, err := a.img2img.Generate(ctx, req)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	a.recordDiffusion(ctx, owner, req, res, ai.ModelImg2Img)
	return res, nil
}

// GenerateInpaint performs a masked edit.
func (a *App) GenerateInpaint(ctx context.Context, owner string, req ai.InpaintRequest) (domain.GeneratedResult, error) {
	if req.Steps == 0 {
		req.Steps = 4
	}
	if err := validatePrompt(req.Prompt); err != nil {
		return domain.GeneratedResult{}, err
	}
	if strings.TrimSpace(req.Image) == "" || strings.TrimSpace(req.Mask) == "" {
		return domain.GeneratedResult{}, badRequest(MsgInpaintInputs)
	}
	if req.Steps < 1 || req.Steps > 8 {
		return domain.GeneratedResult{}, badRequest(MsgStepsRange)
	}
	res, err := a.inpaint.Generate(ctx, req)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	steps := req.Steps
	a.recordGeneration(ctx, owner, req.Prompt, res, recordParams{
		Steps:  &steps,
		Params: map[string]string{"model": ai.ModelInpaint},
	})
	return res, nil
}

// GenerateNanoBanana edits an image through the OpenRouter vision model.
func (a *App) GenerateNanoBanana(ctx context.Context, owner string, req ai.NanoBananaRequest) (domain.GeneratedResult, error) {
	if a.nanoEdit == nil {
		return domain.GeneratedResult{}, domain.ConfigError("OpenRouter API key is not configured")
	}
	if err := validatePrompt(req.Prompt); err != nil {
		return domain.GeneratedResult{}, err
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return domain.GeneratedResult{}, badRequest(MsgImageURLRequired)
	}
	res, err := a.nanoEdit.Generate(ctx, req)
	if err != nil {
		return domain.GeneratedResult{}, err
	}
	a.recordGeneration(ctx, owner, req.Prompt, res, recordParams{
		Params: map[string]string{"model": ai.ModelNanoBanana},
	})
	return res, nil
}

func applyDiffusionDefaults(req *ai.DiffusionRequest) {
	if req.NumSteps == 0 {
		req.NumSteps = 20
	}
	if req.Strength == 0 {
		req.Strength = 1
	}
	if req.Guidance == 0 {
		req.Guidance = 7.5
	}
}

func validateDiffusion(req ai.DiffusionRequest, requireImage bool) error {
	if err := validatePrompt(req.Prompt); err != nil {
		return err
	}
	if requireImage && len(req.Image) == 0 && strings.TrimSpace(req.ImageB64) == "" {
		return badRequest(MsgSourceImageMissing)
	}
	if req.NumSteps > 20 {
		return badRequest(MsgMaxNumSteps)
	}
	if req.Height != 0 && (req.Height < 256 || req.Height > 2048) {
		return badRequest(MsgHeightRange)
	}
	if req.Width != 0 && (req.Width < 256 || req.Width > 2048) {
		return badRequest(MsgWidthRange)
	}
	if req.Strength < 0 || req.Strength > 1 {
		return badRequest(MsgStrengthRange)
	}
	return nil
}

type recordParams struct {
	Guidance float64
	Seed     *int64
	Height   int
	Width    int
	Steps    *int
	Strength float64
	Params   map[string]string
}

func (a *App) recordDiffusion(ctx context.Context, owner string, req ai.DiffusionRequest, res domain.GeneratedResult, model string) {
	numSteps := req.NumSteps
	params := map[string]string{"model": model}
	if req.NegativePrompt != "" {
		params["negative_prompt"] = req.NegativePrompt
	}
	a.recordGeneration(ctx, owner, req.Prompt, res, recordParams{
		Guidance: req.Guidance,
		Seed:     req.Seed,
		Height:   req.Height,
		Width:    req.Width,
		Steps:    &numSteps,
		Strength: req.Strength,
		Params:   params,
	})
}

// recordGeneration queues the image record for asynchronous persistence.
// Failures are logged and never surfaced: the image was already generated and
// uploaded, so the client still gets its result.
func (a *App) recordGeneration(ctx context.Context, owner, prompt string, res domain.GeneratedResult, p recordParams) {
	owner = strings.TrimSpace(strings.ToLower(owner))
	if owner == "" || a.outbox == nil {
		return
	}
	img := domain.GeneratedImage{
		ID:           uuid.NewString(),
		FileID:       res.FileID,
		URL:          res.URL,
		ThumbnailURL: res.ThumbnailURL,
		Prompt:       prompt,
		Guidance:     p.Guidance,
		Seed:         p.Seed,
		Height:       p.Height,
		Width:        p.Width,
		Strength:     p.Strength,
		UserEmail:    owner,
		Params:       p.Params,
		CreatedAt:    time.Now().UTC(),
	}
	if p.Steps != nil {
		img.Steps = *p.Steps
	}
	if _, err := a.outbox.Enqueue(ctx, img); err != nil {
		slog.Error("enqueue image record failed", "image_id", img.ID, "owner", owner, "error", err)
		return
	}
	if err := a.events.PublishImage(ctx, events.ImageCreated, events.ImageEvent{
		ImageID:   img.ID,
		FileID:    img.FileID,
		URL:       img.URL,
		UserEmail: owner,
	}); err != nil {
		slog.Warn("publish image.created failed", "image_id", img.ID, "error", err)
	}
}

// PersistRecord is the outbox handler: it writes one queued record to the
// store. Exposed so main can wire the worker.
func (a *App) PersistRecord(ctx context.Context, img domain.GeneratedImage) error {
	if err := a.store.SaveImage(img); err != nil {
		return fmt.Errorf("save image record: %w", err)
	}
	return nil
}
