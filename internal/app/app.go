package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"imagestudio/pkg/auth"
	"imagestudio/pkg/domain"
	"imagestudio/pkg/events"
	"imagestudio/pkg/outbox"
	"imagestudio/pkg/store"
)

// Config holds collaborators for the core application.
type Config struct {
	Store    store.Store
	Outbox   outbox.Outbox
	Events   events.Publisher
	Flux     TextToImageGenerator
	Lucid    LucidOriginGenerator
	SDXL     DiffusionGenerator
	Img2Img  DiffusionGenerator
	Inpaint  InpaintGenerator
	NanoEdit ImageEditGenerator
}

// App wires storage, the persistence outbox and the provider adapters.
type App struct {
	store    store.Store
	outbox   outbox.Outbox
	events   events.Publisher
	flux     TextToImageGenerator
	lucid    LucidOriginGenerator
	sdxl     DiffusionGenerator
	img2img  DiffusionGenerator
	inpaint  InpaintGenerator
	nanoEdit ImageEditGenerator
}

// New constructs the application. Store is required; a nil events publisher
// falls back to a no-op.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &App{
		store:    cfg.Store,
		outbox:   cfg.Outbox,
		events:   publisher,
		flux:     cfg.Flux,
		lucid:    cfg.Lucid,
		sdxl:     cfg.SDXL,
		img2img:  cfg.Img2Img,
		inpaint:  cfg.Inpaint,
		nanoEdit: cfg.NanoEdit,
	}, nil
}

// Login validates credentials and returns the matching user.
func (a *App) Login(email, password string) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, badRequest(MsgCredentialsRequired)
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, domain.InternalError("fetch user", err)
	}
	if !ok {
		return domain.User{}, domain.NotFound(MsgUserNotFound)
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, domain.Unauthorized(MsgInvalidPassword)
	}
	return user, nil
}

// CreateUser registers an account. The duplicate-email unique constraint in
// the store is the single source of truth for conflicts.
func (a *App) CreateUser(name, email, password string, role domain.UserRole) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" || password == "" {
		return domain.User{}, badRequest("Name, email and password are required")
	}
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return domain.User{}, badRequest("Role must be either user or admin")
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, domain.InternalError("hash password", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		if err == store.ErrDuplicateEmail {
			return domain.User{}, badRequest(MsgUserExists)
		}
		return domain.User{}, domain.InternalError("save user", err)
	}
	return user, nil
}

// ListUsers returns all accounts.
func (a *App) ListUsers() ([]domain.User, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, domain.InternalError("list users", err)
	}
	return users, nil
}

// Profile returns the account for the given email.
func (a *App) Profile(email string) (domain.User, error) {
	return a.userByEmail(email)
}

// GetUserByEmail looks up an account by email.
func (a *App) GetUserByEmail(email string) (domain.User, error) {
	return a.userByEmail(email)
}

func (a *App) userByEmail(email string) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return domain.User{}, badRequest("Email is required")
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, domain.InternalError("fetch user", err)
	}
	if !ok {
		return domain.User{}, domain.NotFound(MsgUserNotFound)
	}
	return user, nil
}

// DeleteUserByEmail removes the account and all of its image records.
func (a *App) DeleteUserByEmail(ctx context.Context, email string) (int64, error) {
	user, err := a.userByEmail(email)
	if err != nil {
		return 0, err
	}
	removed, err := a.store.DeleteImagesByOwner(user.Email)
	if err != nil {
		return 0, domain.InternalError("delete user images", err)
	}
	if err := a.store.DeleteUserByEmail(user.Email); err != nil {
		return removed, domain.InternalError("delete user", err)
	}
	if err := a.events.PublishUser(ctx, events.UserDeleted, events.UserEvent{
		Email: user.Email,
		Role:  user.Role,
	}); err != nil {
		slog.Warn("publish user.deleted failed", "email", user.Email, "error", err)
	}
	return removed, nil
}

// ListAllImages returns every image record, newest first.
func (a *App) ListAllImages() ([]domain.GeneratedImage, error) {
	images, err := a.store.ListImages()
	if err != nil {
		return nil, domain.InternalError("list images", err)
	}
	return images, nil
}

// ListImagesByOwner returns the owner's image records, newest first.
func (a *App) ListImagesByOwner(email string) ([]domain.GeneratedImage, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, badRequest("Email is required")
	}
	images, err := a.store.ListImagesByOwner(email)
	if err != nil {
		return nil, domain.InternalError("list images by owner", err)
	}
	return images, nil
}

// GetImage returns one image record when the caller owns it or is an admin.
func (a *App) GetImage(caller domain.User, id string) (domain.GeneratedImage, error) {
	img, err := a.imageByID(id)
	if err != nil {
		return domain.GeneratedImage{}, err
	}
	if !canAccessImage(caller, img) {
		return domain.GeneratedImage{}, domain.Forbidden(MsgNotImageOwner)
	}
	return img, nil
}

// DeleteImage removes one image record when the caller owns it or is an admin.
func (a *App) DeleteImage(ctx context.Context, caller domain.User, id string) error {
	img, err := a.imageByID(id)
	if err != nil {
		return err
	}
	if !canAccessImage(caller, img) {
		return domain.Forbidden(MsgNotImageOwner)
	}
	if err := a.store.DeleteImage(img.ID); err != nil {
		if err == store.ErrNotFound {
			return domain.NotFound(MsgImageNotFound)
		}
		return domain.InternalError("delete image", err)
	}
	if err := a.events.PublishImage(ctx, events.ImageDeleted, events.ImageEvent{
		ImageID:   img.ID,
		FileID:    img.FileID,
		URL:       img.URL,
		UserEmail: img.UserEmail,
	}); err != nil {
		slog.Warn("publish image.deleted failed", "image_id", img.ID, "error", err)
	}
	return nil
}

func (a *App) imageByID(id string) (domain.GeneratedImage, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.GeneratedImage{}, badRequest("Image id is required")
	}
	img, ok, err := a.store.GetImage(id)
	if err != nil {
		return domain.GeneratedImage{}, domain.InternalError("fetch image", err)
	}
	if !ok {
		return domain.GeneratedImage{}, domain.NotFound(MsgImageNotFound)
	}
	return img, nil
}

func canAccessImage(caller domain.User, img domain.GeneratedImage) bool {
	if caller.Role == domain.RoleAdmin {
		return true
	}
	return img.UserEmail != "" && img.UserEmail == caller.Email
}
