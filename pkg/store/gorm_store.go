package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"imagestudio/pkg/domain"
)

const migrateLockID int64 = 48124812

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations. User email uniqueness
// is enforced by a database-level constraint, so concurrent duplicate writes
// surface as ErrDuplicateEmail rather than racing a pre-check.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &GeneratedImageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user. A duplicate email maps to
// ErrDuplicateEmail.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "password_hash", "role", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// DeleteUserByEmail removes a user record.
func (s *GormStore) DeleteUserByEmail(email string) error {
	result := s.db.Where("email = ?", email).Delete(&UserModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveImage stores or updates a generated image record.
func (s *GormStore) SaveImage(img domain.GeneratedImage) error {
	model, err := imageToModel(img)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"url", "thumbnail_url", "prompt", "user_email"}),
	}).Create(&model).Error
}

// ListImages returns all records, newest first.
func (s *GormStore) ListImages() ([]domain.GeneratedImage, error) {
	var models []GeneratedImageModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return imagesFromModels(models)
}

// ListImagesByOwner returns a user's records, newest first.
func (s *GormStore) ListImagesByOwner(email string) ([]domain.GeneratedImage, error) {
	var models []GeneratedImageModel
	if err := s.db.Where("user_email = ?", email).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return imagesFromModels(models)
}

// GetImage returns a record by ID.
func (s *GormStore) GetImage(id string) (domain.GeneratedImage, bool, error) {
	var model GeneratedImageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.GeneratedImage{}, false, nil
		}
		return domain.GeneratedImage{}, false, err
	}
	img, err := imageFromModel(model)
	if err != nil {
		return domain.GeneratedImage{}, false, err
	}
	return img, true, nil
}

// DeleteImage removes a record by ID.
func (s *GormStore) DeleteImage(id string) error {
	result := s.db.Delete(&GeneratedImageModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteImagesByOwner removes all records owned by the email.
func (s *GormStore) DeleteImagesByOwner(email string) (int64, error) {
	result := s.db.Where("user_email = ?", email).Delete(&GeneratedImageModel{})
	return result.RowsAffected, result.Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func imageToModel(img domain.GeneratedImage) (GeneratedImageModel, error) {
	var params datatypes.JSON
	if len(img.Params) > 0 {
		raw, err := json.Marshal(img.Params)
		if err != nil {
			return GeneratedImageModel{}, fmt.Errorf("marshal params: %w", err)
		}
		params = datatypes.JSON(raw)
	}
	return GeneratedImageModel{
		ID:           img.ID,
		FileID:       img.FileID,
		URL:          img.URL,
		ThumbnailURL: img.ThumbnailURL,
		Prompt:       img.Prompt,
		Guidance:     img.Guidance,
		Seed:         img.Seed,
		Height:       img.Height,
		Width:        img.Width,
		Steps:        img.Steps,
		Strength:     img.Strength,
		UserEmail:    img.UserEmail,
		Params:       params,
		CreatedAt:    img.CreatedAt,
	}, nil
}

func imageFromModel(m GeneratedImageModel) (domain.GeneratedImage, error) {
	var params map[string]string
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &params); err != nil {
			return domain.GeneratedImage{}, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return domain.GeneratedImage{
		ID:           m.ID,
		FileID:       m.FileID,
		URL:          m.URL,
		ThumbnailURL: m.ThumbnailURL,
		Prompt:       m.Prompt,
		Guidance:     m.Guidance,
		Seed:         m.Seed,
		Height:       m.Height,
		Width:        m.Width,
		Steps:        m.Steps,
		Strength:     m.Strength,
		UserEmail:    m.UserEmail,
		Params:       params,
		CreatedAt:    m.CreatedAt,
	}, nil
}

func imagesFromModels(models []GeneratedImageModel) ([]domain.GeneratedImage, error) {
	res := make([]domain.GeneratedImage, 0, len(models))
	for _, m := range models {
		img, err := imageFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, img)
	}
	return res, nil
}
