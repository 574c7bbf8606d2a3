package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *storage.Postgres
}

func NewAPIKeyRepository(db *storage.Postgres) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	return r.db.DB.WithContext(ctx).Create(apiKey).Error
}

// Returns nil, nil for unknown or revoked keys
func (r *APIKeyRepository) FindActive(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&apiKey).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// Lists a user's keys, newest first
func (r *APIKeyRepository) ListByOwner(ctx context.Context, ownerUID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("owner_uid = ?", ownerUID).
		Order("created_at DESC").
		Find(&keys).Error

	return keys, err
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

// Revokes a key owned by ownerUID. Returns storage.ErrNotFound when the
// owner has no such key.
func (r *APIKeyRepository) Deactivate(ctx context.Context, ownerUID string, id uuid.UUID) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ? AND owner_uid = ?", id, ownerUID).
		Update("is_active", false)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
