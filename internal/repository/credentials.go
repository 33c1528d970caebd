package repository

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"gorm.io/gorm"
)

// EncodeCredentialID is the storage form of a raw WebAuthn credential id.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCredentialID(id string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(id)
}

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByOwner returns the owner's credentials, oldest first.
func (r *CredentialRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PasskeyCredential, error) {
	var creds []models.PasskeyCredential
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&creds).Error
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (r *CredentialRepository) FindByID(ctx context.Context, rawID []byte) (*models.PasskeyCredential, error) {
	var cred models.PasskeyCredential
	if err := r.db.WithContext(ctx).First(&cred, "id = ?", EncodeCredentialID(rawID)).Error; err != nil {
		return nil, mapError(err)
	}
	return &cred, nil
}

func (r *CredentialRepository) Create(ctx context.Context, cred *models.PasskeyCredential) error {
	return r.db.WithContext(ctx).Create(cred).Error
}

// UpdateCounter stores the new signature counter and stamps last use. The
// write only lands while the stored counter is still below the new one, or
// both are zero, so concurrent logins can never move it backwards.
func (r *CredentialRepository) UpdateCounter(ctx context.Context, id string, counter uint32, usedAt time.Time) error {
	query := r.db.WithContext(ctx).Model(&models.PasskeyCredential{}).Where("id = ?", id)
	if counter == 0 {
		query = query.Where("signature_counter = 0")
	} else {
		query = query.Where("signature_counter < ?", counter)
	}

	result := query.Updates(map[string]interface{}{
		"signature_counter": counter,
		"last_used_at":      usedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.PasskeyCredential{}).
		Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleCounter
}

func (r *CredentialRepository) UpdateDisplayName(ctx context.Context, id string, name *string) error {
	result := r.db.WithContext(ctx).Model(&models.PasskeyCredential{}).
		Where("id = ?", id).
		Update("display_name", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.PasskeyCredential{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
