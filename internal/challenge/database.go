package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"gorm.io/gorm"
)

// DBStore keeps challenges in the webauthn_challenges table. Expired rows
// are invisible to Get and removed by PurgeExpired.
type DBStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DBStore) Put(ctx context.Context, ns Namespace, subjectKey string, rec Record, ttl time.Duration) error {
	if err := validate(ns, subjectKey); err != nil {
		return err
	}

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	row := models.Challenge{
		Namespace:   string(ns),
		SubjectKey:  subjectKey,
		Challenge:   rec.Challenge,
		Auxiliary:   rec.Auxiliary,
		SessionData: string(rec.Session),
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   now.Add(ttl),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("namespace = ? AND subject_key = ?", ns, subjectKey).
			Delete(&models.Challenge{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}
	return nil
}

func (s *DBStore) Get(ctx context.Context, ns Namespace, subjectKey string) (*Record, error) {
	if err := validate(ns, subjectKey); err != nil {
		return nil, err
	}

	var row models.Challenge
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND subject_key = ? AND expires_at > ?", ns, subjectKey, s.now()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching challenge: %w", err)
	}

	return &Record{
		Challenge: row.Challenge,
		Auxiliary: row.Auxiliary,
		Session:   json.RawMessage(row.SessionData),
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *DBStore) Delete(ctx context.Context, ns Namespace, subjectKey string) error {
	if err := validate(ns, subjectKey); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where("namespace = ? AND subject_key = ?", ns, subjectKey).
		Delete(&models.Challenge{}).Error; err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows past their expiry and reports how many went.
func (s *DBStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Challenge{})
	if result.Error != nil {
		return 0, fmt.Errorf("purging challenges: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// StartCleanup sweeps expired rows every interval until ctx is done.
func (s *DBStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.PurgeExpired(ctx)
				if err != nil {
					logger.Error("challenge_cleanup_failed", err, nil)
					continue
				}
				if purged > 0 {
					logger.Debug("challenge_cleanup", map[string]interface{}{"purged": purged})
				}
			}
		}
	}()
}
