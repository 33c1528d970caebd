package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/audit"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"gorm.io/gorm"
)

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
	exportBatchSize   = 10000
)

var ErrAuditNotFound = errors.New("audit log not found")

// ArchiveUploader stores exported audit batches.
type ArchiveUploader interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// AuditService persists audit rows and ships them to the archive.
type AuditService struct {
	DB      *gorm.DB
	Archive ArchiveUploader
	now     func() time.Time
}

func NewAuditService(db *gorm.DB, archive ArchiveUploader) *AuditService {
	return &AuditService{
		DB:      db,
		Archive: archive,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Write stores one flushed request as a row.
func (s *AuditService) Write(ctx context.Context, entry audit.Entry) error {
	row := models.AuditLog{
		UserID:    entry.UserID,
		Action:    entry.Action,
		Changes:   entry.Changes,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		CreatedAt: s.now(),
	}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

type AuditFilter struct {
	Action string
	UserID *uuid.UUID
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// List returns rows newest first, bounded by MaxAuditLimit. Offset pages
// through larger result sets.
func (s *AuditService) List(ctx context.Context, filter AuditFilter) ([]models.AuditLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}

	query := s.DB.WithContext(ctx).Model(&models.AuditLog{})
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at <= ?", *filter.Until)
	}

	var logs []models.AuditLog
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *AuditService) Get(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	var row models.AuditLog
	err := s.DB.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAuditNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkRolledBack flags a row as compensated. Data is not reverted.
func (s *AuditService) MarkRolledBack(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.IsRolledBack {
		return row, nil
	}

	if err := s.DB.WithContext(ctx).Model(row).Update("is_rolled_back", true).Error; err != nil {
		return nil, err
	}
	row.IsRolledBack = true
	return row, nil
}

// StartExporter exports new rows every interval until ctx is done.
func (s *AuditService) StartExporter(ctx context.Context, interval time.Duration) {
	if s.Archive == nil {
		logger.Info("audit_exporter_disabled", map[string]interface{}{
			"reason": "no archive storage configured",
		})
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ExportOnce(ctx); err != nil {
					logger.Error("audit_export_failed", err, nil)
				}
			}
		}
	}()

	logger.Info("audit_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// ExportOnce uploads rows newer than the cursor as one NDJSON object and
// advances the cursor. It returns how many rows were shipped.
func (s *AuditService) ExportOnce(ctx context.Context) (int, error) {
	if s.Archive == nil {
		return 0, errors.New("no archive storage configured")
	}
	db := s.DB.WithContext(ctx)

	var cursor models.AuditExportCursor
	err := db.First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = models.AuditExportCursor{
			LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := db.Create(&cursor).Error; err != nil {
			return 0, fmt.Errorf("create export cursor: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("load export cursor: %w", err)
	}

	var logs []models.AuditLog
	if err := db.Where("created_at > ?", cursor.LastExportAt).
		Order("created_at ASC").
		Limit(exportBatchSize).
		Find(&logs).Error; err != nil {
		return 0, fmt.Errorf("query audit logs: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range logs {
		if err := enc.Encode(row); err != nil {
			logger.Error("audit_export_encode_failed", err, map[string]interface{}{
				"log_id": row.ID.String(),
			})
		}
	}

	now := s.now()
	objectName := fmt.Sprintf("audit-logs/%s/%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05"),
	)
	if err := s.Archive.Upload(ctx, objectName, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("upload %s: %w", objectName, err)
	}

	lastCreatedAt := logs[len(logs)-1].CreatedAt
	if err := db.Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": lastCreatedAt,
		"exported_count": gorm.Expr("exported_count + ?", len(logs)),
	}).Error; err != nil {
		return 0, fmt.Errorf("advance export cursor: %w", err)
	}

	logger.Info("audit_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(logs),
	})
	return len(logs), nil
}
