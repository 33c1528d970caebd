package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditChange is one before/after record inside an audit row. Values are
// stored as-is and serialized with the row.
type AuditChange struct {
	TableName string `json:"table_name"`
	OldValue  any    `json:"old_value"`
	NewValue  any    `json:"new_value"`
}

// AuditLog holds every change one request made, under a single action label.
// Rows are append-only; IsRolledBack is the only column updated later.
type AuditLog struct {
	ID           uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       *uuid.UUID    `json:"userID,omitempty" gorm:"type:uuid;index"`
	Action       string        `json:"action" gorm:"type:varchar(100);not null;index"`
	Changes      []AuditChange `json:"changes" gorm:"type:text;serializer:json"`
	IPAddress    string        `json:"ipAddress" gorm:"type:varchar(64);not null"`
	UserAgent    string        `json:"userAgent" gorm:"type:text;not null"`
	IsRolledBack bool          `json:"isRolledBack" gorm:"not null;default:false"`
	CreatedAt    time.Time     `json:"createdAt" gorm:"not null;index"`
}

func (a *AuditLog) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// AuditExportCursor tracks the last successful export timestamp so
// the periodic archive export only ships new rows.
type AuditExportCursor struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	LastExportAt  time.Time `json:"lastExportAt" gorm:"not null"`
	ExportedCount int64     `json:"exportedCount" gorm:"not null;default:0"`
}

func (a *AuditExportCursor) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (AuditExportCursor) TableName() string {
	return "audit_export_cursors"
}
