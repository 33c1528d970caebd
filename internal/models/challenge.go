package models

import "time"

// Challenge backs the database challenge store. One live row per
// (namespace, subject_key); a newer ceremony replaces the row.
type Challenge struct {
	ID          uint      `gorm:"primaryKey"`
	Namespace   string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_challenge_subject"`
	SubjectKey  string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_challenge_subject"`
	Challenge   string    `gorm:"type:text;not null"`
	Auxiliary   string    `gorm:"type:text"`
	SessionData string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

func (Challenge) TableName() string {
	return "webauthn_challenges"
}
