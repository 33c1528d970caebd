package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DeviceTypeSingle = "singleDevice"
	DeviceTypeMulti  = "multiDevice"
)

// PasskeyCredential is a registered WebAuthn public key. ID is the
// base64url (unpadded) encoding of the authenticator's credential id.
type PasskeyCredential struct {
	ID               string     `json:"id" gorm:"type:varchar(512);primaryKey"`
	OwnerID          uuid.UUID  `json:"ownerID" gorm:"type:uuid;index;not null"`
	PublicKey        []byte     `json:"-" gorm:"not null"`
	SignatureCounter uint32     `json:"signatureCounter" gorm:"not null;default:0"`
	Transports       []string   `json:"transports" gorm:"type:text;serializer:json"`
	DeviceType       string     `json:"deviceType" gorm:"type:varchar(32);not null"`
	BackedUp         bool       `json:"backedUp" gorm:"not null;default:false"`
	BackupEligible   bool       `json:"backupEligible" gorm:"not null;default:false"`
	AttestationType  string     `json:"-" gorm:"type:varchar(64)"`
	AAGUID           []byte     `json:"-"`
	DisplayName      *string    `json:"displayName,omitempty" gorm:"type:varchar(255)"`
	LastUsedAt       *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (PasskeyCredential) TableName() string {
	return "passkey_credentials"
}
