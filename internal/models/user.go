package models

import "github.com/google/uuid"

type User struct {
	BaseModel
	Email        string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"type:text;not null"`
	Name         string    `json:"name" gorm:"type:varchar(200);not null"`
	RoleID       uuid.UUID `json:"roleID" gorm:"type:uuid;index;not null"`
	Role         Role      `json:"role" gorm:"foreignKey:RoleID"`
}

// Principal builds the token identity for the user. Role must be preloaded.
func (u *User) Principal() Principal {
	return Principal{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role: PrincipalRole{
			Name:        u.Role.Name,
			Permissions: u.Role.Permissions,
		},
	}
}

type Role struct {
	BaseModel
	Name        string   `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string   `json:"description" gorm:"type:text"`
	Permissions []string `json:"permissions" gorm:"type:text;serializer:json"`
}
