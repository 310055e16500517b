package models

import "time"

// Role is the permission level of a user account.
type Role string

const (
	RoleRegular   Role = "Regular"
	RoleVolunteer Role = "Volunteer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleRegular || r == RoleVolunteer
}

// User represents a registered account.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name         string    `json:"name" gorm:"type:varchar(100);not null"`
	Email        string    `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	PasswordHash string    `json:"-" gorm:"column:password_hash;type:varchar(255);not null"` // never serialized
	Role         Role      `json:"role" gorm:"type:varchar(20);not null;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsVolunteer reports whether the user may mark reports as cared.
func (u *User) IsVolunteer() bool {
	return u.Role == RoleVolunteer
}
