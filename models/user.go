package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Application roles. Notices are only delivered to NoticeRoles members;
// the admin roles author them.
const (
	RoleSuperAdmin = "super-admin"
	RolePrincipal  = "principal"
	RoleTeacher    = "teacher"
	RoleStudent    = "student"
)

// NoticeRoles are the roles that receive notices.
var NoticeRoles = []string{RoleTeacher, RoleStudent}

// ValidRole reports whether role is one of the known application roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSuperAdmin, RolePrincipal, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// ReceivesNotices reports whether role is part of the notice audience.
func ReceivesNotices(role string) bool {
	for _, r := range NoticeRoles {
		if r == role {
			return true
		}
	}
	return false
}

// User is an authenticated school account
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"unique"`
	Name      string
	Role      string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate ensures the model has an ID before saving it
func (user *User) BeforeCreate(scope *gorm.DB) error {
	if user.ID != uuid.Nil {
		return nil
	}
	uuid, err := uuid.NewV4()
	if err != nil {
		return err
	}
	user.ID = uuid
	return nil
}
