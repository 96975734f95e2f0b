package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents staff roles in the system
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleMaintenance Role = "maintenance"
	RoleCarer       Role = "carer"
	RoleViewer      Role = "viewer"
)

// Actions checked by Role.Can.
const (
	ActionViewAssets    = "view_assets"
	ActionCreateAsset   = "create_asset"
	ActionUpdateAsset   = "update_asset"
	ActionRetireAsset   = "retire_asset"
	ActionQuickAction   = "quick_action"
	ActionRecordService = "record_service"
	ActionImportAssets  = "import_assets"
	ActionManageSync    = "manage_sync"
	ActionManageStaff   = "manage_staff"
)

// Staff represents a facility staff member who can sign in
type Staff struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	FirstName    string             `bson:"first_name" json:"first_name"`
	LastName     string             `bson:"last_name" json:"last_name"`
	Facility     string             `bson:"facility" json:"facility"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents a staff registration request
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Facility  string `json:"facility"`
	Role      Role   `json:"role"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	Staff        Staff  `json:"staff"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Facility string `json:"facility,omitempty"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleMaintenance, RoleCarer, RoleViewer:
		return true
	default:
		return false
	}
}

// Can reports whether the role allows action.
func (r Role) Can(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleMaintenance:
		return action != ActionManageStaff
	case RoleCarer:
		return action == ActionViewAssets || action == ActionQuickAction
	case RoleViewer:
		return action == ActionViewAssets
	default:
		return false
	}
}
