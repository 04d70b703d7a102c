package models

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleDispatcher Role = "REGULATEUR"
	RoleFleetChief Role = "CHEF_DE_PARC"
)

// Permission is a capability tag checked before every command.
type Permission string

const (
	PermViewAmbulanceMap          Permission = "VIEW_AMBULANCE_MAP"
	PermCreateIncident            Permission = "CREATE_INCIDENT"
	PermAssignAmbulance           Permission = "ASSIGN_AMBULANCE"
	PermFilterAmbulances          Permission = "FILTER_AMBULANCES"
	PermModifyAmbulanceStatus     Permission = "MODIFY_AMBULANCE_STATUS"
	PermViewIncidentHistory       Permission = "VIEW_INCIDENT_HISTORY"
	PermReceiveCriticalAlerts     Permission = "RECEIVE_CRITICAL_NOTIFICATIONS"
	PermViewFleetStatus           Permission = "VIEW_FLEET_STATUS"
	PermAddRemoveVehicles         Permission = "ADD_REMOVE_VEHICLES"
	PermManageVehicleAvailability Permission = "MANAGE_VEHICLE_AVAILABILITY"
	PermFullAdminAccess           Permission = "FULL_ADMIN_ACCESS"
)

// rolePermissions is fixed at build time and never mutated.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermFullAdminAccess,
		PermViewAmbulanceMap,
		PermCreateIncident,
		PermAssignAmbulance,
		PermFilterAmbulances,
		PermModifyAmbulanceStatus,
		PermViewIncidentHistory,
		PermReceiveCriticalAlerts,
		PermViewFleetStatus,
		PermAddRemoveVehicles,
		PermManageVehicleAvailability,
	},
	RoleDispatcher: {
		PermViewAmbulanceMap,
		PermCreateIncident,
		PermAssignAmbulance,
		PermFilterAmbulances,
		PermModifyAmbulanceStatus,
		PermViewIncidentHistory,
		PermReceiveCriticalAlerts,
	},
	RoleFleetChief: {
		PermViewFleetStatus,
		PermAddRemoveVehicles,
		PermManageVehicleAvailability,
		PermViewAmbulanceMap,
	},
}

// pagePermissions lists, per page, the permissions of which any one grants access.
var pagePermissions = map[string][]Permission{
	"dashboard": {PermViewAmbulanceMap, PermViewFleetStatus},
	"map":       {PermViewAmbulanceMap},
	"fleet":     {PermViewFleetStatus, PermManageVehicleAvailability},
	"incidents": {PermViewIncidentHistory, PermCreateIncident},
}

// User represents a user in the system
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,min=2"`
	Role     Role   `json:"role"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Exp    int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission reports whether role holds permission, either directly or
// through FULL_ADMIN_ACCESS.
func HasPermission(role Role, permission Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == permission || p == PermFullAdminAccess {
			return true
		}
	}
	return false
}

// Permissions returns a copy of the permission set of role.
func Permissions(role Role) []Permission {
	return append([]Permission(nil), rolePermissions[role]...)
}

// Pages returns the known page names in sorted order.
func Pages() []string {
	pages := make([]string, 0, len(pagePermissions))
	for page := range pagePermissions {
		pages = append(pages, page)
	}
	sort.Strings(pages)
	return pages
}

// CanAccessPage reports whether role may open the named page.
func CanAccessPage(role Role, page string) bool {
	for _, p := range pagePermissions[page] {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(permission Permission) bool {
	if u == nil || !u.IsActive {
		return false
	}
	return HasPermission(u.Role, permission)
}
