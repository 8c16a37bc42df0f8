package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleStaff      UserRole = "STAFF"
)

// JWTClaims represents the JWT payload for access tokens issued by the
// museum's identity service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// DisplayName returns the best human readable identifier for the caller.
func (c *JWTClaims) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.FullName != "" {
		return c.FullName
	}
	if c.Email != "" {
		return c.Email
	}
	return c.UserID
}
