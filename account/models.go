package account

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
	RoleAgent  Role = "agent"
)

// User is the domain representation of a marketplace account.
// It mirrors the users table and carries no JSON annotations so it can be
// reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string
	Password string
	FullName string
	Phone    *string
	Role     Role
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string
	Password string
}

// LoginResult bundles the token and user returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

func isValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleSeller, RoleBuyer, RoleAgent:
		return true
	default:
		return false
	}
}
