package models

// User represents a platform user (investor or property owner)
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	PasswordHash string `json:"-"` // Not serialized
	CreatedAt    string `json:"created_at"`
}

// User roles
const (
	RoleInvestor = "investor"
	RoleOwner    = "owner"
)
