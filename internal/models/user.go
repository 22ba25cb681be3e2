package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole is the capability enum resolved once at the API boundary. The
// reservation engine only ever sees an Actor, never a raw user record.
type UserRole string

const (
	RoleParent       UserRole = "PARENT"
	RolePsychologist UserRole = "PSYCHOLOGIST"
	RoleAdmin        UserRole = "ADMIN"
)

// User is the minimal account record used for authentication.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         UserRole  `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Actor is the already-resolved identity handed to services.
type Actor struct {
	ID   string
	Role UserRole
}

// JWTClaims carries the actor identity inside access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor converts claims to the service-facing identity.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{ID: c.UserID, Role: c.Role}
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	Role        UserRole  `json:"role"`
}

// Child is the minimal subject-of-service reference the engine validates
// against. Full child profile management lives outside this service.
type Child struct {
	ID       string `db:"id" json:"id"`
	ParentID string `db:"parent_id" json:"parent_id"`
	FullName string `db:"full_name" json:"full_name"`
}

// Psychologist is the minimal provider reference: which session kinds are
// offered and whether the provider is bookable at all.
type Psychologist struct {
	ID                        string `db:"id" json:"id"`
	FullName                  string `db:"full_name" json:"full_name"`
	OfficeAddress             string `db:"office_address" json:"office_address"`
	OffersOnlineSessions      bool   `db:"offers_online_sessions" json:"offers_online_sessions"`
	OffersInitialConsultation bool   `db:"offers_initial_consultation" json:"offers_initial_consultation"`
	MarketplaceVisible        bool   `db:"marketplace_visible" json:"marketplace_visible"`
}
