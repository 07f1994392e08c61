package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/auth"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDoctorNotFound = errors.New("doctor not found")
)

// User is the profile row keyed by the session provider's user id.
type User struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"fullName"`
	Phone      string     `json:"phone,omitempty"`
	Role       auth.Role  `json:"role"`
	LocationID *uuid.UUID `json:"locationId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type Doctor struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"userId"`
	LocationID      uuid.UUID `json:"locationId"`
	Name            string    `json:"name"`
	Specializations []string  `json:"specializations"`
	Qualification   string    `json:"qualification,omitempty"`
	ExperienceYears int       `json:"experienceYears"`
	Bio             string    `json:"bio,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

type DoctorFilter struct {
	LocationID     *uuid.UUID
	Specialization string
}

// ProfileUpdate carries the fields a user may change about themselves.
type ProfileUpdate struct {
	FullName string `json:"fullName" validate:"required,max=200"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}
