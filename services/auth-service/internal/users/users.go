// Package users holds accounts that can sign in.
package users

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
)

const MinPasswordLength = 8

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone,omitempty"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func ValidRole(role string) bool {
	switch role {
	case httpx.RoleAdmin, httpx.RoleStaff, httpx.RoleCustomer:
		return true
	}
	return false
}

// NormalizeEmail lower-cases and trims addr. Emails are unique ignoring case.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Signup is what a new account is created from.
type Signup struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

func (s *Signup) Normalize() error {
	s.Email = NormalizeEmail(s.Email)
	s.FullName = strings.TrimSpace(s.FullName)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Role = strings.TrimSpace(s.Role)
	if s.Email == "" {
		return apperr.Invalid("email is required")
	}
	if a, err := mail.ParseAddress(s.Email); err != nil || a.Address != s.Email {
		return apperr.Invalid("email is not a valid address")
	}
	if utf8.RuneCountInString(s.Password) < MinPasswordLength {
		return apperr.Invalid("password must be at least %d characters", MinPasswordLength)
	}
	if len(s.Password) > maxPasswordBytes {
		return apperr.Invalid("password must be at most %d bytes", maxPasswordBytes)
	}
	if s.FullName == "" {
		return apperr.Invalid("full_name is required")
	}
	if s.Role != "" && !ValidRole(s.Role) {
		return apperr.Invalid("role must be Admin, Staff or Customer")
	}
	return nil
}
