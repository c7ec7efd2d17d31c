package testutil

import (
	"net/http"

	"github.com/dalemusser/mentorlink/internal/app/system/auth"
)

// TestUser represents user data for testing HTTP handlers.
type TestUser struct {
	Identity string
	Name     string
	Role     string
}

// MentorUser returns a TestUser with mentor role.
func MentorUser() TestUser {
	return TestUser{Identity: "mentor@test.com", Name: "Test Mentor", Role: "mentor"}
}

// MenteeUser returns a TestUser with mentee role.
func MenteeUser() TestUser {
	return TestUser{Identity: "mentee@test.com", Name: "Test Mentee", Role: "mentee"}
}

// AdminUser returns a TestUser with admin role.
func AdminUser() TestUser {
	return TestUser{Identity: "admin@test.com", Name: "Test Admin", Role: "admin"}
}

// AuthUser converts u to the identity auth.LoadUser would resolve.
func (u TestUser) AuthUser() auth.User {
	return auth.User{Identity: u.Identity, Name: u.Name, Role: u.Role}
}

// WithUser adds u to the request context the way auth.LoadUser does.
func WithUser(r *http.Request, u TestUser) *http.Request {
	return r.WithContext(auth.WithUser(r.Context(), u.AuthUser()))
}
