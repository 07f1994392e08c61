package auth

import (
	"strings"
)

// Role is the closed set of user roles. The zero value is Patient, which is
// also what an unset or unknown role string resolves to.
type Role int

const (
	Patient Role = iota
	Doctor
	LocationAdmin
	SuperAdmin
)

// Roles lists every role, lowest privilege first.
var Roles = []Role{Patient, Doctor, LocationAdmin, SuperAdmin}

// ParseRole maps the stored role string to a Role. Anything unrecognised is
// a patient.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "super_admin":
		return SuperAdmin
	case "location_admin":
		return LocationAdmin
	case "doctor":
		return Doctor
	default:
		return Patient
	}
}

func (r Role) String() string {
	switch r {
	case SuperAdmin:
		return "super_admin"
	case LocationAdmin:
		return "location_admin"
	case Doctor:
		return "doctor"
	default:
		return "patient"
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	*r = ParseRole(string(b))
	return nil
}

// IsStaff is true for every role that manages appointments on behalf of
// others.
func (r Role) IsStaff() bool {
	return r != Patient
}

// Home is the dashboard route a role lands on.
func (r Role) Home() string {
	switch r {
	case SuperAdmin:
		return "/dashboard/admin"
	case LocationAdmin:
		return "/dashboard/location"
	case Doctor:
		return "/dashboard/doctor"
	default:
		return "/dashboard/patient"
	}
}

// prefixes are the route prefixes a role may open. A prefix matches itself
// and anything below it.
func (r Role) prefixes() []string {
	switch r {
	case SuperAdmin:
		return []string{"/dashboard"}
	case LocationAdmin:
		return []string{"/dashboard/location", "/dashboard/doctor"}
	case Doctor:
		return []string{"/dashboard/doctor"}
	default:
		return []string{"/dashboard/patient"}
	}
}

// Permits reports whether the role may open path. Paths outside the
// dashboard are not gated.
func (r Role) Permits(path string) bool {
	path = cleanPath(path)
	if !underPrefix(path, DashboardPrefix) {
		return true
	}
	if underPrefix(path, r.Home()) {
		return true
	}
	for _, p := range r.prefixes() {
		if underPrefix(path, p) {
			return true
		}
	}
	return false
}

// DashboardPrefix is the root of every role-gated route.
const DashboardPrefix = "/dashboard"

// Decision is the outcome of gating one request.
type Decision struct {
	Allow    bool
	Redirect string
}

// Evaluate is the gate: allow, or redirect to the role's home.
func Evaluate(role Role, path string) Decision {
	if role.Permits(path) {
		return Decision{Allow: true}
	}
	return Decision{Redirect: role.Home()}
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func cleanPath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
