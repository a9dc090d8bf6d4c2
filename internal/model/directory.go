package model

import "time"

// Organization represents a campus organization that publishes events,
// as stored in the `organizations` table.
type Organization struct {
	ID          uint64    // organizations.id
	Name        string    // organizations.name
	Description string    // organizations.description
	CreatedAt   time.Time // organizations.created_at
	UpdatedAt   time.Time // organizations.updated_at
}

// Location is an organization-scoped place where events happen.  A
// location name is unique within its organization; event creation may
// resolve a location by name, creating it on first use.
type Location struct {
	ID             uint64    // locations.id
	OrganizationID uint64    // locations.org_id
	Name           string    // locations.name
	CreatedAt      time.Time // locations.created_at
	UpdatedAt      time.Time // locations.updated_at
}

// User is an application user record from the `users` table.  The
// service has no authentication layer; user ids are supplied by the
// caller and validated against this directory before a claim or event
// is created.
type User struct {
	ID        uint64    // users.id
	Email     string    // users.email
	Name      string    // users.name
	CreatedAt time.Time // users.created_at
	UpdatedAt time.Time // users.updated_at
}
