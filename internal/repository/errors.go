// Package repository implements MySQL persistence for the service.
// Sentinel errors defined here let handlers distinguish failure
// scenarios without inspecting SQL errors.  Not-found conditions for
// the entities owned by the allocation engine (events, items, claims,
// users) use the sentinels from the allocation package instead, so the
// engine contract holds regardless of which layer performed the read.
package repository

import "errors"

// ErrOrganizationNotFound is returned when an organization id does not
// exist.  Handlers translate it into an HTTP 404 response.
var ErrOrganizationNotFound = errors.New("organization not found")

// ErrLocationNotFound is returned when a location id does not exist.
var ErrLocationNotFound = errors.New("location not found")

// ErrLocationOrgMismatch is returned when a location exists but
// belongs to a different organization than the one supplied with the
// request.  Handlers should translate it into an HTTP 400 response.
var ErrLocationOrgMismatch = errors.New("location does not belong to the organization")

// ErrConflict is returned when an insert violates a uniqueness
// constraint, such as duplicate organization names or user emails.
// Handlers should translate it into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
