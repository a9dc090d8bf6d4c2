package model

import (
	"strings"
	"time"
)

// EventStatus enumerates the lifecycle states of an event.  Claims are
// only accepted while an event is PUBLISHED or ACTIVE; the allocation
// engine reads this status and never writes it.
type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventActive    EventStatus = "ACTIVE"
	EventEnded     EventStatus = "ENDED"
	EventCancelled EventStatus = "CANCELLED"
)

// ParseEventStatus maps a free-form status string onto the closed
// enumeration.  Unknown or blank values fall back to DRAFT and the
// legacy "COMPLETED" label maps to ENDED, matching what older clients
// still send.
func ParseEventStatus(s string) EventStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE":
		return EventActive
	case "PUBLISHED":
		return EventPublished
	case "ENDED", "COMPLETED":
		return EventEnded
	case "CANCELLED":
		return EventCancelled
	default:
		return EventDraft
	}
}

// Claimable reports whether the event currently accepts new claims.
func (s EventStatus) Claimable() bool {
	return s == EventPublished || s == EventActive
}

// Event represents a published campus event as stored in the `events`
// table.  Portion pools belonging to the event live in the
// `inventory_items` table and reference the event by id; the event does
// not hold live object references to them.
//
// Fields:
//  ID             – primary key identifier.
//  OrganizationID – organization that runs the event.
//  LocationID     – where the event takes place.
//  CreatedByID    – user who created the listing.
//  Title          – short human-readable title.
//  Description    – optional free-text description.
//  StartTime      – when the event begins.
//  EndTime        – when the event ends (nullable; drives claim expiry).
//  Status         – lifecycle state, see EventStatus.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Event struct {
	ID             uint64      // events.id
	OrganizationID uint64      // events.org_id
	LocationID     uint64      // events.location_id
	CreatedByID    uint64      // events.created_by
	Title          string      // events.title
	Description    string      // events.description
	StartTime      time.Time   // events.start_time
	EndTime        *time.Time  // events.end_time (nullable)
	Status         EventStatus // events.status
	CreatedAt      time.Time   // events.created_at
	UpdatedAt      time.Time   // events.updated_at
}
