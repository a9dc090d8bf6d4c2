package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/campusbites/campus-food-claims/internal/allocation"
	"github.com/campusbites/campus-food-claims/internal/model"
)

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// engineError translates allocation engine failures into the HTTP
// statuses the API promises: 404 for unknown ids, 400 for malformed
// input and illegal claim transitions, 422 when the event does not
// accept claims, 409 for capacity and per-user conflicts, and 500 only
// for a detected ledger-consistency violation or an unexpected storage
// error.
func engineError(c echo.Context, err error) error {
	var (
		notClaimable *allocation.EventNotClaimableError
		insufficient *allocation.InsufficientPortionsError
		limit        *allocation.PerUserLimitError
		state        *allocation.InvalidClaimStateError
		corrupt      *allocation.ConsistencyError
	)
	switch {
	case errors.Is(err, allocation.ErrEventNotFound),
		errors.Is(err, allocation.ErrItemNotFound),
		errors.Is(err, allocation.ErrClaimNotFound),
		errors.Is(err, allocation.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, allocation.ErrInvalidArgument):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.As(err, &notClaimable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":        "event is not accepting claims",
			"event_status": notClaimable.Status,
		})
	case errors.As(err, &insufficient):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "insufficient portions",
			"remaining": insufficient.Remaining,
			"requested": insufficient.Requested,
		})
	case errors.As(err, &limit):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "per-user limit exceeded",
			"limit":     limit.Limit,
			"used":      limit.Used,
			"requested": limit.Requested,
		})
	case errors.As(err, &state):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.As(err, &corrupt):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "inventory ledger inconsistency detected"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
}

// claimJSON shapes a claim for API responses.
func claimJSON(claim model.Claim) echo.Map {
	m := echo.Map{
		"id":         claim.ID,
		"event_id":   claim.EventID,
		"item_id":    claim.ItemID,
		"user_id":    claim.UserID,
		"quantity":   claim.Quantity,
		"status":     claim.Status,
		"code":       claim.Code,
		"claimed_at": claim.ClaimedAt.UTC().Format(time.RFC3339),
	}
	if claim.RedeemedAt != nil {
		m["redeemed_at"] = claim.RedeemedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// itemJSON shapes a portion pool for API responses, including the
// derived remaining/available fields the frontend cards show.
func itemJSON(item model.InventoryItem) echo.Map {
	return echo.Map{
		"id":             item.ID,
		"event_id":       item.EventID,
		"name":           item.Name,
		"capacity":       item.Capacity,
		"claimed":        item.Claimed,
		"remaining":      item.Remaining(),
		"available":      item.Available(),
		"per_user_limit": item.PerUserLimit,
	}
}

// eventJSON shapes an event for API responses.
func eventJSON(ev model.Event) echo.Map {
	m := echo.Map{
		"id":              ev.ID,
		"organization_id": ev.OrganizationID,
		"location_id":     ev.LocationID,
		"created_by_id":   ev.CreatedByID,
		"title":           ev.Title,
		"description":     ev.Description,
		"starts_at":       ev.StartTime.UTC().Format(time.RFC3339),
		"status":          ev.Status,
		"created_at":      ev.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      ev.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if ev.EndTime != nil {
		m["ends_at"] = ev.EndTime.UTC().Format(time.RFC3339)
	}
	return m
}
