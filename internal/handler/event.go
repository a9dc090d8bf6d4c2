package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/campusbites/campus-food-claims/internal/allocation"
	"github.com/campusbites/campus-food-claims/internal/model"
	"github.com/campusbites/campus-food-claims/internal/queue"
	"github.com/campusbites/campus-food-claims/internal/repository"
	queue_publisher "github.com/campusbites/campus-food-claims/internal/service"
)

// EventHandler manages event listings and their portion pools.
type EventHandler struct {
	Events    *repository.EventRepo
	Orgs      *repository.OrganizationRepo
	Locations *repository.LocationRepo
	Users     *repository.UserRepo
	Claims    *repository.AllocationStore
	Engine    Allocator
}

// NewEventHandler wires an EventHandler.
func NewEventHandler(events *repository.EventRepo, orgs *repository.OrganizationRepo, locations *repository.LocationRepo, users *repository.UserRepo, claims *repository.AllocationStore, engine Allocator) *EventHandler {
	return &EventHandler{Events: events, Orgs: orgs, Locations: locations, Users: users, Claims: claims, Engine: engine}
}

// eventRequest is the payload accepted by create and update.  Meals is
// a pointer so "field absent" can be told apart from "zero portions";
// LocationName lets organizers type a free-form place that is created
// under their organization on first use.
type eventRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	StartsAt       string `json:"starts_at"`
	EndsAt         string `json:"ends_at"`
	Status         string `json:"status"`
	OrganizationID uint64 `json:"organization_id"`
	LocationID     uint64 `json:"location_id"`
	LocationName   string `json:"location_name"`
	CreatedByID    uint64 `json:"created_by_id"`
	Meals          *int   `json:"meals"`
	PerUserLimit   *int   `json:"per_user_limit"`
}

// ListEvents handles GET /v1/events with an optional ?q= search term
// matched against title and description.
func (h *EventHandler) ListEvents(c echo.Context) error {
	events, err := h.Events.List(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return engineError(c, err)
	}
	out := make([]echo.Map, 0, len(events))
	for _, ev := range events {
		out = append(out, eventJSON(ev))
	}
	return c.JSON(http.StatusOK, echo.Map{"events": out})
}

// GetEvent handles GET /v1/events/:id and embeds the event's portion
// pools so a single request renders a listing card.
func (h *EventHandler) GetEvent(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ev, err := h.Events.Event(c.Request().Context(), id)
	if err != nil {
		return engineError(c, err)
	}
	items, err := h.Claims.ItemsByEvent(c.Request().Context(), id)
	if err != nil {
		return engineError(c, err)
	}
	body := eventJSON(ev)
	pools := make([]echo.Map, 0, len(items))
	for _, item := range items {
		pools = append(pools, itemJSON(item))
	}
	body["items"] = pools
	return c.JSON(http.StatusOK, body)
}

// CreateEvent handles POST /v1/events.
func (h *EventHandler) CreateEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ev, httpErr := h.resolveEvent(c, &req, nil)
	if ev == nil {
		return httpErr
	}
	ctx := c.Request().Context()
	if err := h.Events.Create(ctx, ev); err != nil {
		return engineError(c, err)
	}
	if req.Meals != nil {
		if err := h.syncPortions(ctx, ev.ID, *req.Meals, req.PerUserLimit); err != nil {
			return engineError(c, err)
		}
	}
	return h.respondWithEvent(c, http.StatusCreated, ev.ID)
}

// UpdateEvent handles PUT /v1/events/:id.  When the meals field shrinks
// below the portions already claimed the capacity is clamped by the
// allocation engine and a portions.reconcile message is published.
func (h *EventHandler) UpdateEvent(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx := c.Request().Context()
	existing, err := h.Events.Event(ctx, id)
	if err != nil {
		return engineError(c, err)
	}
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ev, httpErr := h.resolveEvent(c, &req, &existing)
	if ev == nil {
		return httpErr
	}
	if err := h.Events.Update(ctx, ev); err != nil {
		return engineError(c, err)
	}
	if req.Meals != nil {
		if err := h.syncPortions(ctx, ev.ID, *req.Meals, req.PerUserLimit); err != nil {
			return engineError(c, err)
		}
	}
	return h.respondWithEvent(c, http.StatusOK, ev.ID)
}

// DeleteEvent handles DELETE /v1/events/:id.
func (h *EventHandler) DeleteEvent(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := h.Events.Delete(c.Request().Context(), id); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListEventItems handles GET /v1/events/:id/items.
func (h *EventHandler) ListEventItems(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx := c.Request().Context()
	if _, err := h.Events.Event(ctx, id); err != nil {
		return engineError(c, err)
	}
	items, err := h.Claims.ItemsByEvent(ctx, id)
	if err != nil {
		return engineError(c, err)
	}
	out := make([]echo.Map, 0, len(items))
	for _, item := range items {
		out = append(out, itemJSON(item))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// ExpireEvent handles POST /v1/events/:id/expire.  An optional
// ?cutoff=RFC3339 query overrides the default of now; only events whose
// end time has passed the cutoff have their open claims expired.
func (h *EventHandler) ExpireEvent(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	cutoff := time.Now().UTC()
	if raw := c.QueryParam("cutoff"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid cutoff"})
		}
		cutoff = parsed
	}
	expired, err := h.Engine.ExpireEvent(c.Request().Context(), id, cutoff)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": id, "expired": expired})
}

// resolveEvent validates a request payload and resolves its references
// into a model.Event.  When existing is non-nil missing fields keep
// their previous values, which gives PUT patch-like leniency.  On
// validation failure the response has already been written and the
// returned event is nil; callers must branch on the event, not the
// error, because a successfully written error response returns nil.
func (h *EventHandler) resolveEvent(c echo.Context, req *eventRequest, existing *model.Event) (*model.Event, error) {
	ctx := c.Request().Context()
	ev := &model.Event{}
	if existing != nil {
		clone := *existing
		ev = &clone
	}

	if title := strings.TrimSpace(req.Title); title != "" {
		ev.Title = title
	}
	if ev.Title == "" {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "title is required"})
	}
	if req.Description != "" || existing == nil {
		ev.Description = strings.TrimSpace(req.Description)
	}

	if req.StartsAt != "" {
		start, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid starts_at"})
		}
		ev.StartTime = start.UTC()
	}
	if ev.StartTime.IsZero() {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at is required"})
	}
	if req.EndsAt != "" {
		end, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ends_at"})
		}
		utc := end.UTC()
		ev.EndTime = &utc
	}
	if req.Status != "" || existing == nil {
		ev.Status = model.ParseEventStatus(req.Status)
	}

	if req.OrganizationID != 0 {
		ev.OrganizationID = req.OrganizationID
	}
	if ev.OrganizationID == 0 {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "organization_id is required"})
	}
	if _, err := h.Orgs.GetByID(ctx, ev.OrganizationID); err != nil {
		if errors.Is(err, repository.ErrOrganizationNotFound) {
			return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
		}
		return nil, engineError(c, err)
	}

	switch {
	case req.LocationID != 0:
		loc, err := h.Locations.GetByID(ctx, req.LocationID)
		if err != nil {
			if errors.Is(err, repository.ErrLocationNotFound) {
				return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "location not found"})
			}
			return nil, engineError(c, err)
		}
		if loc.OrganizationID != ev.OrganizationID {
			return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": repository.ErrLocationOrgMismatch.Error()})
		}
		ev.LocationID = loc.ID
	case strings.TrimSpace(req.LocationName) != "":
		loc, err := h.Locations.FindOrCreate(ctx, ev.OrganizationID, strings.TrimSpace(req.LocationName))
		if err != nil {
			return nil, engineError(c, err)
		}
		ev.LocationID = loc.ID
	case ev.LocationID == 0:
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "location_id or location_name is required"})
	}

	if req.CreatedByID != 0 {
		if _, err := h.Users.GetByID(ctx, req.CreatedByID); err != nil {
			if errors.Is(err, allocation.ErrUserNotFound) {
				return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
			}
			return nil, engineError(c, err)
		}
		ev.CreatedByID = req.CreatedByID
	}
	if ev.CreatedByID == 0 {
		// No creator supplied; fall back to the oldest user on record so
		// listings imported from spreadsheets still have an owner.
		u, err := h.Users.First(ctx)
		if err != nil {
			if errors.Is(err, allocation.ErrUserNotFound) {
				return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "created_by_id is required"})
			}
			return nil, engineError(c, err)
		}
		ev.CreatedByID = u.ID
	}
	return ev, nil
}

// syncPortions reconciles an event's default portion pool with the
// meals count from a listing payload.  New events get a fresh pool;
// existing pools are resized through the allocation engine so the
// claimed counter is clamped, never overwritten.
func (h *EventHandler) syncPortions(ctx context.Context, eventID uint64, meals int, perUserLimit *int) error {
	if meals < 0 {
		meals = 0
	}
	item, err := h.Events.FirstItem(ctx, eventID)
	if errors.Is(err, allocation.ErrItemNotFound) {
		fresh := model.InventoryItem{
			EventID:  eventID,
			Name:     model.DefaultItemName,
			Capacity: meals,
		}
		if perUserLimit != nil && *perUserLimit > 0 {
			fresh.PerUserLimit = *perUserLimit
		}
		return h.Events.CreateItem(ctx, &fresh)
	}
	if err != nil {
		return err
	}
	updated, clamped, err := h.Engine.SetCapacity(ctx, item.ID, meals)
	if err != nil {
		return err
	}
	if clamped > 0 {
		msg := queue.PortionsReconcileEvent{
			EventID:     eventID,
			ItemID:      updated.ID,
			NewCapacity: updated.Capacity,
			Clamped:     clamped,
			OccurredAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := queue_publisher.PublishPortionsReconcile(ctx, msg); err != nil {
			log.Printf("event-handler: publish portions.reconcile failed: %v", err)
		}
	}
	return nil
}

// respondWithEvent re-reads the event and its pools for the response
// body so clients always see post-sync portion counts.
func (h *EventHandler) respondWithEvent(c echo.Context, status int, eventID uint64) error {
	ctx := c.Request().Context()
	ev, err := h.Events.Event(ctx, eventID)
	if err != nil {
		return engineError(c, err)
	}
	items, err := h.Claims.ItemsByEvent(ctx, eventID)
	if err != nil {
		return engineError(c, err)
	}
	body := eventJSON(ev)
	pools := make([]echo.Map, 0, len(items))
	for _, item := range items {
		pools = append(pools, itemJSON(item))
	}
	body["items"] = pools
	return c.JSON(status, body)
}
