package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/campusbites/campus-food-claims/internal/model"
	"github.com/campusbites/campus-food-claims/internal/queue"
	"github.com/campusbites/campus-food-claims/internal/repository"
	queue_publisher "github.com/campusbites/campus-food-claims/internal/service"
)

// Allocator is the slice of the allocation engine the HTTP layer needs.
// Handlers depend on this interface rather than the concrete engine so
// tests can substitute a fake.
type Allocator interface {
	Reserve(ctx context.Context, eventID, itemID, userID uint64, quantity int, token string) (model.Claim, error)
	Redeem(ctx context.Context, claimID uint64) (model.Claim, error)
	Cancel(ctx context.Context, claimID uint64) (model.Claim, error)
	ExpireEvent(ctx context.Context, eventID uint64, cutoff time.Time) (int, error)
	SetCapacity(ctx context.Context, itemID uint64, capacity int) (model.InventoryItem, int, error)
	Item(ctx context.Context, itemID uint64) (model.InventoryItem, error)
}

// ClaimHandler exposes the claim lifecycle over HTTP.  All state
// transitions go through the allocation engine; the handler never
// touches portion counters directly.
type ClaimHandler struct {
	Engine Allocator
	Claims *repository.AllocationStore
	Events *repository.EventRepo

	// publish defaults to the AMQP publisher; tests swap it out.
	publish func(ctx context.Context, msg queue.ClaimRedeemedEvent) error
}

// NewClaimHandler wires a ClaimHandler.
func NewClaimHandler(engine Allocator, claims *repository.AllocationStore, events *repository.EventRepo) *ClaimHandler {
	return &ClaimHandler{
		Engine:  engine,
		Claims:  claims,
		Events:  events,
		publish: queue_publisher.PublishClaimRedeemed,
	}
}

type createClaimRequest struct {
	UserID   uint64 `json:"user_id"`
	Quantity int    `json:"quantity"`
}

// CreateClaim handles POST /v1/events/:id/items/:itemID/claims.
// The optional Idempotency-Key header makes retries safe: a repeated
// key for the same item and user returns the original claim with 200
// instead of reserving again.
func (h *ClaimHandler) CreateClaim(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	itemID, err := pathID(c, "itemID")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req createClaimRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	token := c.Request().Header.Get("Idempotency-Key")

	// Remember whether the token already mapped to a claim so a replay
	// can be reported as 200 instead of 201.
	replayed := false
	if token != "" && h.Claims != nil {
		if _, err := h.Claims.ClaimByToken(c.Request().Context(), itemID, req.UserID, token); err == nil {
			replayed = true
		}
	}

	claim, err := h.Engine.Reserve(c.Request().Context(), eventID, itemID, req.UserID, req.Quantity, token)
	if err != nil {
		return engineError(c, err)
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	return c.JSON(status, claimJSON(claim))
}

// GetClaim handles GET /v1/claims/:id.
func (h *ClaimHandler) GetClaim(c echo.Context) error {
	claimID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claim, err := h.Claims.Claim(c.Request().Context(), claimID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, claimJSON(claim))
}

// RedeemClaim handles POST /v1/claims/:id/redeem.  On success a
// claim.redeemed message is published for the pickup log consumer;
// publish failures are logged and never fail the request.
func (h *ClaimHandler) RedeemClaim(c echo.Context) error {
	claimID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claim, err := h.Engine.Redeem(c.Request().Context(), claimID)
	if err != nil {
		return engineError(c, err)
	}
	h.publishRedeemed(c.Request().Context(), claim)
	return c.JSON(http.StatusOK, claimJSON(claim))
}

// CancelClaim handles POST /v1/claims/:id/cancel.
func (h *ClaimHandler) CancelClaim(c echo.Context) error {
	claimID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claim, err := h.Engine.Cancel(c.Request().Context(), claimID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, claimJSON(claim))
}

// ListUserClaims handles GET /v1/users/:id/claims.
func (h *ClaimHandler) ListUserClaims(c echo.Context) error {
	userID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claims, err := h.Claims.ClaimsByUser(c.Request().Context(), userID)
	if err != nil {
		return engineError(c, err)
	}
	out := make([]echo.Map, 0, len(claims))
	for _, claim := range claims {
		out = append(out, claimJSON(claim))
	}
	return c.JSON(http.StatusOK, echo.Map{"claims": out})
}

func (h *ClaimHandler) publishRedeemed(ctx context.Context, claim model.Claim) {
	msg := queue.ClaimRedeemedEvent{
		ClaimID:  claim.ID,
		EventID:  claim.EventID,
		ItemID:   claim.ItemID,
		UserID:   claim.UserID,
		Quantity: claim.Quantity,
		Code:     claim.Code,
	}
	if claim.RedeemedAt != nil {
		msg.RedeemedAt = claim.RedeemedAt.UTC().Format(time.RFC3339)
	}
	if h.Events != nil {
		if ev, err := h.Events.Event(ctx, claim.EventID); err == nil {
			msg.EventTitle = ev.Title
		}
	}
	if item, err := h.Engine.Item(ctx, claim.ItemID); err == nil {
		msg.ItemName = item.Name
	}
	if h.publish == nil {
		return
	}
	if err := h.publish(ctx, msg); err != nil {
		log.Printf("claim-handler: publish claim.redeemed failed: %v", err)
	}
}
