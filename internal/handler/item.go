package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/campusbites/campus-food-claims/internal/queue"
	queue_publisher "github.com/campusbites/campus-food-claims/internal/service"
)

// ItemHandler exposes portion pools over HTTP.  Reads go through the
// allocation engine so ledger-consistency checks run on every fetch.
type ItemHandler struct {
	Engine Allocator
}

// NewItemHandler wires an ItemHandler.
func NewItemHandler(engine Allocator) *ItemHandler {
	return &ItemHandler{Engine: engine}
}

// GetItem handles GET /v1/items/:id.
func (h *ItemHandler) GetItem(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	item, err := h.Engine.Item(c.Request().Context(), id)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, itemJSON(item))
}

type setCapacityRequest struct {
	Capacity *int `json:"capacity"`
}

// SetCapacity handles PATCH /v1/items/:id/capacity.  Shrinking below
// the portions already claimed clamps the claimed counter and reports
// the clamped amount; existing claims stay untouched and a
// portions.reconcile message is published for follow-up.
func (h *ItemHandler) SetCapacity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req setCapacityRequest
	if err := c.Bind(&req); err != nil || req.Capacity == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "capacity is required"})
	}
	item, clamped, err := h.Engine.SetCapacity(c.Request().Context(), id, *req.Capacity)
	if err != nil {
		return engineError(c, err)
	}
	if clamped > 0 {
		msg := queue.PortionsReconcileEvent{
			EventID:     item.EventID,
			ItemID:      item.ID,
			NewCapacity: item.Capacity,
			Clamped:     clamped,
			OccurredAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := queue_publisher.PublishPortionsReconcile(c.Request().Context(), msg); err != nil {
			log.Printf("item-handler: publish portions.reconcile failed: %v", err)
		}
	}
	body := itemJSON(item)
	body["clamped"] = clamped
	return c.JSON(http.StatusOK, body)
}
