package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/campusbites/campus-food-claims/internal/model"
	"github.com/campusbites/campus-food-claims/internal/repository"
)

// OrganizationHandler manages organizations and their locations.
type OrganizationHandler struct {
	Orgs      *repository.OrganizationRepo
	Locations *repository.LocationRepo
}

// NewOrganizationHandler wires an OrganizationHandler.
func NewOrganizationHandler(orgs *repository.OrganizationRepo, locations *repository.LocationRepo) *OrganizationHandler {
	return &OrganizationHandler{Orgs: orgs, Locations: locations}
}

func organizationJSON(o model.Organization) echo.Map {
	return echo.Map{
		"id":          o.ID,
		"name":        o.Name,
		"description": o.Description,
	}
}

func locationJSON(l model.Location) echo.Map {
	return echo.Map{
		"id":              l.ID,
		"organization_id": l.OrganizationID,
		"name":            l.Name,
	}
}

// ListOrganizations handles GET /v1/organizations.
func (h *OrganizationHandler) ListOrganizations(c echo.Context) error {
	orgs, err := h.Orgs.List(c.Request().Context())
	if err != nil {
		return engineError(c, err)
	}
	out := make([]echo.Map, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, organizationJSON(o))
	}
	return c.JSON(http.StatusOK, echo.Map{"organizations": out})
}

// GetOrganization handles GET /v1/organizations/:id.
func (h *OrganizationHandler) GetOrganization(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	o, err := h.Orgs.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrganizationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
		}
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, organizationJSON(o))
}

type organizationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateOrganization handles POST /v1/organizations.
func (h *OrganizationHandler) CreateOrganization(c echo.Context) error {
	var req organizationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	o := model.Organization{Name: req.Name, Description: strings.TrimSpace(req.Description)}
	if err := h.Orgs.Create(c.Request().Context(), &o); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "organization already exists"})
		}
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, organizationJSON(o))
}

// ListLocations handles GET /v1/organizations/:id/locations.
func (h *OrganizationHandler) ListLocations(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx := c.Request().Context()
	if _, err := h.Orgs.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrOrganizationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
		}
		return engineError(c, err)
	}
	locations, err := h.Locations.ListByOrganization(ctx, id)
	if err != nil {
		return engineError(c, err)
	}
	out := make([]echo.Map, 0, len(locations))
	for _, l := range locations {
		out = append(out, locationJSON(l))
	}
	return c.JSON(http.StatusOK, echo.Map{"locations": out})
}

type locationRequest struct {
	Name string `json:"name"`
}

// CreateLocation handles POST /v1/organizations/:id/locations.  The
// name is unique per organization; posting an existing name resolves to
// the existing location instead of failing.
func (h *OrganizationHandler) CreateLocation(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	ctx := c.Request().Context()
	if _, err := h.Orgs.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrOrganizationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
		}
		return engineError(c, err)
	}
	loc, err := h.Locations.FindOrCreate(ctx, id, req.Name)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, locationJSON(loc))
}
