package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/campusbites/campus-food-claims/internal/allocation"
	"github.com/campusbites/campus-food-claims/internal/model"
	"github.com/campusbites/campus-food-claims/internal/repository"
)

// UserHandler manages the user directory.
type UserHandler struct {
	Users *repository.UserRepo
}

// NewUserHandler wires a UserHandler.
func NewUserHandler(users *repository.UserRepo) *UserHandler {
	return &UserHandler{Users: users}
}

func userJSON(u model.User) echo.Map {
	return echo.Map{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	}
}

// ListUsers handles GET /v1/users.
func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.Users.List(c.Request().Context())
	if err != nil {
		return engineError(c, err)
	}
	out := make([]echo.Map, 0, len(users))
	for _, u := range users {
		out = append(out, userJSON(u))
	}
	return c.JSON(http.StatusOK, echo.Map{"users": out})
}

// GetUser handles GET /v1/users/:id.
func (h *UserHandler) GetUser(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	u, err := h.Users.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, allocation.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, userJSON(u))
}

type userRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CreateUser handles POST /v1/users.
func (h *UserHandler) CreateUser(c echo.Context) error {
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a valid email is required"})
	}
	u := model.User{Email: req.Email, Name: strings.TrimSpace(req.Name)}
	if err := h.Users.Create(c.Request().Context(), &u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, userJSON(u))
}
