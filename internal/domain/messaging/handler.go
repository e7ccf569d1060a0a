package messaging

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/pkg/pagination"
)

type Handler struct {
	svc  *Service
	post echo.MiddlewareFunc
}

func NewHandler(svc *Service, post echo.MiddlewareFunc) *Handler {
	if post == nil {
		post = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return &Handler{svc: svc, post: post}
}

func (h *Handler) RegisterRoutes(protected *echo.Group) {
	participants := auth.RequireRole(auth.RolePatient, auth.RoleDoctor)
	protected.POST("/appointments/:appointmentId/messages", h.Send, participants, h.post)
	protected.GET("/appointments/:appointmentId/messages", h.List, participants)
}

func appointmentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("appointmentId"))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid appointment ID")
	}
	return id, nil
}

type sendRequest struct {
	Body string `json:"body"`
}

func (h *Handler) Send(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	ctx := c.Request().Context()
	who, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return apperr.Unauthorized("authentication required")
	}
	m, err := h.svc.Send(ctx, who, id, req.Body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) List(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.List(ctx, auth.UserIDFromContext(ctx), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Message{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
