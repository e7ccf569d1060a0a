package inbox

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the notification routes on an authenticated group.
func (h *Handler) RegisterRoutes(protected *echo.Group) {
	protected.GET("/notifications", h.List)
	protected.PATCH("/notifications/read-all", h.MarkAllRead)
	protected.PATCH("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, unread, err := h.svc.List(ctx, Filter{
		UserID:     auth.UserIDFromContext(ctx),
		UnreadOnly: c.QueryParam("unread") == "true",
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	})
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Notification{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"notifications": items,
		"total":         total,
		"unread":        unread,
		"page":          pg.Page,
		"pages":         pagination.Pages(total, pg.Limit),
	})
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid notification id")
	}
	ctx := c.Request().Context()
	if err := h.svc.MarkRead(ctx, auth.UserIDFromContext(ctx), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.svc.MarkAllRead(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "All notifications marked as read",
		"updated": n,
	})
}
