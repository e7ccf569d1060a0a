package activity

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/pkg/pagination"
)

const defaultLogLimit = 20

type Handler struct {
	rec *Recorder
}

func NewHandler(rec *Recorder) *Handler {
	return &Handler{rec: rec}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/activity-logs", h.ListLogs)
}

// ListLogs serves GET /api/admin/activity-logs.
func (h *Handler) ListLogs(c echo.Context) error {
	pg := pagination.FromContext(c)
	if c.QueryParam("limit") == "" {
		pg.Limit = defaultLogLimit
		pg.Offset = (pg.Page - 1) * pg.Limit
	}

	f := Filter{Action: c.QueryParam("action"), Limit: pg.Limit, Offset: pg.Offset}
	if raw := c.QueryParam("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Validation("userId must be a valid id")
		}
		f.UserID = &id
	}
	if raw := c.QueryParam("from"); raw != "" {
		t, _, err := parseBound(raw)
		if err != nil {
			return apperr.Validation("from must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
		}
		f.From = &t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, dateOnly, err := parseBound(raw)
		if err != nil {
			return apperr.Validation("to must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
		}
		// a bare date includes the whole day
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = &t
	}

	logs, total, err := h.rec.List(c.Request().Context(), f)
	if err != nil {
		return apperr.Internal(err)
	}
	if logs == nil {
		logs = []*Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": total,
		"page":  pg.Page,
		"pages": pagination.Pages(total, pg.Limit),
	})
}

func parseBound(raw string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t, false, err
}
