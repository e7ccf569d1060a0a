package billing

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/pkg/pagination"
)

const defaultListLimit = 20

type Handler struct {
	svc       *Service
	post      echo.MiddlewareFunc
	adminPost echo.MiddlewareFunc
}

// NewHandler builds the handler. post limits payment processing and
// adminPost limits refunds; nil disables either.
func NewHandler(svc *Service, post, adminPost echo.MiddlewareFunc) *Handler {
	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if post == nil {
		post = pass
	}
	if adminPost == nil {
		adminPost = pass
	}
	return &Handler{svc: svc, post: post, adminPost: adminPost}
}

func (h *Handler) RegisterRoutes(protected *echo.Group) {
	pay := protected.Group("/payments")
	pay.POST("/:paymentId/process", h.Process, auth.RequireRole(auth.RolePatient), h.post)
	pay.GET("/:paymentId", h.Get)

	admin := protected.Group("/admin/payments", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.List)
	admin.POST("/report", h.Report)
	admin.GET("/:id", h.AdminGet)
	admin.POST("/:id/refund", h.Refund, h.adminPost)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid payment ID")
	}
	return id, nil
}

type processRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

func (h *Handler) Process(c echo.Context) error {
	id, err := pathID(c, "paymentId")
	if err != nil {
		return err
	}
	var req processRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.Process(ctx, auth.UserIDFromContext(ctx), id, req.PaymentMethod)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Payment processed successfully",
		"payment": p,
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "paymentId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	who, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return apperr.Unauthorized("authentication required")
	}
	p, err := h.svc.Get(ctx, who, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"payment": p})
}

// -- Admin --

func queryAmount(c echo.Context, name string) (*float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.Validationf("%s must be a number", name)
	}
	return &v, nil
}

// List serves GET /api/admin/payments.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	if c.QueryParam("limit") == "" {
		pg.Limit = defaultListLimit
		pg.Offset = (pg.Page - 1) * pg.Limit
	}

	f := Filter{
		Status:    c.QueryParam("status"),
		Method:    c.QueryParam("paymentMethod"),
		SortBy:    c.QueryParam("sortBy"),
		SortOrder: c.QueryParam("sortOrder"),
		Limit:     pg.Limit,
		Offset:    pg.Offset,
	}
	if raw := c.QueryParam("startDate"); raw != "" {
		t, err := ParseDate(raw, false)
		if err != nil {
			return err
		}
		f.From = &t
	}
	if raw := c.QueryParam("endDate"); raw != "" {
		t, err := ParseDate(raw, true)
		if err != nil {
			return err
		}
		f.To = &t
	}
	var err error
	if f.MinAmount, err = queryAmount(c, "minAmount"); err != nil {
		return err
	}
	if f.MaxAmount, err = queryAmount(c, "maxAmount"); err != nil {
		return err
	}

	res, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	payments := res.Payments
	if payments == nil {
		payments = []*Payment{}
	}
	pages := pagination.Pages(res.Total, pg.Limit)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"payments":      payments,
		"filterOptions": res.FilterOptions,
		"summary":       res.Summary,
		"pagination": map[string]interface{}{
			"totalItems":  res.Total,
			"totalPages":  pages,
			"currentPage": pg.Page,
			"hasNext":     pg.Page < pages,
			"hasPrev":     pg.Page > 1,
		},
	})
}

func (h *Handler) AdminGet(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.AdminGet(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"payment": p})
}

type refundRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Reason string  `json:"reason" validate:"max=500"`
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.Amount <= 0 {
		return apperr.Validation("Invalid refund amount")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.Refund(ctx, auth.UserIDFromContext(ctx), id, req.Amount, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Refund processed successfully",
		"payment": p,
	})
}

type reportRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	GroupBy   string `json:"groupBy"`
}

func (h *Handler) Report(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	rep, err := h.svc.Report(c.Request().Context(), req.StartDate, req.EndDate, req.GroupBy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(req)
}
