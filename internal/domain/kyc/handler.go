package kyc

import (
	"net/http"
	"time"

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

// NewHandler builds the handler. post rate-limits submissions; nil disables
// the limit.
func NewHandler(svc *Service, post echo.MiddlewareFunc) *Handler {
	if post == nil {
		post = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return &Handler{svc: svc, post: post}
}

func (h *Handler) RegisterRoutes(protected *echo.Group) {
	g := protected.Group("/kyc")
	g.POST("/submit", h.Submit, h.post)
	g.GET("/status", h.Status)

	admin := g.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/review", h.ListPending)
	admin.PUT("/review/:kycId", h.Review)
}

type submitRequest struct {
	FullName            string `json:"full_name" validate:"required,max=255"`
	DateOfBirth         string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	CitizenshipNumber   string `json:"citizenship_number" validate:"required,max=64"`
	CitizenshipFrontURL string `json:"citizenship_front_url" validate:"required,url"`
	CitizenshipBackURL  string `json:"citizenship_back_url" validate:"required,url"`
}

func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	dob, _ := time.Parse("2006-01-02", req.DateOfBirth)

	ctx := c.Request().Context()
	rec, err := h.svc.Submit(ctx, auth.UserIDFromContext(ctx), SubmitInput{
		FullName:            req.FullName,
		DateOfBirth:         dob,
		CitizenshipNumber:   req.CitizenshipNumber,
		CitizenshipFrontURL: req.CitizenshipFrontURL,
		CitizenshipBackURL:  req.CitizenshipBackURL,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "KYC submitted successfully",
		"kyc":     rec,
	})
}

func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	rec, status, err := h.svc.Status(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": status,
		"kyc":    rec,
	})
}

func (h *Handler) ListPending(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Pending(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type reviewRequest struct {
	Status          string `json:"status" validate:"required,oneof=approved rejected"`
	RejectionReason string `json:"rejection_reason" validate:"max=1000"`
}

func (h *Handler) Review(c echo.Context) error {
	id, err := uuid.Parse(c.Param("kycId"))
	if err != nil {
		return apperr.Validation("invalid kycId")
	}
	var req reviewRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Review(ctx, auth.UserIDFromContext(ctx), id, ReviewInput{
		Status: req.Status, RejectionReason: req.RejectionReason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "KYC " + rec.Status,
		"kyc":     rec,
	})
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(req)
}
