package identity

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
	svc       *Service
	adminPost echo.MiddlewareFunc
}

// NewHandler builds the handler. adminPost limits admin email sends; nil
// disables the limit.
func NewHandler(svc *Service, adminPost echo.MiddlewareFunc) *Handler {
	if adminPost == nil {
		adminPost = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return &Handler{svc: svc, adminPost: adminPost}
}

func (h *Handler) RegisterRoutes(api, protected *echo.Group) {
	api.GET("/doctors", h.ListBookableDoctors)

	admin := protected.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/patients", h.ListPatients)
	admin.GET("/patients/:id", h.GetPatient)
	admin.PUT("/patients/:id", h.UpdatePatient)
	admin.DELETE("/patients/:id", h.DeletePatient)
	admin.POST("/patients/:id/email", h.EmailPatient, h.adminPost)

	admin.GET("/doctors", h.ListDoctors)
	admin.GET("/doctors/:id", h.GetDoctor)
	admin.PUT("/doctors/:id/status", h.UpdateDoctorStatus)
	admin.POST("/doctors/:id/email", h.EmailDoctor, h.adminPost)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validationf("invalid %s", name)
	}
	return id, nil
}

// -- Directory --

func (h *Handler) ListBookableDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBookableDoctors(c.Request().Context(), c.QueryParam("speciality"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg))
}

// -- Admin: doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), DoctorFilter{
		Speciality: c.QueryParam("speciality"),
		Status:     c.QueryParam("status"),
		Search:     c.QueryParam("search"),
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return err
		}
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) UpdateDoctorStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	d, err := h.svc.UpdateDoctorStatus(ctx, auth.UserIDFromContext(ctx), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Doctor status updated successfully",
		"doctor":  d,
	})
}

// -- Admin: patients --

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), PatientFilter{
		Search: c.QueryParam("search"), Limit: pg.Limit, Offset: pg.Offset,
	})
	if err != nil {
		return apperr.Internal(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type patientRequest struct {
	Name        *string `json:"name"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=male female other"`
	BloodGroup  *string `json:"blood_group" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req patientRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	in := PatientUpdate{
		Name: req.Name, Phone: req.Phone, Address: req.Address,
		Gender: req.Gender, BloodGroup: req.BloodGroup,
	}
	if req.DateOfBirth != nil {
		dob, _ := time.Parse("2006-01-02", *req.DateOfBirth)
		if dob.After(time.Now()) {
			return apperr.Validation("date_of_birth cannot be in the future")
		}
		in.DateOfBirth = &dob
	}

	ctx := c.Request().Context()
	p, err := h.svc.UpdatePatient(ctx, auth.UserIDFromContext(ctx), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Patient updated successfully",
		"patient": p,
	})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.DeletePatient(ctx, auth.UserIDFromContext(ctx), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Patient deleted successfully"})
}

// -- Admin: email --

type emailRequest struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

func (h *Handler) EmailPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req emailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.EmailPatient(ctx, auth.UserIDFromContext(ctx), id, req.Subject, req.Message); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Email sent successfully"})
}

func (h *Handler) EmailDoctor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req emailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.EmailDoctor(ctx, auth.UserIDFromContext(ctx), id, req.Subject, req.Message); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Email sent successfully"})
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(req)
}

func nonNil(items []*Doctor) []*Doctor {
	if items == nil {
		return []*Doctor{}
	}
	return items
}
