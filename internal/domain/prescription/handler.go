package prescription

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
	appt := protected.Group("/appointments")
	appt.GET("/doctor/prescriptions", h.DoctorList, auth.RequireRole(auth.RoleDoctor))
	appt.GET("/patient/prescriptions", h.PatientList, auth.RequireRole(auth.RolePatient))
	appt.POST("/:appointmentId/prescription", h.Write, auth.RequireRole(auth.RoleDoctor), h.post)
	appt.GET("/:appointmentId/prescription", h.Get)
}

func appointmentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("appointmentId"))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid appointment ID")
	}
	return id, nil
}

type medicationRequest struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

type writeRequest struct {
	Diagnosis      string              `json:"diagnosis" validate:"required,max=2000"`
	DoctorNotes    string              `json:"doctor_notes" validate:"max=5000"`
	FollowUpNeeded bool                `json:"follow_up_needed"`
	FollowUpDate   string              `json:"follow_up_date"`
	Medications    []medicationRequest `json:"medications" validate:"max=50"`
}

func (h *Handler) Write(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var req writeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	in := Input{
		Diagnosis:      req.Diagnosis,
		DoctorNotes:    req.DoctorNotes,
		FollowUpNeeded: req.FollowUpNeeded,
		FollowUpDate:   req.FollowUpDate,
	}
	for _, m := range req.Medications {
		in.Medications = append(in.Medications, MedicationInput(m))
	}

	ctx := c.Request().Context()
	p, created, err := h.svc.Write(ctx, auth.UserIDFromContext(ctx), id, in)
	if err != nil {
		return err
	}
	msg := "Prescription updated successfully"
	if created {
		msg = "Prescription created successfully"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":      msg,
		"prescription": p,
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.ForAppointment(ctx, auth.UserIDFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DoctorList(c echo.Context) error {
	pg := pagination.FromContext(c)
	var patientID *uuid.UUID
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Validation("Invalid patient ID")
		}
		patientID = &id
	}
	ctx := c.Request().Context()
	items, total, err := h.svc.DoctorPrescriptions(ctx, auth.UserIDFromContext(ctx), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return listResponse(c, items, total, pg)
}

func (h *Handler) PatientList(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.PatientPrescriptions(ctx, auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return listResponse(c, items, total, pg)
}

func listResponse(c echo.Context, items []*Prescription, total int, pg pagination.Params) error {
	if items == nil {
		items = []*Prescription{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"prescriptions": items,
		"pagination": map[string]interface{}{
			"total": total,
			"page":  pg.Page,
			"limit": pg.Limit,
			"pages": pagination.Pages(total, pg.Limit),
		},
	})
}
