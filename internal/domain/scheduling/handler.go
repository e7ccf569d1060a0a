package scheduling

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

// NewHandler builds the handler. post rate-limits mutating routes; nil
// disables the limit.
func NewHandler(svc *Service, post echo.MiddlewareFunc) *Handler {
	if post == nil {
		post = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return &Handler{svc: svc, post: post}
}

func (h *Handler) RegisterRoutes(api, protected *echo.Group) {
	// Public
	api.GET("/availability/doctors/:doctorId/availability", h.DoctorAvailability)
	api.GET("/availability/doctors/:doctorId/fees", h.DoctorFees)
	api.GET("/appointments/doctors/:doctorId/time-slots", h.TimeSlots)

	doctor := auth.RequireRole(auth.RoleDoctor)
	patient := auth.RequireRole(auth.RolePatient)

	avail := protected.Group("/availability", doctor)
	avail.POST("/set", h.SetAvailability, h.post)
	avail.POST("/fees", h.SetFees, h.post)
	avail.GET("/me", h.OwnSlots)
	avail.GET("/fees", h.OwnFees)
	avail.GET("/stats", h.Stats)

	appt := protected.Group("/appointments")
	appt.POST("/book", h.Book, patient, h.post)
	appt.GET("/patient", h.PatientAppointments, patient)
	appt.GET("/doctor", h.DoctorAppointments, doctor)
	appt.GET("/doctor/schedule", h.DoctorSchedule, doctor)
	appt.PATCH("/:appointmentId/complete", h.Complete, doctor)
	appt.PUT("/:appointmentId/cancel", h.Cancel)
	appt.DELETE("/:appointmentId", h.Cancel, doctor)
	appt.POST("/:appointmentId/notes", h.SaveNotes, doctor, h.post)
	appt.GET("/:appointmentId/notes", h.Notes, doctor)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validationf("invalid %s", name)
	}
	return id, nil
}

// -- Availability --

type slotRequest struct {
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
}

type availabilityRequest struct {
	Date  string        `json:"date" validate:"required,datetime=2006-01-02"`
	Slots []slotRequest `json:"slots" validate:"required,min=1,dive"`
}

func (h *Handler) SetAvailability(c echo.Context) error {
	var req availabilityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	in := make([]SlotInput, len(req.Slots))
	for i, s := range req.Slots {
		in[i] = SlotInput{StartTime: s.StartTime, EndTime: s.EndTime}
	}
	ctx := c.Request().Context()
	slots, err := h.svc.SetAvailability(ctx, auth.UserIDFromContext(ctx), req.Date, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "Availability set successfully",
		"slots":   slots,
	})
}

type feesRequest struct {
	ConsultationFee *float64 `json:"consultation_fee" validate:"required"`
	FollowUpFee     *float64 `json:"follow_up_fee" validate:"required"`
}

func (h *Handler) SetFees(c echo.Context) error {
	var req feesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	fees, err := h.svc.SetFees(ctx, auth.UserIDFromContext(ctx), *req.ConsultationFee, *req.FollowUpFee)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Consultation fees updated successfully",
		"fees":    fees,
	})
}

func (h *Handler) OwnSlots(c echo.Context) error {
	ctx := c.Request().Context()
	slots, err := h.svc.OwnSlots(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"slots": nonNilSlots(slots)})
}

func (h *Handler) OwnFees(c echo.Context) error {
	ctx := c.Request().Context()
	fees, err := h.svc.OwnFees(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fees)
}

func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	st, err := h.svc.Stats(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) DoctorAvailability(c echo.Context) error {
	id, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	slots, err := h.svc.DoctorAvailability(c.Request().Context(), id, "")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"slots": nonNilSlots(slots)})
}

func (h *Handler) DoctorFees(c echo.Context) error {
	id, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	fees, err := h.svc.DoctorFees(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fees)
}

func (h *Handler) TimeSlots(c echo.Context) error {
	id, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	slots, err := h.svc.DoctorAvailability(c.Request().Context(), id, c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"slots": nonNilSlots(slots)})
}

// -- Appointments --

type bookRequest struct {
	TimeSlotID string `json:"time_slot_id" validate:"required,uuid"`
	Reason     string `json:"reason" validate:"max=1000"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	slotID, _ := uuid.Parse(req.TimeSlotID)
	ctx := c.Request().Context()
	appt, err := h.svc.Book(ctx, auth.UserIDFromContext(ctx), slotID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":     "Appointment booked successfully",
		"appointment": appt,
	})
}

func (h *Handler) PatientAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.PatientAppointments(ctx, auth.UserIDFromContext(ctx), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg))
}

func (h *Handler) DoctorAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.DoctorAppointments(ctx, auth.UserIDFromContext(ctx), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg))
}

func (h *Handler) DoctorSchedule(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.DoctorSchedule(ctx, auth.UserIDFromContext(ctx), c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"appointments": nonNil(items)})
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := pathID(c, "appointmentId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	appt, err := h.svc.Complete(ctx, auth.UserIDFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "Appointment marked as completed",
		"appointment": appt,
	})
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// Cancel serves both PUT /:appointmentId/cancel and DELETE /:appointmentId.
func (h *Handler) Cancel(c echo.Context) error {
	id, err := pathID(c, "appointmentId")
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength > 0 {
		if err := bindAndValidate(c, &req); err != nil {
			return err
		}
	}
	who, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return apperr.Unauthorized("authentication required")
	}
	appt, err := h.svc.Cancel(c.Request().Context(), who, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "Appointment cancelled successfully",
		"appointment": appt,
	})
}

type notesRequest struct {
	Notes string `json:"notes" validate:"required,max=10000"`
}

func (h *Handler) SaveNotes(c echo.Context) error {
	id, err := pathID(c, "appointmentId")
	if err != nil {
		return err
	}
	var req notesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.SaveNotes(ctx, auth.UserIDFromContext(ctx), id, req.Notes); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Consultation notes updated successfully"})
}

func (h *Handler) Notes(c echo.Context) error {
	id, err := pathID(c, "appointmentId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	notes, err := h.svc.Notes(ctx, auth.UserIDFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"notes": notes})
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(req)
}

func nonNil(items []*Appointment) []*Appointment {
	if items == nil {
		return []*Appointment{}
	}
	return items
}

func nonNilSlots(items []*TimeSlot) []*TimeSlot {
	if items == nil {
		return []*TimeSlot{}
	}
	return items
}
