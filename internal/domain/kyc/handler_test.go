package kyc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/validate"
)

const submitBody = `{"full_name":"Asha Rai","date_of_birth":"1990-05-04","citizenship_number":"12-34",
	"citizenship_front_url":"https://files.test/f.png","citizenship_back_url":"https://files.test/b.png"}`

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	e := echo.New()
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	return NewHandler(f.svc, nil), f, e
}

func asUser(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, userID uuid.UUID, role string) echo.Context {
	claims := &auth.Claims{Role: role}
	claims.Subject = userID.String()
	return e.NewContext(req.WithContext(auth.WithClaims(req.Context(), claims)), rec)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

// mountAs registers the handler behind a group that authenticates every
// request as the given user.
func mountAs(h *Handler, e *echo.Echo, userID uuid.UUID, role string) {
	protected := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := &auth.Claims{Role: role}
			claims.Subject = userID.String()
			c.SetRequest(c.Request().WithContext(auth.WithClaims(c.Request().Context(), claims)))
			return next(c)
		}
	})
	h.RegisterRoutes(protected)
}

// -- Submit --

func TestHandler_Submit(t *testing.T) {
	h, f, e := newTestHandler()
	doctorID := uuid.New()

	rec := httptest.NewRecorder()
	c := asUser(e, jsonRequest(http.MethodPost, "/", submitBody), rec, doctorID, auth.RoleDoctor)
	if err := h.Submit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var body struct {
		Message string `json:"message"`
		KYC     Record `json:"kyc"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "KYC submitted successfully" {
		t.Errorf("unexpected message %q", body.Message)
	}
	if body.KYC.UserID != doctorID || body.KYC.Status != StatusPending {
		t.Errorf("unexpected record %+v", body.KYC)
	}
	if len(f.repo.items) != 1 {
		t.Errorf("expected one stored record, got %d", len(f.repo.items))
	}
}

func TestHandler_Submit_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"full_name":`},
		{"missing fields", `{"full_name":"Asha Rai"}`},
		{"bad date", strings.Replace(submitBody, "1990-05-04", "04/05/1990", 1)},
		{"bad url", strings.Replace(submitBody, "https://files.test/f.png", "not a url", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, e := newTestHandler()
			c := asUser(e, jsonRequest(http.MethodPost, "/", tt.body), httptest.NewRecorder(), uuid.New(), auth.RoleDoctor)
			if err := h.Submit(c); !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if len(f.repo.items) != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestHandler_Submit_DuplicatePending(t *testing.T) {
	h, _, e := newTestHandler()
	doctorID := uuid.New()

	first := asUser(e, jsonRequest(http.MethodPost, "/", submitBody), httptest.NewRecorder(), doctorID, auth.RoleDoctor)
	if err := h.Submit(first); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	again := asUser(e, jsonRequest(http.MethodPost, "/", submitBody), httptest.NewRecorder(), doctorID, auth.RoleDoctor)
	if err := h.Submit(again); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

// -- Review --

func TestHandler_Review(t *testing.T) {
	h, f, e := newTestHandler()
	doctorID := uuid.New()
	submitted, err := f.svc.Submit(context.Background(), doctorID, validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := httptest.NewRecorder()
	c := asUser(e, jsonRequest(http.MethodPut, "/", `{"status":"approved"}`), rec, uuid.New(), auth.RoleAdmin)
	c.SetParamNames("kycId")
	c.SetParamValues(submitted.ID.String())
	if err := h.Review(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"message":"KYC approved"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if f.repo.userStatus[doctorID] != StatusApproved {
		t.Errorf("expected user status approved, got %q", f.repo.userStatus[doctorID])
	}
}

func TestHandler_Review_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		body string
	}{
		{"bad id", "not-a-uuid", `{"status":"approved"}`},
		{"bad status", uuid.NewString(), `{"status":"pending"}`},
		{"reject without reason", uuid.NewString(), `{"status":"rejected"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, e := newTestHandler()
			c := asUser(e, jsonRequest(http.MethodPut, "/", tt.body), httptest.NewRecorder(), uuid.New(), auth.RoleAdmin)
			c.SetParamNames("kycId")
			c.SetParamValues(tt.id)
			if err := h.Review(c); !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestHandler_Review_UnknownRecord(t *testing.T) {
	h, _, e := newTestHandler()
	c := asUser(e, jsonRequest(http.MethodPut, "/", `{"status":"approved"}`), httptest.NewRecorder(), uuid.New(), auth.RoleAdmin)
	c.SetParamNames("kycId")
	c.SetParamValues(uuid.NewString())
	if err := h.Review(c); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- Routing and role gate --

func TestHandler_AdminRoutesRequireAdmin(t *testing.T) {
	for _, role := range []string{auth.RoleDoctor, auth.RolePatient} {
		t.Run(role, func(t *testing.T) {
			h, f, e := newTestHandler()
			userID := uuid.New()
			mountAs(h, e, userID, role)
			rec0, err := f.svc.Submit(context.Background(), uuid.New(), validInput())
			if err != nil {
				t.Fatalf("submit: %v", err)
			}

			requests := []*http.Request{
				httptest.NewRequest(http.MethodGet, "/api/kyc/review", nil),
				jsonRequest(http.MethodPut, "/api/kyc/review/"+rec0.ID.String(), `{"status":"approved"}`),
			}
			for _, req := range requests {
				rec := httptest.NewRecorder()
				e.ServeHTTP(rec, req)
				if rec.Code != http.StatusForbidden {
					t.Errorf("%s %s: expected 403, got %d", req.Method, req.URL.Path, rec.Code)
				}
			}
			if stored := f.repo.items[rec0.ID]; stored.Status != StatusPending {
				t.Errorf("expected record untouched, got %s", stored.Status)
			}
		})
	}
}

func TestHandler_AdminRoutesAllowAdmin(t *testing.T) {
	h, f, e := newTestHandler()
	mountAs(h, e, uuid.New(), auth.RoleAdmin)
	submitted, err := f.svc.Submit(context.Background(), uuid.New(), validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/kyc/review", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var page struct {
		Data  []Record `json:"data"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil || page.Total != 1 || len(page.Data) != 1 {
		t.Errorf("unexpected page %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPut, "/api/kyc/review/"+submitted.ID.String(),
		`{"status":"rejected","rejection_reason":"blurred scan"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("review: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if f.repo.items[submitted.ID].Status != StatusRejected {
		t.Errorf("expected rejected, got %s", f.repo.items[submitted.ID].Status)
	}
}

func TestHandler_SubmitAndStatusRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	mountAs(h, e, uuid.New(), auth.RoleDoctor)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/api/kyc/submit", submitBody))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/kyc/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Errorf("status: got %d %s", rec.Code, rec.Body.String())
	}
}
