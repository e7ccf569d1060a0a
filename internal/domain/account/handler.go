package account

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
)

// DeviceHeader carries the device id presented during OTP verification.
const DeviceHeader = "X-Temp-Device-Id"

// Limits are the per-route rate limit middlewares. Nil entries disable the
// limit.
type Limits struct {
	Login     echo.MiddlewareFunc
	Sensitive echo.MiddlewareFunc
}

type Handler struct {
	svc    *Service
	limits Limits
}

func NewHandler(svc *Service, limits Limits) *Handler {
	return &Handler{svc: svc, limits: limits}
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func orPass(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	if mw == nil {
		return passthrough
	}
	return mw
}

// RegisterRoutes mounts /auth on api (public) and protected (bearer token
// already verified).
func (h *Handler) RegisterRoutes(api, protected *echo.Group) {
	login, sensitive := orPass(h.limits.Login), orPass(h.limits.Sensitive)

	pub := api.Group("/auth")
	pub.POST("/login", h.Login, login)
	pub.POST("/signup", h.Signup, sensitive)
	pub.POST("/verify-email", h.VerifyEmail, sensitive)
	pub.POST("/forgot-password", h.ForgotPassword, sensitive)
	pub.POST("/reset-password", h.ResetPassword, sensitive)
	pub.POST("/set-new-password", h.ResetPassword, sensitive)
	pub.POST("/change-password", h.ResetPassword, sensitive)

	priv := protected.Group("/auth")
	priv.PUT("/change-password", h.ChangePassword)
	priv.GET("/profile", h.GetProfile)
	priv.PUT("/profile", h.UpdateProfile)
	priv.POST("/logout", h.Logout)
}

type signupRequest struct {
	Name                     string `json:"name" validate:"required"`
	Email                    string `json:"email" validate:"required,email"`
	Password                 string `json:"password" validate:"required,min=8"`
	Role                     string `json:"role" validate:"required,oneof=Patient Doctor"`
	Phone                    string `json:"phone"`
	NMCNumber                string `json:"nmc_number"`
	Speciality               string `json:"speciality"`
	EducationalQualification string `json:"educational_qualification"`
	CVURL                    string `json:"cv_url" validate:"omitempty,url"`
}

func (h *Handler) Signup(c echo.Context) error {
	var req signupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	in := SignupInput{
		Name: req.Name, Email: req.Email, Password: req.Password, Role: req.Role, Phone: req.Phone,
	}
	if req.Role == auth.RoleDoctor {
		in.Doctor = &DoctorSignup{
			NMCNumber:                req.NMCNumber,
			Speciality:               req.Speciality,
			EducationalQualification: req.EducationalQualification,
			CVURL:                    req.CVURL,
		}
	}
	if _, err := h.svc.Signup(c.Request().Context(), in); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"message": "User registered successfully. Please check your email for verification.",
	})
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
	DeviceID   string `json:"deviceId"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := h.svc.Login(c.Request().Context(), LoginInput{
		Email: req.Email, Password: req.Password, DeviceID: req.DeviceID, RememberMe: req.RememberMe,
	})
	if err != nil {
		return err
	}
	if res.RequiresOTP {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message":     "OTP sent to your email.",
			"requiresOtp": true,
			"email":       res.Email,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":       res.Token,
		"role":        res.Role,
		"kyc_status":  res.KYCStatus,
		"requiresOtp": false,
		"email":       res.Email,
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (h *Handler) VerifyEmail(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if _, err := h.svc.VerifyOTP(c.Request().Context(), req.Email, req.OTP, c.Request().Header.Get(DeviceHeader)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

type forgotRequest struct {
	Email string `json:"email"`
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req forgotRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password reset email sent. Check your inbox."})
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

type changeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req changeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	ctx := c.Request().Context()
	if err := h.svc.ChangePassword(ctx, auth.UserIDFromContext(ctx), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (h *Handler) GetProfile(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.Profile(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type profileRequest struct {
	Name    *string `json:"name"`
	Email   *string `json:"email" validate:"omitempty,email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var req profileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := h.svc.UpdateProfile(ctx, auth.UserIDFromContext(ctx), ProfileUpdate(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Profile updated successfully",
		"user":    u,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Logout(ctx, auth.ClaimsFromContext(ctx)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(req)
}
