package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/apperror"
	"github.com/taskapp/taskapp/internal/config"
	"github.com/taskapp/taskapp/internal/middleware"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/response"
	"github.com/taskapp/taskapp/internal/service"
)

const maxJSONBody = 1 << 20

type AuthHandlers struct {
	authService *service.AuthService
	cookie      *config.JWTConfig
	logger      *logrus.Logger
}

func NewAuthHandlers(authService *service.AuthService, cookie *config.JWTConfig, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		cookie:      cookie,
		logger:      logger,
	}
}

// flexString accepts a JSON string or number; clients send mobile numbers
// both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}

type SendOTPRequest struct {
	Email       string     `json:"email"`
	RefererCode string     `json:"referer_code"`
	Name        string     `json:"name"`
	Mobile      flexString `json:"mobile"`
	Logo        string     `json:"logo"`
}

type SendLoginOTPRequest struct {
	Email string `json:"email"`
}

type SendLoginOTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"`
}

type VerifyOTPRequest struct {
	OTP   flexString `json:"otp"`
	Email string     `json:"email"`
}

type TokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

type AdminRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Logo     string `json:"logo"`
}

type AdminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminSessionResponse keeps the envelope the admin panel expects: a numeric
// status flag instead of success.
type AdminSessionResponse struct {
	Message string        `json:"message"`
	Status  int           `json:"status"`
	Data    *models.Admin `json:"data"`
	Token   string        `json:"token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	sent, err := h.authService.RequestRegistrationOTP(r.Context(), service.RegistrationInput{
		Email:       req.Email,
		RefererCode: req.RefererCode,
		Name:        req.Name,
		Mobile:      string(req.Mobile),
		Logo:        req.Logo,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if !sent {
		h.logger.WithField("email", service.NormalizeEmail(req.Email)).Warn("Registration OTP stored but not delivered")
	}

	h.respondWithJSON(w, http.StatusOK, response.Message{Success: true, Message: "OTP sent successfully"})
}

func (h *AuthHandlers) SendLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req SendLoginOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	code, err := h.authService.RequestLoginOTP(r.Context(), req.Email)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, SendLoginOTPResponse{
		Success: true,
		Message: "OTP sent successfully",
		OTP:     code,
	})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, _, err := h.authService.VerifyOTP(r.Context(), string(req.OTP), req.Email)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, TokenResponse{
		Success: true,
		Message: "Login success",
		Token:   token,
	})
}

func (h *AuthHandlers) AdminRegister(w http.ResponseWriter, r *http.Request) {
	var req AdminRegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.authService.AdminRegister(r.Context(), service.AdminRegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Logo:     req.Logo,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.setRefreshCookie(w, session.Tokens.RefreshToken)
	h.respondWithJSON(w, http.StatusOK, AdminSessionResponse{
		Message: "Register Success",
		Status:  1,
		Data:    session.Admin,
		Token:   session.Tokens.AccessToken,
	})
}

func (h *AuthHandlers) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.authService.AdminLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.setRefreshCookie(w, session.Tokens.RefreshToken)
	h.respondWithJSON(w, http.StatusOK, AdminSessionResponse{
		Message: "Login Success",
		Status:  1,
		Data:    session.Admin,
		Token:   session.Tokens.AccessToken,
	})
}

func (h *AuthHandlers) AdminRefresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(middleware.TokenCookie); err == nil {
		refreshToken = cookie.Value
	}

	token, err := h.authService.AdminRefresh(r.Context(), refreshToken)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, TokenResponse{
		Success: true,
		Message: "Token refreshed",
		Token:   token,
	})
}

func (h *AuthHandlers) AdminLogout(w http.ResponseWriter, r *http.Request, id models.Identity) {
	if err := h.authService.AdminLogout(r.Context(), id.Admin); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.clearRefreshCookie(w)
	h.respondWithJSON(w, http.StatusOK, response.Message{Success: true, Message: "Logged out successfully"})
}

func (h *AuthHandlers) AdminForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.authService.AdminForgotPassword(r.Context(), req.Email); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, response.Message{
		Success: true,
		Message: "If the account exists, a password reset email has been sent",
	})
}

func (h *AuthHandlers) AdminResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.authService.AdminResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, response.Message{Success: true, Message: "Password updated successfully"})
}

func (h *AuthHandlers) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookie.RefreshCookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cookie.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// decode reads a JSON body into dst and answers 400 itself on failure.
func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WithError(err).Debug("Invalid request body")
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	response.JSON(w, status, payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, err error) {
	if kind := apperror.KindOf(err); kind != apperror.KindInternal {
		h.logger.WithField("kind", kind.String()).Debug("Request rejected")
	}
	response.FromError(w, h.logger, err)
}
