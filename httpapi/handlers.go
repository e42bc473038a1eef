package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/sirupsen/logrus"
)

type captchaResponse struct {
	CaptchaID   string `json:"captchaId"`
	ImageBase64 string `json:"imageBase64"`
	ExpiresAt   string `json:"expiresAt"`
}

type refreshCaptchaRequest struct {
	CaptchaID string `json:"captchaId"`
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	CaptchaID       string `json:"captchaId"`
	CaptchaAnswer   string `json:"captchaAnswer"`
}

type registerResponse struct {
	UserID                string `json:"userId"`
	Email                 string `json:"email"`
	VerificationExpiresAt string `json:"verificationExpiresAt"`
}

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	RememberMe    bool   `json:"rememberMe"`
	CaptchaID     string `json:"captchaId"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

type loginResponse struct {
	AccessToken   string `json:"accessToken"`
	ExpiresAt     string `json:"expiresAt"`
	EmailVerified bool   `json:"emailVerified"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type meResponse struct {
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var okStatus = statusResponse{Status: "ok"}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, okStatus)
}

func (a *API) generateCaptcha(w http.ResponseWriter, r *http.Request) {
	ch, err := a.engine.GenerateCaptcha(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaptchaResponse(ch))
}

func (a *API) refreshCaptcha(w http.ResponseWriter, r *http.Request) {
	var req refreshCaptchaRequest
	if !a.decode(w, r, &req) {
		return
	}
	ch, err := a.engine.RefreshCaptcha(r.Context(), req.CaptchaID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaptchaResponse(ch))
}

func toCaptchaResponse(ch authgate.CaptchaChallenge) captchaResponse {
	return captchaResponse{
		CaptchaID:   ch.ID,
		ImageBase64: ch.ImageBase64,
		ExpiresAt:   formatTime(ch.ExpiresAt),
	}
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.Register(r.Context(), authgate.RegisterRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		CaptchaID:       req.CaptchaID,
		CaptchaAnswer:   req.CaptchaAnswer,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		UserID:                res.UserID,
		Email:                 res.Email,
		VerificationExpiresAt: formatTime(res.VerificationExpires),
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.Login(r.Context(), authgate.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		RememberMe:    req.RememberMe,
		CaptchaID:     req.CaptchaID,
		CaptchaAnswer: req.CaptchaAnswer,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:   res.AccessToken,
		ExpiresAt:     formatTime(res.ExpiresAt),
		EmailVerified: res.EmailVerified,
	})
}

// forgotPassword answers 200 for every address, registered or not. Only a
// backend outage is reported.
func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.silent(w, r, a.engine.ForgotPassword(r.Context(), req.Email))
}

func (a *API) validateResetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.ValidatePasswordResetToken(r.Context(), req.Token); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okStatus)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okStatus)
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.VerifyEmail(r.Context(), req.Token); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okStatus)
}

func (a *API) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.silent(w, r, a.engine.ResendVerificationEmail(r.Context(), req.Email))
}

// silent writes 200 unless err is a backend failure. Malformed addresses
// and exhausted budgets look the same as success to the caller.
func (a *API) silent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		if status, _, _ := statusFor(err); status >= http.StatusInternalServerError {
			a.writeError(w, r, err)
			return
		}
		a.logger.WithFields(logrus.Fields{
			"request_id": authgate.RequestIDFromContext(r.Context()),
			"kind":       string(authgate.KindOf(err)),
			"path":       r.URL.Path,
		}).Debug("request suppressed")
	}
	writeJSON(w, http.StatusOK, okStatus)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.writeError(w, r, authgate.ErrInvalidCredentials)
		return
	}
	resp := meResponse{
		UserID:        claims.UID,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = formatTime(claims.ExpiresAt.Time)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: "request body too large",
				Kind:  string(authgate.KindInvalidRequest),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "malformed JSON body",
			Kind:  string(authgate.KindInvalidRequest),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
