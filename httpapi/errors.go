package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/sirupsen/logrus"
)

type kindMapping struct {
	status  int
	message string
}

var kindResponses = map[authgate.ErrorKind]kindMapping{
	authgate.KindInvalidCaptcha:         {http.StatusBadRequest, "invalid captcha"},
	authgate.KindRenderingError:         {http.StatusInternalServerError, "captcha could not be generated"},
	authgate.KindInvalidOrExpiredToken:  {http.StatusBadRequest, "invalid or expired token"},
	authgate.KindEmailAlreadyRegistered: {http.StatusConflict, "email already registered"},
	authgate.KindInvalidCredentials:     {http.StatusUnauthorized, "invalid credentials"},
	authgate.KindEmailNotVerified:       {http.StatusForbidden, "email not verified"},
	authgate.KindPasswordPolicy:         {http.StatusBadRequest, "password does not meet policy"},
	authgate.KindRateLimited:            {http.StatusTooManyRequests, "too many requests"},
	authgate.KindInvalidRequest:         {http.StatusBadRequest, "invalid request"},
	authgate.KindUnavailable:            {http.StatusServiceUnavailable, "service unavailable"},
}

// statusFor maps err to an HTTP status and client-safe message.
func statusFor(err error) (int, authgate.ErrorKind, string) {
	kind := authgate.KindOf(err)
	m, ok := kindResponses[kind]
	if !ok {
		return http.StatusServiceUnavailable, authgate.KindUnavailable, "service unavailable"
	}
	return m.status, kind, m.message
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// Client went away; nothing useful to write.
		return
	}

	status, kind, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.WithFields(logrus.Fields{
			"request_id": authgate.RequestIDFromContext(r.Context()),
			"kind":       string(kind),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: string(kind)})
}
