// Package response writes the JSON envelopes shared by handlers and
// middleware.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/apperror"
)

type Message struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Message{Success: false, Message: message})
}

// FromError renders err with the status of its kind. Internal failures are
// logged with their cause and answered with a generic message.
func FromError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	kind := apperror.KindOf(err)
	if kind == apperror.KindInternal {
		logger.WithError(err).Error("Request failed")
	}
	Error(w, kind.HTTPStatus(), apperror.PublicMessage(err))
}
