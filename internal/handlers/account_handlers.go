package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/apperror"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/response"
	"github.com/taskapp/taskapp/internal/service"
)

type DataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type UploadResponse struct {
	Success bool     `json:"success"`
	Images  []string `json:"images"`
}

// AccountHandlers serves the routes behind the access middleware.
type AccountHandlers struct {
	uploads  *service.UploadService
	maxBytes int64
	logger   *logrus.Logger
}

func NewAccountHandlers(uploads *service.UploadService, maxBytes int64, logger *logrus.Logger) *AccountHandlers {
	return &AccountHandlers{
		uploads:  uploads,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (h *AccountHandlers) UserMe(w http.ResponseWriter, r *http.Request, id models.Identity) {
	response.JSON(w, http.StatusOK, DataResponse{Success: true, Data: id.User})
}

func (h *AccountHandlers) AdminMe(w http.ResponseWriter, r *http.Request, id models.Identity) {
	response.JSON(w, http.StatusOK, DataResponse{Success: true, Data: id.Admin})
}

// UploadImages stores the files of the multipart field "images".
func (h *AccountHandlers) UploadImages(w http.ResponseWriter, r *http.Request, id models.Identity) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		response.Error(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	urls, err := h.uploads.Save(r.Context(), r.MultipartForm.File["images"])
	if err != nil {
		if apperror.KindOf(err) != apperror.KindInternal {
			h.logger.WithError(err).WithField("admin_id", id.ID()).Debug("Upload rejected")
		}
		response.FromError(w, h.logger, err)
		return
	}

	response.JSON(w, http.StatusOK, UploadResponse{Success: true, Images: urls})
}
