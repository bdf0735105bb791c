package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bgremover/internal/domain"
	"bgremover/internal/middleware"
)

const (
	uploadField = "image"

	// multipartOverhead covers boundaries and part headers around the file.
	multipartOverhead int64 = 1 << 20
	multipartMemory   int64 = 8 << 20
	maxJSONBody       int64 = 64 << 10

	msgProcessFailed    = "Failed to process image"
	msgProcessURLFailed = "Failed to process image from URL"
	msgDeliveryFailed   = "Failed to send processed image"
)

type removeURLRequest struct {
	ImageURL string `json:"imageUrl"`
}

// RemoveBackground handles a multipart upload in the "image" field.
func (a *App) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	maxUpload := a.Orchestrator.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusBadRequest, domain.Detail(a.Orchestrator.TooLarge()), "")
			return
		}
		a.error(w, http.StatusBadRequest, "No image file provided", "")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		a.error(w, http.StatusBadRequest, "No image file provided", "")
		return
	}
	defer file.Close()

	job, err := a.Orchestrator.StageUpload(r.Context(), file, header, middleware.RequestIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, err, msgProcessFailed)
		return
	}
	if err := a.Orchestrator.Process(r.Context(), job); err != nil {
		a.fail(w, err, msgProcessFailed)
		return
	}
	a.deliver(w, r, job)
}

// RemoveBackgroundURL handles a JSON body carrying imageUrl.
func (a *App) RemoveBackgroundURL(w http.ResponseWriter, r *http.Request) {
	var req removeURLRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "Invalid JSON body", err.Error())
		return
	}

	job, err := a.Orchestrator.StageURL(r.Context(), req.ImageURL, middleware.RequestIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, err, msgProcessURLFailed)
		return
	}
	if err := a.Orchestrator.Process(r.Context(), job); err != nil {
		a.fail(w, err, msgProcessURLFailed)
		return
	}
	a.deliver(w, r, job)
}

func (a *App) deliver(w http.ResponseWriter, r *http.Request, job *domain.ProcessingJob) {
	if err := a.Orchestrator.Deliver(w, r, job); err != nil {
		a.Logger.Error().Err(domain.Cause(err)).Str("job_id", job.ID).Msg("could not send processed image")
		a.error(w, http.StatusInternalServerError, msgDeliveryFailed, domain.Detail(err))
	}
}

// fail writes the single error response for a request. Client input errors
// carry their own message; everything else is reported under fallback. Only
// tagged domain errors expose details; the full chain goes to the log.
func (a *App) fail(w http.ResponseWriter, err error, fallback string) {
	status := domain.HTTPStatus(err)
	if status == http.StatusBadRequest {
		a.error(w, status, domain.Detail(err), "")
		return
	}
	a.Logger.Error().Err(domain.Cause(err)).Str("detail", domain.Detail(err)).Msg(fallback)
	var tagged *domain.Error
	if !errors.As(err, &tagged) {
		a.error(w, status, fallback, "")
		return
	}
	a.error(w, status, fallback, domain.Detail(err))
}
