package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"bgremover/internal/domain"
)

var allowedUploadTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

// URL-sourced images are always staged with this extension.
const urlImageExt = ".jpg"

// StageUpload validates an uploaded part and stages it as a new job.
// Validation failures are ErrClientInput and leave nothing on disk.
func (o *Orchestrator) StageUpload(ctx context.Context, file io.Reader, header *multipart.FileHeader, requestID string) (*domain.ProcessingJob, error) {
	if file == nil || header == nil {
		return nil, domain.NewError(domain.ErrClientInput, "No image file provided")
	}
	if !allowedUploadType(header.Header.Get("Content-Type")) {
		return nil, domain.NewError(domain.ErrClientInput, "Only image files (JPEG, PNG, WebP) are allowed")
	}
	if header.Size > o.maxUpload {
		return nil, o.TooLarge()
	}

	job := o.newJob(domain.OriginUpload, requestID)
	job.OriginalName = header.Filename
	path, err := o.ns.Stage(ctx, io.LimitReader(file, o.maxUpload), header.Filename)
	if err != nil {
		return nil, domain.Wrap(domain.ErrStaging, "Could not store the uploaded image", err)
	}
	job.InputPath = path
	job.OutputPath = o.ns.OutputPathFor(path)
	o.jobLogger(job).Info().Str("name", header.Filename).Int64("size", header.Size).Msg("upload staged")
	return job, nil
}

// StageURL fetches rawURL and stages the body as a new job. Fetch failures
// stage nothing.
func (o *Orchestrator) StageURL(ctx context.Context, rawURL, requestID string) (*domain.ProcessingJob, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, domain.NewError(domain.ErrClientInput, "No image URL provided")
	}

	img, err := o.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		o.logger.Warn().Str("request_id", requestID).Str("url", rawURL).Err(err).Msg("image fetch failed")
		return nil, err
	}

	job := o.newJob(domain.OriginURL, requestID)
	job.SourceURL = rawURL
	path, err := o.ns.StageSynthetic(ctx, bytes.NewReader(img.Data), urlImageExt)
	if err != nil {
		return nil, domain.Wrap(domain.ErrStaging, "Could not store the downloaded image", err)
	}
	job.InputPath = path
	job.OutputPath = o.ns.OutputPathFor(path)
	o.jobLogger(job).Info().Str("url", rawURL).Int("size", len(img.Data)).Msg("url image staged")
	return job, nil
}

// TooLarge is the client error for an upload above the configured cap.
func (o *Orchestrator) TooLarge() error {
	return domain.NewError(domain.ErrClientInput, fmt.Sprintf("File too large. Maximum size is %s.", sizeLabel(o.maxUpload)))
}

// sizeLabel renders n as whole MB or KB when exact, else in bytes.
func sizeLabel(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func allowedUploadType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := allowedUploadTypes[strings.ToLower(mediaType)]
	return ok
}
