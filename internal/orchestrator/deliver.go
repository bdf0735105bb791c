package orchestrator

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"bgremover/internal/domain"
)

const fallbackContentType = "image/png"

// Deliver streams a validated job's output to w and schedules release of both
// files after the cleanup delay, whatever happens.
//
// An error is returned only when nothing has been written yet, so the caller
// can still send an error response. Failures after the body started are
// logged and swallowed.
func (o *Orchestrator) Deliver(w http.ResponseWriter, r *http.Request, job *domain.ProcessingJob) error {
	log := o.jobLogger(job)
	job.Transition(domain.JobStateDelivering)

	var deliverErr error
	defer func() {
		job.Transition(domain.JobStateCleaningUp)
		o.ns.ReleaseAfter(o.cleanupDelay, job.Paths()...)
		if deliverErr != nil {
			o.abort(r.Context(), job, deliverErr)
			return
		}
		job.Transition(domain.JobStateDone)
		o.record(r.Context(), job)
		log.Info().Msg("job done")
	}()

	f, err := os.Open(job.OutputPath)
	if err != nil {
		deliverErr = domain.Wrap(domain.ErrDelivery, "Processed image could not be opened", err)
		return deliverErr
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		deliverErr = domain.Wrap(domain.ErrDelivery, "Processed image could not be opened", err)
		return deliverErr
	}

	w.Header().Set("Content-Type", sniffContentType(job.OutputPath))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		deliverErr = fmt.Errorf("%w: %w", domain.ErrDelivery, err)
		log.Warn().Err(deliverErr).Msg("output delivery interrupted")
		return nil
	}
	return nil
}

func sniffContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || !strings.HasPrefix(mt.String(), "image/") {
		return fallbackContentType
	}
	return mt.String()
}
