package main

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/toricodesthings/text-extraction-service/internal/config"
	"github.com/toricodesthings/text-extraction-service/internal/extractor"
	"github.com/toricodesthings/text-extraction-service/internal/hybrid"
	"github.com/toricodesthings/text-extraction-service/internal/jobs"
	"github.com/toricodesthings/text-extraction-service/internal/metrics"
	"github.com/toricodesthings/text-extraction-service/internal/ocr"
	"github.com/toricodesthings/text-extraction-service/internal/types"
	"github.com/toricodesthings/text-extraction-service/internal/webhook"
)

const version = "2.0.0"

type app struct {
	cfg       config.Config
	processor *hybrid.Processor
	chain     *ocr.Chain
	jobs      *jobs.Manager
	metrics   *metrics.Metrics

	requestSem *semaphore.Weighted
	ocrSem     *semaphore.Weighted
	active     atomic.Int64

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

func newApp(cfg config.Config, p *hybrid.Processor, chain *ocr.Chain, manager *jobs.Manager, m *metrics.Metrics) *app {
	return &app{
		cfg:        cfg,
		processor:  p,
		chain:      chain,
		jobs:       manager,
		metrics:    m,
		requestSem: semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		ocrSem:     semaphore.NewWeighted(cfg.MaxOCRConcurrent),
		limiters:   map[string]*rate.Limiter{},
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/metrics", a.withInternalAuth(a.metrics.Handler().ServeHTTP))
	mux.HandleFunc("/backends", a.withInternalAuth(a.withMethod("GET", a.handleBackends)))

	mux.HandleFunc("/pdf/classify", a.pdfRoute(a.handleClassify))
	mux.HandleFunc("/pdf/extract", a.pdfRoute(a.handleExtract))
	mux.HandleFunc("/pdf/extract/async", a.pdfRoute(a.handleExtractAsync))

	mux.HandleFunc("/jobs/{id}", a.withInternalAuth(a.withMethod("GET", a.handleJobStatus)))
	mux.HandleFunc("/jobs/{id}/result", a.withInternalAuth(a.withMethod("GET", a.handleJobResult)))

	return a.metrics.Middleware(a.withLogging(a.withRecovery(mux)))
}

// pdfRoute is the middleware stack shared by every endpoint that accepts a
// document.
func (a *app) pdfRoute(h http.HandlerFunc) http.HandlerFunc {
	return a.withInternalAuth(
		a.withRateLimit(
			a.withMethod("POST",
				a.withConcurrencyLimit(h))))
}

// ---------- Handlers ----------

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := a.active.Load()
	status := "healthy"
	code := http.StatusOK

	ratio := a.cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}
	if active >= int64(float64(a.cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  active,
		"version": version,
		"ocr": map[string]any{
			"available": a.chain.Available(),
			"backends":  a.chain.Availability(),
		},
	})
}

func (a *app) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backends":  a.chain.Info(),
		"available": a.chain.Available(),
	})
}

func (a *app) handleClassify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.ClassifyTimeout)
	defer cancel()

	in, rerr := a.readInput(ctx, w, r)
	if rerr != nil {
		writeErr(w, rerr.status, rerr.code, rerr.message)
		return
	}

	cls, decision, err := a.processor.Plan(in.doc, in.quality)
	if err != nil {
		writeErr(w, http.StatusUnprocessableEntity, "unreadable_pdf", sanitizeError(err))
		return
	}

	writeJSON(w, http.StatusOK, types.ClassifyResponse{
		Success:        true,
		FileName:       in.doc.Name(),
		Classification: cls,
		Routing:        decision,
	})
}

func (a *app) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.ExtractTimeout)
	defer cancel()

	in, rerr := a.readInput(ctx, w, r)
	if rerr != nil {
		writeErr(w, rerr.status, rerr.code, rerr.message)
		return
	}

	doc := extractor.WithSourceURL(in.doc, in.sourceURL)
	cls, decision, err := a.processor.Plan(doc, in.quality)
	if err != nil {
		writeErr(w, http.StatusUnprocessableEntity, "unreadable_pdf", sanitizeError(err))
		return
	}

	// OCR capacity gating: acquire only if OCR will occur
	if len(decision.OCRPages) > 0 {
		if err := a.ocrSem.Acquire(ctx, 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "ocr_capacity", "OCR at capacity")
			return
		}
		defer a.ocrSem.Release(1)
	}

	result := a.processor.ExtractPlanned(ctx, doc, cls, decision)
	if !result.Success {
		msg := "extraction failed"
		if result.Error != nil {
			msg = *result.Error
		}
		writeErr(w, http.StatusInternalServerError, "extraction_failed", sanitizeError(errors.New(msg)))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *app) handleExtractAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	in, rerr := a.readInput(ctx, w, r)
	if rerr != nil {
		writeErr(w, rerr.status, rerr.code, rerr.message)
		return
	}

	id, err := a.jobs.Submit(ctx, jobs.SubmitRequest{
		Document:    in.doc,
		Quality:     in.quality,
		CallbackURL: in.callback,
	})
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		writeErr(w, http.StatusServiceUnavailable, "queue_full", "Job queue is full")
		return
	case errors.Is(err, jobs.ErrShuttingDown):
		writeErr(w, http.StatusServiceUnavailable, "shutting_down", "Service is shutting down")
		return
	case err != nil:
		log.Error().Err(err).Msg("submit job")
		writeErr(w, http.StatusInternalServerError, "internal_error", "Could not create job")
		return
	}

	writeJSON(w, http.StatusAccepted, types.AsyncExtractResponse{
		JobID:     id,
		Status:    types.JobPending,
		StatusURL: "/jobs/" + id,
		ResultURL: "/jobs/" + id + "/result",
	})
}

func (a *app) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobErr(w, err)
		return
	}
	// the result is served by /jobs/{id}/result
	job.Result = nil
	writeJSON(w, http.StatusOK, job)
}

func (a *app) handleJobResult(w http.ResponseWriter, r *http.Request) {
	res, err := a.jobs.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJobErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeErr(w, http.StatusNotFound, "not_found", "Job not found")
	case errors.Is(err, jobs.ErrJobNotReady):
		writeErr(w, http.StatusConflict, "not_ready", "Job is still running")
	case errors.Is(err, jobs.ErrJobFailed):
		writeErr(w, http.StatusInternalServerError, "job_failed", sanitizeError(err))
	default:
		log.Error().Err(err).Msg("job lookup")
		writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// ---------- Input ----------

// docInput carries the opened document. sourceURL is the presigned URL it
// was downloaded from, if any; only the synchronous path hands it to OCR
// backends since it may expire while a job waits in the queue.
type docInput struct {
	doc       extractor.Document
	sourceURL string
	quality   types.Quality
	callback  string
}

type requestError struct {
	status  int
	code    string
	message string
}

func badRequest(code string, err error) *requestError {
	return &requestError{status: http.StatusBadRequest, code: code, message: sanitizeError(err)}
}

// readInput accepts either a JSON body naming a presigned URL, or the raw
// PDF as application/pdf with quality, fileName and callbackUrl passed as
// query parameters.
func (a *app) readInput(ctx context.Context, w http.ResponseWriter, r *http.Request) (docInput, *requestError) {
	var (
		name, qualityRaw, callback, sourceURL string
		data                                  []byte
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/pdf" {
		q := r.URL.Query()
		name, qualityRaw, callback = q.Get("fileName"), q.Get("quality"), q.Get("callbackUrl")
	} else {
		req, err := parseJSON[types.ExtractRequest](r, a.cfg.MaxJSONBodyBytes)
		if err != nil {
			return docInput{}, badRequest("bad_request", err)
		}
		if err := validateExtractRequest(req); err != nil {
			return docInput{}, badRequest("validation_failed", err)
		}
		name, qualityRaw, callback, sourceURL = req.FileName, req.Quality, req.CallbackURL, req.PresignedURL
	}

	if strings.TrimSpace(qualityRaw) == "" {
		qualityRaw = a.cfg.DefaultQuality
	}
	quality, err := types.ParseQuality(qualityRaw)
	if err != nil {
		return docInput{}, badRequest("invalid_quality", err)
	}
	if callback != "" {
		if err := webhook.ValidateURL(callback); err != nil {
			return docInput{}, badRequest("invalid_callback", err)
		}
	}

	if sourceURL != "" {
		data, err = downloadPDF(ctx, sourceURL, a.cfg.MaxPDFBytes, a.cfg.DownloadTimeout)
		if err != nil {
			return docInput{}, badRequest("download_failed", err)
		}
	} else {
		data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxPDFBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return docInput{}, &requestError{status: http.StatusRequestEntityTooLarge, code: "too_large", message: "PDF exceeds size limit"}
			}
			return docInput{}, badRequest("bad_request", err)
		}
		if err := validatePDFMagic(data); err != nil {
			return docInput{}, badRequest("invalid_pdf", err)
		}
	}

	if name == "" {
		name = fileNameFromURL(sourceURL)
	}
	doc, err := extractor.Open(name, data)
	if err != nil {
		return docInput{}, &requestError{status: http.StatusUnprocessableEntity, code: "unreadable_pdf", message: sanitizeError(err)}
	}

	return docInput{
		doc:       doc,
		sourceURL: sourceURL,
		quality:   quality,
		callback:  callback,
	}, nil
}
