package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"MailBlast/internal/csvparser"
	"MailBlast/internal/email"
	"MailBlast/internal/models"
	"MailBlast/internal/worker"
)

// JobReader is the read-only store surface the dashboard endpoints use.
// Reads never block behind an in-flight job's transport I/O.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)
	ListFailures(ctx context.Context, id uuid.UUID) ([]models.FailureEntry, error)
}

// Submitter accepts bulk-send submissions.
type Submitter interface {
	Submit(ctx context.Context, req worker.Request) (uuid.UUID, error)
}

type Handler struct {
	Store          JobReader
	Jobs           Submitter
	Log            *zap.Logger
	MaxUploadBytes int64
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", h.SubmitJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /jobs/{id}/failures", h.ListFailures)
}

// SubmitJob accepts a multipart submission (recipient CSV, HTML template,
// subject, relay credentials), starts the job asynchronously and returns
// its id.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	subject := r.FormValue("subject")
	senderEmail := r.FormValue("sender_email")
	senderPassword := r.FormValue("sender_password")
	smtpServer := r.FormValue("smtp_server")
	if subject == "" || senderEmail == "" || senderPassword == "" || smtpServer == "" {
		http.Error(w, "missing required form fields", http.StatusBadRequest)
		return
	}

	smtpPort, err := strconv.Atoi(r.FormValue("smtp_port"))
	if err != nil {
		http.Error(w, "invalid smtp_port", http.StatusBadRequest)
		return
	}

	csvFile, csvHeader, err := r.FormFile("csv_file")
	if err != nil {
		http.Error(w, "missing csv_file", http.StatusBadRequest)
		return
	}
	defer csvFile.Close()

	// The runner drains the CSV after this request has finished and its
	// multipart temp files are gone, so buffer the upload now.
	csvData, err := io.ReadAll(csvFile)
	if err != nil {
		http.Error(w, "failed to read csv upload", http.StatusBadRequest)
		return
	}

	tmplFile, tmplHeader, err := r.FormFile("html_template")
	if err != nil {
		http.Error(w, "missing html_template", http.StatusBadRequest)
		return
	}
	defer tmplFile.Close()

	tmplSource, err := io.ReadAll(tmplFile)
	if err != nil {
		http.Error(w, "failed to read template upload", http.StatusBadRequest)
		return
	}

	req := worker.Request{
		Subject:          subject,
		SenderEmail:      senderEmail,
		CSVFilename:      csvHeader.Filename,
		CSV:              bytes.NewReader(csvData),
		TemplateFilename: tmplHeader.Filename,
		TemplateSource:   string(tmplSource),
		SMTP: email.Config{
			Host:     smtpServer,
			Port:     smtpPort,
			Username: senderEmail,
			Password: senderPassword,
			Security: email.ResolveSecurity(
				r.FormValue("use_tls") == "true",
				r.FormValue("use_ssl") == "true",
			),
		},
	}

	id, err := h.Jobs.Submit(r.Context(), req)
	if err != nil {
		var resErr *csvparser.ResolutionError
		if errors.As(err, &resErr) {
			http.Error(w, resErr.Error(), http.StatusBadRequest)
			return
		}
		h.Log.Error("job submission failed", zap.Error(err))
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"id": id,
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Store.ListJobs(r.Context())
	if err != nil {
		h.Log.Error("failed to list jobs", zap.Error(err))
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.Store.GetJob(r.Context(), id)
	if errors.Is(err, models.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Log.Error("failed to get job", zap.Error(err))
		http.Error(w, "failed to get job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	if _, err := h.Store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.Log.Error("failed to get job", zap.Error(err))
		http.Error(w, "failed to get job", http.StatusInternalServerError)
		return
	}

	failures, err := h.Store.ListFailures(r.Context(), id)
	if err != nil {
		h.Log.Error("failed to list failures", zap.Error(err))
		http.Error(w, "failed to list failures", http.StatusInternalServerError)
		return
	}
	if failures == nil {
		failures = []models.FailureEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(failures)
}
