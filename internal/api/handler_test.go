package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MailBlast/internal/csvparser"
	"MailBlast/internal/email"
	"MailBlast/internal/models"
	"MailBlast/internal/worker"
)

type fakeReader struct {
	jobs     map[uuid.UUID]models.Job
	failures map[uuid.UUID][]models.FailureEntry
}

func (f *fakeReader) GetJob(_ context.Context, id uuid.UUID) (models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, models.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeReader) ListJobs(context.Context) ([]models.Job, error) {
	var jobs []models.Job
	for _, job := range f.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (f *fakeReader) ListFailures(_ context.Context, id uuid.UUID) ([]models.FailureEntry, error) {
	return f.failures[id], nil
}

type fakeSubmitter struct {
	id  uuid.UUID
	err error
	got worker.Request
}

func (f *fakeSubmitter) Submit(_ context.Context, req worker.Request) (uuid.UUID, error) {
	f.got = req
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return f.id, nil
}

func newTestHandler(reader *fakeReader, submitter *fakeSubmitter) *http.ServeMux {
	if reader == nil {
		reader = &fakeReader{jobs: map[uuid.UUID]models.Job{}}
	}
	h := &Handler{
		Store:          reader,
		Jobs:           submitter,
		Log:            zap.NewNop(),
		MaxUploadBytes: 1 << 20,
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

type formFields map[string]string

func submissionRequest(t *testing.T, fields formFields) *http.Request {
	t.Helper()

	defaults := formFields{
		"subject":         "Hello",
		"sender_email":    "sender@x.com",
		"sender_password": "secret",
		"smtp_server":     "smtp.x.com",
		"smtp_port":       "587",
	}
	for k, v := range fields {
		if v == "" {
			delete(defaults, k)
			continue
		}
		defaults[k] = v
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range defaults {
		require.NoError(t, w.WriteField(k, v))
	}

	csvPart, err := w.CreateFormFile("csv_file", "list.csv")
	require.NoError(t, err)
	_, err = io.WriteString(csvPart, "FirstName,Email\nAlice,alice@x.com\n")
	require.NoError(t, err)

	tmplPart, err := w.CreateFormFile("html_template", "welcome.html")
	require.NoError(t, err)
	_, err = io.WriteString(tmplPart, "<p>Hi {{.first_name}}</p>")
	require.NoError(t, err)

	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestSubmitJob_Accepted(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{id: uuid.New()}
	mux := newTestHandler(nil, submitter)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, submissionRequest(t, formFields{"use_tls": "true", "use_ssl": "true"}))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, submitter.id.String(), resp["id"])

	require.Equal(t, "Hello", submitter.got.Subject)
	require.Equal(t, "sender@x.com", submitter.got.SenderEmail)
	require.Equal(t, "list.csv", submitter.got.CSVFilename)
	require.Equal(t, "welcome.html", submitter.got.TemplateFilename)
	require.Equal(t, "<p>Hi {{.first_name}}</p>", submitter.got.TemplateSource)
	require.Equal(t, "smtp.x.com", submitter.got.SMTP.Host)
	require.Equal(t, 587, submitter.got.SMTP.Port)
	// SSL wins when both are requested
	require.Equal(t, email.SecuritySSL, submitter.got.SMTP.Security)
}

func TestSubmitJob_CSVOutlivesRequest(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{id: uuid.New()}
	mux := newTestHandler(nil, submitter)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, submissionRequest(t, nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The runner consumes the CSV asynchronously, after the request body
	// and its multipart temp files are released.
	data, err := io.ReadAll(submitter.got.CSV)
	require.NoError(t, err)
	require.Equal(t, "FirstName,Email\nAlice,alice@x.com\n", string(data))
}

func TestSubmitJob_TLSOnly(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{id: uuid.New()}
	mux := newTestHandler(nil, submitter)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, submissionRequest(t, formFields{"use_tls": "true"}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, email.SecurityTLS, submitter.got.SMTP.Security)
}

func TestSubmitJob_MissingSubject(t *testing.T) {
	t.Parallel()

	mux := newTestHandler(nil, &fakeSubmitter{id: uuid.New()})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, submissionRequest(t, formFields{"subject": ""}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJob_InvalidPort(t *testing.T) {
	t.Parallel()

	mux := newTestHandler(nil, &fakeSubmitter{id: uuid.New()})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, submissionRequest(t, formFields{"smtp_port": "not-a-port"}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJob_ResolutionErrorIsBadRequest(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{
		err: &csvparser.ResolutionError{Reason: "csv must contain FirstName and Email columns (case-insensitive)"},
	}
	mux := newTestHandler(nil, submitter)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, submissionRequest(t, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "FirstName and Email")
}

func TestGetJob_OK(t *testing.T) {
	t.Parallel()

	job := models.Job{ID: uuid.New(), Subject: "Hello", Status: models.Completed()}
	reader := &fakeReader{jobs: map[uuid.UUID]models.Job{job.ID: job}}
	mux := newTestHandler(reader, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, models.StatusCompleted, got.Status.Kind)
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	mux := newTestHandler(nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_InvalidID(t *testing.T) {
	t.Parallel()

	mux := newTestHandler(nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs_EmptyIsJSONArray(t *testing.T) {
	t.Parallel()

	mux := newTestHandler(nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestListFailures_OK(t *testing.T) {
	t.Parallel()

	job := models.Job{ID: uuid.New(), Status: models.PartialFailure()}
	reader := &fakeReader{
		jobs: map[uuid.UUID]models.Job{job.ID: job},
		failures: map[uuid.UUID][]models.FailureEntry{
			job.ID: {
				{JobID: job.ID, RecipientEmail: "bob@x.com", ErrorMessage: "550 mailbox unavailable"},
			},
		},
	}
	mux := newTestHandler(reader, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID.String()+"/failures", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.FailureEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	require.Equal(t, "bob@x.com", got[0].RecipientEmail)
}

func TestListFailures_UnknownJob(t *testing.T) {
	t.Parallel()

	mux := newTestHandler(nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString()+"/failures", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}
