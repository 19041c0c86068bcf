// Package intake is the HTTP boundary: audio upload, session status,
// cancellation and report retrieval.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/medtriage/pkg/audio"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/export"
	"github.com/synaptica-ai/medtriage/pkg/pipeline"
	"github.com/synaptica-ai/medtriage/pkg/store"
)

// multipartOverhead is allowed on top of the audio limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// Submitter queues sessions. *pipeline.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (string, <-chan pipeline.Result, error)
	Cancel(sessionID string) error
}

type HTTPHandler struct {
	pool      Submitter
	validator *audio.Validator
	reports   store.ReportStore
	sessions  store.SessionStore
}

func NewHTTPHandler(pool Submitter, validator *audio.Validator, reports store.ReportStore, sessions store.SessionStore) *HTTPHandler {
	return &HTTPHandler{pool: pool, validator: validator, reports: reports, sessions: sessions}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/sessions", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", h.handleCancel).Methods(http.MethodDelete)
	router.HandleFunc("/reports/{id}", h.handleReport).Methods(http.MethodGet)
	router.HandleFunc("/reports/{id}/export", h.handleExport).Methods(http.MethodGet)
}

type errorResponse struct {
	SessionID string           `json:"session_id,omitempty"`
	Status    string           `json:"status,omitempty"`
	Code      models.ErrorCode `json:"error_code,omitempty"`
	Error     string           `json:"error"`
}

type acceptedResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	ReportURL string `json:"report_url"`
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.validator.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorResponse{Code: models.CodeInputError, Error: audio.ErrTooLarge.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, errorResponse{Code: models.CodeInputError, Error: "invalid multipart body"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Code: models.CodeInputError, Error: "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.validator.MaxBytes()+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Code: models.CodeInputError, Error: "unreadable upload"})
		return
	}
	payload, err := h.validator.Validate(header.Filename, data)
	if err != nil {
		logger.Log.WithError(err).WithField("filename_ext", extOf(header.Filename)).Warn("Rejected upload")
		writeError(w, inputStatus(err), errorResponse{Code: models.CodeInputError, Error: err.Error()})
		return
	}

	req := pipeline.Request{
		PatientID: strings.TrimSpace(r.FormValue("patient_id")),
		Payload:   payload,
	}
	if raw := r.FormValue("sample_rate"); raw != "" {
		rate, err := strconv.Atoi(raw)
		if err != nil || rate <= 0 {
			writeError(w, http.StatusBadRequest, errorResponse{Code: models.CodeInputError, Error: "sample_rate must be a positive integer"})
			return
		}
		req.SampleRateHint = rate
	}

	async := r.URL.Query().Get("async") == "true"
	ctx := r.Context()
	if async {
		// The session must outlive this request.
		ctx = context.WithoutCancel(ctx)
	}

	id, done, err := h.pool.Submit(ctx, req)
	if err != nil {
		switch {
		case models.IsInputError(err):
			writeError(w, http.StatusBadRequest, errorResponse{Code: models.CodeInputError, Error: err.Error()})
		case errors.Is(err, pipeline.ErrPoolClosed):
			writeError(w, http.StatusServiceUnavailable, errorResponse{Error: "service is shutting down"})
		default:
			logger.Log.WithError(err).Error("Failed to submit session")
			writeError(w, http.StatusInternalServerError, errorResponse{Code: models.CodeOf(err), Error: "internal error"})
		}
		return
	}

	if async {
		writeJSON(w, http.StatusAccepted, acceptedResponse{
			SessionID: id,
			Status:    string(models.SessionPending),
			StatusURL: fmt.Sprintf("/api/v1/sessions/%s", id),
			ReportURL: fmt.Sprintf("/api/v1/reports/%s", id),
		})
		return
	}

	res := <-done
	if res.Err != nil {
		writeFailure(w, id, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, res.Report)
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.lookupError(w, id, "session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *HTTPHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.pool.Cancel(id)
	if err == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "cancelling"})
		return
	}
	if !errors.Is(err, pipeline.ErrSessionNotFound) {
		logger.ForSession(id).WithError(err).Error("Failed to cancel session")
		writeError(w, http.StatusInternalServerError, errorResponse{SessionID: id, Error: "internal error"})
		return
	}
	session, serr := h.sessions.Get(r.Context(), id)
	if serr != nil {
		h.lookupError(w, id, "session", serr)
		return
	}
	writeError(w, http.StatusConflict, errorResponse{
		SessionID: id,
		Status:    string(session.Status),
		Error:     "session is not in flight",
	})
}

func (h *HTTPHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, ok := h.loadReport(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{SessionID: id, Error: err.Error()})
		return
	}
	report, ok := h.loadReport(w, r, id)
	if !ok {
		return
	}
	body, err := export.Bytes(format, report)
	if err != nil {
		logger.ForSession(id).WithError(err).Error("Failed to render export")
		writeError(w, http.StatusInternalServerError, errorResponse{SessionID: id, Error: "internal error"})
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+format.Extension()))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// loadReport explains a missing report with the session state when the
// session is known.
func (h *HTTPHandler) loadReport(w http.ResponseWriter, r *http.Request, id string) (*models.Report, bool) {
	report, err := h.reports.Get(r.Context(), id)
	if err == nil {
		return report, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.lookupError(w, id, "report", err)
		return nil, false
	}
	session, serr := h.sessions.Get(r.Context(), id)
	if serr != nil {
		h.lookupError(w, id, "report", serr)
		return nil, false
	}
	if session.Status == models.SessionFailed {
		writeError(w, http.StatusUnprocessableEntity, errorResponse{
			SessionID: id,
			Status:    string(session.Status),
			Code:      session.ErrorCode,
			Error:     session.ErrorMessage,
		})
		return nil, false
	}
	writeError(w, http.StatusConflict, errorResponse{
		SessionID: id,
		Status:    string(session.Status),
		Error:     "report not ready",
	})
	return nil, false
}

func (h *HTTPHandler) lookupError(w http.ResponseWriter, id, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errorResponse{SessionID: id, Error: what + " not found"})
		return
	}
	logger.ForSession(id).WithError(err).Errorf("Failed to fetch %s", what)
	writeError(w, http.StatusInternalServerError, errorResponse{SessionID: id, Code: models.CodeOf(err), Error: "internal error"})
}

// writeFailure reports a fatal pipeline error. The body explains the
// failure and never carries a triage level.
func writeFailure(w http.ResponseWriter, id string, err error) {
	code := models.CodeOf(err)
	status := http.StatusUnprocessableEntity
	if code == models.CodeStorageError || code == models.CodeInternal {
		status = http.StatusInternalServerError
	}
	writeError(w, status, errorResponse{
		SessionID: id,
		Status:    string(models.SessionFailed),
		Code:      code,
		Error:     err.Error(),
	})
}

func inputStatus(err error) int {
	switch {
	case errors.Is(err, audio.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, audio.ErrUnsupportedFormat), errors.Is(err, audio.ErrFormatMismatch):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func extOf(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return strings.ToLower(filename[i:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}
