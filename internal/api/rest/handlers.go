package rest

import (
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	derrors "github.com/grcworks/sod-analyzer/internal/domain/errors"
	"github.com/grcworks/sod-analyzer/internal/domain/sod"
	"github.com/grcworks/sod-analyzer/internal/infrastructure/spreadsheet"
	"github.com/grcworks/sod-analyzer/internal/service/analysis"
)

// ReportWriter renders violation tables as downloadable workbooks.
type ReportWriter interface {
	WriteUserReport(w io.Writer, violations []sod.UserViolation) error
	WriteRoleReport(w io.Writer, violations []sod.RoleViolation) error
}

// Handler serves the analysis API.
type Handler struct {
	svc       analysis.Service
	reports   ReportWriter
	hub       *ProgressHub
	maxUpload int64
	version   string
	logger    *slog.Logger
}

// NewHandler wires the HTTP handlers to the analysis service.
func NewHandler(svc analysis.Service, reports ReportWriter, hub *ProgressHub, maxUpload int64, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:       svc,
		reports:   reports,
		hub:       hub,
		maxUpload: maxUpload,
		version:   version,
		logger:    logger,
	}
}

// violationList is the JSON shape of a violation table.
type violationList[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// handleCreateAnalysis runs one analysis from two uploaded spreadsheets.
// Both files travel in a single multipart form: rule_book and user_access.
// An optional run_id field names the run, so a client that subscribed to
// that run's progress topic before uploading sees every stage live.
func (h *Handler) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	// Two workbooks plus form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.maxUpload+1<<20)

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, r, derrors.NewValidationError("INVALID_MULTIPART",
			"request must be a multipart form with rule_book and user_access files").WithCause(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var runID uuid.UUID
	if v := r.FormValue("run_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, derrors.NewValidationError("INVALID_RUN_ID",
				"run_id must be a valid UUID"))
			return
		}
		runID = id
	}

	ruleBook, err := h.formFile(r, "rule_book")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer ruleBook.Close()

	userAccess, err := h.formFile(r, "user_access")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer userAccess.Close()

	run, err := h.svc.Run(r.Context(), &analysis.RunRequest{
		RunID:      runID,
		RuleBook:   ruleBook,
		UserAccess: userAccess,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, r, http.StatusCreated, run)
}

func (h *Handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	run, err := h.runFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, run)
}

func (h *Handler) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := h.idFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUserViolations(w http.ResponseWriter, r *http.Request) {
	run, err := h.runFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, violationList[sod.UserViolation]{
		Items: run.Result.UserViolations,
		Count: len(run.Result.UserViolations),
	})
}

func (h *Handler) handleRoleViolations(w http.ResponseWriter, r *http.Request) {
	run, err := h.runFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, violationList[sod.RoleViolation]{
		Items: run.Result.RoleViolations,
		Count: len(run.Result.RoleViolations),
	})
}

func (h *Handler) handleCharts(w http.ResponseWriter, r *http.Request) {
	id, err := h.idFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	charts, err := h.svc.Charts(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, charts)
}

func (h *Handler) handleUserReport(w http.ResponseWriter, r *http.Request) {
	run, err := h.runFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.serveReport(w, r, "user", func(out io.Writer) error {
		return h.reports.WriteUserReport(out, run.Result.UserViolations)
	})
}

func (h *Handler) handleRoleReport(w http.ResponseWriter, r *http.Request) {
	run, err := h.runFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.serveReport(w, r, "role", func(out io.Writer) error {
		return h.reports.WriteRoleReport(out, run.Result.RoleViolations)
	})
}

func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request, level string, write func(io.Writer) error) {
	filename := spreadsheet.ReportFilename(level, time.Now())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := write(w); err != nil {
		// Headers are already out; all we can do is log and drop the
		// connection.
		h.logger.ErrorContext(r.Context(), "failed to stream report",
			"level", level,
			"error", err,
		)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) idFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, derrors.NewValidationError("INVALID_RUN_ID",
			"analysis run ID must be a valid UUID")
	}
	return id, nil
}

func (h *Handler) runFromPath(r *http.Request) (*analysis.Run, error) {
	id, err := h.idFromPath(r)
	if err != nil {
		return nil, err
	}
	return h.svc.Get(r.Context(), id)
}

func (h *Handler) formFile(r *http.Request, field string) (multipart.File, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, derrors.NewValidationError("MISSING_FILE",
			"multipart field "+field+" is required").WithCause(err)
	}
	return file, nil
}
