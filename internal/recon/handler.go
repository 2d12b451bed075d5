package recon

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vendora-ops/vendora-recon/internal/platform/httpx"
	"github.com/vendora-ops/vendora-recon/internal/shared"
)

// Handler exposes the reconciliation engine over HTTP.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	importer   *Importer
	validate   *validator.Validate
	importRate int
}

// NewHandler constructs the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, importer *Importer, importRatePerMinute int) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		importer:   importer,
		validate:   validator.New(),
		importRate: importRatePerMinute,
	}
}

func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var req createRunRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", err.Error())
		return
	}

	dateFrom, _ := time.Parse(dateLayout, req.DateFrom)
	dateTo, _ := time.Parse(dateLayout, req.DateTo)

	run, err := h.service.CreateRun(r.Context(), CreateRunInput{
		OrgID:           ident.OrgID,
		DateFrom:        dateFrom,
		DateTo:          dateTo,
		Sources:         req.Sources,
		MachineIDs:      req.MachineIDs,
		TimeTolerance:   req.TimeTolerance,
		AmountTolerance: req.AmountTolerance,
		ActorID:         ident.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRunResponse(run))
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())

	q := ListRunsQuery{OrgID: ident.OrgID}
	if status := r.URL.Query().Get("status"); status != "" {
		s := RunStatus(status)
		q.Status = &s
	}
	q.DateFrom = parseDateParam(r.URL.Query().Get("date_from"))
	q.DateTo = parseDateParam(r.URL.Query().Get("date_to"))
	q.Page, q.Limit = parsePageParams(r)

	runs, total, err := h.service.ListRuns(r.Context(), q)
	if err != nil {
		h.logger.Error("list runs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	items := make([]runResponse, 0, len(runs))
	for i := range runs {
		items = append(items, toRunResponse(&runs[i]))
	}
	httpx.JSON(w, http.StatusOK, pageResponse{
		Items:      items,
		Pagination: shared.NewPagination(q.Page, q.Limit, total),
	})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed run id")
		return
	}
	run, err := h.service.GetRun(r.Context(), ident.OrgID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) ExecuteRun(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed run id")
		return
	}
	if err := h.service.StartRun(r.Context(), ident.OrgID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) RunSummary(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed run id")
		return
	}
	summary, err := h.service.RunSummary(r.Context(), ident.OrgID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed run id")
		return
	}
	if err := h.service.DeleteRun(r.Context(), ident.OrgID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMismatches(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed run id")
		return
	}

	q := ListMismatchesQuery{OrgID: ident.OrgID, RunID: runID}
	if t := r.URL.Query().Get("mismatch_type"); t != "" {
		mt := MismatchType(t)
		q.Type = &mt
	}
	if res := r.URL.Query().Get("is_resolved"); res != "" {
		resolved, err := strconv.ParseBool(res)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "is_resolved must be a boolean")
			return
		}
		q.Resolved = &resolved
	}
	q.Page, q.Limit = parsePageParams(r)

	mismatches, total, err := h.service.ListMismatches(r.Context(), q)
	if err != nil {
		h.logger.Error("list mismatches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	items := make([]mismatchResponse, 0, len(mismatches))
	for i := range mismatches {
		items = append(items, toMismatchResponse(&mismatches[i]))
	}
	httpx.JSON(w, http.StatusOK, pageResponse{
		Items:      items,
		Pagination: shared.NewPagination(q.Page, q.Limit, total),
	})
}

func (h *Handler) ResolveMismatch(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed mismatch id")
		return
	}

	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed JSON body")
		return
	}

	mismatch, err := h.service.Resolve(r.Context(), ResolveInput{
		OrgID:      ident.OrgID,
		MismatchID: id,
		Notes:      req.ResolutionNotes,
		ResolvedBy: ident.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMismatchResponse(mismatch))
}

func (h *Handler) ImportSales(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())

	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", err.Error())
		return
	}

	rows := make([]ImportRow, 0, len(req.Sales))
	for _, s := range req.Sales {
		rows = append(rows, ImportRow(s))
	}
	filename := ""
	if req.ImportFilename != nil {
		filename = *req.ImportFilename
	}

	batch, err := h.importer.ImportSales(r.Context(), ImportInput{
		OrgID:    ident.OrgID,
		Source:   ImportSource(req.ImportSource),
		Filename: filename,
		Rows:     rows,
		ActorID:  ident.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toImportBatchResponse(batch))
}

const importFileMaxMemory = 10 << 20

func (h *Handler) ImportSalesFile(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())

	if err := r.ParseMultipartForm(importFileMaxMemory); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "file field required")
		return
	}
	defer file.Close()

	rows, rejected, err := ParseImportFile(file, header.Filename)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	source := ImportSourceExcel
	if isCSVFilename(header.Filename) {
		source = ImportSourceCSV
	}
	batch, err := h.importer.ImportSales(r.Context(), ImportInput{
		OrgID:    ident.OrgID,
		Source:   source,
		Filename: header.Filename,
		Rows:     rows,
		Rejected: rejected,
		ActorID:  ident.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toImportBatchResponse(batch))
}

func parseDateParam(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil
	}
	return &t
}

func parsePageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	return page, limit
}

func isCSVFilename(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}
