package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tiximax/labels"
	"tiximax/store"
)

type labelsView struct {
	Batch []labels.Code  `json:"batch"`
	Scope string         `json:"scope"`
	Sheet []labels.Label `json:"sheet"`
}

func (h *Handlers) apiLabels(w http.ResponseWriter, r *http.Request) {
	desk := h.engine.Desk()
	writeJSON(w, labelsView{
		Batch: desk.Batch(),
		Scope: desk.Scope().String(),
		Sheet: desk.Sheet(),
	})
}

func (h *Handlers) apiGenerateLabels(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Count *int `json:"count"`
	}{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	count := h.engine.AppConfig().Labels.BatchSize
	if req.Count != nil {
		count = *req.Count
	}
	codes, err := h.engine.Desk().Generate(count)
	if err != nil {
		h.writeLabelError(w, err)
		return
	}
	writeJSON(w, map[string]any{"batch": codes})
}

func (h *Handlers) apiRegenerateLabels(w http.ResponseWriter, r *http.Request) {
	codes, err := h.engine.Desk().Regenerate()
	if err != nil {
		h.writeLabelError(w, err)
		return
	}
	writeJSON(w, map[string]any{"batch": codes})
}

func (h *Handlers) apiPrintAll(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.PrintAll(r.Context(), username(r))
	h.writePrintResult(w, job, err)
}

func (h *Handlers) apiPrintOne(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid label index")
		return
	}
	job, err := h.engine.PrintOne(r.Context(), index, username(r))
	h.writePrintResult(w, job, err)
}

type printResult struct {
	JobID  string        `json:"job_id"`
	Scope  string        `json:"scope"`
	Codes  []labels.Code `json:"codes"`
	Failed string        `json:"error,omitempty"`
}

func (h *Handlers) writePrintResult(w http.ResponseWriter, job labels.Job, err error) {
	if job.ID == "" {
		h.writeLabelError(w, err)
		return
	}
	printed := job.Printed()
	res := printResult{JobID: job.ID, Scope: job.Scope.String(), Codes: make([]labels.Code, len(printed))}
	for i, l := range printed {
		res.Codes[i] = l.Code
	}
	if err != nil {
		res.Failed = err.Error()
		writeJSONStatus(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) writeLabelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, labels.ErrInvalidBatchSize), errors.Is(err, labels.ErrIndexOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, labels.ErrEmptyBatch), errors.Is(err, labels.ErrPrintInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleLabelSheet renders the current batch as a printable page. Labels
// outside the current scope stay in the layout and are hidden in print.
func (h *Handlers) handleLabelSheet(w http.ResponseWriter, r *http.Request) {
	desk := h.engine.Desk()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := labels.RenderSheet(w, "Labels", desk.Scope(), desk.Sheet()); err != nil {
		h.log.Error("render label sheet", zap.Error(err))
	}
}

func (h *Handlers) apiListPrintJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.engine.DB().ListPrintJobs(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*store.PrintJob{}
	}
	writeJSON(w, jobs)
}

func (h *Handlers) apiGetPrintJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.DB().GetPrintJob(chi.URLParam(r, "jobID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "print job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, job)
}
