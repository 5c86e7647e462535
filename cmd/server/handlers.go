package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/examparse"
	"github.com/brunobiangulo/examparse/exam"
	"github.com/brunobiangulo/examparse/jobs"
	"github.com/brunobiangulo/examparse/parser"
)

type handler struct {
	engine examparse.Engine
	runner *jobs.Runner
	// uploadDir keeps uploaded files of async jobs until the job has read
	// them.
	uploadDir string
}

func newHandler(e examparse.Engine, r *jobs.Runner, uploadDir string) *handler {
	return &handler{engine: e, runner: r, uploadDir: uploadDir}
}

// parseRequest is the JSON form of POST /parse.
type parseRequest struct {
	Path      string `json:"path"`
	Name      string `json:"name,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Version   string `json:"version,omitempty"`
	PageStart int    `json:"page_start,omitempty"`
	PageEnd   int    `json:"page_end,omitempty"`
}

func (p parseRequest) options() []examparse.ParseOption {
	var opts []examparse.ParseOption
	if p.Name != "" {
		opts = append(opts, examparse.WithName(p.Name))
	}
	if p.Provider != "" {
		opts = append(opts, examparse.WithProvider(p.Provider))
	}
	if p.Version != "" {
		opts = append(opts, examparse.WithVersion(p.Version))
	}
	if p.PageStart > 0 || p.PageEnd > 0 {
		opts = append(opts, examparse.WithPageRange(p.PageStart, p.PageEnd))
	}
	return opts
}

// POST /parse
// Accepts multipart file upload or JSON with file path. ?async=true starts a
// background job instead of parsing in the request.
func (h *handler) handleParse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()
	async := r.URL.Query().Get("async") == "true"

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)
			dir, err := os.MkdirTemp(h.uploadDir, "upload-*")
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating upload dir", "error", err)
				return
			}
			tmpPath := filepath.Join(dir, safeName)
			if err := saveUpload(tmpPath, file); err != nil {
				os.RemoveAll(dir)
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}

			req := parseRequest{
				Path:     tmpPath,
				Name:     r.FormValue("name"),
				Provider: r.FormValue("provider"),
				Version:  r.FormValue("version"),
			}
			req.PageStart, _ = strconv.Atoi(r.FormValue("page_start"))
			req.PageEnd, _ = strconv.Atoi(r.FormValue("page_end"))
			if !h.parse(ctx, w, req, async) {
				os.RemoveAll(dir)
			}
			return
		}
	}

	// Try JSON body with path
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}
	req.Path = absPath
	h.parse(ctx, w, req, async)
}

// parse runs req in the request or as a job. It reports whether a job was
// started, in which case the job owns the file at req.Path.
func (h *handler) parse(ctx context.Context, w http.ResponseWriter, req parseRequest, async bool) bool {
	if async {
		job, err := h.runner.Start(ctx, req.Path, req.options()...)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to start job")
			slog.Error("job start error", "path", req.Path, "error", err)
			return false
		}
		writeJSON(w, http.StatusAccepted, job)
		return true
	}

	start := time.Now()
	res, err := h.engine.ParseFile(ctx, req.Path, req.options()...)
	if err != nil {
		recordFailure(parser.FormatOf(req.Path))
		writeEngineError(w, "parse failed", err)
		slog.Error("parse error", "path", req.Path, "error", err)
		return false
	}
	recordResult(res, start)
	writeJSON(w, http.StatusOK, res)
	return false
}

// POST /parse/blocks
// Body is a fragment list: a JSON array of blocks or {"blocks": [...]}.
func (h *handler) handleParseBlocks(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 100<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	extraction, err := parser.DecodeBlocks(data, parser.Options{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	blocks := extraction.Blocks
	if !extraction.Ordered {
		blocks = exam.Sequence(blocks)
	}

	req := parseRequest{
		Name:     r.URL.Query().Get("name"),
		Provider: r.URL.Query().Get("provider"),
		Version:  r.URL.Query().Get("version"),
	}
	start := time.Now()
	res, err := h.engine.ParseBlocks(r.Context(), blocks, req.options()...)
	if err != nil {
		recordFailure("json")
		writeEngineError(w, "parse failed", err)
		slog.Error("parse blocks error", "error", err)
		return
	}
	recordResult(res, start)
	writeJSON(w, http.StatusOK, res)
}

// GET /jobs
func (h *handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.runner.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		slog.Error("list jobs error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

// GET /jobs/{id}
func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /jobs/{id}/pause
func (h *handler) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runner.Pause(r.Context(), id); err != nil {
		writeEngineError(w, "pause failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "pausing"})
}

// POST /jobs/{id}/resume
func (h *handler) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "resume failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// POST /jobs/{id}/cancel
func (h *handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runner.Cancel(r.Context(), id); err != nil {
		writeEngineError(w, "cancel failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// GET /exams
func (h *handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.engine.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list exams")
		slog.Error("list exams error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"exams": exams})
}

// GET /exams/{id}
func (h *handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	id, ok := examID(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, "failed to get exam", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DELETE /exams/{id}
func (h *handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	id, ok := examID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeEngineError(w, "delete failed", err)
		slog.Error("delete error", "exam_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /exams/{id}/export
func (h *handler) handleExportExam(w http.ResponseWriter, r *http.Request) {
	id, ok := examID(w, r)
	if !ok {
		return
	}
	// Look the exam up first so a missing exam still gets a JSON error.
	res, err := h.engine.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, "export failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Exam.Key+".xlsx"))
	if err := h.engine.Export(r.Context(), id, w); err != nil {
		slog.Error("export error", "exam_id", id, "error", err)
	}
}

// GET /exams/{id}/questions/{n}/similar
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := examID(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid question number")
		return
	}
	k := 5
	if v := r.URL.Query().Get("k"); v != "" {
		if k, err = strconv.Atoi(v); err != nil || k < 1 || k > 100 {
			writeError(w, http.StatusBadRequest, "k must be between 1 and 100")
			return
		}
	}

	similar, err := h.engine.Similar(r.Context(), id, n, k)
	if err != nil {
		writeEngineError(w, "similarity lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"similar": similar})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Store().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"parse_version": examparse.ParserVersion,
	})
}

func examID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exam id")
		return 0, false
	}
	return id, true
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, examparse.ErrExamNotFound), errors.Is(err, examparse.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, examparse.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, examparse.ErrEmptyDocument), errors.Is(err, examparse.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, examparse.ErrJobNotResumable):
		return http.StatusConflict
	case errors.Is(err, examparse.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError reports err with its mapped status. Server errors get
// the generic message, client errors the error text.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
