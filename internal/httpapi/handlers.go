package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opencrm-ro/firmdir/internal/activity"
	"github.com/opencrm-ro/firmdir/internal/caen"
	"github.com/opencrm-ro/firmdir/internal/firm"
	"github.com/opencrm-ro/firmdir/internal/nameindex"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.pool.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"search_index": s.index.Ready(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	matches, err := s.index.Search(r.Context(), q, limit)
	if err != nil {
		s.log.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if matches == nil {
		matches = []nameindex.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": matches})
}

func (s *Server) handleGetFirm(w http.ResponseWriter, r *http.Request) {
	view, err := s.queries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, firm.ErrNotFound) {
			writeError(w, http.StatusNotFound, "firm not found")
			return
		}
		s.log.Error("firm fetch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "firm fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	acts, err := s.ledger.ListForDate(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		s.log.Error("agenda fetch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "agenda fetch failed")
		return
	}
	if acts == nil {
		acts = []activity.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":       day.Format("2006-01-02"),
		"activities": acts,
	})
}

type activityRequest struct {
	Kind      string    `json:"type"`
	Body      string    `json:"text"`
	Score     *int      `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// handlePostActivity maps the idempotent submit: a fresh record is 201, a
// replay is 409 with the canonical record in the body either way.
func (s *Server) handlePostActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, outcome, err := s.ledger.Submit(r.Context(), activity.Candidate{
		CUI:       chi.URLParam(r, "id"),
		Kind:      req.Kind,
		Body:      req.Body,
		Score:     req.Score,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		if eris.Is(err, activity.ErrEmptyText) || eris.Is(err, activity.ErrMissingFirm) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("activity submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "activity submit failed")
		return
	}

	status := http.StatusCreated
	if outcome == activity.OutcomeAlreadyExists {
		status = http.StatusConflict
	}
	writeJSON(w, status, rec)
}

func (s *Server) handleCAENImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	if err := r.ParseMultipartForm(s.maxBodySize); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	res, err := s.importer.Run(r.Context(), file, header.Header.Get("Content-Type"))
	if err != nil {
		if eris.Is(err, caen.ErrUnsupportedContent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Partial counts still go to the client; committed rows stay.
		s.log.Error("caen import failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCAENExport(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("format") {
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="caen_codes.xlsx"`)
		if err := caen.WriteXLSX(r.Context(), s.pool, w); err != nil {
			s.log.Error("caen export failed", zap.Error(err))
		}
	default:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="caen_codes.csv"`)
		if err := caen.WriteCSV(r.Context(), s.pool, w); err != nil {
			s.log.Error("caen export failed", zap.Error(err))
		}
	}
}

// handleReindex kicks off an online index rebuild; the request does not wait
// for it. Safe to run while serving search traffic.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := s.index.Rebuild(ctx); err != nil {
			s.log.Error("background reindex failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reindex started"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.index.Analyze(ctx)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "analyze started"})
}
