package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sciber-ai/audiosync/internal/jobs"
	"github.com/sciber-ai/audiosync/internal/metrics"
	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/store"
)

const maxListLimit = 1000

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// parseListOptions reads model, status, since (RFC 3339), limit and offset.
func parseListOptions(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	opts := store.ListOptions{Limit: 100, Newest: true}

	if v := q.Get("model"); v != "" {
		tag, err := model.ParseModelTag(v)
		if err != nil {
			return opts, err
		}
		opts.ModelTag = tag
	}
	if v := q.Get("status"); v != "" {
		st := model.FileStatus(v)
		if !st.IsValid() {
			return opts, fmt.Errorf("unknown status %q", v)
		}
		opts.Status = st
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid since: %w", err)
		}
		opts.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid offset %q", v)
		}
		opts.Offset = n
	}
	return opts, nil
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := s.store.ListFiles(r.Context(), opts)
	if err != nil {
		s.logger.Printf("Warning: failed to list files: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if files == nil {
		files = []*model.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	detail, err := s.store.GetFileDetail(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	case err != nil:
		s.logger.Printf("Warning: failed to load file %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load file")
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Printf("Warning: failed to load stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "no work queue configured")
		return
	}
	id, err := jobs.SubmitSync(r.Context(), s.submitter)
	metrics.ObserveSubmission(jobs.SyncStorage, err)
	if err != nil {
		s.logger.Printf("Warning: failed to submit sync: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to submit sync")
		return
	}

	if msg, err := newMessage(MessageTypeSyncRequested, map[string]string{"job_id": id}); err == nil {
		s.Broadcast(msg)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>audiosync</title>
</head>
<body>
    <h1>audiosync</h1>
    <p>Status feed: <code>ws://%s/ws</code></p>
    <p><a href="/files">/files</a> &middot; <a href="/stats">/stats</a> &middot; <a href="/health">/health</a> &middot; <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}
