package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/subimport/internal/core"
	"github.com/JonMunkholm/subimport/internal/logging"
	"github.com/JonMunkholm/subimport/internal/web/templates"
)

type healthResponse struct {
	Status   string             `json:"status"`
	Sessions int                `json:"sessions"`
	Imports  core.LimiterStatus `json:"imports"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.service.Len(),
		Imports:  s.service.LimiterStatus(),
	})
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Fields())
}

// handleUpload starts a session from a multipart "file" field. Optional
// form fields: no_header (bool) and separator. A file that fails to parse
// still creates a session; its id is in the Location header.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrFileTooLarge, err), 0)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, io.EOF):
			s.respondError(w, r, core.ErrNoFile, 0)
		default:
			s.respondError(w, r, badRequest(err, "Invalid upload form", "Send the file as multipart/form-data"), 0)
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err), 0)
		return
	}
	defer file.Close()

	sep, err := parseSeparator(r.FormValue("separator"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	opts := core.ParseOptions{NoHeader: parseBoolParam(r.FormValue("no_header")), Separator: sep}

	sess, err := s.service.StartImport(r.Context(), header.Filename, file, opts)
	if sess != nil {
		w.Header().Set("Location", "/api/imports/"+sess.ID())
	}
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("file uploaded",
		"session_id", sess.ID(),
		"file", header.Filename,
		"size", header.Size,
	)
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Get(sessionID(r))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// mappingRequest carries column indexes per field. A missing mapping
// accepts the session's suggestion.
type mappingRequest struct {
	Mapping core.Choices `json:"mapping"`
}

// handleMapping confirms the mapping and starts the import in the
// background. Progress is then available from the progress stream.
func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	sess, err := s.service.Get(id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	var req mappingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, badRequest(err, "Invalid mapping format", `Send {"mapping": {"email": 0, ...}}`), 0)
		return
	}
	choices := req.Mapping
	if choices == nil {
		choices = sess.Suggestion()
	}

	if err := s.service.ConfirmMapping(r.Context(), id, choices); err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("mapping confirmed", "session_id", id)
	writeJSON(w, http.StatusAccepted, sess.Info())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := s.service.Cancel(id); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "sessionId": id})
}

// handleReport returns the final report. With ?wait=true it blocks until
// the import ends or the request times out.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Report(r.Context(), sessionID(r), parseBoolParam(r.URL.Query().Get("wait")))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.ReportSummary(report).Render(r.Context(), w); err != nil {
			logging.FromContext(r.Context()).Warn("render report", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleErrorsCSV downloads the report's errors and warnings as CSV.
func (s *Server) handleErrorsCSV(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	report, err := s.service.Report(r.Context(), id, false)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="import_%s_errors.csv"`, id))
	if err := core.WriteErrorsCSV(w, report); err != nil {
		logging.FromContext(r.Context()).Warn("write errors csv", "session_id", id, "error", err)
	}
}

// handleProgress streams progress as Server-Sent Events. Each event id is
// the percentage done; a client reconnecting with Last-Event-ID (or the
// lastEventId query parameter) skips events it already has. When the
// session ends a final "complete" event carries the report.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	sess, err := s.service.Get(id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		lastID = r.URL.Query().Get("lastEventId")
	}
	resumeFrom, resume := -1, false
	if n, err := strconv.Atoi(lastID); err == nil {
		resumeFrom, resume = n, true
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	progress := sess.Subscribe()
	for {
		select {
		case p, ok := <-progress:
			if !ok {
				data := []byte("{}")
				if report := sess.Report(); report != nil {
					data, _ = json.Marshal(report)
				}
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}

			pct := p.Percent()
			if resume && pct <= resumeFrom && !p.State.Terminal() {
				continue
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
