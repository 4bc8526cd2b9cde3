package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aerobless/thereabout/internal/progress"
	"github.com/aerobless/thereabout/internal/store"
)

// maxUploadBytes bounds the size of an uploaded chat export.
const maxUploadBytes = 512 << 20 // 512MB

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// ImportResponse is returned when an import has been accepted.
type ImportResponse struct {
	Run string `json:"run"`
}

// handleImport accepts a multipart chat export upload and launches the
// import asynchronously. Errors on the async task surface only via logs and
// the progress endpoint reverting to idle.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	app, err := store.ParseApplication(r.FormValue("application"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_application", err.Error())
		return
	}
	receiver := r.FormValue("receiver")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "A 'file' form field is required")
		return
	}
	defer file.Close()

	path, err := s.materializeUpload(file, header.Filename)
	if err != nil {
		s.logger.Error("failed to write uploaded file", "error", err)
		writeError(w, http.StatusInternalServerError, "upload_failed", "Failed to store uploaded file")
		return
	}

	token, err := s.importer.Start(path, app, receiver)
	if err != nil {
		if errors.Is(err, progress.ErrImportInFlight) {
			writeError(w, http.StatusConflict, "import_in_flight", "Another import is already running")
			return
		}
		s.logger.Error("failed to start import", "error", err)
		writeError(w, http.StatusInternalServerError, "import_failed", "Failed to start import")
		return
	}

	writeJSON(w, http.StatusAccepted, ImportResponse{Run: token})
}

// materializeUpload copies an uploaded file into its own scratch directory
// under the data dir. The importer owns the directory from then on.
func (s *Server) materializeUpload(file io.Reader, filename string) (string, error) {
	root := s.cfg.ScratchRoot()
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "upload-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload.dat"
	}
	path := filepath.Join(dir, name)

	dst, err := os.Create(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}

// ImportStatusResponse reports the state of an import run.
type ImportStatusResponse struct {
	Status   string `json:"status"` // idle or in_progress
	Progress int    `json:"progress"`
}

// handleImportStatus returns the current import percentage: 0 means idle,
// 1-100 means in progress. With a run query parameter the response is scoped
// to that run token.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	var pct int
	if token := r.URL.Query().Get("run"); token != "" {
		p, ok := s.tracker.Get(token)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown_run", "No import run with that token")
			return
		}
		pct = p
	} else {
		pct = s.tracker.Current()
	}

	status := "idle"
	if pct > 0 {
		status = "in_progress"
	}
	writeJSON(w, http.StatusOK, ImportStatusResponse{Status: status, Progress: pct})
}

// MessageSummary represents a message in list responses.
type MessageSummary struct {
	ID        int64  `json:"id"`
	Source    string `json:"source"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

// MessageListResponse is one page of messages.
type MessageListResponse struct {
	Messages []MessageSummary `json:"messages"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Size     int              `json:"size"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 0 {
		page = 0
	}
	size, _ := strconv.Atoi(q.Get("size"))
	if size <= 0 || size > 500 {
		size = 50
	}

	filter := store.MessageFilter{
		Search:   q.Get("search"),
		Sender:   q.Get("sender"),
		Receiver: q.Get("receiver"),
	}
	if src := q.Get("source"); src != "" {
		app, err := store.ParseApplication(src)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_source", err.Error())
			return
		}
		filter.Source = app
	}
	if from := q.Get("date_from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date_from must be YYYY-MM-DD")
			return
		}
		filter.DateFrom = t
	}
	if to := q.Get("date_to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date_to must be YYYY-MM-DD")
			return
		}
		filter.DateTo = t.Add(24*time.Hour - time.Second)
	}

	messages, total, err := s.store.ListMessages(filter, page*size, size)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list messages")
		return
	}

	resp := MessageListResponse{
		Messages: make([]MessageSummary, 0, len(messages)),
		Total:    total,
		Page:     page,
		Size:     size,
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, MessageSummary{
			ID:        m.ID,
			Source:    m.Source.DisplayName(),
			Sender:    m.Sender,
			Receiver:  m.Receiver,
			Body:      m.Body,
			Timestamp: m.Timestamp.Format(store.TimestampLayout),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMessagesByDate returns all messages of one calendar day in
// chronological order, for day-centric timeline views.
func (s *Server) handleMessagesByDate(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("date")
	if day == "" {
		writeError(w, http.StatusBadRequest, "missing_date", "A date query parameter is required")
		return
	}
	date, err := time.Parse("2006-01-02", day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	messages, err := s.store.MessagesByDate(date)
	if err != nil {
		s.logger.Error("failed to list messages by date", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list messages")
		return
	}

	resp := make([]MessageSummary, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, MessageSummary{
			ID:        m.ID,
			Source:    m.Source.DisplayName(),
			Sender:    m.Sender,
			Receiver:  m.Receiver,
			Body:      m.Body,
			Timestamp: m.Timestamp.Format(store.TimestampLayout),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// AppIdentityInfo represents a linked application identity.
type AppIdentityInfo struct {
	ID          int64  `json:"id"`
	Application string `json:"application"`
	Identifier  string `json:"identifier"`
}

// IdentityInfo represents a curated identity in API responses.
type IdentityInfo struct {
	ID            int64             `json:"id"`
	ShortName     string            `json:"short_name"`
	IsGroup       bool              `json:"is_group"`
	Relationship  string            `json:"relationship,omitempty"`
	AppIdentities []AppIdentityInfo `json:"app_identities"`
}

// IdentityRequest is the create/update payload for a curated identity.
type IdentityRequest struct {
	ShortName    string `json:"short_name"`
	IsGroup      bool   `json:"is_group"`
	Relationship string `json:"relationship"`
}

func identityInfo(ident store.Identity) IdentityInfo {
	info := IdentityInfo{
		ID:            ident.ID,
		ShortName:     ident.ShortName,
		IsGroup:       ident.IsGroup,
		Relationship:  ident.Relationship,
		AppIdentities: make([]AppIdentityInfo, 0, len(ident.AppIdentities)),
	}
	for _, ai := range ident.AppIdentities {
		info.AppIdentities = append(info.AppIdentities, AppIdentityInfo{
			ID:          ai.ID,
			Application: string(ai.Application),
			Identifier:  ai.Identifier,
		})
	}
	return info
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := s.store.ListIdentities()
	if err != nil {
		s.logger.Error("failed to list identities", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list identities")
		return
	}
	resp := make([]IdentityInfo, 0, len(identities))
	for _, ident := range identities {
		resp = append(resp, identityInfo(ident))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON")
		return
	}
	if req.ShortName == "" {
		writeError(w, http.StatusBadRequest, "missing_short_name", "short_name is required")
		return
	}

	ident, err := s.store.CreateIdentity(req.ShortName, req.IsGroup, req.Relationship)
	if err != nil {
		s.logger.Error("failed to create identity", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create identity")
		return
	}
	writeJSON(w, http.StatusCreated, identityInfo(*ident))
}

func (s *Server) handleUpdateIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "Identity id must be numeric")
		return
	}

	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON")
		return
	}
	if req.ShortName == "" {
		writeError(w, http.StatusBadRequest, "missing_short_name", "short_name is required")
		return
	}

	err = s.store.UpdateIdentity(id, req.ShortName, req.IsGroup, req.Relationship)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Identity %d not found", id))
		return
	}
	if err != nil {
		s.logger.Error("failed to update identity", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update identity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
