package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aerobless/thereabout/internal/api"
	"github.com/aerobless/thereabout/internal/config"
	"github.com/aerobless/thereabout/internal/importer"
	"github.com/aerobless/thereabout/internal/progress"
	"github.com/aerobless/thereabout/internal/store"
	"github.com/aerobless/thereabout/internal/testutil"
)

func newTestServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()

	st := testutil.NewTestStore(t)

	cfg := &config.Config{
		Data: config.DataConfig{DataDir: t.TempDir()},
		Server: config.ServerConfig{
			Port:           0,
			RateLimitQPS:   1000,
			RateLimitBurst: 1000,
		},
		Import: config.ImportConfig{BatchSize: 1000},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := progress.NewTracker()
	imp := importer.New(st, tracker, logger)

	return api.NewServer(cfg, st, imp, tracker, logger), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d, want 200", rec.Code)
	}
}

func TestImportStatusIdle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/import/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d, want 200", rec.Code)
	}

	var resp struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "idle" || resp.Progress != 0 {
		t.Errorf("got status=%q progress=%d, want idle/0", resp.Status, resp.Progress)
	}
}

func TestImportStatusUnknownRun(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/import/status?run=nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status returned %d, want 404", rec.Code)
	}
}

func multipartImport(t *testing.T, h http.Handler, filename, contents, application, receiver string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, contents); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.WriteField("application", application); err != nil {
		t.Fatalf("write application field: %v", err)
	}
	if receiver != "" {
		if err := w.WriteField("receiver", receiver); err != nil {
			t.Fatalf("write receiver field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const chatUpload = "[01.06.2024, 09:15:03] Alice: Morning!\n" +
	"[01.06.2024, 09:16:10] Bob: Morning to you too\n"

func TestImportUploadRoundTrip(t *testing.T) {
	srv, st := newTestServer(t)

	rec := multipartImport(t, srv.Handler(), "chat.txt", chatUpload, "whatsapp", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("import returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Run string `json:"run"`
	}
	decodeBody(t, rec, &resp)
	if resp.Run == "" {
		t.Fatal("import response missing run token")
	}

	waitForIdle(t, srv)

	var count int64
	if err := st.DB().QueryRow("SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 2 {
		t.Errorf("imported %d messages, want 2", count)
	}
}

// waitForIdle polls the status endpoint until the async import finishes.
func waitForIdle(t *testing.T, srv *api.Server) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/import/status", nil)
		var resp struct {
			Status string `json:"status"`
		}
		decodeBody(t, rec, &resp)
		if resp.Status == "idle" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("import did not finish in time")
}

func TestImportRejectsUnknownApplication(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := multipartImport(t, srv.Handler(), "chat.txt", chatUpload, "icq", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("import returned %d, want 400", rec.Code)
	}
}

func TestImportRequiresFile(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("application", "whatsapp"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("import returned %d, want 400", rec.Code)
	}
}

func TestIdentityLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/identities", map[string]any{
		"short_name":   "Mom",
		"relationship": "family",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID        int64  `json:"id"`
		ShortName string `json:"short_name"`
	}
	decodeBody(t, rec, &created)
	if created.ID == 0 || created.ShortName != "Mom" {
		t.Fatalf("unexpected created identity: %+v", created)
	}

	rec = doJSON(t, h, http.MethodPut, fmt.Sprintf("/api/v1/identities/%d", created.ID), map[string]any{
		"short_name":   "Mum",
		"relationship": "family",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/identities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var list []struct {
		ShortName string `json:"short_name"`
	}
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].ShortName != "Mum" {
		t.Errorf("unexpected identity list: %+v", list)
	}
}

func TestUpdateMissingIdentity(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/v1/identities/999", map[string]any{
		"short_name": "Nobody",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("update returned %d, want 404", rec.Code)
	}
}

func TestCreateIdentityRequiresShortName(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/identities", map[string]any{
		"relationship": "friend",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("create returned %d, want 400", rec.Code)
	}
}

func TestListMessagesFilters(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()

	rec := multipartImport(t, h, "chat.txt", chatUpload, "whatsapp", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("import returned %d: %s", rec.Code, rec.Body.String())
	}
	waitForIdle(t, srv)

	var total int64
	if err := st.DB().QueryRow("SELECT COUNT(*) FROM messages").Scan(&total); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if total != 2 {
		t.Fatalf("fixture imported %d messages, want 2", total)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/messages?search=Morning!", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var resp struct {
		Messages []struct {
			Body   string `json:"body"`
			Sender string `json:"sender"`
		} `json:"messages"`
		Total int64 `json:"total"`
	}
	decodeBody(t, rec, &resp)
	if resp.Total != 1 || len(resp.Messages) != 1 {
		t.Fatalf("search returned %d messages (total %d), want 1", len(resp.Messages), resp.Total)
	}
	if resp.Messages[0].Sender != "Alice" {
		t.Errorf("sender = %q, want Alice", resp.Messages[0].Sender)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/messages?date_from=2030-01-01", nil)
	decodeBody(t, rec, &resp)
	if resp.Total != 0 {
		t.Errorf("future date_from returned %d messages, want 0", resp.Total)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/messages?source=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus source returned %d, want 400", rec.Code)
	}
}

func TestMessagesByDate(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := multipartImport(t, h, "chat.txt", chatUpload, "whatsapp", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("import returned %d: %s", rec.Code, rec.Body.String())
	}
	waitForIdle(t, srv)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/messages/by-date?date=2024-06-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("by-date returned %d", rec.Code)
	}
	var day []struct {
		Body      string `json:"body"`
		Timestamp string `json:"timestamp"`
	}
	decodeBody(t, rec, &day)
	if len(day) != 2 {
		t.Fatalf("got %d messages for the day, want 2", len(day))
	}
	if day[0].Body != "Morning!" {
		t.Errorf("first message = %q, want chronological order", day[0].Body)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/messages/by-date?date=2024-06-02", nil)
	decodeBody(t, rec, &day)
	if len(day) != 0 {
		t.Errorf("empty day returned %d messages", len(day))
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/messages/by-date", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing date returned %d, want 400", rec.Code)
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := multipartImport(t, h, "chat.txt", chatUpload, "whatsapp", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("import returned %d: %s", rec.Code, rec.Body.String())
	}
	waitForIdle(t, srv)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "2") {
		t.Errorf("stats body %q missing message count", body)
	}
}
