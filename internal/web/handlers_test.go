package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpungsan/tcap/internal/bookmark"
	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/db"
	"github.com/hpungsan/tcap/internal/logging"
	"github.com/hpungsan/tcap/internal/metrics"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/ownerlock"
)

type testServer struct {
	mux *http.ServeMux
	col *db.Collection
	ops.Deps
}

func setupTest(t *testing.T) *testServer {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	reg := prometheus.NewRegistry()
	locks := ownerlock.New()
	col := db.NewCollection(database, locks)
	deps := ops.Deps{
		Store:   db.NewCapsuleStore(database),
		Live:    col,
		Locks:   locks,
		Config:  config.DefaultConfig(),
		Logger:  logging.Discard(),
		Metrics: metrics.New(reg),
	}

	mux, err := newMux(deps, reg, "test")
	if err != nil {
		t.Fatalf("newMux: %v", err)
	}

	ctx := context.Background()
	if err := col.CreateOwner(ctx, db.Owner{ID: "alice", Name: "Alice", CreatedAt: 1}); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	seedRecord(t, col, "b1", "Go blog")
	seedRecord(t, col, "b2", "Docs")

	return &testServer{mux: mux, col: col, Deps: deps}
}

func seedRecord(t *testing.T, col *db.Collection, id, title string) {
	t.Helper()
	r := bookmark.Record{
		ID:          id,
		OwnerID:     "alice",
		Title:       title,
		URL:         "https://example.com/" + id,
		CategoryIDs: []string{},
		TagIDs:      []string{},
		VisitCount:  3,
		CreatedAt:   100,
		UpdatedAt:   100,
	}
	if err := col.UpsertRecord(context.Background(), r); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}
}

// seedCapsule takes a capsule and returns its ID.
func seedCapsule(t *testing.T, s *testServer, title string) string {
	t.Helper()
	out, err := ops.Snapshot(context.Background(), s.Deps, ops.SnapshotInput{
		OwnerID:          "alice",
		Title:            title,
		IncludeSettings:  true,
		IncludeAnalytics: true,
	})
	if err != nil {
		t.Fatalf("seed capsule %q: %v", title, err)
	}
	return out.Capsule.ID
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	securityHeaders(s.mux).ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decodeJSON(t, rec)["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %q", rec.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

// --- list ---

func TestHandleList_JSON(t *testing.T) {
	s := setupTest(t)
	seedCapsule(t, s, "alpha")

	rec := s.do(httptest.NewRequest("GET", "/capsules?owner=alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	capsules := decodeJSON(t, rec)["capsules"].([]any)
	if len(capsules) != 1 {
		t.Fatalf("capsules = %d, want 1", len(capsules))
	}
	if got := capsules[0].(map[string]any)["title"]; got != "alpha" {
		t.Errorf("title = %v, want alpha", got)
	}
}

func TestHandleList_Empty(t *testing.T) {
	s := setupTest(t)

	rec := s.do(httptest.NewRequest("GET", "/capsules?owner=alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"capsules":[]`) {
		t.Errorf("expected empty capsules array, got %s", rec.Body.String())
	}
}

func TestHandleList_MissingOwner(t *testing.T) {
	s := setupTest(t)

	rec := s.do(httptest.NewRequest("GET", "/capsules", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION" {
		t.Errorf("code = %q, want VALIDATION", code)
	}
}

func TestHandleList_HTML(t *testing.T) {
	s := setupTest(t)
	seedCapsule(t, s, "alpha")

	req := httptest.NewRequest("GET", "/capsules?owner=alice", nil)
	req.Header.Set("Accept", "text/html")
	rec := s.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "alpha") {
		t.Error("expected capsule title 'alpha' in page")
	}
	if !strings.Contains(body, "Capsules for alice") {
		t.Error("expected page heading in page")
	}
}

// --- snapshot ---

func TestHandleSnapshot_Created(t *testing.T) {
	s := setupTest(t)

	req := httptest.NewRequest("POST", "/capsules", strings.NewReader(`{"owner_id":"alice","title":"From API"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	c := decodeJSON(t, rec)["capsule"].(map[string]any)
	if c["title"] != "From API" {
		t.Errorf("title = %v, want From API", c["title"])
	}
	if c["trigger"] != "manual" {
		t.Errorf("trigger = %v, want manual", c["trigger"])
	}
}

func TestHandleSnapshot_BadBody(t *testing.T) {
	s := setupTest(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"owner_id":`},
		{"unknown field", `{"owner_id":"alice","title":"x","trigger":"scheduled"}`},
		{"missing title", `{"owner_id":"alice"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/capsules", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := s.do(req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if code := errorCode(t, rec); code != "VALIDATION" {
				t.Errorf("code = %q, want VALIDATION", code)
			}
		})
	}
}

// --- detail ---

func TestHandleDetail_Found(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Saved")

	rec := s.do(httptest.NewRequest("GET", "/capsules/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["id"] != id {
		t.Errorf("id = %v, want %s", body["id"], id)
	}
	if items := body["items"].([]any); len(items) != 2 {
		t.Errorf("items = %d, want 2", len(items))
	}
}

func TestHandleDetail_HTML(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Saved")

	rec := s.do(httptest.NewRequest("GET", "/capsules/"+id+"?format=html", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<h1>Saved</h1>", "Go blog", "Most visited"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	s := setupTest(t)

	rec := s.do(httptest.NewRequest("GET", "/capsules/nonexistent", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "CAPSULE_NOT_FOUND" {
		t.Errorf("code = %q, want CAPSULE_NOT_FOUND", code)
	}
}

// --- delete ---

func TestHandleDelete(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Doomed")

	rec := s.do(httptest.NewRequest("DELETE", "/capsules/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if decodeJSON(t, rec)["deleted"] != true {
		t.Error("expected deleted=true")
	}

	rec = s.do(httptest.NewRequest("DELETE", "/capsules/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

// --- restore ---

func TestHandleRestore(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Baseline")
	seedRecord(t, s.col, "b3", "Added later")

	req := httptest.NewRequest("POST", "/capsules/"+id+"/restore", strings.NewReader(`{"owner_id":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["removed"] != float64(1) {
		t.Errorf("removed = %v, want 1", body["removed"])
	}
	if body["policy"] != "replace_all" {
		t.Errorf("policy = %v, want replace_all", body["policy"])
	}

	live, err := s.col.ReadCollection(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ReadCollection: %v", err)
	}
	if len(live.Records) != 2 {
		t.Errorf("live records = %d, want 2", len(live.Records))
	}
}

func TestHandleRestore_WrongOwner(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Baseline")

	req := httptest.NewRequest("POST", "/capsules/"+id+"/restore", strings.NewReader(`{"owner_id":"bob"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	errObj := decodeJSON(t, rec)["error"].(map[string]any)
	if errObj["code"] != "INCOMPATIBLE_STATE" {
		t.Errorf("code = %v, want INCOMPATIBLE_STATE", errObj["code"])
	}
	if errObj["step"] != "load" {
		t.Errorf("step = %v, want load", errObj["step"])
	}
}

// --- diff ---

func TestHandleDiff_Formats(t *testing.T) {
	s := setupTest(t)
	a := seedCapsule(t, s, "Before")
	seedRecord(t, s.col, "b3", "Fresh")
	b := seedCapsule(t, s, "After")
	target := "/diff?a=" + a + "&b=" + b

	t.Run("json", func(t *testing.T) {
		rec := s.do(httptest.NewRequest("GET", target, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := decodeJSON(t, rec)
		if added := body["added"].([]any); len(added) != 1 {
			t.Errorf("added = %d, want 1", len(added))
		}
		if !strings.Contains(body["summary"].(string), "## Before → After") {
			t.Errorf("summary = %q", body["summary"])
		}
	})

	t.Run("markdown", func(t *testing.T) {
		rec := s.do(httptest.NewRequest("GET", target+"&format=markdown", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.HasPrefix(rec.Body.String(), "## Before → After") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("html", func(t *testing.T) {
		rec := s.do(httptest.NewRequest("GET", target+"&format=html", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "<h2>Before → After</h2>") {
			t.Errorf("expected rendered heading, got %s", body)
		}
		if !strings.Contains(body, "<h3>Added</h3>") {
			t.Error("expected rendered Added section")
		}
	})
}

func TestHandleDiff_MissingParams(t *testing.T) {
	s := setupTest(t)

	rec := s.do(httptest.NewRequest("GET", "/diff?a=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- errors, metrics, headers ---

func TestErrorRendering_HTMLPage(t *testing.T) {
	s := setupTest(t)

	req := httptest.NewRequest("GET", "/capsules/nonexistent", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := s.do(req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Error 404") {
		t.Error("expected error page heading")
	}
	if !strings.Contains(body, "capsule not found: nonexistent") {
		t.Error("expected error message in page")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTest(t)
	seedCapsule(t, s, "counted")

	rec := s.do(httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tcap_snapshots_total") {
		t.Error("expected tcap_snapshots_total in metrics output")
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := setupTest(t)

	rec := s.do(httptest.NewRequest("GET", "/capsules?owner=alice", nil))
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestStaticAssets(t *testing.T) {
	s := setupTest(t)

	rec := s.do(httptest.NewRequest("GET", "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.in); got != tt.want {
			t.Errorf("formatCount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWantsHTML(t *testing.T) {
	tests := []struct {
		target string
		accept string
		want   bool
	}{
		{"/x", "", false},
		{"/x", "application/json", false},
		{"/x", "text/html", true},
		{"/x?format=html", "", true},
		{"/x?format=json", "text/html", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.target, nil)
		if tt.accept != "" {
			req.Header.Set("Accept", tt.accept)
		}
		if got := wantsHTML(req); got != tt.want {
			t.Errorf("wantsHTML(%s, %q) = %v, want %v", tt.target, tt.accept, got, tt.want)
		}
	}
}
