package http

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/workflow"
	"github.com/nyimbi/stateflow/internal/engine"
	"github.com/nyimbi/stateflow/internal/history"
	"github.com/nyimbi/stateflow/internal/notification"
	"github.com/nyimbi/stateflow/internal/repository"
	"github.com/nyimbi/stateflow/pkg/database"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, zap.NewNop())
	if err := migrator.RunMigrations("../../../migrations"); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	def, err := workflow.NewDefinition("approval", 1, []workflow.State{
		{Name: "draft", Initial: true},
		{Name: "review"},
		{Name: "approved", Final: true},
	}, []workflow.Transition{
		{Trigger: "submit", Sources: []string{"draft"}, Dest: "review"},
		{Trigger: "approve", Sources: []string{"review"}, Dest: "approved"},
	})
	if err != nil {
		t.Fatalf("NewDefinition() error = %v", err)
	}
	reg, err := workflow.NewRegistry(def)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	store := history.NewStore(db, zap.NewNop())
	repo := repository.NewInstanceRepository(db, zap.NewNop())
	dispatcher := notification.NewDispatcher(zap.NewNop())
	eng := engine.NewEngine(reg, repo, store, db, dispatcher, zap.NewNop())

	return NewServer(DefaultServerConfig(), eng, reg, store, zap.NewNop())
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func createAndSubmit(t *testing.T, srv *Server, id string) {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/api/v1/instances",
		`{"id":"`+id+`","model_type":"document","workflow":"approval"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create instance status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, srv, http.MethodPost, "/api/v1/instances/"+id+"/trigger",
		`{"event":"submit","actor":{"id":"alice"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestServer_History(t *testing.T) {
	srv := testServer(t)
	createAndSubmit(t, srv, "doc-1")

	w := do(t, srv, http.MethodGet, "/api/v1/instances/doc-1/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"count":1`) {
		t.Errorf("history body = %s, want one entry", w.Body.String())
	}

	w = do(t, srv, http.MethodGet, "/api/v1/instances/doc-1/history?limit=oops", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("history with bad limit status = %d, want 400", w.Code)
	}
}

func TestServer_HistoryReport(t *testing.T) {
	srv := testServer(t)
	createAndSubmit(t, srv, "doc-1")

	w := do(t, srv, http.MethodGet, "/api/v1/instances/doc-1/history/report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d, body = %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "history-doc-1.xlsx") {
		t.Errorf("Content-Disposition = %q, want attachment with workbook name", cd)
	}
	// xlsx workbooks are zip archives
	if body := w.Body.Bytes(); len(body) < 4 || body[0] != 'P' || body[1] != 'K' {
		t.Errorf("report body does not look like a workbook, got %d bytes", w.Body.Len())
	}

	w = do(t, srv, http.MethodGet, "/api/v1/instances/doc-1/history/report?from=oops", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("report with bad filter status = %d, want 400", w.Code)
	}
}
