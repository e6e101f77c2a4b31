package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/glrag/glrag/internal/repository"
	"github.com/glrag/glrag/internal/vectorstore"
)

type fakeProjects struct {
	repository.ProjectRepository

	byID     map[int64]*repository.Project
	selected map[int64]bool
	statuses map[int64]string
}

func newFakeProjects(projects ...*repository.Project) *fakeProjects {
	f := &fakeProjects{
		byID:     map[int64]*repository.Project{},
		selected: map[int64]bool{},
		statuses: map[int64]string{},
	}
	for _, p := range projects {
		f.byID[p.ID] = p
	}
	return f
}

func (f *fakeProjects) GetAll(ctx context.Context) ([]*repository.Project, error) {
	var out []*repository.Project
	for _, p := range f.byID {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProjects) GetByID(ctx context.Context, id int64) (*repository.Project, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjects) GetSelected(ctx context.Context) ([]*repository.Project, error) {
	var out []*repository.Project
	for _, p := range f.byID {
		if p.IsSelected {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProjects) SetSelected(ctx context.Context, id int64, selected bool) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrNotFound
	}
	f.selected[id] = selected
	return nil
}

func (f *fakeProjects) UpdateStatus(ctx context.Context, id int64, status, errMsg string) error {
	f.statuses[id] = status
	return nil
}

type fakeConversations struct {
	repository.ConversationRepository

	byID   map[uuid.UUID]*repository.Conversation
	titles map[uuid.UUID]string
}

func newFakeConversations(convs ...*repository.Conversation) *fakeConversations {
	f := &fakeConversations{
		byID:   map[uuid.UUID]*repository.Conversation{},
		titles: map[uuid.UUID]string{},
	}
	for _, c := range convs {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeConversations) GetAll(ctx context.Context) ([]*repository.Conversation, error) {
	var out []*repository.Conversation
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeConversations) GetByID(ctx context.Context, id uuid.UUID) (*repository.Conversation, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeConversations) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrNotFound
	}
	f.titles[id] = title
	return nil
}

type fakeMessages struct {
	repository.MessageRepository

	byConversation map[uuid.UUID][]*repository.Message
}

func (f *fakeMessages) GetByConversation(ctx context.Context, conversationID uuid.UUID) ([]*repository.Message, error) {
	return f.byConversation[conversationID], nil
}

type countingStore struct {
	vectorstore.VectorStore

	counts map[int64]uint64
}

func (c *countingStore) CountByProject(ctx context.Context, projectID int64) (uint64, error) {
	return c.counts[projectID], nil
}

func newTestServer(cfg Config) *Server {
	cfg.Port = 0
	return New(cfg)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(t, s, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, expected 200", path, rec.Code)
		}
	}
}

func TestGetProject(t *testing.T) {
	projects := newFakeProjects(&repository.Project{
		ID: 1, GitLabID: 100, Name: "demo", IndexingStatus: repository.StatusCompleted,
	})
	s := newTestServer(Config{Projects: projects})

	rec := doRequest(t, s, http.MethodGet, "/projects/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMap(t, rec)
	if body["name"] != "demo" || body["gitlab_id"] != float64(100) {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestServer(Config{Projects: newFakeProjects()})

	rec := doRequest(t, s, http.MethodGet, "/projects/99", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if detail := decodeMap(t, rec)["detail"]; detail != "Project not found" {
		t.Errorf("unexpected detail: %v", detail)
	}
}

func TestGetProject_InvalidID(t *testing.T) {
	s := newTestServer(Config{Projects: newFakeProjects()})

	rec := doRequest(t, s, http.MethodGet, "/projects/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIndexProject_AlreadyIndexingGuard(t *testing.T) {
	projects := newFakeProjects(&repository.Project{
		ID: 1, IndexingStatus: repository.StatusIndexing,
	})
	// Queue stays nil: the guard must answer before any enqueue.
	s := newTestServer(Config{Projects: projects})

	rec := doRequest(t, s, http.MethodPost, "/projects/1/index", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status := decodeMap(t, rec)["status"]; status != "already_indexing" {
		t.Errorf("expected already_indexing, got %v", status)
	}
}

func TestSyncProject_AlreadySyncingGuard(t *testing.T) {
	projects := newFakeProjects(&repository.Project{
		ID: 1, IndexingStatus: repository.StatusSyncing,
	})
	s := newTestServer(Config{Projects: projects})

	rec := doRequest(t, s, http.MethodPost, "/projects/1/sync", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status := decodeMap(t, rec)["status"]; status != "already_indexing" {
		t.Errorf("expected already_indexing, got %v", status)
	}
}

func TestProjectStatus(t *testing.T) {
	projects := newFakeProjects(&repository.Project{
		ID: 1, IndexingStatus: repository.StatusError, IndexingError: "clone failed", IsIndexed: true,
	})
	s := newTestServer(Config{Projects: projects})

	rec := doRequest(t, s, http.MethodGet, "/projects/1/status", "")
	body := decodeMap(t, rec)
	if body["status"] != repository.StatusError || body["error"] != "clone failed" || body["is_indexed"] != true {
		t.Errorf("unexpected status body: %v", body)
	}
}

func TestSelectProject(t *testing.T) {
	projects := newFakeProjects(&repository.Project{ID: 1})
	s := newTestServer(Config{Projects: projects})

	rec := doRequest(t, s, http.MethodPost, "/projects/1/select", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !projects.selected[1] {
		t.Error("expected project marked selected")
	}

	rec = doRequest(t, s, http.MethodPost, "/projects/1/deselect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if projects.selected[1] {
		t.Error("expected project marked deselected")
	}
}

func TestStopIndexing_NotRunning(t *testing.T) {
	projects := newFakeProjects(&repository.Project{
		ID: 1, IndexingStatus: repository.StatusCompleted,
	})
	// Control stays nil: the not-indexing path must not touch it.
	s := newTestServer(Config{Projects: projects})

	rec := doRequest(t, s, http.MethodPost, "/projects/1/stop-indexing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status := decodeMap(t, rec)["status"]; status != "not_indexing" {
		t.Errorf("expected not_indexing, got %v", status)
	}
}

func TestClearIndex_RejectedWhileIndexing(t *testing.T) {
	projects := newFakeProjects(&repository.Project{
		ID: 1, IndexingStatus: repository.StatusIndexing,
	})
	s := newTestServer(Config{Projects: projects})

	rec := doRequest(t, s, http.MethodPost, "/projects/1/clear-index", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVectorCounts(t *testing.T) {
	projects := newFakeProjects(
		&repository.Project{ID: 1, GitLabID: 100},
		&repository.Project{ID: 2, GitLabID: 200},
	)
	store := &countingStore{counts: map[int64]uint64{100: 40, 200: 2}}
	s := newTestServer(Config{Projects: projects, Store: store})

	rec := doRequest(t, s, http.MethodGet, "/projects/vector-counts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["total"] != float64(42) {
		t.Errorf("expected total 42, got %v", body["total"])
	}
	counts := body["counts"].(map[string]any)
	if counts["100"] != float64(40) || counts["200"] != float64(2) {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestUpdateConversationTitle(t *testing.T) {
	id := uuid.New()
	convs := newFakeConversations(&repository.Conversation{ID: id, Title: "old"})
	s := newTestServer(Config{Conversations: convs})

	rec := doRequest(t, s, http.MethodPatch, "/conversations/"+id.String()+"/title", `{"title": "new title"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if convs.titles[id] != "new title" {
		t.Errorf("title not persisted, got %q", convs.titles[id])
	}
}

func TestUpdateConversationTitle_MissingTitle(t *testing.T) {
	id := uuid.New()
	convs := newFakeConversations(&repository.Conversation{ID: id})
	s := newTestServer(Config{Conversations: convs})

	rec := doRequest(t, s, http.MethodPatch, "/conversations/"+id.String()+"/title", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateConversationTitle_InvalidID(t *testing.T) {
	s := newTestServer(Config{})

	rec := doRequest(t, s, http.MethodPatch, "/conversations/not-a-uuid/title", `{"title": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if detail := decodeMap(t, rec)["detail"]; detail != "Invalid conversation ID" {
		t.Errorf("unexpected detail: %v", detail)
	}
}

func TestListConversations_MessageCounts(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	convs := newFakeConversations(&repository.Conversation{ID: id, Title: "t", CreatedAt: now, UpdatedAt: now})
	msgs := &fakeMessages{byConversation: map[uuid.UUID][]*repository.Message{
		id: {
			{ID: uuid.New(), ConversationID: id, Role: "user", Content: "hi", CreatedAt: now},
			{ID: uuid.New(), ConversationID: id, Role: "assistant", Content: "hello", CreatedAt: now},
		},
	}}
	s := newTestServer(Config{Conversations: convs, Messages: msgs})

	rec := doRequest(t, s, http.MethodGet, "/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	items := body["conversations"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["message_count"] != float64(2) {
		t.Errorf("expected message_count 2, got %v", first["message_count"])
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(Config{})

	req := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}
