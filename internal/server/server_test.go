package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"tracker/internal/db"
	"tracker/internal/domain"
	"tracker/internal/engine"
	"tracker/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	ctx := context.Background()
	for _, id := range []string{"admin", "eve"} {
		if _, err := e.EnsureUser(ctx, id, id); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
	}
	if err := e.SetUserAdmin(ctx, "admin", true); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "admin")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/templates", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}

func TestJWTBearer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, map[string]string{
		"X-Actor-Id":    "",
		"Authorization": "Bearer " + signToken(t, "eve"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer list status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, map[string]string{
		"X-Actor-Id":    "",
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d, want 401", res.StatusCode)
	}
}

func TestInvalidTimezoneHeader(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/templates", nil, map[string]string{
		"X-Timezone": "Mars/Olympus",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", res.StatusCode)
	}
}

func TestIssueLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates", map[string]any{
		"name": "bug",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template: %d %s", res.StatusCode, string(data))
	}
	var tpl domain.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates/"+tpl.ID+"/states", map[string]any{
		"name": "open",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create state: %d %s", res.StatusCode, string(data))
	}
	var state domain.State
	_ = json.Unmarshal(data, &state)
	if state.Type != domain.StateInitial {
		t.Fatalf("first state type %s, want initial", state.Type)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/states/"+state.ID+"/fields", map[string]any{
		"name": "severity",
		"type": "number",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create field: %d %s", res.StatusCode, string(data))
	}
	var field domain.Field
	_ = json.Unmarshal(data, &field)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"template_id": tpl.ID,
		"subject":     "crash on save",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue: %d %s", res.StatusCode, string(data))
	}
	var issue domain.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/issues/"+issue.ID+"/fields/"+field.ID, map[string]any{
		"value": "3",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set value: %d %s", res.StatusCode, string(data))
	}
	var view FieldValueResponse
	_ = json.Unmarshal(data, &view)
	if view.Value != "3" {
		t.Fatalf("value %q, want 3", view.Value)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues/"+issue.ID+"/history", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var entries []HistoryEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	// creation subject row plus the value change
	if len(entries) != 2 {
		t.Fatalf("history entries %d, want 2", len(entries))
	}
	last := entries[len(entries)-1]
	if last.NewValue == nil || *last.NewValue != "3" {
		t.Fatalf("last change new value %v, want 3", last.NewValue)
	}
}

func TestForbiddenFieldRead(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates", map[string]any{"name": "bug"}, nil)
	var tpl domain.Template
	_ = json.Unmarshal(data, &tpl)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates/"+tpl.ID+"/states", map[string]any{"name": "open"}, nil)
	var state domain.State
	_ = json.Unmarshal(data, &state)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/states/"+state.ID+"/fields", map[string]any{
		"name": "cost", "type": "decimal",
	}, nil)
	var field domain.Field
	_ = json.Unmarshal(data, &field)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"template_id": tpl.ID, "subject": "crash on save",
	}, nil)
	var issue domain.Issue
	_ = json.Unmarshal(data, &issue)
	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/issues/"+issue.ID+"/fields/"+field.ID, map[string]any{
		"value": "12.50",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seed value: %d %s", res.StatusCode, string(data))
	}

	// eve has no grant on the field: explicit read is a 403, the list hides it
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues/"+issue.ID+"/fields/"+field.ID, nil, map[string]string{
		"X-Actor-Id": "eve",
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("read as eve: %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("error code %q, want forbidden", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues/"+issue.ID+"/fields", nil, map[string]string{
		"X-Actor-Id": "eve",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list as eve: %d %s", res.StatusCode, string(data))
	}
	var views []FieldValueResponse
	_ = json.Unmarshal(data, &views)
	if len(views) != 0 {
		t.Fatalf("eve sees %d values, want 0", len(views))
	}
}
