package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/folio/internal/gateway"
	"github.com/kalambet/folio/internal/kvstore"
	"github.com/kalambet/folio/internal/preference"
	"github.com/kalambet/folio/internal/profile"
)

// --- mocks ---

type mockGateway struct {
	mu       sync.Mutex
	records  map[string]profile.Record
	sessions map[string]string // token -> username
	err      error
	updated  string
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		records:  make(map[string]profile.Record),
		sessions: make(map[string]string),
	}
}

func (m *mockGateway) GetCurrentProfile(ctx context.Context) (profile.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	token, ok := gateway.SessionFrom(ctx)
	if !ok {
		return nil, gateway.ErrUnauthorized
	}
	username, ok := m.sessions[token]
	if !ok {
		return nil, gateway.ErrUnauthorized
	}
	return m.records[username], nil
}

func (m *mockGateway) GetProfileByUsername(ctx context.Context, username string) (profile.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[username]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return rec, nil
}

func (m *mockGateway) UpdateSelectedTemplate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	token, _ := gateway.SessionFrom(ctx)
	username, ok := m.sessions[token]
	if !ok {
		return gateway.ErrUnauthorized
	}
	m.updated = id
	m.records[username]["selectedTemplate"] = id
	return nil
}

// --- helpers ---

type testEnv struct {
	gw       *mockGateway
	store    *kvstore.Memory
	resolver *preference.Resolver
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := newMockGateway()
	gw.records["ada"] = profile.Record{
		"username":         "ada",
		"fullName":         "Ada Lovelace",
		"selectedTemplate": "cardiologist",
		"certifications":   []any{"American Board of Internal Medicine"},
	}
	gw.sessions["tok-ada"] = "ada"

	store := kvstore.NewMemory()
	resolver := preference.NewResolver(store, gw, "")
	return &testEnv{
		gw:       gw,
		store:    store,
		resolver: resolver,
		handler:  NewHandler(Deps{Resolver: resolver, Gateway: gw, Heartbeat: 50 * time.Millisecond}),
	}
}

func (e *testEnv) do(method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/health", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestPage_RendersResolvedTemplate(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/u/ada", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("X-Folio-Template"); got != "cardiologist" {
		t.Errorf("template = %q, want cardiologist", got)
	}
	body := rr.Body.String()
	for _, want := range []string{"Ada Lovelace", "American Board of Internal Medicine", "/u/ada/events"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if v, _, _ := env.store.Get(context.Background(), preference.SubjectKey("ada")); v != "cardiologist" {
		t.Errorf("cache = %q, want cardiologist", v)
	}
}

func TestPage_OverrideIsPlaceholderWhenUnknown(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/u/ada?template=debug", "", "")

	if got := rr.Header().Get("X-Folio-Template"); got != "debug" {
		t.Errorf("template = %q, want debug", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "coming soon") {
		t.Error("placeholder page not rendered")
	}
	if !strings.Contains(body, "/u/ada/events?template=debug") {
		t.Error("events url does not carry the override")
	}
}

func TestPage_MissingProfileRendersEmptyState(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/u/nobody", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("X-Folio-Template"); got != preference.DefaultTemplate {
		t.Errorf("template = %q, want default", got)
	}
	if !strings.Contains(rr.Body.String(), "No profile data available yet.") {
		t.Error("empty state missing")
	}
}

func TestPage_BackendDownUsesCache(t *testing.T) {
	env := newTestEnv(t)
	env.store.Set(context.Background(), preference.SubjectKey("ada"), "dentist")
	env.gw.err = &gateway.NetworkError{Op: "get profile", Status: 502}

	rr := env.do(http.MethodGet, "/u/ada", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("X-Folio-Template"); got != "dentist" {
		t.Errorf("template = %q, want dentist", got)
	}
	if !strings.Contains(rr.Body.String(), "No profile data available yet.") {
		t.Error("empty state missing")
	}
}

func TestResolveAPI(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query       string
		want        string
		placeholder bool
	}{
		{"subject=ada", "cardiologist", false},
		{"subject=ada&template=software-engineer", "software-engineer", false},
		{"", "default", false},
		{"template=nope", "nope", true},
	}
	for _, tt := range tests {
		rr := env.do(http.MethodGet, "/api/resolve?"+tt.query, "", "")
		var got resolveResponse
		if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
			t.Fatalf("%s: decode: %v", tt.query, err)
		}
		if got.Template != tt.want || got.Placeholder != tt.placeholder {
			t.Errorf("%s: got %+v, want template %q placeholder %v", tt.query, got, tt.want, tt.placeholder)
		}
	}
}

func TestListTemplatesAPI(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/api/templates", "", "")

	var list []TemplateInfo
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var found bool
	for _, ti := range list {
		if ti.ID == "software-engineer" {
			found = true
			if ti.Layout != "engineering" || ti.Category != "computer-science-engineer" || ti.Family != "engineering" {
				t.Errorf("software-engineer = %+v", ti)
			}
		}
	}
	if !found {
		t.Error("software-engineer not listed")
	}
}

func TestNormalizedAPI(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/profiles/ada/normalized", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	json.NewDecoder(rr.Body).Decode(&body)
	if body["category"] != "cardiologist" {
		t.Errorf("category = %v, want cardiologist from resolved template", body["category"])
	}
	if body["name"] != "Ada Lovelace" || body["phone"] != "[Phone Number]" {
		t.Errorf("identity = %v / %v", body["name"], body["phone"])
	}

	rr = env.do(http.MethodGet, "/api/profiles/ada/normalized?category=civil-engineer", "", "")
	body = nil
	json.NewDecoder(rr.Body).Decode(&body)
	if body["category"] != "civil-engineer" {
		t.Errorf("category = %v, want civil-engineer", body["category"])
	}

	rr = env.do(http.MethodGet, "/api/profiles/nobody/normalized", "", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	if got := errorType(t, rr); got != "not_found" {
		t.Errorf("error type = %q", got)
	}
}

func TestPutPreference(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPut, "/api/preference", "", `{"template":"nurse"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rr.Code)
	}

	rr = env.do(http.MethodPut, "/api/preference", "tok-unknown", `{"template":"nurse"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token: status = %d, want 401", rr.Code)
	}

	rr = env.do(http.MethodPut, "/api/preference", "tok-ada", `{"template":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty template: status = %d, want 400", rr.Code)
	}

	rr = env.do(http.MethodPut, "/api/preference", "tok-ada", `{"template":"x\nevent: template"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed template: status = %d, want 400", rr.Code)
	}
	if env.gw.updated != "" {
		t.Fatalf("malformed template reached the backend: %q", env.gw.updated)
	}

	rr = env.do(http.MethodPut, "/api/preference", "tok-ada", `{"template":"nurse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if env.gw.updated != "nurse" {
		t.Errorf("backend updated = %q", env.gw.updated)
	}
	if v, _, _ := env.store.Get(context.Background(), preference.SubjectKey("ada")); v != "nurse" {
		t.Errorf("cache = %q, want nurse", v)
	}
}

func TestWriteGatewayError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{gateway.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("select: %w", gateway.ErrUnauthorized), http.StatusUnauthorized},
		{&gateway.NetworkError{Op: "update", Status: 503}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeGatewayError(rr, tt.err)
		if rr.Code != tt.code {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.code)
		}
	}
}

func TestEvents_StreamsChanges(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/u/ada/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	data := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				data <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(data)
	}()

	waitFor := func(want string) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case got, ok := <-data:
				if !ok {
					t.Fatalf("stream closed before %q", want)
				}
				if got == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	waitFor("cardiologist")
	env.resolver.Announce(context.Background(), preference.Changed{Subject: "ada", Template: "pediatrician"})
	waitFor("pediatrician")
	env.store.Set(context.Background(), preference.GlobalKey, "minimal")
	waitFor("minimal")
}

// openEvents subscribes to an event stream and returns its data lines.
func openEvents(t *testing.T, srv *httptest.Server, path, client string) <-chan string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	if client != "" {
		req.AddCookie(&http.Cookie{Name: clientCookie, Value: client})
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	data := make(chan string, 16)
	go func() {
		defer close(data)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				data <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return data
}

func nextData(t *testing.T, data <-chan string) string {
	t.Helper()
	select {
	case got, ok := <-data:
		if !ok {
			t.Fatal("stream closed")
		}
		return got
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return ""
}

func skipUntil(t *testing.T, data <-chan string, want string) {
	t.Helper()
	for nextData(t, data) != want {
	}
}

func TestEvents_PreviewStaysWithItsBrowser(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	const (
		alice = "0b8f4a52-3c1e-4d5f-9a7b-2e6c8d0f1a3b"
		bob   = "7d2e9c41-8a6b-4f3e-b1d0-5c9a7e2f4b68"
	)
	aliceEvents := openEvents(t, srv, "/u/ada/events", alice)
	skipUntil(t, aliceEvents, "cardiologist")

	// Bob previews a template, anonymously and then with a session.
	for _, token := range []string{"", "tok-ada"} {
		req := httptest.NewRequest(http.MethodGet, "/u/ada?template=debug", nil)
		req.AddCookie(&http.Cookie{Name: clientCookie, Value: bob})
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("preview status = %d", rr.Code)
		}
	}

	env.resolver.Announce(context.Background(), preference.Changed{Subject: "ada", Template: "pediatrician"})
	if got := nextData(t, aliceEvents); got != "pediatrician" {
		t.Fatalf("next event = %q, want pediatrician", got)
	}
	if v, _, _ := env.store.Get(context.Background(), preference.SubjectKey("ada")); v != "pediatrician" {
		t.Errorf("shared cache = %q", v)
	}

	// A preview in Alice's own browser does reach her stream.
	req := httptest.NewRequest(http.MethodGet, "/u/ada?template=dentist", nil)
	req.AddCookie(&http.Cookie{Name: clientCookie, Value: alice})
	env.handler.ServeHTTP(httptest.NewRecorder(), req)
	if got := nextData(t, aliceEvents); got != "dentist" {
		t.Fatalf("next event = %q, want dentist", got)
	}
}

func TestEvents_MalformedOverrideCannotForgeEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	events := openEvents(t, srv, "/u/ada/events?template=x%0A%0Aevent:%20template%0Adata:%20injected", "")
	for {
		got := nextData(t, events)
		if got == "injected" || strings.HasPrefix(got, "x") {
			t.Fatalf("override leaked into the stream: %q", got)
		}
		if got == "cardiologist" {
			break
		}
	}

	rr := env.do(http.MethodGet, "/u/ada?template=x%0Aevent:%20template", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("page status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "coming soon") {
		t.Error("malformed override rendered as a placeholder")
	}
}

func TestWriteEvent(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{"cardiologist", "event: template\ndata: cardiologist\n\n"},
		{"a\n\nevent: x\ndata: b", "event: template\ndata: a\ndata: \ndata: event: x\ndata: data: b\n\n"},
		{"a\r\nb", "event: template\ndata: a\ndata: b\n\n"},
	}
	for _, tt := range tests {
		var b strings.Builder
		writeEvent(&b, "template", tt.data)
		if b.String() != tt.want {
			t.Errorf("writeEvent(%q) = %q, want %q", tt.data, b.String(), tt.want)
		}
	}
}

func TestClientCookie(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/templates", "", "")
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != clientCookie {
		t.Fatalf("cookies = %v, want one %s", cookies, clientCookie)
	}
	issued := cookies[0]
	if !issued.HttpOnly || issued.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = %+v", issued)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	req.AddCookie(&http.Cookie{Name: clientCookie, Value: issued.Value})
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if len(rr.Result().Cookies()) != 0 {
		t.Error("valid cookie was reissued")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	req.AddCookie(&http.Cookie{Name: clientCookie, Value: "../../selectedTemplate"})
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if c := rr.Result().Cookies(); len(c) != 1 || c[0].Value == "../../selectedTemplate" {
		t.Errorf("malformed cookie kept: %v", c)
	}
}
