package preference

import (
	"context"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/kalambet/folio/internal/gateway"
	"github.com/kalambet/folio/internal/kvstore"
	"github.com/kalambet/folio/internal/profile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Fake gateway ---

type fakeGateway struct {
	mu       sync.Mutex
	me       profile.Record
	records  map[string]profile.Record
	err      error
	meCalls  int
	byCalls  int
	sessions []string
	updated  string

	// release, when set, blocks lookups until closed or ctx is done.
	release chan struct{}
}

func (f *fakeGateway) wait(ctx context.Context) error {
	if f.release == nil {
		return nil
	}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeGateway) GetCurrentProfile(ctx context.Context) (profile.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, &gateway.NetworkError{Op: "get current profile", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meCalls++
	token, _ := gateway.SessionFrom(ctx)
	f.sessions = append(f.sessions, token)
	if f.err != nil {
		return nil, f.err
	}
	if token == "" {
		return nil, gateway.ErrUnauthorized
	}
	return f.me, nil
}

func (f *fakeGateway) GetProfileByUsername(ctx context.Context, username string) (profile.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, &gateway.NetworkError{Op: "get profile", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byCalls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[username]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return rec, nil
}

func (f *fakeGateway) UpdateSelectedTemplate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := gateway.SessionFrom(ctx); !ok {
		return gateway.ErrUnauthorized
	}
	f.updated = id
	return nil
}

func mustGet(t *testing.T, s kvstore.Store, key string) string {
	t.Helper()
	v, _, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return v
}

// --- Resolve ---

func TestResolve_OverrideWinsAndPersists(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	gw := &fakeGateway{records: map[string]profile.Record{
		"ada": {"username": "ada", "selectedTemplate": "cardiologist"},
	}}
	r := NewResolver(store, gw, "")

	got := r.Resolve(ctx, Request{Override: "debug", Subject: "ada"})
	if got != "debug" {
		t.Errorf("Resolve = %q, want debug", got)
	}
	if v := mustGet(t, store, SubjectKey("ada")); v != "debug" {
		t.Errorf("subject cache = %q, want debug", v)
	}
	if gw.byCalls != 0 {
		t.Errorf("backend called %d times with an override present", gw.byCalls)
	}
}

func TestResolve_BackendWinsAndIsWrittenBack(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	store.Set(ctx, SubjectKey("ada"), "modern")
	gw := &fakeGateway{records: map[string]profile.Record{
		"ada": {"username": "ada", "selectedTemplate": "cardiologist"},
	}}
	r := NewResolver(store, gw, "")

	if got := r.Resolve(ctx, Request{Subject: "ada"}); got != "cardiologist" {
		t.Errorf("Resolve = %q, want cardiologist", got)
	}
	if v := mustGet(t, store, SubjectKey("ada")); v != "cardiologist" {
		t.Errorf("subject cache = %q, want cardiologist", v)
	}
}

func TestResolve_NetworkErrorFallsBackToSubjectCache(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	store.Set(ctx, SubjectKey("ada"), "dentist")
	gw := &fakeGateway{err: &gateway.NetworkError{Op: "get profile", Status: 503}}
	r := NewResolver(store, gw, "")

	if got := r.Resolve(ctx, Request{Subject: "ada"}); got != "dentist" {
		t.Errorf("Resolve = %q, want dentist", got)
	}
}

func TestResolve_FallbackChain(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		global string
		gwErr  error
		want   string
	}{
		{"not found uses global", "modern", gateway.ErrNotFound, "modern"},
		{"unauthorized uses global", "minimal", gateway.ErrUnauthorized, "minimal"},
		{"nothing cached uses default", "", gateway.ErrNotFound, DefaultTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kvstore.NewMemory()
			if tt.global != "" {
				store.Set(ctx, GlobalKey, tt.global)
			}
			r := NewResolver(store, &fakeGateway{err: tt.gwErr}, "")
			if got := r.Resolve(ctx, Request{Subject: "ada"}); got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
			if v := mustGet(t, store, SubjectKey("ada")); v != "" {
				t.Errorf("fallback leaked into subject cache: %q", v)
			}
		})
	}
}

func TestResolve_EmptyBackendValueIsNoValue(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	store.Set(ctx, SubjectKey("ada"), "dentist")
	gw := &fakeGateway{records: map[string]profile.Record{
		"ada": {"username": "ada", "selectedTemplate": "  "},
	}}
	r := NewResolver(store, gw, "")

	if got := r.Resolve(ctx, Request{Subject: "ada"}); got != "dentist" {
		t.Errorf("Resolve = %q, want dentist", got)
	}
}

func TestResolve_NoSubjectUsesGlobalOnly(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	gw := &fakeGateway{}
	r := NewResolver(store, gw, "classic")

	if got := r.Resolve(ctx, Request{}); got != "classic" {
		t.Errorf("Resolve = %q, want configured fallback classic", got)
	}
	store.Set(ctx, GlobalKey, "creative")
	if got := r.Resolve(ctx, Request{}); got != "creative" {
		t.Errorf("Resolve = %q, want creative", got)
	}
	if gw.meCalls+gw.byCalls != 0 {
		t.Error("backend consulted without a subject")
	}
}

func TestResolve_OwnerUsesCurrentProfile(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{me: profile.Record{"username": "ada", "selectedTemplate": "pediatrician"}}
	r := NewResolver(kvstore.NewMemory(), gw, "")

	req := Request{Subject: "ada", Viewer: Viewer{Username: "ada", Session: "tok"}}
	if got := r.Resolve(ctx, req); got != "pediatrician" {
		t.Errorf("Resolve = %q, want pediatrician", got)
	}
	if gw.meCalls != 1 || gw.byCalls != 0 {
		t.Errorf("calls me=%d by=%d, want me=1 by=0", gw.meCalls, gw.byCalls)
	}
	if gw.sessions[0] != "tok" {
		t.Errorf("session = %q, want tok", gw.sessions[0])
	}
}

func TestResolve_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	gw := &fakeGateway{records: map[string]profile.Record{
		"ada": {"selectedTemplate": "neurologist"},
	}}
	r := NewResolver(store, gw, "")
	req := Request{Subject: "ada"}

	first := r.Resolve(ctx, req)
	second := r.Resolve(ctx, req)
	if first != second {
		t.Errorf("Resolve not idempotent: %q then %q", first, second)
	}
}

func TestResolve_ClientOverrideStaysPrivate(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	gw := &fakeGateway{records: map[string]profile.Record{
		"ada": {"username": "ada", "selectedTemplate": "cardiologist"},
	}}
	r := NewResolver(store, gw, "")

	if got := r.Resolve(ctx, Request{Subject: "ada", Override: "debug", Client: "browser-a"}); got != "debug" {
		t.Fatalf("Resolve = %q, want debug", got)
	}
	if v := mustGet(t, store, ClientKey("browser-a", SubjectKey("ada"))); v != "debug" {
		t.Errorf("client cache = %q, want debug", v)
	}
	if v := mustGet(t, store, SubjectKey("ada")); v != "" {
		t.Errorf("override leaked into shared cache: %q", v)
	}

	// With the backend down each client falls back to its own namespace first.
	gw.err = &gateway.NetworkError{Op: "get profile", Status: 503}
	store.Set(ctx, SubjectKey("ada"), "dentist")
	if got := r.Resolve(ctx, Request{Subject: "ada", Client: "browser-a"}); got != "debug" {
		t.Errorf("client a = %q, want debug", got)
	}
	if got := r.Resolve(ctx, Request{Subject: "ada", Client: "browser-b"}); got != "dentist" {
		t.Errorf("client b = %q, want shared dentist", got)
	}
}

func TestResolve_BackendValueReplacesPreviews(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	store.Set(ctx, ClientKey("browser-a", SubjectKey("ada")), "debug")
	gw := &fakeGateway{records: map[string]profile.Record{
		"ada": {"selectedTemplate": "cardiologist"},
	}}
	r := NewResolver(store, gw, "")

	if got := r.Resolve(ctx, Request{Subject: "ada", Client: "browser-a"}); got != "cardiologist" {
		t.Fatalf("Resolve = %q, want cardiologist", got)
	}
	for _, key := range []string{SubjectKey("ada"), ClientKey("browser-a", SubjectKey("ada"))} {
		if v := mustGet(t, store, key); v != "cardiologist" {
			t.Errorf("%s = %q, want cardiologist", key, v)
		}
	}

	// A client that never previewed gets no private copy.
	r.Resolve(ctx, Request{Subject: "ada", Client: "browser-c"})
	if _, ok, _ := store.Get(ctx, ClientKey("browser-c", SubjectKey("ada"))); ok {
		t.Error("backend value copied into an unused client namespace")
	}
}

func TestResolve_RejectsMalformedIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	gw := &fakeGateway{records: map[string]profile.Record{
		"ada":   {"selectedTemplate": "cardiologist"},
		"grace": {"selectedTemplate": "x\nevent: template"},
	}}
	r := NewResolver(store, gw, "")

	for _, override := range []string{"x\n\nevent: template\ndata: injected", "Debug", "-lead", "a b", strings.Repeat("a", 65)} {
		if got := r.Resolve(ctx, Request{Subject: "ada", Override: override}); got != "cardiologist" {
			t.Errorf("override %q: Resolve = %q, want cardiologist", override, got)
		}
	}
	if got := r.Resolve(ctx, Request{Subject: "grace"}); got != DefaultTemplate {
		t.Errorf("malformed backend value: Resolve = %q, want %q", got, DefaultTemplate)
	}

	store.Set(ctx, GlobalKey, "bad\nvalue")
	if got := r.Resolve(ctx, Request{}); got != DefaultTemplate {
		t.Errorf("malformed cached value: Resolve = %q, want %q", got, DefaultTemplate)
	}

	r.Announce(ctx, Changed{Subject: "ada", Template: "a\nb"})
	if v := mustGet(t, store, SubjectKey("ada")); v != "cardiologist" {
		t.Errorf("Announce stored malformed id: %q", v)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"cardiologist", true},
		{"software-engineer", true},
		{"3d-artist", true},
		{"", false},
		{"-x", false},
		{"Cardiologist", false},
		{"a_b", false},
		{"a\nb", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

// --- Select ---

func TestSelect_PersistsAndAnnounces(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	gw := &fakeGateway{}
	r := NewResolver(store, gw, "")

	var got []Changed
	unsub := r.signals.Subscribe(func(c Changed) { got = append(got, c) })
	defer unsub()

	if err := r.Select(ctx, Viewer{Username: "ada", Session: "tok"}, " dentist "); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if gw.updated != "dentist" {
		t.Errorf("backend updated = %q, want dentist", gw.updated)
	}
	if v := mustGet(t, store, SubjectKey("ada")); v != "dentist" {
		t.Errorf("subject cache = %q, want dentist", v)
	}
	if len(got) != 1 || got[0] != (Changed{Subject: "ada", Template: "dentist"}) {
		t.Errorf("signals = %+v", got)
	}
}

func TestSelect_Errors(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	r := NewResolver(store, &fakeGateway{}, "")

	if err := r.Select(ctx, Viewer{Username: "ada", Session: "tok"}, ""); err != ErrEmptyTemplate {
		t.Errorf("blank id err = %v, want ErrEmptyTemplate", err)
	}
	if err := r.Select(ctx, Viewer{Username: "ada", Session: "tok"}, "a\nb"); err != ErrInvalidTemplate {
		t.Errorf("malformed id err = %v, want ErrInvalidTemplate", err)
	}
	err := r.Select(ctx, Viewer{Username: "ada"}, "dentist")
	if err == nil {
		t.Fatal("expected error without a session")
	}
	if v := mustGet(t, store, SubjectKey("ada")); v != "" {
		t.Errorf("failed select wrote cache: %q", v)
	}
}
