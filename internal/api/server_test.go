package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/org/trustledger/internal/ledger"
	"github.com/org/trustledger/internal/rbac"
	"github.com/org/trustledger/pkg/models"
)

const (
	adminToken   = "admin-token"
	auditorToken = "auditor-token"
)

type testServer struct {
	handler http.Handler
	chain   *ledger.Chain
	store   *ledger.MemoryStore
	engine  *rbac.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := ledger.NewMemoryStore()
	chain := ledger.NewChain(store, "test-key", zerolog.Nop())
	if err := chain.Initialize(context.Background()); err != nil {
		t.Fatalf("chain init: %v", err)
	}

	engine := rbac.NewEngine(0, zerolog.Nop())
	mustDefine := func(r *models.RoleDefinition) {
		if err := engine.DefineRole(r); err != nil {
			t.Fatalf("defining %s: %v", r.ID, err)
		}
	}
	mustDefine(&models.RoleDefinition{
		ID:          "admin",
		Permissions: []models.Permission{{Resource: "**", Action: "*"}},
	})
	mustDefine(&models.RoleDefinition{
		ID: "auditor",
		Permissions: []models.Permission{
			{Resource: "ledger/**", Action: "read"},
			{Resource: "ledger/verify", Action: "verify"},
		},
	})

	srv := NewServer(chain, engine, nil, Config{
		Tokens: []APIToken{
			{Token: adminToken, Role: "admin", UserID: "alice"},
			{Token: auditorToken, Role: "auditor", UserID: "bob"},
		},
	}, zerolog.Nop())

	return &testServer{handler: srv.BuildRouter(), chain: chain, store: store, engine: engine}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/v1/sys/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodGet, "/v1/ledger/stats", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/v1/ledger/stats", "wrong-token", nil); w.Code != http.StatusForbidden {
		t.Errorf("invalid token status = %d, want 403", w.Code)
	}
}

func TestRecordAndFetchEntry(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/ledger/entries", adminToken, map[string]any{
		"event":   "Deploy.Started",
		"message": "rollout began",
		"metadata": map[string]any{
			"version": "1.4.0",
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("record status = %d, body %s", w.Code, w.Body.String())
	}
	entry := decodeBody[models.AuditEntry](t, w)
	if entry.Event != "deploy.started" {
		t.Errorf("event = %q, want normalized lowercase", entry.Event)
	}
	if entry.Level != models.LevelInfo {
		t.Errorf("level = %q, want default info", entry.Level)
	}
	if entry.UserID != "alice" {
		t.Errorf("user_id = %q, want actor identity", entry.UserID)
	}
	if entry.PrevHash != ledger.GenesisHash {
		t.Error("first entry should link to genesis")
	}
	if entry.CorrelationID == "" {
		t.Error("correlation id should default to the request id")
	}

	got := ts.do(t, http.MethodGet, "/v1/ledger/entries/"+entry.ID, adminToken, nil)
	if got.Code != http.StatusOK {
		t.Fatalf("get status = %d", got.Code)
	}
	fetched := decodeBody[models.AuditEntry](t, got)
	if fetched.Hash != entry.Hash {
		t.Error("fetched entry does not match recorded entry")
	}

	if w := ts.do(t, http.MethodGet, "/v1/ledger/entries/unknown-id", adminToken, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown entry status = %d, want 404", w.Code)
	}
}

func TestRecordValidation(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/v1/ledger/entries", adminToken, map[string]any{"message": "no event"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing event status = %d, want 400", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/v1/ledger/entries", adminToken, map[string]any{"event": "x", "level": "verbose"}); w.Code != http.StatusInternalServerError {
		t.Errorf("bad level status = %d, want 500", w.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		if w := ts.do(t, http.MethodPost, "/v1/ledger/entries", adminToken, map[string]any{"event": "e"}); w.Code != http.StatusCreated {
			t.Fatalf("record status = %d", w.Code)
		}
	}

	w := ts.do(t, http.MethodPost, "/v1/ledger/verify", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d", w.Code)
	}
	result := decodeBody[models.VerificationResult](t, w)
	if !result.Valid || result.EntriesChecked != 3 {
		t.Errorf("valid=%v checked=%d, want valid with 3", result.Valid, result.EntriesChecked)
	}

	ts.store.Tamper(1, func(e *models.AuditEntry) { e.Message = "altered" })

	w = ts.do(t, http.MethodPost, "/v1/ledger/verify", adminToken, nil)
	result = decodeBody[models.VerificationResult](t, w)
	if result.Valid {
		t.Error("tampered chain should fail verification over the API")
	}
	if result.BrokenAt == "" {
		t.Error("broken entry id should be reported")
	}
}

func TestStatsAndSnapshot(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/ledger/entries", adminToken, map[string]any{"event": "e"})

	w := ts.do(t, http.MethodGet, "/v1/ledger/stats", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	stats := decodeBody[models.ChainStats](t, w)
	if stats.EntryCount != 1 {
		t.Errorf("entry count = %d, want 1", stats.EntryCount)
	}

	w = ts.do(t, http.MethodPost, "/v1/ledger/snapshot", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", w.Code)
	}
	snap := decodeBody[models.ChainSnapshot](t, w)
	if snap.EntriesCount != 1 || snap.LastHash == "" || snap.LastHash == ledger.GenesisHash {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.LastEntryID == "" {
		t.Error("snapshot should name the last entry")
	}
}

func TestRoleCRUD(t *testing.T) {
	ts := newTestServer(t)

	role := models.RoleDefinition{
		ID:          "deployer",
		Permissions: []models.Permission{{Resource: "deploys/**", Action: "write"}},
	}
	if w := ts.do(t, http.MethodPost, "/v1/roles", adminToken, role); w.Code != http.StatusOK {
		t.Fatalf("role write status = %d, body %s", w.Code, w.Body.String())
	}

	w := ts.do(t, http.MethodGet, "/v1/roles/deployer", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("role read status = %d", w.Code)
	}
	got := decodeBody[models.RoleDefinition](t, w)
	if got.ID != "deployer" || len(got.Permissions) != 1 {
		t.Errorf("role = %+v", got)
	}

	w = ts.do(t, http.MethodGet, "/v1/roles", adminToken, nil)
	list := decodeBody[struct {
		Roles []models.RoleDefinition `json:"roles"`
	}](t, w)
	if len(list.Roles) != 3 { // admin, auditor, deployer
		t.Errorf("role list length = %d, want 3", len(list.Roles))
	}

	if w := ts.do(t, http.MethodDelete, "/v1/roles/deployer", adminToken, nil); w.Code != http.StatusNoContent {
		t.Errorf("role delete status = %d, want 204", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/v1/roles/deployer", adminToken, nil); w.Code != http.StatusNotFound {
		t.Errorf("deleted role read status = %d, want 404", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, "/v1/roles/deployer", adminToken, nil); w.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", w.Code)
	}
}

func TestPermissionEnforcement(t *testing.T) {
	ts := newTestServer(t)

	// The auditor can read but not record.
	if w := ts.do(t, http.MethodGet, "/v1/ledger/stats", auditorToken, nil); w.Code != http.StatusOK {
		t.Errorf("auditor stats status = %d, want 200", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/v1/ledger/verify", auditorToken, nil); w.Code != http.StatusOK {
		t.Errorf("auditor verify status = %d, want 200", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/v1/ledger/entries", auditorToken, map[string]any{"event": "e"}); w.Code != http.StatusForbidden {
		t.Errorf("auditor record status = %d, want 403", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/v1/roles", auditorToken, models.RoleDefinition{ID: "x"}); w.Code != http.StatusForbidden {
		t.Errorf("auditor role write status = %d, want 403", w.Code)
	}
}

func TestCheckEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/check", adminToken, map[string]any{
		"role":     "auditor",
		"resource": "ledger/entries",
		"action":   "read",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("check status = %d", w.Code)
	}
	result := decodeBody[models.PermissionResult](t, w)
	if !result.Granted {
		t.Error("auditor should read ledger entries")
	}

	w = ts.do(t, http.MethodPost, "/v1/check", adminToken, map[string]any{
		"role":     "auditor",
		"resource": "roles",
		"action":   "write",
	})
	result = decodeBody[models.PermissionResult](t, w)
	if result.Granted {
		t.Error("auditor must not write roles")
	}
	if result.Reason != "no matching permission" {
		t.Errorf("reason = %q", result.Reason)
	}

	if w := ts.do(t, http.MethodPost, "/v1/check", adminToken, map[string]any{"role": "auditor"}); w.Code != http.StatusBadRequest {
		t.Errorf("incomplete check status = %d, want 400", w.Code)
	}
}

func TestCacheClear(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/v1/check", adminToken, map[string]any{
		"role": "auditor", "resource": "ledger/entries", "action": "read",
	})
	if ts.engine.CacheLen() == 0 {
		t.Fatal("setup: expected cached decisions")
	}
	if w := ts.do(t, http.MethodPost, "/v1/sys/cache/clear", adminToken, nil); w.Code != http.StatusNoContent {
		t.Fatalf("cache clear status = %d, want 204", w.Code)
	}
	if ts.engine.CacheLen() != 0 {
		t.Error("cache should be empty after clear")
	}
}

func TestMutatingRequestsAreAudited(t *testing.T) {
	ts := newTestServer(t)

	before, err := ts.store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ts.do(t, http.MethodPost, "/v1/roles", adminToken, models.RoleDefinition{ID: "temp"})

	after, err := ts.store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if after != before+1 {
		t.Fatalf("chain grew by %d entries, want 1", after-before)
	}

	last, err := ts.store.Last(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if last.Event != "api.request" {
		t.Errorf("audit event = %q, want api.request", last.Event)
	}
	if last.UserID != "alice" {
		t.Errorf("audit user = %q, want the acting identity", last.UserID)
	}
	if last.Metadata["path"] != "/v1/roles" {
		t.Errorf("audit path = %v", last.Metadata["path"])
	}

	// Reads are not audited.
	ts.do(t, http.MethodGet, "/v1/roles", adminToken, nil)
	final, err := ts.store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if final != after {
		t.Error("GET requests must not produce audit entries")
	}
}

func TestRateLimiting(t *testing.T) {
	store := ledger.NewMemoryStore()
	chain := ledger.NewChain(store, "k", zerolog.Nop())
	if err := chain.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine := rbac.NewEngine(0, zerolog.Nop())
	srv := NewServer(chain, engine, nil, Config{RateLimit: 1, RateBurst: 2}, zerolog.Nop())
	handler := srv.BuildRouter()

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/sys/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests = %v, first two should pass", codes)
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want 429", codes[3])
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/v1/sys/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry X-Request-ID")
	}
}
