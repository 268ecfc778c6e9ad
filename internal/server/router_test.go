package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/auth"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/metadata"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/mysql"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/statestore"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubClient satisfies workspace.DatabaseClient with canned responses.
type stubClient struct {
	databases  []string
	executeErr error
}

func (c *stubClient) ListDatabases(context.Context) ([]string, error) {
	return append([]string(nil), c.databases...), nil
}

func (c *stubClient) ListTablesAndViews(context.Context, string) (metadata.Listing, error) {
	return metadata.Listing{
		Tables: []metadata.TableDescriptor{{Name: "orders", RowEstimate: 42}},
		Views:  []metadata.TableDescriptor{},
	}, nil
}

func (c *stubClient) Ping(context.Context) error { return nil }
func (c *stubClient) Close() error               { return nil }

func (c *stubClient) Execute(_ context.Context, statement string) (mysql.QueryResult, error) {
	if c.executeErr != nil {
		return mysql.QueryResult{}, c.executeErr
	}
	return mysql.QueryResult{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}}, nil
}

func (c *stubClient) FetchRows(context.Context, string, string, mysql.Page) (mysql.RowPage, error) {
	return mysql.RowPage{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}, TotalRows: 1}, nil
}

func (c *stubClient) DescribeTable(context.Context, string, string) ([]mysql.ColumnDescriptor, error) {
	return []mysql.ColumnDescriptor{{Name: "id", DataType: "int", ColumnType: "int(11)"}}, nil
}

func (c *stubClient) CreateDatabase(_ context.Context, name string) error {
	c.databases = append(c.databases, name)
	return nil
}

func (c *stubClient) DropDatabase(context.Context, string) error { return nil }

func (c *stubClient) ListAccounts(context.Context) ([]mysql.Account, error) {
	return []mysql.Account{{Username: "alice", Host: "%"}}, nil
}

func (c *stubClient) AccountGrants(context.Context, string, string) ([]string, error) {
	return []string{"GRANT USAGE ON *.* TO 'alice'@'%'"}, nil
}

func (c *stubClient) CreateAccount(context.Context, string, string, string) error { return nil }
func (c *stubClient) DropAccount(context.Context, string, string) error           { return nil }

type testHarness struct {
	handler  http.Handler
	registry *workspace.Registry
	client   *stubClient
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	client := &stubClient{databases: []string{"shop"}}
	registry, err := workspace.NewRegistry(workspace.RegistryConfig{
		Store: statestore.NewMemoryStore(),
		OpenClient: func(username, password string) (workspace.DatabaseClient, error) {
			return client, nil
		},
		Clock: time.Now,
	})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}

	verifier, err := auth.NewCredentialVerifier(auth.CredentialVerifierConfig{
		Host: "localhost",
		Dial: func(_ context.Context, username, password string) error {
			if password != "correct-password" {
				return errors.New("access denied")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected verifier error: %v", err)
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "jsmyadmin-auth",
		Audience:      "jsmyadmin-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		Verifier:     verifier,
		TokenManager: tokenManager,
		Registry:     registry,
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	return &testHarness{handler: handler, registry: registry, client: client}
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		payload = bytes.NewBuffer(encoded)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	request := httptest.NewRequest(method, path, payload)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *testHarness) login(t *testing.T, username string) string {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"username": username,
		"password": "correct-password",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return response.AccessToken
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestLoginIssuesBearerToken(testContext *testing.T) {
	harness := newTestHarness(testContext)

	recorder := harness.do(testContext, http.MethodPost, "/auth/login", "", gin.H{
		"username": "alice",
		"password": "correct-password",
	})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d %s", recorder.Code, recorder.Body.String())
	}

	var response map[string]any
	decodeBody(testContext, recorder, &response)
	if response["token_type"] != "Bearer" || response["access_token"] == "" {
		testContext.Fatalf("unexpected login response %v", response)
	}
	if response["username"] != "alice" || response["host"] != "localhost" {
		testContext.Fatalf("login must echo the verified identity, got %v", response)
	}
}

func TestLoginRejectsBadCredentials(testContext *testing.T) {
	harness := newTestHarness(testContext)

	recorder := harness.do(testContext, http.MethodPost, "/auth/login", "", gin.H{
		"username": "alice",
		"password": "wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestLoginRejectsMalformedPayload(testContext *testing.T) {
	harness := newTestHarness(testContext)

	recorder := harness.do(testContext, http.MethodPost, "/auth/login", "", gin.H{"password": "pw"})
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for missing username, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(testContext *testing.T) {
	harness := newTestHarness(testContext)

	if recorder := harness.do(testContext, http.MethodGet, "/databases", "", nil); recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
	if recorder := harness.do(testContext, http.MethodGet, "/databases", "garbage-token", nil); recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 for a garbage token, got %d", recorder.Code)
	}
}

func TestTokenWithoutWorkspaceIsSessionExpired(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	if recorder := harness.do(testContext, http.MethodPost, "/auth/logout", token, nil); recorder.Code != http.StatusOK {
		testContext.Fatalf("logout failed: %d", recorder.Code)
	}

	recorder := harness.do(testContext, http.MethodGet, "/databases", token, nil)
	if recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 after logout, got %d", recorder.Code)
	}
	var response map[string]string
	decodeBody(testContext, recorder, &response)
	if response["error"] != "session_expired" {
		testContext.Fatalf("expected session_expired, got %v", response)
	}
}

func TestListDatabasesServesMetadataState(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	recorder := harness.do(testContext, http.MethodGet, "/databases", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}

	var state metadata.State
	decodeBody(testContext, recorder, &state)
	if len(state.Databases) != 1 || state.Databases[0].Name != "shop" {
		testContext.Fatalf("unexpected metadata state %+v", state)
	}
}

func TestRefreshDatabasesPicksUpChanges(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	harness.client.databases = append(harness.client.databases, "crm")

	recorder := harness.do(testContext, http.MethodPost, "/databases/refresh", token, gin.H{"force": true})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d %s", recorder.Code, recorder.Body.String())
	}

	var state metadata.State
	decodeBody(testContext, recorder, &state)
	if len(state.Databases) != 2 {
		testContext.Fatalf("expected refreshed snapshot with 2 databases, got %+v", state.Databases)
	}
}

func TestCreateDatabaseRefreshesSnapshot(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	recorder := harness.do(testContext, http.MethodPost, "/databases", token, gin.H{"name": "analytics"})
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d %s", recorder.Code, recorder.Body.String())
	}

	var state metadata.State
	decodeBody(testContext, recorder, &state)
	if len(state.Databases) != 2 {
		testContext.Fatalf("expected snapshot to include the new database, got %+v", state.Databases)
	}
}

func TestSessionTabLifecycleOverHTTP(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	recorder := harness.do(testContext, http.MethodGet, "/session/tabs", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
	var initial struct {
		Tabs []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			Closable bool   `json:"closable"`
		} `json:"tabs"`
		ActiveID string `json:"active_id"`
	}
	decodeBody(testContext, recorder, &initial)
	if len(initial.Tabs) != 1 || initial.Tabs[0].Kind != "dashboard" {
		testContext.Fatalf("expected a seeded dashboard session, got %+v", initial)
	}
	dashboardID := initial.Tabs[0].ID

	recorder = harness.do(testContext, http.MethodPost, "/session/tabs", token, gin.H{
		"title":  "SQL",
		"kind":   "sql-editor",
		"params": gin.H{"database": "shop"},
	})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("add tab failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var added struct {
		Tab struct {
			ID string `json:"id"`
		} `json:"tab"`
	}
	decodeBody(testContext, recorder, &added)
	if added.Tab.ID == "" {
		testContext.Fatalf("expected a tab id in the response")
	}

	// The dashboard is not closable; removing it must be refused.
	recorder = harness.do(testContext, http.MethodDelete, "/session/tabs/"+dashboardID, token, nil)
	if recorder.Code != http.StatusConflict {
		testContext.Fatalf("expected 409 for the dashboard, got %d", recorder.Code)
	}

	recorder = harness.do(testContext, http.MethodPut, "/session/tabs/active", token, gin.H{"id": dashboardID})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("set active failed: %d", recorder.Code)
	}

	recorder = harness.do(testContext, http.MethodPut, "/session/tabs/active", token, gin.H{"id": "no-such-tab"})
	if recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 for an unknown tab, got %d", recorder.Code)
	}

	recorder = harness.do(testContext, http.MethodPatch, "/session/tabs/"+added.Tab.ID, token, gin.H{
		"editor_text": "SELECT * FROM orders",
	})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("content update failed: %d", recorder.Code)
	}

	recorder = harness.do(testContext, http.MethodDelete, "/session/tabs/"+added.Tab.ID, token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("remove tab failed: %d", recorder.Code)
	}
	var afterRemove struct {
		Tabs []struct {
			ID string `json:"id"`
		} `json:"tabs"`
		ActiveID string `json:"active_id"`
	}
	decodeBody(testContext, recorder, &afterRemove)
	if len(afterRemove.Tabs) != 1 || afterRemove.ActiveID != dashboardID {
		testContext.Fatalf("expected the dashboard to remain active, got %+v", afterRemove)
	}
}

func TestQueryEndpointExecutesStatement(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	recorder := harness.do(testContext, http.MethodPost, "/query", token, gin.H{"sql": "SELECT 1"})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d %s", recorder.Code, recorder.Body.String())
	}

	harness.client.executeErr = errors.New("syntax error near FROM")
	recorder = harness.do(testContext, http.MethodPost, "/query", token, gin.H{"sql": "SELEC 1"})
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for a failed statement, got %d", recorder.Code)
	}

	recorder = harness.do(testContext, http.MethodPost, "/query", token, gin.H{"sql": "   "})
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for an empty statement, got %d", recorder.Code)
	}
}

func TestBrowseAndStructureEndpoints(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	recorder := harness.do(testContext, http.MethodGet, "/databases/shop/tables/orders/rows?limit=10", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("browse failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = harness.do(testContext, http.MethodGet, "/databases/shop/tables/orders/structure", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("structure failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var structure struct {
		Columns []mysql.ColumnDescriptor `json:"columns"`
	}
	decodeBody(testContext, recorder, &structure)
	if len(structure.Columns) != 1 || structure.Columns[0].Name != "id" {
		testContext.Fatalf("unexpected structure %+v", structure)
	}
}

func TestAccountsEndpoints(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	recorder := harness.do(testContext, http.MethodGet, "/accounts", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("list accounts failed: %d", recorder.Code)
	}

	recorder = harness.do(testContext, http.MethodPost, "/accounts", token, gin.H{
		"username": "bob", "host": "%", "password": "pw",
	})
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("create account failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = harness.do(testContext, http.MethodGet, "/accounts/alice/%25/grants", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("grants failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = harness.do(testContext, http.MethodDelete, "/accounts/bob/%25", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("drop account failed: %d", recorder.Code)
	}
}

func TestSettingsRoundTrip(testContext *testing.T) {
	harness := newTestHarness(testContext)
	token := harness.login(testContext, "alice")

	recorder := harness.do(testContext, http.MethodGet, "/settings", token, nil)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "{}" {
		testContext.Fatalf("expected empty settings object, got %d %q", recorder.Code, recorder.Body.String())
	}

	recorder = harness.do(testContext, http.MethodPut, "/settings", token, gin.H{"theme": "dark"})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("save settings failed: %d", recorder.Code)
	}

	recorder = harness.do(testContext, http.MethodGet, "/settings", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("read settings failed: %d", recorder.Code)
	}
	var settings map[string]string
	decodeBody(testContext, recorder, &settings)
	if settings["theme"] != "dark" {
		testContext.Fatalf("expected persisted settings, got %v", settings)
	}
}
