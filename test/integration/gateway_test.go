// Package integration contains tests that verify the interaction between
// multiple platform components. These tests use httptest servers with real
// handler wiring and a real PostgreSQL database; they skip themselves when
// the database is unavailable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/corpusware/termstat/internal/auth/apikey"
	"github.com/corpusware/termstat/internal/auth/ratelimit"
	gwhandler "github.com/corpusware/termstat/internal/gateway/handler"
	"github.com/corpusware/termstat/internal/gateway/router"
	"github.com/corpusware/termstat/pkg/config"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/postgres"
)

var testMetrics = metrics.New()

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	cfg := testPostgresConfig()
	db, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ensureAPIKeySchema(t, db)
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "termstat_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "termstat"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func ensureAPIKeySchema(t *testing.T, db *postgres.Client) {
	t.Helper()
	_, err := db.DB.Exec(`CREATE TABLE IF NOT EXISTS api_keys (
		id         BIGSERIAL PRIMARY KEY,
		key_hash   TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		rate_limit INT NOT NULL DEFAULT 100,
		is_active  BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ
	)`)
	if err != nil {
		t.Fatalf("creating api_keys table: %v", err)
	}
}

// stubService starts a fake upstream that answers its health probe and
// delegates everything else to handler.
func stubService(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newGatewayServer creates a test gateway backed by a real PostgreSQL
// database and stubbed upstream services. It returns the validator the
// gateway itself uses so tests can create and revoke keys without cache
// staleness.
func newGatewayServer(t *testing.T, db *postgres.Client, adminKeys []string) (*httptest.Server, *apikey.Validator) {
	t.Helper()

	ingestion := stubService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"document_id": "01JTESTTESTTESTTESTTESTTES",
			"corpus":      r.PathValue("corpus"),
			"status":      "accepted",
		})
	})
	stats := stubService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"corpus":  "novels",
			"results": []any{},
		})
	})
	analytics := stubService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"events_processed": 0,
		})
	})

	validator := apikey.NewValidator(db)
	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Close)

	h := gwhandler.New(gwhandler.Config{
		IngestionURL: ingestion.URL,
		StatsURL:     stats.URL,
		AnalyticsURL: analytics.URL,
	}, db, validator, testMetrics)

	chain := router.New(h, validator, limiter, config.GatewayConfig{AdminKeys: adminKeys})
	srv := httptest.NewServer(chain)
	t.Cleanup(srv.Close)
	return srv, validator
}

// uniqueName avoids collisions with keys left behind by earlier runs against
// the same database.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// keyIDByName looks up the newest active key with the given name.
func keyIDByName(t *testing.T, validator *apikey.Validator, name string) string {
	t.Helper()
	keys, err := validator.ListKeys(t.Context())
	if err != nil {
		t.Fatalf("listing keys: %v", err)
	}
	for _, k := range keys {
		if k.Name == name {
			return k.ID
		}
	}
	t.Fatalf("key %q not found in listing", name)
	return ""
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestHealthEndpoint verifies the gateway health fan-out is accessible
// without auth and reports every upstream.
func TestHealthEndpoint(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, _ := newGatewayServer(t, db, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "ok" {
		t.Errorf("expected status=ok, got %q", body.Status)
	}
	for _, name := range []string{"ingestion", "statsapi", "analytics"} {
		if body.Services[name] != "ok" {
			t.Errorf("service %s = %q, want ok", name, body.Services[name])
		}
	}
}

// TestUnauthenticatedRequestRejected verifies that API endpoints reject
// requests without an API key.
func TestUnauthenticatedRequestRejected(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, _ := newGatewayServer(t, db, nil)

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/corpora"},
		{"GET", "/api/v1/corpora/novels/stats"},
		{"GET", "/api/v1/corpora/novels/terms/whale"},
		{"GET", "/api/v1/analytics"},
	}

	for _, ep := range endpoints {
		req, _ := http.NewRequest(ep.method, srv.URL+ep.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: request failed: %v", ep.method, ep.path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", ep.method, ep.path, resp.StatusCode)
		}
	}
}

// TestAPIKeyLifecycle creates a key, uses it against a proxied stats route,
// revokes it, and verifies the revocation takes effect immediately.
func TestAPIKeyLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newGatewayServer(t, db, nil)

	name := uniqueName("integration-lifecycle")
	rawKey, err := validator.CreateKey(t.Context(), name, 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/corpora/novels/terms/whale", nil)
	req.Header.Set("X-API-Key", rawKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	id := keyIDByName(t, validator, name)
	if err := validator.RevokeByID(t.Context(), id); err != nil {
		t.Fatalf("revoking key: %v", err)
	}

	req2, _ := http.NewRequest("GET", srv.URL+"/api/v1/corpora/novels/terms/whale", nil)
	req2.Header.Set("X-API-Key", rawKey)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("stats request after revoke failed: %v", err)
	}
	resp2.Body.Close()

	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after revoke, got %d", resp2.StatusCode)
	}
}

// TestDocumentIngestProxy verifies that document submissions are proxied
// through the gateway to the ingestion backend with credentials stripped.
func TestDocumentIngestProxy(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newGatewayServer(t, db, nil)

	rawKey, err := validator.CreateKey(t.Context(), uniqueName("integration-ingest"), 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	payload := map[string]string{
		"title": "Test Document",
		"text":  "a short text about whales and the open ocean",
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", srv.URL+"/api/v1/corpora/novels/documents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", rawKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, respBody)
	}

	var ingestResp struct {
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ingestResp); err != nil {
		t.Fatalf("decoding ingest response: %v", err)
	}
	if ingestResp.DocumentID == "" {
		t.Error("expected a document_id in the proxied response")
	}
}

// TestRateLimiting verifies that the gateway enforces per-key rate limits.
func TestRateLimiting(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newGatewayServer(t, db, nil)

	// A key with a very low limit: two requests per window.
	rawKey, err := validator.CreateKey(t.Context(), uniqueName("integration-ratelimit"), 2, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("GET", srv.URL+"/api/v1/corpora/novels/stats", nil)
		req.Header.Set("X-API-Key", rawKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/corpora/novels/stats", nil)
	req.Header.Set("X-API-Key", rawKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("rate limit request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on 429")
	}
}

// TestAdminRoutesRequireAllowlistedKey verifies that a valid but
// non-admin key cannot manage API keys, and an allowlisted key can.
func TestAdminRoutesRequireAllowlistedKey(t *testing.T) {
	db := skipIfNoPostgres(t)

	// The admin key has to exist before the gateway is built so its hash
	// can go into the allowlist.
	bootstrapValidator := apikey.NewValidator(db)
	adminKey, err := bootstrapValidator.CreateKey(t.Context(), uniqueName("integration-admin"), 100, nil)
	if err != nil {
		t.Fatalf("creating admin key: %v", err)
	}

	srv, validator := newGatewayServer(t, db, []string{apikey.HashKey(adminKey)})

	plainKey, err := validator.CreateKey(t.Context(), uniqueName("integration-plain"), 100, nil)
	if err != nil {
		t.Fatalf("creating plain key: %v", err)
	}

	listReq, _ := http.NewRequest("GET", srv.URL+"/api/v1/admin/keys", nil)
	listReq.Header.Set("X-API-Key", plainKey)
	resp, err := http.DefaultClient.Do(listReq)
	if err != nil {
		t.Fatalf("non-admin list request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-admin key: expected 403, got %d", resp.StatusCode)
	}

	createBody, _ := json.Marshal(map[string]any{
		"name":       uniqueName("integration-created"),
		"rate_limit": 50,
	})
	createReq, _ := http.NewRequest("POST", srv.URL+"/api/v1/admin/keys", bytes.NewReader(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	createReq.Header.Set("X-API-Key", adminKey)
	resp2, err := http.DefaultClient.Do(createReq)
	if err != nil {
		t.Fatalf("admin create request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp2.Body)
		t.Fatalf("admin create: expected 201, got %d: %s", resp2.StatusCode, body)
	}

	var created struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&created); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	if created.APIKey == "" {
		t.Error("expected the raw key in the create response")
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
