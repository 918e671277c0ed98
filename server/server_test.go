package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clawgig/clawgig/coordinator"
	"github.com/clawgig/clawgig/coordinator/coordtest"
	"github.com/clawgig/clawgig/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	issuerAddr    = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	completerAddr = "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"
)

func newServer(t *testing.T, cfgFn func(cfg *coordinator.Config)) (*server.Server, *coordtest.Harness) {
	t.Helper()

	h := coordtest.New(t, cfgFn)

	srv, err := server.New(&server.Config{
		Addr:        ":0",
		Coordinator: h.Coordinator,
	})
	require.NoError(t, err)

	return srv, h
}

func do(t *testing.T, srv *server.Server, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func deadline() string {
	return time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
}

func postJob(t *testing.T, srv *server.Server) uint64 {
	t.Helper()

	rec := do(t, srv, http.MethodPost, "/jobs/post", map[string]interface{}{
		"issuer":      issuerAddr,
		"description": "build a widget",
		"bounty":      "1000",
		"deadline":    deadline(),
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestServer_Health(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PostJob(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/jobs/post", map[string]interface{}{
		"issuer":      issuerAddr,
		"description": "build a widget",
		"bounty":      "1000",
		"deadline":    deadline(),
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "open", resp["status"])
	assert.Equal(t, "1000", resp["bounty"])
	assert.Equal(t, "MON", resp["token"])
}

func TestServer_PostJobValidation(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/jobs/post", map[string]interface{}{
		"issuer":      issuerAddr,
		"description": "build a widget",
		"bounty":      "not-a-number",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp["kind"])
}

func TestServer_MalformedBody(t *testing.T) {
	srv, _ := newServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs/post", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetJob(t *testing.T) {
	srv, _ := newServer(t, nil)
	id := postJob(t, srv)

	rec := do(t, srv, http.MethodGet, fmt.Sprintf("/jobs/%d", id), nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(id), resp["id"])
}

func TestServer_GetJobErrors(t *testing.T) {
	srv, _ := newServer(t, nil)

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{
			name:     "unknown id",
			path:     "/jobs/999",
			wantCode: http.StatusConflict,
		},
		{
			name:     "non-numeric id",
			path:     "/jobs/abc",
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, tt.path, nil, nil)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestServer_FullLifecycle(t *testing.T) {
	srv, h := newServer(t, nil)
	id := postJob(t, srv)

	rec := do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/escrow", id), map[string]interface{}{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/claim", id), map[string]interface{}{
		"completer": completerAddr,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/submit", id), map[string]interface{}{
		"completer":   completerAddr,
		"artifactRef": "QmArtifact",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/verify", id), map[string]interface{}{
		"approved": true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
	assert.True(t, h.Ledger.Job(id).Released)
}

func TestServer_VerifySplit(t *testing.T) {
	srv, _ := newServer(t, nil)
	id := postJob(t, srv)

	rec := do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/escrow", id), map[string]interface{}{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/claim", id), map[string]interface{}{"completer": completerAddr}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/submit", id), map[string]interface{}{
		"completer":   completerAddr,
		"artifactRef": "QmArtifact",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/verify", id), map[string]interface{}{
		"approved": true,
		"split": []map[string]interface{}{
			{"address": completerAddr, "percent": 60},
			{"address": issuerAddr, "percent": 40},
		},
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServer_ResolveDisputeUsesHeader(t *testing.T) {
	srv, h := newServer(t, func(cfg *coordinator.Config) {
		cfg.ArbiterKey = "sekrit"
	})
	id := postJob(t, srv)

	rec := do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/escrow", id), map[string]interface{}{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/claim", id), map[string]interface{}{"completer": completerAddr}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/submit", id), map[string]interface{}{
		"completer":   completerAddr,
		"artifactRef": "QmArtifact",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/verify", id), map[string]interface{}{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/dispute", id), map[string]interface{}{
		"completer": completerAddr,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Wrong credential.
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/resolve-dispute", id), map[string]interface{}{
		"releaseToCompleter": true,
	}, map[string]string{"X-Arbiter-Api-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/resolve-dispute", id), map[string]interface{}{
		"releaseToCompleter": true,
	}, map[string]string{"X-Arbiter-Api-Key": "sekrit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, h.Ledger.Job(id).Released)
}

func TestServer_SignatureRequired(t *testing.T) {
	srv, _ := newServer(t, func(cfg *coordinator.Config) {
		cfg.Auth = coordinator.RequireAllSignatures()
	})

	rec := do(t, srv, http.MethodPost, "/jobs/post", map[string]interface{}{
		"issuer":      issuerAddr,
		"description": "build a widget",
		"bounty":      "1000",
		"deadline":    deadline(),
	}, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "authorization", resp["kind"])
}

func TestServer_LedgerIndeterminateMapsToBadGateway(t *testing.T) {
	srv, h := newServer(t, nil)
	id := postJob(t, srv)
	require.NoError(t, h.Ledger.Close())

	rec := do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/claim", id), map[string]interface{}{
		"completer": completerAddr,
	}, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_LinkageMismatchSurfacesAddresses(t *testing.T) {
	srv, _ := newServer(t, func(cfg *coordinator.Config) {
		cfg.OwnerAddress = "0x00000000000000000000000000000000000000BB"
	})
	id := postJob(t, srv)

	rec := do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/escrow", id), map[string]interface{}{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/claim", id), map[string]interface{}{"completer": completerAddr}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/submit", id), map[string]interface{}{
		"completer":   completerAddr,
		"artifactRef": "QmArtifact",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, fmt.Sprintf("/jobs/%d/verify", id), map[string]interface{}{
		"approved": true,
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ledger-config", resp["kind"])
	assert.NotEmpty(t, resp["expected"])
	assert.NotEmpty(t, resp["actual"])
	assert.NotEmpty(t, resp["remedy"])
}

func TestServer_BrowseAndStats(t *testing.T) {
	srv, _ := newServer(t, nil)
	postJob(t, srv)
	postJob(t, srv)

	rec := do(t, srv, http.MethodGet, "/jobs/browse?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, float64(2), page["total"])
	assert.Equal(t, true, page["hasMore"])

	rec = do(t, srv, http.MethodGet, "/jobs/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, float64(2), stats["open"])
}

func TestServer_SignupAndReputation(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/agents/signup", map[string]interface{}{
		"address": issuerAddr,
		"name":    "widget bot",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// An address registers once.
	rec = do(t, srv, http.MethodPost, "/agents/signup", map[string]interface{}{
		"address": issuerAddr,
		"name":    "widget bot again",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodGet, "/reputation/"+issuerAddr, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "none", rep["tierName"])
}

func TestServer_Participated(t *testing.T) {
	srv, _ := newServer(t, nil)
	id := postJob(t, srv)

	rec := do(t, srv, http.MethodGet, "/jobs/participated?address="+issuerAddr+"&role=issuer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Jobs []struct {
			ID uint64 `json:"id"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, id, page.Jobs[0].ID)
}
