package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianpk/gatekeeper/internal/audit"
	"github.com/adrianpk/gatekeeper/internal/engine"
	"github.com/adrianpk/gatekeeper/internal/metrics"
	"github.com/adrianpk/gatekeeper/internal/policy"
)

type testServer struct {
	url        string
	policyPath string
	sink       *audit.MemorySink
}

func newTestServer(t *testing.T, policyYAML string) testServer {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o644))

	store := policy.NewStore(path)
	require.NoError(t, store.Load())

	sink := audit.NewMemorySink()
	eng := engine.New(store, engine.WithAudit(audit.New(sink)), engine.WithProjectDir(dir))

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	ts := httptest.NewServer(New(eng, store, reg).Handler())
	t.Cleanup(ts.Close)
	return testServer{url: ts.URL, policyPath: path, sink: sink}
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

const testPolicy = `
bash:
  - allow: '^ls\b'
  - deny: '^rm '
    reason: no deletes
`

func TestDecide(t *testing.T) {
	srv := newTestServer(t, testPolicy)

	tests := []struct {
		name    string
		body    string
		verdict engine.Verdict
		reason  string
	}{
		{"allow", `{"action_kind":"bash","subject":"ls -l"}`, engine.Allow, "Auto-allowed: command matches allowlist"},
		{"deny", `{"action_kind":"bash","subject":"rm -r build"}`, engine.Deny, "no deletes"},
		{"ask", `{"action_kind":"bash","subject":"make"}`, engine.Ask, ""},
		{"edit", `{"action_kind":"edit","subject":"a.md","edit":{"path":"a.md","before":"x\n","after":"x \n"}}`, engine.Allow, "Auto-allowed: safe edit pattern detected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := postJSON(t, srv.url+"/v1/decide", tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

			var d engine.Decision
			require.NoError(t, json.Unmarshal(data, &d))
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.Equal(t, tt.reason, d.Reason)
			assert.NotEmpty(t, d.ID)
		})
	}

	assert.Len(t, srv.sink.Entries(), len(tests))
}

func TestDecideRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, testPolicy)

	for _, body := range []string{`not json`, `{"subject":"ls"}`, `{"action_kind":"bash","subject":"ls","extra":1}`} {
		resp, _ := postJSON(t, srv.url+"/v1/decide", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Empty(t, srv.sink.Entries())
}

func TestReloadKeepsLastKnownGood(t *testing.T) {
	srv := newTestServer(t, testPolicy)

	resp, data := postJSON(t, srv.url+"/v1/decide", `{"action_kind":"bash","subject":"make"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, os.WriteFile(srv.policyPath, []byte("bash:\n  - allow: '['\n"), 0o644))
	resp, data = postJSON(t, srv.url+"/v1/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(data))

	resp, data = postJSON(t, srv.url+"/v1/decide", `{"action_kind":"bash","subject":"ls"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var d engine.Decision
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, engine.Allow, d.Verdict, "old policy must keep serving")

	require.NoError(t, os.WriteFile(srv.policyPath, []byte("bash:\n  - allow: '^make$'\n"), 0o644))
	resp, data = postJSON(t, srv.url+"/v1/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var info policyResponse
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, policy.Hash([]byte("bash:\n  - allow: '^make$'\n")), info.Hash)
}

func TestPolicyAndHealth(t *testing.T) {
	srv := newTestServer(t, testPolicy)

	resp, err := http.Get(srv.url + "/v1/policy?raw=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info policyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, policy.Hash([]byte(testPolicy)), info.Hash)
	assert.Equal(t, srv.policyPath, info.Source)
	assert.Equal(t, testPolicy, info.Raw)

	health, err := http.Get(srv.url + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, testPolicy)
	postJSON(t, srv.url+"/v1/decide", `{"action_kind":"bash","subject":"ls"}`)

	resp, err := http.Get(srv.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "gatekeeper_decisions_total")
}
