package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/admi-n/snitch/src/config"
	"github.com/admi-n/snitch/src/internal/ai"
	"github.com/admi-n/snitch/src/internal/discovery"
	"github.com/admi-n/snitch/src/internal/github"
	"github.com/admi-n/snitch/src/internal/handler"
	"github.com/admi-n/snitch/src/internal/jobs"
	"github.com/admi-n/snitch/src/internal/ledger"
	"github.com/admi-n/snitch/src/internal/report"
	"github.com/admi-n/snitch/src/internal/store"
)

type fakeContents struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeContents) ListContents(_ context.Context, _, repo, dir string) ([]github.Entry, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	switch repo {
	case "empty":
		return nil, nil
	case "missing":
		return nil, &github.APIError{StatusCode: http.StatusNotFound, Message: "Not Found"}
	}
	switch dir {
	case "":
		return []github.Entry{
			{Name: "contracts", Path: "contracts", Type: github.EntryTypeDir},
			{Name: "docs", Path: "docs", Type: github.EntryTypeDir},
		}, nil
	case "contracts":
		return []github.Entry{{Name: "Token.sol", Path: "contracts/Token.sol", Type: github.EntryTypeFile, DownloadURL: "raw://Token.sol"}}, nil
	case "docs":
		return []github.Entry{{Name: "readme.md", Path: "docs/readme.md", Type: github.EntryTypeFile, DownloadURL: "raw://readme.md"}}, nil
	}
	return nil, nil
}

func (f *fakeContents) FetchRaw(_ context.Context, u string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "contract Token {} // " + u, nil
}

type fakeAuditor struct{ reply string }

func (f *fakeAuditor) Audit(context.Context, string, string) (string, error) { return f.reply, nil }
func (f *fakeAuditor) GetClientInfo() string                                 { return "fake" }

type testEnv struct {
	srv      *httptest.Server
	contents *fakeContents
}

func newTestEnv(t *testing.T, auditor handler.Auditor, opts ...func(*handler.Deps)) *testEnv {
	t.Helper()
	contents := &fakeContents{}
	deps := handler.Deps{
		Discoverer: discovery.New(contents, discovery.Options{}, nil),
		Reporter:   report.NewReporter(report.NewMarkdownGenerator(), report.NewFileStorage(t.TempDir())),
		Auditor:    auditor,
		Index:      store.NewMemoryIndex(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	pipeline := handler.NewPipeline(deps)

	ctx, cancel := context.WithCancel(context.Background())
	manager := jobs.NewManager(pipeline, jobs.Options{Workers: 1}, nil)
	manager.Start(ctx)

	srv := httptest.NewServer(New(pipeline, manager, Options{}, nil).Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		manager.Wait()
	})
	return &testEnv{srv: srv, contents: contents}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw bytes.Buffer
	_, err = raw.ReadFrom(resp.Body)
	require.NoError(t, err)
	var obj map[string]any
	_ = json.Unmarshal(raw.Bytes(), &obj)
	return resp.StatusCode, obj, raw.Bytes()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &fakeAuditor{})
	status, body, _ := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
}

func TestGetSmartContracts(t *testing.T) {
	env := newTestEnv(t, &fakeAuditor{})

	status, _, raw := env.do(t, http.MethodGet, "/api/get-smart-contracts?owner=octo&repo=vault", nil)
	require.Equal(t, http.StatusOK, status)
	var files []map[string]string
	require.NoError(t, json.Unmarshal(raw, &files))
	require.Len(t, files, 1)
	require.Equal(t, "contracts/Token.sol", files[0]["path"])
	require.NotEmpty(t, files[0]["content"])

	status, _, raw = env.do(t, http.MethodGet, "/api/get-smart-contracts?owner=octo&repo=empty", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[]`, string(raw))
}

func TestGetSmartContractsRepoNotFound(t *testing.T) {
	env := newTestEnv(t, &fakeAuditor{})

	status, body, _ := env.do(t, http.MethodGet, "/api/get-smart-contracts?owner=octo&repo=missing", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Repository not found: octo/missing", body["error"])
}

func TestGetSmartContractsMissingParams(t *testing.T) {
	env := newTestEnv(t, &fakeAuditor{})

	status, body, _ := env.do(t, http.MethodGet, "/api/get-smart-contracts?owner=octo", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Missing owner or repo", body["error"])
	require.Zero(t, env.contents.calls)
}

func TestAudit(t *testing.T) {
	env := newTestEnv(t, &fakeAuditor{reply: "Summary\nAudit Score: 85"})

	status, body, _ := env.do(t, http.MethodPost, "/api/audit", map[string]string{"contract": "contract A {}", "systemPrompt": "audit it"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Summary\nAudit Score: 85", body["auditReport"])
	require.EqualValues(t, 85, body["score"])

	status, body, _ = env.do(t, http.MethodPost, "/api/audit", map[string]string{"contract": "", "systemPrompt": "audit it"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["error"], "contract")

	status, _, _ = env.do(t, http.MethodPost, "/api/audit", nil)
	require.Equal(t, http.StatusBadRequest, status)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/audit", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditMissingAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body, _ := env.do(t, http.MethodPost, "/api/audit", map[string]string{"contract": "contract A {}", "systemPrompt": "audit it"})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Missing OpenAI API key", body["error"])

	deepseek := newTestEnv(t, nil, func(d *handler.Deps) { d.Provider = "deepseek" })
	status, body, _ = deepseek.do(t, http.MethodPost, "/api/audit", map[string]string{"contract": "contract A {}", "systemPrompt": "audit it"})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Missing DeepSeek API key", body["error"])
}

func TestPublishAndSearch(t *testing.T) {
	env := newTestEnv(t, &fakeAuditor{})

	status, body, _ := env.do(t, http.MethodPost, "/api/audits/publish", map[string]string{"auditReport": "no score here", "contractId": "octo/vault/Token.sol"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "Could not find audit score in the report", body["error"])

	status, body, _ = env.do(t, http.MethodPost, "/api/audits/publish", map[string]string{"auditReport": "Audit Score: 77"})
	require.Equal(t, http.StatusBadRequest, status)

	status, body, _ = env.do(t, http.MethodPost, "/api/audits/publish", map[string]string{"auditReport": "Audit Score: 77", "contractId": "octo/vault/Token.sol"})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 77, body["score"])
	require.Equal(t, true, body["indexed"])
	cid, _ := body["cid"].(string)
	require.NotEmpty(t, cid)

	status, body, _ = env.do(t, http.MethodGet, "/api/audits/"+cid, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "octo/vault/Token.sol", body["contractId"])
	require.Equal(t, "Audit Score: 77", body["auditReport"])

	status, _, _ = env.do(t, http.MethodGet, "/api/audits/0x"+strings.Repeat("0", 64), nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _, _ = env.do(t, http.MethodGet, "/api/audits/not-a-cid", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _, raw := env.do(t, http.MethodGet, "/api/audits?contract=octo/vault/Token.sol", nil)
	require.Equal(t, http.StatusOK, status)
	var records []store.AuditRecord
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 1)
	require.Equal(t, 77, records[0].Score)

	status, _, _ = env.do(t, http.MethodGet, "/api/audits", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _, _ = env.do(t, http.MethodGet, "/api/audits?contract=x&limit=ten", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _, _ = env.do(t, http.MethodGet, "/api/audits/ledger?contract=octo/vault/Token.sol", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
}

func TestJobs(t *testing.T) {
	env := newTestEnv(t, &fakeAuditor{reply: "Audit Score: 64"})

	status, body, _ := env.do(t, http.MethodPost, "/api/jobs", map[string]string{"owner": "octo", "repo": "vault", "path": "contracts/Token.sol"})
	require.Equal(t, http.StatusAccepted, status)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	var job jobs.Job
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("%s/api/jobs/%s", env.srv.URL, id))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&job) != nil {
			return false
		}
		return job.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.Equal(t, 64, *job.Score)

	status, _, raw := env.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, status)
	var listed []jobs.Job
	require.NoError(t, json.Unmarshal(raw, &listed))
	require.Len(t, listed, 1)
	require.Equal(t, id, listed[0].ID)

	status, _, _ = env.do(t, http.MethodGet, "/api/jobs/unknown", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _, _ = env.do(t, http.MethodPost, "/api/jobs", map[string]string{"owner": "octo", "repo": "vault"})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{discovery.ErrMissingInput, http.StatusBadRequest},
		{ai.ErrMissingInput, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", config.ErrMissingAPIKey), http.StatusInternalServerError},
		{ai.ErrInputTooLarge, http.StatusRequestEntityTooLarge},
		{report.ErrNoScore, http.StatusUnprocessableEntity},
		{&handler.StepError{Step: "upload", Err: errors.New("pinata down")}, http.StatusBadGateway},
		{jobs.ErrJobNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: octo/x", discovery.ErrRepoNotFound), http.StatusInternalServerError},
		{report.ErrNotFound, http.StatusNotFound},
		{report.ErrInvalidCID, http.StatusBadRequest},
		{report.ErrFetchUnsupported, http.StatusNotImplemented},
		{config.MissingKey("deepseek"), http.StatusInternalServerError},
		{ledger.ErrDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		require.Equal(t, tc.want, got, tc.err.Error())
	}
}
