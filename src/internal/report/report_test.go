package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/admi-n/snitch/src/config"
	"github.com/admi-n/snitch/src/internal/ai/parser"
)

func intPtr(v int) *int { return &v }

func sampleDoc() *AuditDocument {
	return &AuditDocument{
		ContractID:  ContractIdentifier("octo", "vault", "contracts/Token.sol"),
		Owner:       "octo",
		Repo:        "vault",
		Path:        "contracts/Token.sol",
		Language:    "Solidity",
		Provider:    "OpenAI (gpt-4)",
		GeneratedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ReportText:  "Executive Summary\nfine\nAudit Score: 85",
		Score:       intPtr(85),
	}
}

func TestContractIdentifier(t *testing.T) {
	require.Equal(t, "octo/vault/contracts/Token.sol", ContractIdentifier("octo", "vault", "/contracts/Token.sol"))
}

func TestMarkdownGenerator(t *testing.T) {
	g := NewMarkdownGenerator()
	md, err := g.Generate(sampleDoc())
	require.NoError(t, err)
	require.Contains(t, md, "**仓库**: octo/vault")
	require.Contains(t, md, "**合约**: contracts/Token.sol")
	require.Contains(t, md, "**分数**: 85")
	require.Contains(t, md, "2025-01-02 03:04:05")
	require.True(t, strings.HasSuffix(md, "Audit Score: 85\n"))

	doc := sampleDoc()
	doc.Score = nil
	doc.Findings = []parser.Finding{
		{Title: "Floating pragma", Severity: "Low"},
		{Title: "Reentrancy", Severity: "Critical", Description: "withdraw() calls out first", Location: "withdraw"},
	}
	md, err = g.Generate(doc)
	require.NoError(t, err)
	require.Contains(t, md, "未提取")
	require.Less(t, strings.Index(md, "Reentrancy"), strings.Index(md, "Floating pragma"))
	require.Contains(t, md, "- **Critical**: 1")

	_, err = g.Generate(&AuditDocument{})
	require.Error(t, err)
}

func TestFileStorageContentAddressed(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStorage(dir)
	r := NewReporter(NewMarkdownGenerator(), s)

	cid, err := r.Upload(context.Background(), sampleDoc(), "0xabc")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cid, "0x"))
	require.Len(t, cid, 66)

	again, err := r.Upload(context.Background(), sampleDoc(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, cid, again)

	rec, err := s.Get(context.Background(), cid)
	require.NoError(t, err)
	require.Equal(t, 85, rec.Score)
	require.Equal(t, "0xabc", rec.Submitter)
	require.Contains(t, rec.Markdown, "Snitch 审计报告")

	require.NoError(t, os.WriteFile(filepath.Join(dir, strings.ToLower(cid)+".json"), []byte(`{"tampered":true}`), 0o644))
	_, err = s.Get(context.Background(), cid)
	require.ErrorContains(t, err, "hash mismatch")

	_, err = s.Get(context.Background(), "0x"+strings.Repeat("0", 64))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkdownGeneratorPrefersBody(t *testing.T) {
	doc := sampleDoc()
	doc.ReportText = `{"report":"All good here","score":90,"findings":[]}`
	doc.Body = "All good here"

	md, err := NewMarkdownGenerator().Generate(doc)
	require.NoError(t, err)
	require.Contains(t, md, "## 审计报告\n\nAll good here\n")
	require.NotContains(t, md, `{"report"`)
}

func TestReporterFetch(t *testing.T) {
	r := NewReporter(NewMarkdownGenerator(), NewFileStorage(t.TempDir()))
	cid, err := r.Upload(context.Background(), sampleDoc(), "")
	require.NoError(t, err)

	rec, err := r.Fetch(context.Background(), cid)
	require.NoError(t, err)
	require.Equal(t, "octo/vault/contracts/Token.sol", rec.ContractID)
	require.Equal(t, sampleDoc().ReportText, rec.AuditReport)

	_, err = r.Fetch(context.Background(), "not-a-cid")
	require.ErrorIs(t, err, ErrInvalidCID)

	pinata, err := NewPinataStorage("jwt", "http://127.0.0.1:1", nil)
	require.NoError(t, err)
	_, err = NewReporter(NewMarkdownGenerator(), pinata).Fetch(context.Background(), "QmTestHash")
	require.ErrorIs(t, err, ErrFetchUnsupported)
}

func TestUploadRequiresScore(t *testing.T) {
	r := NewReporter(NewMarkdownGenerator(), NewFileStorage(t.TempDir()))
	doc := sampleDoc()
	doc.Score = nil
	_, err := r.Upload(context.Background(), doc, "")
	require.ErrorIs(t, err, ErrNoScore)
}

func TestPinataStorage(t *testing.T) {
	var got pinataRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pinning/pinJSONToIPFS", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"IpfsHash":"QmTestHash","PinSize":123,"Timestamp":"2025-01-02T03:04:05Z"}`))
	}))
	defer srv.Close()

	s, err := NewPinataStorage("jwt-token", srv.URL, nil)
	require.NoError(t, err)

	cid, err := NewReporter(NewMarkdownGenerator(), s).Upload(context.Background(), sampleDoc(), "")
	require.NoError(t, err)
	require.Equal(t, "QmTestHash", cid)
	require.Equal(t, "Bearer jwt-token", auth)
	require.Equal(t, 85, got.PinataContent.Score)
	require.Equal(t, "octo/vault/contracts/Token.sol", got.PinataMetadata.KeyValues["contractId"])
}

func TestPinataStorageErrors(t *testing.T) {
	_, err := NewPinataStorage("", "", nil)
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid jwt"}`))
	}))
	defer srv.Close()

	s, err := NewPinataStorage("bad", srv.URL, nil)
	require.NoError(t, err)
	_, err = s.Put(context.Background(), &StoredReport{ContractID: "x"})
	require.ErrorContains(t, err, "status 401")
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(config.StorageConfig{Backend: "file", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.Equal(t, "file", s.Name())

	_, err = NewStorage(config.StorageConfig{Backend: "s3"}, nil)
	require.Error(t, err)
}

func TestGenerateAndSave(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reports", "Token.md")
	r := NewReporter(NewMarkdownGenerator(), nil)
	path, err := r.GenerateAndSave(sampleDoc(), out)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "Audit Score: 85")
}
