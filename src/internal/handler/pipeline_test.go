package handler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/admi-n/snitch/src/config"
	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/ai"
	"github.com/admi-n/snitch/src/internal/core"
	"github.com/admi-n/snitch/src/internal/discovery"
	"github.com/admi-n/snitch/src/internal/ledger"
	"github.com/admi-n/snitch/src/internal/report"
	"github.com/admi-n/snitch/src/internal/store"
)

type fakeDiscoverer struct {
	files []internal.ContractFile
	err   error
}

func (f *fakeDiscoverer) Discover(_ context.Context, owner, repo string) ([]internal.ContractFile, error) {
	if owner == "" || repo == "" {
		return nil, discovery.ErrMissingInput
	}
	return f.files, f.err
}

type fakeAuditor struct {
	reply        string
	err          error
	systemPrompt string
	content      string
}

func (f *fakeAuditor) Audit(_ context.Context, systemPrompt, content string) (string, error) {
	f.systemPrompt, f.content = systemPrompt, content
	return f.reply, f.err
}

func (f *fakeAuditor) GetClientInfo() string { return "fake (test)" }

type fakeLedger struct {
	subs []ledger.Submission
	err  error
}

func (f *fakeLedger) Submit(_ context.Context, sub ledger.Submission) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.subs = append(f.subs, sub)
	return "0xtx", nil
}

func (f *fakeLedger) GetAudits(_ context.Context, contractID string) ([]ledger.Record, error) {
	out := []ledger.Record{}
	for _, s := range f.subs {
		if s.ContractID == contractID {
			out = append(out, ledger.Record{ID: s.ID.Uint64(), Score: s.Score, CID: s.CID})
		}
	}
	return out, nil
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type failingIndex struct{ *store.MemoryIndex }

func (failingIndex) Insert(context.Context, *store.AuditRecord) (int64, error) {
	return 0, errors.New("connection refused")
}

func newTestPipeline(t *testing.T, aud Auditor, led Ledger, opts ...func(*Deps)) (*Pipeline, *store.MemoryIndex) {
	t.Helper()
	idx := store.NewMemoryIndex()
	deps := Deps{
		Discoverer: &fakeDiscoverer{files: []internal.ContractFile{
			{Path: "contracts/Token.sol", Content: "contract Token {}"},
			{Path: "contracts/lib/Vault.sol", Content: "contract Vault {}"},
		}},
		Auditor:  aud,
		Reporter: report.NewReporter(report.NewMarkdownGenerator(), report.NewFileStorage(t.TempDir())),
		Ledger:   led,
		Index:    idx,
		Now:      func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return NewPipeline(deps), idx
}

func structured(d *Deps) { d.Structured = true }

const structuredReply = `{"report":"All good here","score":90,"findings":[{"title":"Reentrancy","severity":"High","description":"withdraw() calls out first"}]}`

func TestRunAuditsSelectedContract(t *testing.T) {
	aud := &fakeAuditor{reply: "Executive Summary\nAudit Score: 85"}
	p, _ := newTestPipeline(t, aud, nil)

	progress := core.NewAuditProgress()
	updates := 0
	out, err := p.Run(context.Background(), internal.AuditConfig{Owner: "octo", Repo: "vault", Path: "contracts/lib/Vault.sol"}, progress, func() { updates++ })
	require.NoError(t, err)

	require.Equal(t, "contract Vault {}", aud.content)
	require.Contains(t, aud.systemPrompt, "written in Solidity")
	require.Equal(t, "Executive Summary\nAudit Score: 85", out.Result.ReportText)
	require.True(t, out.Result.HasScore())
	require.Equal(t, 85, *out.Result.Score)
	require.Equal(t, "octo/vault/contracts/lib/Vault.sol", out.Document.ContractID)
	require.Equal(t, "fake (test)", out.Document.Provider)
	require.True(t, progress.Done())
	require.Equal(t, 4, updates)
}

func TestRunUsesCallerPrompt(t *testing.T) {
	aud := &fakeAuditor{reply: "no score"}
	p, _ := newTestPipeline(t, aud, nil)

	out, err := p.Run(context.Background(), internal.AuditConfig{Owner: "octo", Repo: "vault", Path: "contracts/Token.sol", SystemPrompt: "custom rubric"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "custom rubric", aud.systemPrompt)
	require.False(t, out.Result.HasScore())
}

func TestRunFailureMarksStep(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		p, _ := newTestPipeline(t, &fakeAuditor{reply: "x"}, nil)
		progress := core.NewAuditProgress()
		_, err := p.Run(context.Background(), internal.AuditConfig{Owner: "octo", Repo: "vault", Path: "missing.sol"}, progress, nil)
		require.ErrorIs(t, err, discovery.ErrContractNotFound)

		steps := progress.Steps()
		require.Equal(t, core.StepFailed, steps[core.StepFetch].Status)
		require.Contains(t, steps[core.StepFetch].Error, "missing.sol")
		require.Equal(t, core.StepPending, steps[core.StepAudit].Status)
	})

	t.Run("audit", func(t *testing.T) {
		boom := errors.New("API returned status 500")
		p, _ := newTestPipeline(t, &fakeAuditor{err: boom}, nil)
		progress := core.NewAuditProgress()
		_, err := p.Run(context.Background(), internal.AuditConfig{Owner: "octo", Repo: "vault", Path: "contracts/Token.sol"}, progress, nil)
		require.ErrorIs(t, err, boom)

		steps := progress.Steps()
		require.Equal(t, core.StepCompleted, steps[core.StepFetch].Status)
		require.Equal(t, core.StepFailed, steps[core.StepAudit].Status)
		require.Equal(t, boom.Error(), steps[core.StepAudit].Error)
	})

	t.Run("no auditor", func(t *testing.T) {
		p, _ := newTestPipeline(t, nil, nil)
		_, err := p.Run(context.Background(), internal.AuditConfig{Owner: "octo", Repo: "vault", Path: "contracts/Token.sol"}, nil, nil)
		require.ErrorIs(t, err, config.ErrMissingAPIKey)
	})
}

func TestRunStructuredRendersDecodedReport(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeAuditor{reply: structuredReply}, nil, structured)

	out, err := p.Run(context.Background(), internal.AuditConfig{Owner: "octo", Repo: "vault", Path: "contracts/Token.sol"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, structuredReply, out.Result.ReportText)
	require.Equal(t, 90, *out.Result.Score)
	require.Len(t, out.Document.Findings, 1)
	require.Contains(t, out.Text, "All good here")
	require.Contains(t, out.Text, "Audit Score: 90")

	md, err := report.NewReporter(report.NewMarkdownGenerator(), nil).Render(out.Document)
	require.NoError(t, err)
	require.Contains(t, md, "All good here")
	require.Contains(t, md, "Reentrancy")
	require.NotContains(t, md, `{"report"`)
}

func TestRunMissingKeyNamesProvider(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, func(d *Deps) { d.Provider = "deepseek" })
	_, err := p.Run(context.Background(), internal.AuditConfig{Owner: "octo", Repo: "vault", Path: "contracts/Token.sol"}, nil, nil)
	require.ErrorIs(t, err, config.ErrMissingAPIKey)

	var keyErr *config.APIKeyError
	require.ErrorAs(t, err, &keyErr)
	require.Equal(t, "Missing DeepSeek API key", keyErr.Message())
}

func TestAuditContent(t *testing.T) {
	aud := &fakeAuditor{reply: "Audit Score: 150"}
	p, _ := newTestPipeline(t, aud, nil)

	res, err := p.AuditContent(context.Background(), "rubric", "contract A {}")
	require.NoError(t, err)
	require.Equal(t, 150, *res.Score)

	_, err = p.AuditContent(context.Background(), "", "contract A {}")
	require.ErrorIs(t, err, ai.ErrMissingInput)

	noKey, _ := newTestPipeline(t, nil, nil)
	_, err = noKey.AuditContent(context.Background(), "rubric", "contract A {}")
	require.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestPublish(t *testing.T) {
	led := &fakeLedger{}
	p, idx := newTestPipeline(t, &fakeAuditor{}, led)

	res, err := p.Publish(context.Background(), PublishRequest{
		AuditReport: "Findings...\nAudit Score: 85",
		Owner:       "octo",
		Repo:        "vault",
		Path:        "contracts/Token.sol",
		Submitter:   "0x00000000000000000000000000000000000000aa",
	})
	require.NoError(t, err)
	require.Equal(t, 85, res.Score)
	require.Equal(t, "0xtx", res.TxHash)
	require.Equal(t, fixedNow.UnixMilli(), res.ID)
	require.NotEmpty(t, res.CID)

	require.Len(t, led.subs, 1)
	require.Equal(t, "octo/vault/contracts/Token.sol", led.subs[0].ContractID)
	require.Equal(t, res.CID, led.subs[0].CID)

	records, err := p.SearchIndex(context.Background(), "octo/vault/contracts/Token.sol", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "0xtx", records[0].TxHash)

	onchain, err := p.SearchLedger(context.Background(), "octo/vault/contracts/Token.sol")
	require.NoError(t, err)
	require.Len(t, onchain, 1)

	_, err = idx.SearchByContract(context.Background(), "", 0)
	require.ErrorIs(t, err, store.ErrMissingContract)
}

func TestPublishErrors(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeAuditor{}, &fakeLedger{})

	_, err := p.Publish(context.Background(), PublishRequest{AuditReport: "no marker", ContractID: "c"})
	require.ErrorIs(t, err, report.ErrNoScore)

	_, err = p.Publish(context.Background(), PublishRequest{AuditReport: "Audit Score: N/A", ContractID: "c"})
	require.ErrorIs(t, err, report.ErrNoScore)

	_, err = p.Publish(context.Background(), PublishRequest{AuditReport: "Audit Score: 1"})
	require.ErrorIs(t, err, ErrMissingReport)

	_, err = p.Publish(context.Background(), PublishRequest{AuditReport: "Audit Score: 1", ContractID: "c", Submitter: "bob"})
	require.ErrorIs(t, err, ErrInvalidSubmitter)

	boom := errors.New("nonce too low")
	failing, idx := newTestPipeline(t, &fakeAuditor{}, &fakeLedger{err: boom})
	_, err = failing.Publish(context.Background(), PublishRequest{AuditReport: "Audit Score: 70", ContractID: "c"})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "ledger", stepErr.Step)
	require.ErrorIs(t, err, boom)

	records, err := idx.SearchByContract(context.Background(), "c", 0)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestPublishStructuredStoresDecodedReport(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeAuditor{}, nil, structured)

	res, err := p.Publish(context.Background(), PublishRequest{AuditReport: structuredReply, ContractID: "octo/vault/Token.sol"})
	require.NoError(t, err)
	require.Equal(t, 90, res.Score)

	stored, err := p.FetchReport(context.Background(), res.CID)
	require.NoError(t, err)
	require.Equal(t, structuredReply, stored.AuditReport)
	require.Contains(t, stored.Markdown, "All good here")
	require.Contains(t, stored.Markdown, "Reentrancy")
	require.NotContains(t, stored.Markdown, `{"report"`)
}

func TestPublishIndexFailureAfterLedger(t *testing.T) {
	led := &fakeLedger{}
	p, _ := newTestPipeline(t, &fakeAuditor{}, led, func(d *Deps) { d.Index = failingIndex{store.NewMemoryIndex()} })

	res, err := p.Publish(context.Background(), PublishRequest{AuditReport: "Audit Score: 3000000000", ContractID: "c"})
	require.NoError(t, err)
	require.Equal(t, 3000000000, res.Score)
	require.Equal(t, "0xtx", res.TxHash)
	require.False(t, res.Indexed)
	require.Len(t, led.subs, 1)
	require.Equal(t, 3000000000, led.subs[0].Score)

	noLedger, _ := newTestPipeline(t, &fakeAuditor{}, nil, func(d *Deps) { d.Index = failingIndex{store.NewMemoryIndex()} })
	_, err = noLedger.Publish(context.Background(), PublishRequest{AuditReport: "Audit Score: 1", ContractID: "c"})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "index", stepErr.Step)
}

func TestFetchReport(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeAuditor{}, nil)

	_, err := p.FetchReport(context.Background(), " ")
	require.ErrorIs(t, err, report.ErrInvalidCID)

	_, err = p.FetchReport(context.Background(), "0x"+strings.Repeat("ab", 32))
	require.ErrorIs(t, err, report.ErrNotFound)
}

func TestPublishWithoutLedger(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeAuditor{}, nil)
	res, err := p.Publish(context.Background(), PublishRequest{AuditReport: "Audit Score: 0", ContractID: "c"})
	require.NoError(t, err)
	require.Equal(t, 0, res.Score)
	require.Empty(t, res.TxHash)
	require.True(t, res.Indexed)

	_, err = p.SearchLedger(context.Background(), "c")
	require.ErrorIs(t, err, ledger.ErrDisabled)
}
