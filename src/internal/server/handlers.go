package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/handler"
)

type auditRequest struct {
	Contract     string `json:"contract"`
	SystemPrompt string `json:"systemPrompt"`
}

type jobRequest struct {
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	Path         string `json:"path"`
	SystemPrompt string `json:"systemPrompt"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetSmartContracts GET /api/get-smart-contracts?owner=&repo=
func (s *Server) handleGetSmartContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	files, err := s.svc.Discover(r.Context(), q.Get("owner"), q.Get("repo"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if files == nil {
		files = []internal.ContractFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleAudit POST /api/audit {contract, systemPrompt}
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.AuditContent(r.Context(), req.SystemPrompt, req.Contract)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePublish POST /api/audits/publish
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req handler.PublishRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Publish(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSearchAudits GET /api/audits?contract=&limit=
func (s *Server) handleSearchAudits(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit must be an integer", errBadRequest))
			return
		}
		limit = n
	}
	records, err := s.svc.SearchIndex(r.Context(), r.URL.Query().Get("contract"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleSearchLedger GET /api/audits/ledger?contract=
func (s *Server) handleSearchLedger(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.SearchLedger(r.Context(), r.URL.Query().Get("contract"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetReport GET /api/audits/{cid}
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.FetchReport(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleSubmitJob POST /api/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.jobs.Submit(internal.AuditConfig{
		Owner:        req.Owner,
		Repo:         req.Repo,
		Path:         req.Path,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

// handleListJobs GET /api/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

// handleGetJob GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// decodeBody 解析 JSON 请求体；空 body 视为空对象，交给后续的参数校验
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
