package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/handler"
	"github.com/admi-n/snitch/src/internal/jobs"
	"github.com/admi-n/snitch/src/internal/ledger"
	"github.com/admi-n/snitch/src/internal/report"
	"github.com/admi-n/snitch/src/internal/store"
)

// maxBodyBytes 请求体上限，合约源码一般远小于这个值
const maxBodyBytes = 8 << 20

// AuditService 流水线对外暴露的操作，handler.Pipeline 实现了它
type AuditService interface {
	Discover(ctx context.Context, owner, repo string) ([]internal.ContractFile, error)
	AuditContent(ctx context.Context, systemPrompt, content string) (internal.AuditResult, error)
	Publish(ctx context.Context, req handler.PublishRequest) (*handler.PublishResult, error)
	SearchIndex(ctx context.Context, contractID string, limit int) ([]store.AuditRecord, error)
	SearchLedger(ctx context.Context, contractID string) ([]ledger.Record, error)
	FetchReport(ctx context.Context, cid string) (*report.StoredReport, error)
}

// JobQueue 异步审计任务
type JobQueue interface {
	Submit(cfg internal.AuditConfig) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
	List() []jobs.Job
}

// Options HTTP 服务参数
type Options struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server HTTP API
type Server struct {
	svc    AuditService
	jobs   JobQueue
	opts   Options
	logger *zap.Logger
}

// New 创建 HTTP 服务；jobs 为空时不挂载 /api/jobs
func New(svc AuditService, jobs JobQueue, opts Options, logger *zap.Logger) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8080"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, jobs: jobs, opts: opts, logger: logger}
}

// Routes 返回挂载了全部接口的 chi.Router
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/get-smart-contracts", s.handleGetSmartContracts)
		r.Post("/audit", s.handleAudit)
		r.Post("/audits/publish", s.handlePublish)
		r.Get("/audits", s.handleSearchAudits)
		r.Get("/audits/ledger", s.handleSearchLedger)
		r.Get("/audits/{cid}", s.handleGetReport)
		if s.jobs != nil {
			r.Post("/jobs", s.handleSubmitJob)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
		}
	})
	return r
}

// Run 监听并处理请求，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: s.opts.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("🌐 HTTP 服务已启动", zap.String("addr", s.opts.ListenAddr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("🛑 正在关闭 HTTP 服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// requestLogger 每个请求一行访问日志
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP 请求",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
