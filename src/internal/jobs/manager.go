package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/internal"
	"github.com/admi-n/snitch/src/internal/core"
	"github.com/admi-n/snitch/src/internal/handler"
)

var (
	// ErrMissingInput 缺少 owner / repo / path
	ErrMissingInput = errors.New("Missing owner, repo or path")
	// ErrQueueFull 队列已满
	ErrQueueFull = errors.New("job queue is full")
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("job not found")
)

// Status 任务状态
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job 一次异步审计任务的快照
type Job struct {
	ID          string      `json:"id"`
	Owner       string      `json:"owner"`
	Repo        string      `json:"repo"`
	Path        string      `json:"path"`
	Status      Status      `json:"status"`
	Steps       []core.Step `json:"steps"`
	AuditReport string      `json:"auditReport,omitempty"`
	Score       *int        `json:"score,omitempty"`
	Error       string      `json:"error,omitempty"`
	FailedStep  string      `json:"failedStep,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Terminal 任务是否已经结束
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Runner 执行单个审计，handler.Pipeline 实现了它
type Runner interface {
	Run(ctx context.Context, cfg internal.AuditConfig, progress *core.Progress, onUpdate func()) (*handler.AuditOutcome, error)
}

// Options 任务队列参数
type Options struct {
	Workers     int
	QueueSize   int
	JobTimeout  time.Duration // 单个任务超时，0 表示不限制
	MaxFinished int           // 保留的已结束任务上限，超出时删除最早结束的
	Retention   time.Duration // 已结束任务的保留时长，0 表示只按数量清理
}

type task struct {
	id  string
	cfg internal.AuditConfig
}

// Manager 内存任务表 + 固定数量的 worker
type Manager struct {
	runner Runner
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job

	queue     chan task
	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewManager 创建任务管理器，调用 Start 之后才会开始消费
func NewManager(runner Runner, opts Options, logger *zap.Logger) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.MaxFinished <= 0 {
		opts.MaxFinished = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runner: runner,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*Job),
		queue:  make(chan task, opts.QueueSize),
	}
}

// Start 启动 worker，ctx 取消后 worker 退出，未开始的任务保持 queued
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		for i := 0; i < m.opts.Workers; i++ {
			m.wg.Add(1)
			go m.worker(ctx, i)
		}
		m.logger.Info("🚀 审计任务队列已启动", zap.Int("workers", m.opts.Workers), zap.Int("queue", m.opts.QueueSize))
	})
}

// Wait 等待所有 worker 退出
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Submit 入队一个审计任务
func (m *Manager) Submit(cfg internal.AuditConfig) (Job, error) {
	cfg.Owner = strings.TrimSpace(cfg.Owner)
	cfg.Repo = strings.TrimSpace(cfg.Repo)
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Path == "" {
		return Job{}, ErrMissingInput
	}

	now := m.now()
	job := &Job{
		ID:        uuid.NewString(),
		Owner:     cfg.Owner,
		Repo:      cfg.Repo,
		Path:      cfg.Path,
		Status:    StatusQueued,
		Steps:     core.NewAuditProgress().Steps(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.pruneLocked()
	m.jobs[job.ID] = job
	snapshot := job.clone()
	m.mu.Unlock()

	select {
	case m.queue <- task{id: job.ID, cfg: cfg}:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		m.logger.Warn("⚠️ 审计任务队列已满", zap.Int("queue", m.opts.QueueSize))
		return Job{}, ErrQueueFull
	}

	m.logger.Info("📝 审计任务已入队", zap.String("job", job.ID),
		zap.String("owner", cfg.Owner), zap.String("repo", cfg.Repo), zap.String("path", cfg.Path))
	return snapshot, nil
}

// Get 返回任务快照
func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job.clone(), nil
}

// List 按创建时间倒序返回所有任务
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Manager) worker(ctx context.Context, idx int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-m.queue:
			m.process(ctx, idx, t)
		}
	}
}

// process 在 worker goroutine 上执行；progress 只在这里被修改，任务表里只保存快照
func (m *Manager) process(ctx context.Context, idx int, t task) {
	m.update(t.id, func(j *Job) { j.Status = StatusRunning })

	if m.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.JobTimeout)
		defer cancel()
	}

	progress := core.NewAuditProgress()
	publish := func() {
		steps := progress.Steps()
		m.update(t.id, func(j *Job) { j.Steps = steps })
	}

	out, err := m.runner.Run(ctx, t.cfg, progress, publish)
	steps := progress.Steps()
	if err != nil {
		m.update(t.id, func(j *Job) {
			j.Status = StatusFailed
			j.Steps = steps
			j.Error = err.Error()
			if step, ok := progress.Failed(); ok {
				j.FailedStep = step.Label
				j.Error = step.Error
			}
		})
		m.logger.Error("❌ 审计任务失败", zap.Int("worker", idx), zap.String("job", t.id), zap.Error(err))
		return
	}

	m.update(t.id, func(j *Job) {
		j.Status = StatusCompleted
		j.Steps = steps
		j.AuditReport = out.Result.ReportText
		j.Score = out.Result.Score
	})
	m.logger.Info("✅ 审计任务完成", zap.Int("worker", idx), zap.String("job", t.id))
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
	if job.Terminal() {
		m.pruneLocked()
	}
}

// pruneLocked 清理过期的已结束任务，并把数量限制在 MaxFinished 以内；调用方持有 m.mu
func (m *Manager) pruneLocked() {
	now := m.now()
	finished := make([]*Job, 0, len(m.jobs))
	for id, job := range m.jobs {
		if !job.Terminal() {
			continue
		}
		if m.opts.Retention > 0 && now.Sub(job.UpdatedAt) > m.opts.Retention {
			delete(m.jobs, id)
			continue
		}
		finished = append(finished, job)
	}
	if len(finished) <= m.opts.MaxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].UpdatedAt.Before(finished[j].UpdatedAt) })
	for _, job := range finished[:len(finished)-m.opts.MaxFinished] {
		delete(m.jobs, job.ID)
	}
	m.logger.Debug("清理已结束的审计任务", zap.Int("removed", len(finished)-m.opts.MaxFinished))
}

func (j *Job) clone() Job {
	out := *j
	out.Steps = append([]core.Step(nil), j.Steps...)
	if j.Score != nil {
		score := *j.Score
		out.Score = &score
	}
	return out
}
