package core

import (
	"errors"
	"fmt"
)

// StepStatus 步骤状态
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepLoading   StepStatus = "loading"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// 审计流程的两个步骤
const (
	LabelFetch = "Fetching smart contract contents"
	LabelAudit = "Generating audit report"
)

// 步骤下标
const (
	StepFetch = iota
	StepAudit
)

// ErrInvalidTransition 非法的状态迁移
var ErrInvalidTransition = errors.New("invalid step transition")

// Step 单个步骤
type Step struct {
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Terminal completed 和 failed 为终态
func (s Step) Terminal() bool {
	return s.Status == StepCompleted || s.Status == StepFailed
}

// Progress 有序步骤列表。不是并发安全的，由调用方加锁。
type Progress struct {
	steps []Step
}

// NewProgress 创建所有步骤都为 pending 的进度
func NewProgress(labels ...string) *Progress {
	steps := make([]Step, len(labels))
	for i, label := range labels {
		steps[i] = Step{Label: label, Status: StepPending}
	}
	return &Progress{steps: steps}
}

// NewAuditProgress 拉取 -> 审计 两步
func NewAuditProgress() *Progress {
	return NewProgress(LabelFetch, LabelAudit)
}

// Start pending -> loading
func (p *Progress) Start(i int) error {
	return p.transition(i, StepPending, StepLoading, "")
}

// Complete loading -> completed
func (p *Progress) Complete(i int) error {
	return p.transition(i, StepLoading, StepCompleted, "")
}

// Fail loading -> failed，并记录错误
func (p *Progress) Fail(i int, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return p.transition(i, StepLoading, StepFailed, msg)
}

// Reset 所有步骤回到 pending，用于重新运行
func (p *Progress) Reset() {
	for i := range p.steps {
		p.steps[i].Status = StepPending
		p.steps[i].Error = ""
	}
}

// Steps 返回步骤快照
func (p *Progress) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Done 所有步骤都已完成
func (p *Progress) Done() bool {
	for _, s := range p.steps {
		if s.Status != StepCompleted {
			return false
		}
	}
	return true
}

// Failed 返回第一个失败的步骤
func (p *Progress) Failed() (Step, bool) {
	for _, s := range p.steps {
		if s.Status == StepFailed {
			return s, true
		}
	}
	return Step{}, false
}

func (p *Progress) transition(i int, from, to StepStatus, errMsg string) error {
	if i < 0 || i >= len(p.steps) {
		return fmt.Errorf("%w: step %d out of range", ErrInvalidTransition, i)
	}
	cur := p.steps[i].Status
	if cur != from {
		return fmt.Errorf("%w: %q is %s, cannot move to %s", ErrInvalidTransition, p.steps[i].Label, cur, to)
	}
	p.steps[i].Status = to
	p.steps[i].Error = errMsg
	return nil
}

// Run 把 fn 包在 Start / Complete / Fail 之间执行，返回 fn 的错误。
// onChange 可为空，在每次状态变化后调用。
func Run(p *Progress, i int, fn func() error, onChange func()) error {
	notify := func() {
		if onChange != nil {
			onChange()
		}
	}
	if err := p.Start(i); err != nil {
		return err
	}
	notify()
	defer notify()
	if err := fn(); err != nil {
		if ferr := p.Fail(i, err); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	return p.Complete(i)
}
