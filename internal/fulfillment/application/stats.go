// internal/fulfillment/application/stats.go
package application

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// 统计里错误列表的上限，防止一次大面积故障把统计报文撑爆
const maxStatErrors = 20

// JobStatus 作业单次执行的结论
type JobStatus string

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusPartial JobStatus = "PARTIAL" // 有失败但不是全军覆没
	JobStatusFailed  JobStatus = "FAILED"
)

// JobRunReport 一次作业执行的统计快照，可以直接序列化发往 kafka
type JobRunReport struct {
	RunID      string     `json:"run_id"`
	JobName    string     `json:"job_name"`
	Status     JobStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	Errors []string `json:"errors,omitempty"`
}

// JobStats 一次作业执行期间的并发安全计数器。
// 作业内部的并发子任务共享同一个实例。
type JobStats struct {
	mu     sync.Mutex
	report JobRunReport
}

// NewJobStats 开始一次作业执行的计数
func NewJobStats(jobName string) *JobStats {
	return &JobStats{
		report: JobRunReport{
			RunID:     uuid.NewString(),
			JobName:   jobName,
			Status:    JobStatusRunning,
			StartedAt: time.Now(),
		},
	}
}

// AddFetched 累计拉取条数
func (s *JobStats) AddFetched(n int) {
	s.mu.Lock()
	s.report.Fetched += n
	s.mu.Unlock()
}

// AddProcessed 累计成功处理条数
func (s *JobStats) AddProcessed(n int) {
	s.mu.Lock()
	s.report.Processed += n
	s.mu.Unlock()
}

// AddSkipped 累计幂等跳过条数
func (s *JobStats) AddSkipped(n int) {
	s.mu.Lock()
	s.report.Skipped += n
	s.mu.Unlock()
}

// AddError 记一次失败，错误文本超过上限后只计数不存文本
func (s *JobStats) AddError(msg string) {
	s.mu.Lock()
	s.report.Failed++
	if len(s.report.Errors) < maxStatErrors {
		s.report.Errors = append(s.report.Errors, msg)
	}
	s.mu.Unlock()
}

// Failed 当前失败计数
func (s *JobStats) FailedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report.Failed
}

// Finish 结束计数并给出结论：
// 没有失败是 SUCCESS，有失败但也有成功是 PARTIAL，全失败是 FAILED。
func (s *JobStats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.report.FinishedAt = &now
	switch {
	case s.report.Failed == 0:
		s.report.Status = JobStatusSuccess
	case s.report.Processed > 0 || s.report.Skipped > 0:
		s.report.Status = JobStatusPartial
	default:
		s.report.Status = JobStatusFailed
	}
}

// Snapshot 拷贝一份当前计数
func (s *JobStats) Snapshot() JobRunReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.report
	out.Errors = append([]string(nil), s.report.Errors...)
	return out
}
