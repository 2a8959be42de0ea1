// internal/fulfillment/scheduler/scheduler.go
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	zlog "github.com/rs/zerolog/log"

	"dropship/internal/fulfillment/application"
	"dropship/internal/zookeeper"
)

// 最近 N 次执行统计保留在内存里，给健康检查和排障用
const statsRingSize = 32

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_job_runs_total",
		Help: "Number of job runs by job name and result.",
	}, []string{"job", "result"})

	jobSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_job_skips_total",
		Help: "Number of runs skipped because a prior run is still in flight.",
	}, []string{"job", "reason"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_job_duration_seconds",
		Help:    "Job run duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"job"})

	jobOrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_job_orders_failed_total",
		Help: "Per-order failures recorded by jobs.",
	}, []string{"job"})
)

// Job 一个被调度的周期作业
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) *application.JobStats

	running atomic.Bool
}

// StatsPublisher 作业统计的出口
type StatsPublisher interface {
	PublishStats(ctx context.Context, jobName string, stats interface{})
}

// Scheduler 把履约作业跑在各自独立的节拍上。
// 同名作业不重叠：上一轮还没跑完时跳过本轮；
// 多实例部署时可选的 zookeeper 锁保证跨实例也不重叠。
// 单个作业 panic 被捕获记录，不影响其他作业和该作业的后续轮次。
type Scheduler struct {
	jobs      []*Job
	zk        *zookeeper.Conn // 可以为 nil，单实例部署不需要
	publisher StatsPublisher

	mu      sync.Mutex
	recent  map[string][]application.JobRunReport
	stopped chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(zk *zookeeper.Conn, publisher StatsPublisher) *Scheduler {
	return &Scheduler{
		zk:        zk,
		publisher: publisher,
		recent:    make(map[string][]application.JobRunReport),
		stopped:   make(chan struct{}),
	}
}

// AddJob 注册一个作业，必须在 Start 之前调用
func (s *Scheduler) AddJob(name string, interval time.Duration, run func(ctx context.Context) *application.JobStats) {
	s.jobs = append(s.jobs, &Job{Name: name, Interval: interval, Run: run})
}

// Start 启动所有作业的节拍循环，立即返回
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.stopped:
					return
				case <-ticker.C:
					s.runJob(ctx, job)
				}
			}
		}()
	}
	zlog.Ctx(ctx).Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop 停止调度并等所有在途作业跑完
func (s *Scheduler) Stop() {
	close(s.stopped)
	s.wg.Wait()
}

// RunNow 立即触发一次作业，给启动预热和手工运维用
func (s *Scheduler) RunNow(ctx context.Context, name string) {
	for _, job := range s.jobs {
		if job.Name == name {
			s.runJob(ctx, job)
			return
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	logger := zlog.Ctx(ctx).With().Str("job", job.Name).Logger()

	// 进程内防重叠
	if !job.running.CompareAndSwap(false, true) {
		jobSkips.WithLabelValues(job.Name, "overlap").Inc()
		logger.Warn().Msg("previous run still in flight, skipping")
		return
	}
	defer job.running.Store(false)

	// 跨实例防重叠
	var lock *zookeeper.JobLock
	if s.zk != nil {
		l, err := zookeeper.NewJobLock(s.zk, job.Name)
		if err != nil {
			logger.Error().Err(err).Msg("job lock init failed, skipping run")
			jobSkips.WithLabelValues(job.Name, "lock_error").Inc()
			return
		}
		ok, err := l.TryLock()
		if err != nil {
			logger.Error().Err(err).Msg("job lock attempt failed, skipping run")
			jobSkips.WithLabelValues(job.Name, "lock_error").Inc()
			return
		}
		if !ok {
			jobSkips.WithLabelValues(job.Name, "held_elsewhere").Inc()
			logger.Info().Msg("job held by another instance, skipping")
			return
		}
		lock = l
	}

	started := time.Now()
	defer func() {
		if lock != nil {
			if err := lock.Unlock(); err != nil {
				logger.Warn().Err(err).Msg("job lock release failed")
			}
		}
		if r := recover(); r != nil {
			// 单个作业崩溃不能波及调度器，记下来等下一轮
			jobRuns.WithLabelValues(job.Name, "panic").Inc()
			logger.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	logger.Info().Msg("job run starting")
	stats := job.Run(ctx)
	jobDuration.WithLabelValues(job.Name).Observe(time.Since(started).Seconds())

	if stats == nil {
		jobRuns.WithLabelValues(job.Name, "unknown").Inc()
		return
	}
	snapshot := stats.Snapshot()
	jobRuns.WithLabelValues(job.Name, string(snapshot.Status)).Inc()
	jobOrdersFailed.WithLabelValues(job.Name).Add(float64(snapshot.Failed))

	s.remember(snapshot)
	if s.publisher != nil {
		s.publisher.PublishStats(ctx, job.Name, snapshot)
	}

	logger.Info().
		Str("status", string(snapshot.Status)).
		Int("fetched", snapshot.Fetched).
		Int("processed", snapshot.Processed).
		Int("skipped", snapshot.Skipped).
		Int("failed", snapshot.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("job run finished")
}

func (s *Scheduler) remember(snapshot application.JobRunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := append(s.recent[snapshot.JobName], snapshot)
	if len(ring) > statsRingSize {
		ring = ring[len(ring)-statsRingSize:]
	}
	s.recent[snapshot.JobName] = ring
}

// RecentStats 返回某个作业最近的执行统计，新→旧
func (s *Scheduler) RecentStats(name string) []application.JobRunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.recent[name]
	out := make([]application.JobRunReport, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[i])
	}
	return out
}
