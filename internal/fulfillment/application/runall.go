// internal/fulfillment/application/runall.go
package application

import (
	"context"
	"fmt"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Task 一个有名字的并发子任务
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskResult 子任务的执行结果
type TaskResult struct {
	Name string
	Err  error
}

// RunAll 并发执行一组子任务并等全部完成。
// 单个任务的失败（包括 panic）只进结果，不向上冒泡，
// 也不取消其他任务：一个渠道挂了不能拖垮整个作业。
func RunAll(ctx context.Context, limit int, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = TaskResult{Name: task.Name, Err: fmt.Errorf("panic: %v", r)}
					zlog.Ctx(ctx).Error().
						Str("task", task.Name).
						Interface("panic", r).
						Msg("task panicked")
				}
			}()
			results[i] = TaskResult{Name: task.Name, Err: task.Run(ctx)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
