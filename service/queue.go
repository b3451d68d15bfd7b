package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"zh.xyz/dv/pgsync/config"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/models"
)

// JobQueue 后台任务队列
// 调用方入队后立即返回，任务状态变化通过轮询任务记录观察
type JobQueue struct {
	jobs    chan uint
	workers int
}

var Queue *JobQueue

// InitQueue 初始化任务队列并启动工作协程
func InitQueue() {
	cfg := config.GlobalConfig.Queue

	Queue = &JobQueue{
		jobs:    make(chan uint, 100),
		workers: cfg.Workers,
	}

	// 进程崩溃时残留的 running 任务标记为 failed，检查点保留，可手动重启续传
	database.DB.Model(&models.SyncJob{}).
		Where("status = ?", models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":     models.JobStatusFailed,
			"last_error": "执行器重启，任务中断",
		})

	for i := 0; i < Queue.workers; i++ {
		go Queue.worker()
	}
}

// Enqueue 把任务放入队列，立即返回
func (q *JobQueue) Enqueue(jobID uint) error {
	select {
	case q.jobs <- jobID:
		return nil
	default:
		return fmt.Errorf("任务队列已满，请稍后重试")
	}
}

// worker 依次执行队列里的任务
// 同一任务不会被两个 worker 同时执行：执行器领取任务时的条件更新会让后来者失败
func (q *JobQueue) worker() {
	executor := &ExecutorService{}
	cfg := config.GlobalConfig.Queue

	for jobID := range q.jobs {
		err := executor.Run(context.Background(), jobID)
		if err == nil {
			continue
		}

		log.Printf("任务 %d 执行失败: %v", jobID, err)

		// 结构问题和未确认属于操作者问题，自动重试没有意义
		var schemaErr *models.SchemaError
		var confirmErr *models.ConfirmationRequiredError
		if errors.As(err, &schemaErr) || errors.As(err, &confirmErr) {
			continue
		}

		q.retryLater(jobID, cfg)
	}
}

// retryLater 指数退避后重新入队，直到用完重试预算
func (q *JobQueue) retryLater(jobID uint, cfg config.QueueConfig) {
	var job models.SyncJob
	if err := database.DB.First(&job, jobID).Error; err != nil {
		return
	}

	if job.Attempts+1 >= cfg.MaxAttempts {
		database.DB.Model(&models.SyncJob{}).Where("id = ?", jobID).
			Update("last_error", fmt.Sprintf("重试 %d 次后放弃: %s", job.Attempts, job.LastError))
		return
	}

	database.DB.Model(&models.SyncJob{}).Where("id = ?", jobID).
		Update("attempts", job.Attempts+1)

	backoff := time.Duration(cfg.BackoffBaseMS) * time.Millisecond
	for i := 0; i < job.Attempts; i++ {
		backoff *= 2
	}

	go func() {
		time.Sleep(backoff)
		if err := q.Enqueue(jobID); err != nil {
			log.Printf("任务 %d 重新入队失败: %v", jobID, err)
		}
	}()
}
