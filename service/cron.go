package service

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"zh.xyz/dv/pgsync/config"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/models"
)

var cronManager *cron.Cron

// InitCronManager 初始化后台清理任务
// 定期清理过期的限流条目，并把保留数量之外的历史任务删掉
func InitCronManager() {
	cronManager = cron.New()

	if _, err := cronManager.AddFunc("@every 5m", purgeExpiredRateLimitEntries); err != nil {
		log.Printf("注册限流清理任务失败: %v", err)
	}
	if _, err := cronManager.AddFunc("@hourly", trimFinishedJobs); err != nil {
		log.Printf("注册任务清理失败: %v", err)
	}

	cronManager.Start()
}

// purgeExpiredRateLimitEntries 删除已过期的限流窗口条目
// 限流脚本本身也会顺带清理，这里兜底处理不再被访问的桶
func purgeExpiredRateLimitEntries() {
	result := database.DB.Where("expires_at <= ?", time.Now()).Delete(&models.RateLimitEntry{})
	if result.Error != nil {
		log.Printf("清理限流条目失败: %v", result.Error)
	}
}

// trimFinishedJobs 已完成/失败的任务只保留最近 N 条
func trimFinishedJobs() {
	retain := config.GlobalConfig.Queue.RetainJobs

	var ids []uint
	err := database.DB.Model(&models.SyncJob{}).
		Where("status IN ?", []string{models.JobStatusCompleted, models.JobStatusFailed}).
		Order("updated_at DESC").
		Offset(retain).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return
	}

	database.DB.Where("job_id IN ?", ids).Delete(&models.SyncLog{})
	database.DB.Where("job_id IN ?", ids).Delete(&models.DataConflict{})
	database.DB.Delete(&models.SyncJob{}, ids)
}
