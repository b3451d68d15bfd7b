package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/pgsync/config"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/models"
	"zh.xyz/dv/pgsync/service"
)

type SyncHandler struct{}

// DryRun 试运行：结构校验 + 差异预览，完全只读
func (h *SyncHandler) DryRun(c *gin.Context) {
	var req struct {
		SourceID uint     `json:"source_id" binding:"required"`
		TargetID uint     `json:"target_id" binding:"required"`
		Tables   []string `json:"tables"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sourceConn, ok := loadOwnedConnection(c, req.SourceID)
	if !ok {
		return
	}
	targetConn, ok := loadOwnedConnection(c, req.TargetID)
	if !ok {
		return
	}

	sourceDB, targetDB, ok := openPair(c, sourceConn, targetConn)
	if !ok {
		return
	}
	defer sourceDB.Close()
	defer targetDB.Close()

	cfg := config.GlobalConfig.Sync
	diff := &service.DiffService{}
	result, validation, err := diff.DryRun(c.Request.Context(), sourceDB, targetDB, req.Tables,
		targetConn.Environment, cfg.BatchSize, cfg.SampleLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "试运行失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       result,
		"validation": validation,
	})
}

// CreateJob 创建同步任务（status=pending，不会自动开始执行）
func (h *SyncHandler) CreateJob(c *gin.Context) {
	userID, _ := c.Get("user_id")

	var req struct {
		Name         string                   `json:"name" binding:"required"`
		SourceID     uint                     `json:"source_id" binding:"required"`
		TargetID     uint                     `json:"target_id" binding:"required"`
		Direction    string                   `json:"direction" binding:"required,oneof=one_way two_way"`
		TablesConfig []models.TableSyncConfig `json:"tables_config" binding:"required,min=1"`
		Confirmed    bool                     `json:"confirmed"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, ok := loadOwnedConnection(c, req.SourceID); !ok {
		return
	}
	if _, ok := loadOwnedConnection(c, req.TargetID); !ok {
		return
	}

	for _, tc := range req.TablesConfig {
		if tc.ConflictStrategy != "" && !validStrategy(tc.ConflictStrategy) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的冲突解决策略: " + tc.ConflictStrategy})
			return
		}
	}

	tablesJSON, _ := json.Marshal(req.TablesConfig)

	job := models.SyncJob{
		Name:         req.Name,
		SourceDBID:   req.SourceID,
		TargetDBID:   req.TargetID,
		Direction:    req.Direction,
		TablesConfig: string(tablesJSON),
		Status:       models.JobStatusPending,
		Confirmed:    req.Confirmed,
		CreatedBy:    userID.(uint),
	}

	if err := database.DB.Create(&job).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建同步任务失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "同步任务创建成功",
		"data":    job,
	})
}

// ListJobs 列出当前用户的同步任务
func (h *SyncHandler) ListJobs(c *gin.Context) {
	userID, _ := c.Get("user_id")

	var jobs []models.SyncJob
	query := database.DB.Preload("SourceDB").Preload("TargetDB").
		Where("created_by = ?", userID)

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Order("created_at DESC").Find(&jobs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// GetJob 获取单个同步任务（含进度和检查点）
func (h *SyncHandler) GetJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

// StartJob 启动同步任务：入队后立即返回 accepted
// 后续状态变化通过轮询任务记录观察
// 目标为生产环境且未确认时直接拒绝，不会进入队列
func (h *SyncHandler) StartJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	switch job.Status {
	case models.JobStatusPending, models.JobStatusPaused, models.JobStatusFailed:
		// 可启动
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务当前状态不可启动: " + job.Status})
		return
	}

	// 生产目标的确认闸门：未确认直接拒绝，这不是普通的校验失败
	if job.TargetDB.Environment == models.EnvProduction && !job.Confirmed {
		c.JSON(http.StatusForbidden, gin.H{
			"error":                 "目标连接是生产环境，需要确认后才能执行",
			"confirmation_required": true,
		})
		return
	}

	if err := service.Queue.Enqueue(job.ID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "data": gin.H{"job_id": job.ID}})
}

// PauseJob 请求暂停：写入协作标志，执行器在下一个批次边界停下
func (h *SyncHandler) PauseJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	if job.Status != models.JobStatusRunning {
		c.JSON(http.StatusBadRequest, gin.H{"error": "只有运行中的任务可以暂停"})
		return
	}

	database.DB.Model(&models.SyncJob{}).Where("id = ?", job.ID).
		Update("control", models.ControlPause)

	c.JSON(http.StatusOK, gin.H{"message": "暂停请求已提交，任务将在当前批次结束后暂停"})
}

// CancelJob 请求取消：运行中的任务在批次边界停下，未运行的直接终止
func (h *SyncHandler) CancelJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	switch job.Status {
	case models.JobStatusRunning:
		database.DB.Model(&models.SyncJob{}).Where("id = ?", job.ID).
			Update("control", models.ControlCancel)
		c.JSON(http.StatusOK, gin.H{"message": "取消请求已提交，任务将在当前批次结束后停止"})
	case models.JobStatusPending, models.JobStatusPaused:
		database.DB.Model(&models.SyncJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":     models.JobStatusFailed,
			"last_error": "任务已取消",
		})
		c.JSON(http.StatusOK, gin.H{"message": "任务已取消"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务当前状态不可取消: " + job.Status})
	}
}

// ResumeJob 恢复暂停/失败的任务，从检查点继续
func (h *SyncHandler) ResumeJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	if job.Status != models.JobStatusPaused && job.Status != models.JobStatusFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "只有暂停或失败的任务可以恢复"})
		return
	}

	if job.TargetDB.Environment == models.EnvProduction && !job.Confirmed {
		c.JSON(http.StatusForbidden, gin.H{
			"error":                 "目标连接是生产环境，需要确认后才能执行",
			"confirmation_required": true,
		})
		return
	}

	if err := service.Queue.Enqueue(job.ID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "data": gin.H{"job_id": job.ID}})
}

// DeleteJob 删除同步任务及其日志和冲突记录
func (h *SyncHandler) DeleteJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	if job.Status == models.JobStatusRunning {
		c.JSON(http.StatusBadRequest, gin.H{"error": "运行中的任务不能删除，请先取消"})
		return
	}

	database.DB.Where("job_id = ?", job.ID).Delete(&models.SyncLog{})
	database.DB.Where("job_id = ?", job.ID).Delete(&models.DataConflict{})
	if err := database.DB.Delete(job).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// GetJobLogs 获取同步日志
func (h *SyncHandler) GetJobLogs(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	var logs []models.SyncLog
	if err := database.DB.Where("job_id = ?", job.ID).
		Order("created_at DESC").Limit(100).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// ownedJob 取出当前用户名下的任务
func (h *SyncHandler) ownedJob(c *gin.Context) (*models.SyncJob, bool) {
	userID, _ := c.Get("user_id")
	id := c.Param("id")

	var job models.SyncJob
	if err := database.DB.Preload("SourceDB").Preload("TargetDB").
		Where("created_by = ?", userID).First(&job, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "同步任务不存在"})
		return nil, false
	}
	return &job, true
}

func validStrategy(strategy string) bool {
	switch strategy {
	case models.StrategySourceWins, models.StrategyTargetWins,
		models.StrategyLastWriteWins, models.StrategyMerge, models.StrategyManual:
		return true
	}
	return false
}
