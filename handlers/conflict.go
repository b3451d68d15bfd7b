package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/models"
	"zh.xyz/dv/pgsync/service"
	"zh.xyz/dv/pgsync/utils"
)

type ConflictHandler struct{}

// ListConflicts 列出冲突记录，支持按任务和状态过滤
func (h *ConflictHandler) ListConflicts(c *gin.Context) {
	userID, _ := c.Get("user_id")

	var conflicts []models.DataConflict
	query := database.DB.Preload("Job").Preload("Resolver").
		Joins("JOIN sync_jobs ON sync_jobs.id = data_conflicts.job_id").
		Where("sync_jobs.created_by = ?", userID)

	if jobID := c.Query("job_id"); jobID != "" {
		query = query.Where("data_conflicts.job_id = ?", jobID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("data_conflicts.status = ?", status)
	}

	if err := query.Order("data_conflicts.created_at DESC").Find(&conflicts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": conflicts})
}

// GetConflict 获取单条冲突详情（含两侧行数据）
func (h *ConflictHandler) GetConflict(c *gin.Context) {
	conflict, ok := h.ownedConflict(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": conflict})
}

// ResolveConflict 人工裁决冲突并把结果写回数据库
func (h *ConflictHandler) ResolveConflict(c *gin.Context) {
	userID, _ := c.Get("user_id")

	var req struct {
		Resolution string `json:"resolution" binding:"required,oneof=source target merged"` // source: 以源为准, target: 以目标为准, merged: 字段级合并
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conflict, ok := h.ownedConflict(c)
	if !ok {
		return
	}

	if conflict.Status == "resolved" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "该冲突已处理"})
		return
	}

	svc := &service.ConflictService{}
	if err := svc.ApplyResolution(c.Request.Context(), conflict, req.Resolution); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "写回裁决结果失败: " + err.Error()})
		return
	}

	uid := userID.(uint)
	now := time.Now()
	conflict.Status = "resolved"
	conflict.Resolution = req.Resolution
	conflict.ResolvedBy = &uid
	conflict.ResolvedAt = &now

	if err := database.DB.Save(conflict).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新冲突状态失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "冲突处理成功",
		"data":    conflict,
	})
}

// ViewConflictByToken 通过邮件链接中的令牌查看冲突，无需登录
func (h *ConflictHandler) ViewConflictByToken(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少token参数"})
		return
	}

	conflictID, err := utils.ParseConflictViewToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的链接"})
		return
	}

	var conflict models.DataConflict
	if err := database.DB.Preload("Job").First(&conflict, conflictID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "冲突记录不存在"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": conflict})
}

// ownedConflict 取出当前用户任务下的冲突记录
func (h *ConflictHandler) ownedConflict(c *gin.Context) (*models.DataConflict, bool) {
	userID, _ := c.Get("user_id")
	id := c.Param("id")

	var conflict models.DataConflict
	if err := database.DB.
		Preload("Job").Preload("Job.SourceDB").Preload("Job.TargetDB").
		Joins("JOIN sync_jobs ON sync_jobs.id = data_conflicts.job_id").
		Where("sync_jobs.created_by = ?", userID).
		First(&conflict, "data_conflicts.id = ?", id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "冲突记录不存在"})
		return nil, false
	}
	return &conflict, true
}
