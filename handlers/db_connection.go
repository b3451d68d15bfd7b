package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/pgsync/config"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/dbconn"
	"zh.xyz/dv/pgsync/models"
	"zh.xyz/dv/pgsync/utils"
)

type DBConnectionHandler struct{}

// CreateConnection 创建数据库连接
// 连接串先测试连通性，再加密入库，不会以明文落盘或写日志
func (h *DBConnectionHandler) CreateConnection(c *gin.Context) {
	userID, _ := c.Get("user_id")

	var req struct {
		Name        string `json:"name" binding:"required"`
		Environment string `json:"environment" binding:"required,oneof=production development"`
		ConnString  string `json:"conn_string" binding:"required"`
		Description string `json:"description"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 测试连接
	if err := dbconn.TestDSN(req.ConnString); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "数据库连接测试失败: " + err.Error()})
		return
	}

	encrypted, err := utils.EncryptString(req.ConnString, config.GlobalConfig.Encryption.Key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "加密连接串失败"})
		return
	}

	conn := models.DatabaseConnection{
		Name:        req.Name,
		Environment: req.Environment,
		ConnString:  encrypted,
		Description: req.Description,
		Status:      "active",
		CreatedBy:   userID.(uint),
	}

	if err := database.DB.Create(&conn).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建数据库连接失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "数据库连接创建成功",
		"data":    conn,
	})
}

// ListConnections 列出当前用户的数据库连接
func (h *DBConnectionHandler) ListConnections(c *gin.Context) {
	userID, _ := c.Get("user_id")

	var connections []models.DatabaseConnection
	if err := database.DB.Where("created_by = ?", userID).Find(&connections).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": connections})
}

// GetConnection 获取单个数据库连接
func (h *DBConnectionHandler) GetConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": conn})
}

// UpdateConnection 更新数据库连接
func (h *DBConnectionHandler) UpdateConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Environment string `json:"environment"`
		ConnString  string `json:"conn_string"`
		Description string `json:"description"`
		Status      string `json:"status"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.Environment != "" {
		if req.Environment != models.EnvProduction && req.Environment != models.EnvDevelopment {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的环境标签"})
			return
		}
		conn.Environment = req.Environment
	}
	if req.ConnString != "" {
		if err := dbconn.TestDSN(req.ConnString); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "数据库连接测试失败: " + err.Error()})
			return
		}
		encrypted, err := utils.EncryptString(req.ConnString, config.GlobalConfig.Encryption.Key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "加密连接串失败"})
			return
		}
		conn.ConnString = encrypted
	}
	if req.Description != "" {
		conn.Description = req.Description
	}
	if req.Status != "" {
		conn.Status = req.Status
	}

	if err := database.DB.Save(conn).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "更新成功",
		"data":    conn,
	})
}

// DeleteConnection 删除数据库连接
func (h *DBConnectionHandler) DeleteConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}

	if err := database.DB.Delete(conn).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// TestConnection 测试数据库连接（不入库）
// 超时和明确拒绝返回不同的提示
func (h *DBConnectionHandler) TestConnection(c *gin.Context) {
	var req struct {
		ConnString string `json:"conn_string" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := dbconn.TestDSN(req.ConnString); err != nil {
		var connErr *models.ConnectionError
		timeout := errors.As(err, &connErr) && connErr.Timeout
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"timeout": timeout,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "连接成功",
	})
}

// ownedConnection 取出当前用户名下的连接，不属于当前用户按不存在处理
func (h *DBConnectionHandler) ownedConnection(c *gin.Context) (*models.DatabaseConnection, bool) {
	userID, _ := c.Get("user_id")
	id := c.Param("id")

	var conn models.DatabaseConnection
	if err := database.DB.Where("created_by = ?", userID).First(&conn, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "数据库连接不存在"})
		return nil, false
	}
	return &conn, true
}
