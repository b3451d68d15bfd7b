package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/dbconn"
	"zh.xyz/dv/pgsync/models"
	"zh.xyz/dv/pgsync/service"
)

type SchemaHandler struct{}

// InspectSchema 读取连接的完整结构信息
func (h *SchemaHandler) InspectSchema(c *gin.Context) {
	conn, ok := loadOwnedConnection(c, c.Param("id"))
	if !ok {
		return
	}

	db, err := dbconn.OpenConnection(conn)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer db.Close()

	inspector := &service.InspectorService{}
	schema, err := inspector.InspectDatabase(c.Request.Context(), db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "结构检查失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schema})
}

// ValidateSchemas 比较两个连接的结构
func (h *SchemaHandler) ValidateSchemas(c *gin.Context) {
	var req struct {
		SourceID uint     `json:"source_id" binding:"required"`
		TargetID uint     `json:"target_id" binding:"required"`
		Tables   []string `json:"tables"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sourceSchema, targetSchema, targetConn, ok := inspectPair(c, req.SourceID, req.TargetID)
	if !ok {
		return
	}

	validator := &service.ValidatorService{}
	result := validator.ValidateSchemas(sourceSchema, targetSchema, req.Tables, targetConn.Environment)

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GenerateMigration 生成迁移计划
// 携带 issue_id 时只为该问题生成快速修复，无安全修复返回 null
func (h *SchemaHandler) GenerateMigration(c *gin.Context) {
	var req struct {
		SourceID  uint     `json:"source_id" binding:"required"`
		TargetID  uint     `json:"target_id" binding:"required"`
		Tables    []string `json:"tables"`
		Direction string   `json:"direction" binding:"required,oneof=one_way two_way"`
		IssueID   string   `json:"issue_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sourceSchema, targetSchema, targetConn, ok := inspectPair(c, req.SourceID, req.TargetID)
	if !ok {
		return
	}

	validator := &service.ValidatorService{}
	result := validator.ValidateSchemas(sourceSchema, targetSchema, req.Tables, targetConn.Environment)

	migration := &service.MigrationService{}

	if req.IssueID != "" {
		fix := migration.GenerateQuickFix(result, sourceSchema, targetSchema, req.IssueID)
		if fix == nil {
			// 无法推导安全修复，调用方转人工处理
			c.JSON(http.StatusOK, gin.H{"data": nil, "message": "该问题没有可自动生成的安全修复"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": fix})
		return
	}

	plan := migration.GenerateMigrationPlan(result, sourceSchema, targetSchema, req.Direction)
	c.JSON(http.StatusOK, gin.H{"data": plan})
}

// loadOwnedConnection 取出当前用户名下的连接记录
func loadOwnedConnection(c *gin.Context, id interface{}) (*models.DatabaseConnection, bool) {
	userID, _ := c.Get("user_id")

	var conn models.DatabaseConnection
	if err := database.DB.Where("created_by = ?", userID).First(&conn, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "数据库连接不存在"})
		return nil, false
	}
	return &conn, true
}

// inspectPair 打开源/目标连接并各读一次结构
func inspectPair(c *gin.Context, sourceID, targetID uint) (*models.DatabaseSchema, *models.DatabaseSchema, *models.DatabaseConnection, bool) {
	sourceConn, ok := loadOwnedConnection(c, sourceID)
	if !ok {
		return nil, nil, nil, false
	}
	targetConn, ok := loadOwnedConnection(c, targetID)
	if !ok {
		return nil, nil, nil, false
	}

	sourceDB, err := dbconn.OpenConnection(sourceConn)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "连接源数据库失败: " + err.Error()})
		return nil, nil, nil, false
	}
	defer sourceDB.Close()

	targetDB, err := dbconn.OpenConnection(targetConn)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "连接目标数据库失败: " + err.Error()})
		return nil, nil, nil, false
	}
	defer targetDB.Close()

	inspector := &service.InspectorService{}
	sourceSchema, err := inspector.InspectDatabase(c.Request.Context(), sourceDB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检查源库结构失败: " + err.Error()})
		return nil, nil, nil, false
	}
	targetSchema, err := inspector.InspectDatabase(c.Request.Context(), targetDB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检查目标库结构失败: " + err.Error()})
		return nil, nil, nil, false
	}

	return sourceSchema, targetSchema, targetConn, true
}

// openPair 打开源/目标两个数据面连接，调用方负责关闭
func openPair(c *gin.Context, source, target *models.DatabaseConnection) (*sql.DB, *sql.DB, bool) {
	sourceDB, err := dbconn.OpenConnection(source)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "连接源数据库失败: " + err.Error()})
		return nil, nil, false
	}

	targetDB, err := dbconn.OpenConnection(target)
	if err != nil {
		sourceDB.Close()
		c.JSON(http.StatusBadGateway, gin.H{"error": "连接目标数据库失败: " + err.Error()})
		return nil, nil, false
	}

	return sourceDB, targetDB, true
}
