package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/models"
)

// setupTestDB 用内存库替换控制库，结构与生产迁移保持一致
func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.DatabaseConnection{},
		&models.SyncJob{},
		&models.DataConflict{},
		&models.SyncLog{},
		&models.RateLimitEntry{},
	))
	database.DB = db
}

func jobRequest(t *testing.T, jobID uint, userID uint) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("user_id", userID)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(jobID)}}
	return c, w
}

// 删除任务时日志和冲突记录一并删除，不留孤儿数据
func TestDeleteJob_RemovesLogsAndConflicts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	setupTestDB(t)

	job := models.SyncJob{
		Name:       "清理测试",
		SourceDBID: 1,
		TargetDBID: 2,
		Direction:  models.DirectionOneWay,
		Status:     models.JobStatusCompleted,
		CreatedBy:  1,
	}
	require.NoError(t, database.DB.Create(&job).Error)
	require.NoError(t, database.DB.Create(&models.SyncLog{
		JobID: job.ID, LogType: "info", Message: "同步完成",
	}).Error)
	require.NoError(t, database.DB.Create(&models.DataConflict{
		JobID: job.ID, TableName: "users", PrimaryKey: `{"id":1}`, Status: "pending",
	}).Error)

	c, w := jobRequest(t, job.ID, 1)
	h := &SyncHandler{}
	h.DeleteJob(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var jobCount, logCount, conflictCount int64
	database.DB.Model(&models.SyncJob{}).Where("id = ?", job.ID).Count(&jobCount)
	database.DB.Model(&models.SyncLog{}).Where("job_id = ?", job.ID).Count(&logCount)
	database.DB.Model(&models.DataConflict{}).Where("job_id = ?", job.ID).Count(&conflictCount)
	assert.Zero(t, jobCount)
	assert.Zero(t, logCount, "日志应随任务删除")
	assert.Zero(t, conflictCount, "冲突记录应随任务删除")
}

// 运行中的任务不能直接删除
func TestDeleteJob_RejectsRunning(t *testing.T) {
	gin.SetMode(gin.TestMode)
	setupTestDB(t)

	job := models.SyncJob{
		Name:       "运行中",
		SourceDBID: 1,
		TargetDBID: 2,
		Direction:  models.DirectionOneWay,
		Status:     models.JobStatusRunning,
		CreatedBy:  1,
	}
	require.NoError(t, database.DB.Create(&job).Error)

	c, w := jobRequest(t, job.ID, 1)
	h := &SyncHandler{}
	h.DeleteJob(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	database.DB.Model(&models.SyncJob{}).Where("id = ?", job.ID).Count(&count)
	assert.EqualValues(t, 1, count)
}

// 任务属主范围：别人的任务对当前用户不可见
func TestDeleteJob_ScopedToOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	setupTestDB(t)

	job := models.SyncJob{
		Name:       "他人任务",
		SourceDBID: 1,
		TargetDBID: 2,
		Direction:  models.DirectionOneWay,
		Status:     models.JobStatusCompleted,
		CreatedBy:  2,
	}
	require.NoError(t, database.DB.Create(&job).Error)

	c, w := jobRequest(t, job.ID, 1)
	h := &SyncHandler{}
	h.DeleteJob(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// 未开始的任务取消后直接转为 failed，并记录取消原因
func TestCancelJob_PendingFailsImmediately(t *testing.T) {
	gin.SetMode(gin.TestMode)
	setupTestDB(t)

	job := models.SyncJob{
		Name:       "待取消",
		SourceDBID: 1,
		TargetDBID: 2,
		Direction:  models.DirectionOneWay,
		Status:     models.JobStatusPending,
		CreatedBy:  1,
	}
	require.NoError(t, database.DB.Create(&job).Error)

	c, w := jobRequest(t, job.ID, 1)
	h := &SyncHandler{}
	h.CancelJob(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var reloaded models.SyncJob
	require.NoError(t, database.DB.First(&reloaded, job.ID).Error)
	assert.Equal(t, models.JobStatusFailed, reloaded.Status)
	assert.Equal(t, "任务已取消", reloaded.LastError)
}
