package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"zh.xyz/dv/pgsync/config"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/dbconn"
	"zh.xyz/dv/pgsync/models"
)

// ExecutorService 同步执行器
// 同一个任务同一时刻只会被一个执行器实例运行（由任务领取时的条件更新保证），
// 检查点和进度只由该实例写入，不需要额外加锁
type ExecutorService struct{}

// 批次边界检查到控制标志时通过哨兵错误中断表循环
var (
	errPaused    = errors.New("任务已暂停")
	errCancelled = errors.New("任务已取消")
)

// Run 执行一个同步任务，阻塞到任务完成、失败、暂停或取消
// 可以从 pending、paused、failed 状态启动；paused/failed 会从检查点继续
func (s *ExecutorService) Run(ctx context.Context, jobID uint) error {
	job, err := s.claimJob(jobID)
	if err != nil {
		return err
	}

	err = s.runJob(ctx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPaused):
		s.finishJob(job, models.JobStatusPaused, "")
		s.logInfo(job.ID, "任务已在批次边界暂停，检查点已保存")
		return nil
	case errors.Is(err, errCancelled):
		// 状态枚举里没有 cancelled，取消按失败收尾并保留检查点
		s.finishJob(job, models.JobStatusFailed, "任务已取消")
		s.logInfo(job.ID, "任务已在批次边界取消，检查点已保存")
		return nil
	default:
		s.finishJob(job, models.JobStatusFailed, err.Error())
		s.logError(job.ID, fmt.Sprintf("同步执行失败: %v", err))
		return err
	}
}

// claimJob 领取任务：只有可启动状态的任务才能转为 running
// 条件更新保证同一任务不会被两个执行器同时领取
func (s *ExecutorService) claimJob(jobID uint) (*models.SyncJob, error) {
	now := time.Now()
	result := database.DB.Model(&models.SyncJob{}).
		Where("id = ? AND status IN ?", jobID, []string{models.JobStatusPending, models.JobStatusPaused, models.JobStatusFailed}).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"control":    models.ControlNone,
			"started_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("任务 %d 不存在或当前状态不可启动", jobID)
	}

	var job models.SyncJob
	if err := database.DB.Preload("SourceDB").Preload("TargetDB").First(&job, jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *ExecutorService) runJob(ctx context.Context, job *models.SyncJob) error {
	// 连接串只在本次运行期间解密
	sourceDB, err := dbconn.OpenConnection(&job.SourceDB)
	if err != nil {
		return err
	}
	defer sourceDB.Close()

	targetDB, err := dbconn.OpenConnection(&job.TargetDB)
	if err != nil {
		return err
	}
	defer targetDB.Close()

	inspector := &InspectorService{}
	sourceSchema, err := inspector.InspectDatabase(ctx, sourceDB)
	if err != nil {
		return err
	}
	targetSchema, err := inspector.InspectDatabase(ctx, targetDB)
	if err != nil {
		return err
	}

	tablesConfig, err := parseTablesConfig(job.TablesConfig)
	if err != nil {
		return fmt.Errorf("解析表配置失败: %w", err)
	}

	var enabled []models.TableSyncConfig
	var tableNames []string
	for _, tc := range tablesConfig {
		if tc.Enabled {
			enabled = append(enabled, tc)
			tableNames = append(tableNames, tc.TableName)
		}
	}

	// 写入前的安全闸门：CRITICAL 问题直接拒绝，生产目标必须已确认
	validator := &ValidatorService{}
	validation := validator.ValidateSchemas(sourceSchema, targetSchema, tableNames, job.TargetDB.Environment)
	if !validation.CanProceed {
		return &models.SchemaError{Message: "存在 CRITICAL 级别的结构问题，同步被拒绝"}
	}
	if validation.RequiresConfirmation && !job.Confirmed {
		return &models.ConfirmationRequiredError{Reason: "目标为生产环境或存在 HIGH 级别问题"}
	}

	// 表循环顺序必须稳定，检查点才有意义
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].TableName < enabled[j].TableName })

	checkpoint := parseCheckpoint(job.Checkpoint)
	progress := parseProgress(job.Progress)
	progress.TotalTables = len(enabled)

	// 汇总估算行数，供进度展示
	progress.TotalRows = 0
	for _, tc := range enabled {
		if t, ok := sourceSchema.Tables[tc.TableName]; ok {
			progress.TotalRows += t.RowCount
		}
	}

	run := &jobRun{
		job:        job,
		sourceDB:   sourceDB,
		targetDB:   targetDB,
		checkpoint: checkpoint,
		progress:   progress,
	}

	for _, tc := range enabled {
		if checkpoint.Processed(tc.TableName) {
			continue // 断点续传：跳过已完整处理的表
		}

		table, ok := sourceSchema.Tables[tc.TableName]
		if !ok {
			return &models.SchemaError{Table: tc.TableName, Message: "表在源库不存在"}
		}
		if len(table.PrimaryKeys) == 0 {
			s.logWarning(job.ID, fmt.Sprintf("表 %s 没有主键，已跳过行级同步", tc.TableName))
			checkpoint.MarkProcessed(tc.TableName)
			progress.ProcessedTables++
			run.persist()
			continue
		}

		if err := s.syncTable(ctx, run, table, tc); err != nil {
			return err
		}

		checkpoint.MarkProcessed(tc.TableName)
		progress.ProcessedTables++
		run.persist()
		s.logInfo(job.ID, fmt.Sprintf("表 %s 同步完成", tc.TableName))
	}

	// 全部完成：清空检查点，记录同步点时间
	now := time.Now()
	progress.CurrentTable = ""
	database.DB.Model(&models.SyncJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"status":       models.JobStatusCompleted,
		"progress":     mustJSON(progress),
		"checkpoint":   "",
		"completed_at": now,
		"last_sync_at": now,
		"last_error":   "",
	})
	s.logInfo(job.ID, "同步任务完成")
	return nil
}

// jobRun 单次运行的可变状态，只被当前执行器实例写入
type jobRun struct {
	job        *models.SyncJob
	sourceDB   *sql.DB
	targetDB   *sql.DB
	checkpoint *models.SyncCheckpoint
	progress   *models.SyncProgress
	batchCount int
}

// persist 把进度和检查点写回任务记录（任务属主范围内的唯一更新路径）
func (r *jobRun) persist() {
	database.DB.Model(&models.SyncJob{}).Where("id = ?", r.job.ID).Updates(map[string]interface{}{
		"progress":   mustJSON(r.progress),
		"checkpoint": mustJSON(r.checkpoint),
	})
}

// syncTable 同步单张表，必要时从检查点的行位置继续
func (s *ExecutorService) syncTable(ctx context.Context, run *jobRun, table *models.DetailedTableSchema, tc models.TableSyncConfig) error {
	job := run.job
	run.progress.CurrentTable = table.Name

	// 上次运行停在本表中间时，从记录的主键之后继续
	var startAfter []interface{}
	if run.checkpoint.LastTable == table.Name && run.checkpoint.LastRowID != "" {
		var err error
		startAfter, err = decodePrimaryKey(run.checkpoint.LastRowID, table.PrimaryKeys)
		if err != nil {
			return fmt.Errorf("解析检查点失败: %w", err)
		}
		s.logInfo(job.ID, fmt.Sprintf("表 %s 从检查点 %s 之后继续", table.Name, run.checkpoint.LastRowID))
	}

	strategy := tc.ConflictStrategy
	if strategy == "" {
		strategy = models.StrategyLastWriteWins
	}

	diff := &DiffService{}
	cfg := config.GlobalConfig.Sync

	return diff.ScanChanges(ctx, run.sourceDB, run.targetDB, table, startAfter, cfg.BatchSize, func(changes []RowChange, lastKey []interface{}) error {
		var err error
		if job.Direction == models.DirectionTwoWay {
			err = s.applyTwoWay(ctx, run, table, changes, strategy)
		} else {
			err = s.applyOneWay(ctx, run, table, changes)
		}
		if err != nil {
			return err
		}

		// 批次边界：推进检查点、按节奏持久化、检查协作控制标志
		// 崩溃最多丢一批进度，不会丢整张表
		lastRow := make(models.RowData, len(table.PrimaryKeys))
		for i, pk := range table.PrimaryKeys {
			lastRow[pk] = lastKey[i]
		}
		run.checkpoint.LastTable = table.Name
		run.checkpoint.LastRowID = encodePrimaryKey(lastRow, table.PrimaryKeys)
		if t := latestUpdatedAt(changes); t != nil {
			run.checkpoint.LastUpdatedAt = t
		}

		run.batchCount++
		if cfg.CheckpointEvery <= 1 || run.batchCount%cfg.CheckpointEvery == 0 {
			run.persist()
		}

		return s.checkControl(job.ID, run)
	})
}

// applyOneWay 单向同步：整批 UPSERT 到目标库
func (s *ExecutorService) applyOneWay(ctx context.Context, run *jobRun, table *models.DetailedTableSchema, changes []RowChange) error {
	if len(changes) == 0 {
		return nil
	}

	rows := make([]models.RowData, 0, len(changes))
	for _, change := range changes {
		rows = append(rows, change.Row)
	}

	if err := upsertRows(ctx, run.targetDB, table, rows); err != nil {
		run.progress.ErrorCount++
		return &models.ExecutionError{Table: table.Name, Message: "批量写入目标库失败", Err: err}
	}

	for _, change := range changes {
		run.progress.ProcessedRows++
		if change.Kind == ChangeInsert {
			run.progress.InsertedRows++
		} else {
			run.progress.UpdatedRows++
		}
	}
	return nil
}

// applyTwoWay 双向同步：update 行先过冲突检测，解决结果写回两侧
func (s *ExecutorService) applyTwoWay(ctx context.Context, run *jobRun, table *models.DetailedTableSchema, changes []RowChange, strategy string) error {
	job := run.job
	conflictSvc := &ConflictService{}

	for _, change := range changes {
		run.progress.ProcessedRows++

		if change.Kind == ChangeInsert {
			if err := upsertRows(ctx, run.targetDB, table, []models.RowData{change.Row}); err != nil {
				run.progress.ErrorCount++
				return &models.ExecutionError{Table: table.Name, Message: "写入目标库失败", Err: err}
			}
			run.progress.InsertedRows++
			continue
		}

		if !conflictSvc.DetectConflict(change.Row, change.TargetRow, job.LastSyncAt) {
			// 只有一侧在同步点之后修改过，以较新的一侧为准决定写入方向
			// 目标侧更新时写回源库，否则源侧覆盖目标
			if sourceNewerOrEqual(change.Row, change.TargetRow) {
				if err := upsertRows(ctx, run.targetDB, table, []models.RowData{change.Row}); err != nil {
					run.progress.ErrorCount++
					return &models.ExecutionError{Table: table.Name, Message: "写入目标库失败", Err: err}
				}
			} else {
				if err := upsertRows(ctx, run.sourceDB, table, []models.RowData{change.TargetRow}); err != nil {
					run.progress.ErrorCount++
					return &models.ExecutionError{Table: table.Name, Message: "写回源库失败", Err: err}
				}
			}
			run.progress.UpdatedRows++
			continue
		}

		resolved, _, err := conflictSvc.ResolveConflict(change.Row, change.TargetRow, strategy)
		var unresolved *models.ConflictUnresolvedError
		if errors.As(err, &unresolved) {
			// manual 策略：记录冲突、通知管理员，该行搁置，等待人工处理
			s.recordConflict(job, table, change)
			run.progress.SkippedRows++
			continue
		}
		if err != nil {
			return err
		}

		// 两侧结果不一致时，把解决结果同时写回两侧
		if !rowsEqual(resolved, change.TargetRow, table.Columns) {
			if err := upsertRows(ctx, run.targetDB, table, []models.RowData{resolved}); err != nil {
				run.progress.ErrorCount++
				return &models.ExecutionError{Table: table.Name, Message: "写入目标库失败", Err: err}
			}
		}
		if !rowsEqual(resolved, change.Row, table.Columns) {
			if err := upsertRows(ctx, run.sourceDB, table, []models.RowData{resolved}); err != nil {
				run.progress.ErrorCount++
				return &models.ExecutionError{Table: table.Name, Message: "写回源库失败", Err: err}
			}
		}
		run.progress.UpdatedRows++
	}

	return nil
}

// latestUpdatedAt 本批变更里最新的 updated_at，随检查点记录同步水位
func latestUpdatedAt(changes []RowChange) *time.Time {
	var latest *time.Time
	for _, change := range changes {
		t, ok := rowUpdatedAt(change.Row)
		if !ok {
			continue
		}
		if latest == nil || t.After(*latest) {
			seen := t
			latest = &seen
		}
	}
	return latest
}

// checkControl 批次边界读取协作控制标志（从不在行中间打断）
func (s *ExecutorService) checkControl(jobID uint, run *jobRun) error {
	var control string
	if err := database.DB.Model(&models.SyncJob{}).Where("id = ?", jobID).
		Pluck("control", &control).Error; err != nil {
		return nil // 控制标志读不到时继续执行，下一批再试
	}

	switch control {
	case models.ControlPause:
		run.persist()
		return errPaused
	case models.ControlCancel:
		run.persist()
		return errCancelled
	default:
		return nil
	}
}

// recordConflict 持久化 manual 策略的冲突并通知管理员
func (s *ExecutorService) recordConflict(job *models.SyncJob, table *models.DetailedTableSchema, change RowChange) {
	sourceJSON, _ := json.Marshal(normalizeRow(change.Row))
	targetJSON, _ := json.Marshal(normalizeRow(change.TargetRow))

	conflict := models.DataConflict{
		JobID:      job.ID,
		TableName:  table.Name,
		PrimaryKey: change.KeyJSON,
		SourceData: string(sourceJSON),
		TargetData: string(targetJSON),
		Status:     "pending",
	}
	if t, ok := rowUpdatedAt(change.Row); ok {
		conflict.SourceTime = &t
	}
	if t, ok := rowUpdatedAt(change.TargetRow); ok {
		conflict.TargetTime = &t
	}

	if err := database.DB.Create(&conflict).Error; err != nil {
		s.logError(job.ID, fmt.Sprintf("创建冲突记录失败: %v", err))
		return
	}

	NotifyConflictAdmins(&conflict)

	s.logWarning(job.ID, fmt.Sprintf("表 %s 主键 %s 存在冲突，等待人工处理", table.Name, change.KeyJSON))
}

// finishJob 收尾：写终态，检查点保留（只有 completed 会清空检查点）
func (s *ExecutorService) finishJob(job *models.SyncJob, status, lastError string) {
	database.DB.Model(&models.SyncJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"status":     status,
		"control":    models.ControlNone,
		"last_error": lastError,
	})
}

// upsertRows 批量 UPSERT（INSERT ... ON CONFLICT ... DO UPDATE）
func upsertRows(ctx context.Context, db *sql.DB, table *models.DetailedTableSchema, rows []models.RowData) error {
	if len(rows) == 0 {
		return nil
	}

	columns := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, col.Name)
	}

	columnList := strings.Join(quoteColumns(columns), ",")
	conflictTarget := strings.Join(quoteColumns(table.PrimaryKeys), ",")

	var updateClauses []string
	for _, col := range columns {
		updateClauses = append(updateClauses, fmt.Sprintf("%s=EXCLUDED.%s", pq.QuoteIdentifier(col), pq.QuoteIdentifier(col)))
	}

	valuesClauses := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(columns))
	argIndex := 1

	for _, row := range rows {
		placeholders := make([]string, len(columns))
		for i, col := range columns {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, row[col])
			argIndex++
		}
		valuesClauses = append(valuesClauses, "("+strings.Join(placeholders, ",")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		pq.QuoteIdentifier(table.Name), columnList, strings.Join(valuesClauses, ","),
		conflictTarget, strings.Join(updateClauses, ","))

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// 任务日志

func (s *ExecutorService) logInfo(jobID uint, message string) {
	database.DB.Create(&models.SyncLog{JobID: jobID, LogType: "info", Message: message})
}

func (s *ExecutorService) logWarning(jobID uint, message string) {
	database.DB.Create(&models.SyncLog{JobID: jobID, LogType: "warning", Message: message})
}

func (s *ExecutorService) logError(jobID uint, message string) {
	database.DB.Create(&models.SyncLog{JobID: jobID, LogType: "error", Message: message})
}

// JSON 序列化辅助

func parseTablesConfig(raw string) ([]models.TableSyncConfig, error) {
	if raw == "" {
		return nil, nil
	}
	var configs []models.TableSyncConfig
	err := json.Unmarshal([]byte(raw), &configs)
	return configs, err
}

func parseCheckpoint(raw string) *models.SyncCheckpoint {
	cp := &models.SyncCheckpoint{}
	if raw != "" {
		json.Unmarshal([]byte(raw), cp)
	}
	return cp
}

func parseProgress(raw string) *models.SyncProgress {
	p := &models.SyncProgress{}
	if raw != "" {
		json.Unmarshal([]byte(raw), p)
	}
	return p
}

func mustJSON(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}
