package models

import (
	"time"
)

// 环境标签
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// DetailedColumn 列的详细结构信息
type DetailedColumn struct {
	Name            string `json:"name"`
	DataType        string `json:"data_type"`        // 声明类型
	UnderlyingType  string `json:"underlying_type"`  // 底层类型（udt_name）
	IsNullable      bool   `json:"is_nullable"`
	Default         string `json:"default,omitempty"`
	IsPrimaryKey    bool   `json:"is_primary_key"`
	OrdinalPosition int    `json:"ordinal_position"` // 每张表内唯一，决定比较顺序
}

// ForeignKey 外键信息
type ForeignKey struct {
	Name             string `json:"name"`
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
	OnDelete         string `json:"on_delete"`
	OnUpdate         string `json:"on_update"`
}

// TableIndex 索引信息
type TableIndex struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	IsUnique bool     `json:"is_unique"`
	Method   string   `json:"method"` // btree, hash, gin 等
}

// DetailedTableSchema 表的详细结构信息
// RowCount 和 SizeBytes 来自统计信息，是估算值
type DetailedTableSchema struct {
	Name        string           `json:"name"`
	Columns     []DetailedColumn `json:"columns"`
	PrimaryKeys []string         `json:"primary_keys"`
	ForeignKeys []ForeignKey     `json:"foreign_keys"`
	Indexes     []TableIndex     `json:"indexes"`
	RowCount    int64            `json:"row_count_estimate"`
	SizeBytes   int64            `json:"size_bytes_estimate"`
}

// DatabaseSchema 单个连接的完整结构信息
// 每次检查都重新读取，不做缓存
type DatabaseSchema struct {
	Tables         map[string]*DetailedTableSchema `json:"tables"`
	SyncableTables []string                        `json:"syncable_tables"` // 有主键、可参与行级同步的表
	ServerVersion  string                          `json:"server_version"`
	InspectedAt    time.Time                       `json:"inspected_at"`
}

// 校验问题级别
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
)

// 校验问题分类
const (
	CategoryMissingTable = "missing_table"
	CategoryPrimaryKey   = "primary_key"
	CategoryColumnType   = "column_type"
	CategoryColumn       = "column"
	CategoryForeignKey   = "foreign_key"
	CategoryIndex        = "index"
)

// ValidationIssue 结构校验问题
type ValidationIssue struct {
	ID          string `json:"id"`
	Severity    string `json:"severity"` // CRITICAL, HIGH, MEDIUM, LOW, INFO
	Category    string `json:"category"`
	Table       string `json:"table"`
	Column      string `json:"column,omitempty"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// SchemaValidationResult 结构校验结果
// CanProceed 为 false 表示存在 CRITICAL 问题，所有写入路径必须拒绝
type SchemaValidationResult struct {
	Issues               []ValidationIssue `json:"issues"`
	SeverityCounts       map[string]int    `json:"severity_counts"`
	CanProceed           bool              `json:"can_proceed"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// 迁移语句风险等级
const (
	RiskSafe      = "safe"
	RiskCaution   = "caution"
	RiskDangerous = "dangerous"
)

// MigrationStatement 单条迁移语句及其回滚语句
type MigrationStatement struct {
	IssueID  string `json:"issue_id"`
	SQL      string `json:"sql"`
	Rollback string `json:"rollback"`
	Risk     string `json:"risk"` // safe, caution, dangerous
	Comment  string `json:"comment,omitempty"`
}

// MigrationPlan 迁移计划
// 语句按风险排序：新增类在前，破坏类在最后
type MigrationPlan struct {
	Statements     []MigrationStatement `json:"statements"`
	RollbackScript string               `json:"rollback_script"`
	Direction      string               `json:"direction"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// RowData 一行数据，列名到值
type RowData map[string]interface{}

// TableDiff 单表行级差异
// 只是某一时刻的快照，不做持久化；样本数量有上限，供预览使用
type TableDiff struct {
	TableName      string    `json:"table_name"`
	InsertCount    int64     `json:"insert_count"`
	UpdateCount    int64     `json:"update_count"`
	SourceRowCount int64     `json:"source_row_count"`
	TargetRowCount int64     `json:"target_row_count"`
	InsertSamples  []RowData `json:"insert_samples"`
	UpdateSamples  []RowData `json:"update_samples"`
}

// DryRunResult 试运行结果（只读，不产生任何写入）
type DryRunResult struct {
	TableDiffs               []*TableDiff `json:"table_diffs"`
	SchemaIssues             []string     `json:"schema_issues"`
	EstimatedDurationSeconds int64        `json:"estimated_duration_seconds"`
	Warnings                 []string     `json:"warnings"`
}

// TableSyncConfig 单表同步配置
type TableSyncConfig struct {
	TableName        string `json:"table_name"`
	Enabled          bool   `json:"enabled"`
	ConflictStrategy string `json:"conflict_strategy,omitempty"` // 空值使用任务默认策略
}

// SyncProgress 同步进度，单次运行内计数器单调不减
type SyncProgress struct {
	TotalTables     int    `json:"total_tables"`
	ProcessedTables int    `json:"processed_tables"`
	TotalRows       int64  `json:"total_rows"`
	ProcessedRows   int64  `json:"processed_rows"`
	InsertedRows    int64  `json:"inserted_rows"`
	UpdatedRows     int64  `json:"updated_rows"`
	SkippedRows     int64  `json:"skipped_rows"`
	ErrorCount      int64  `json:"error_count"`
	CurrentTable    string `json:"current_table"`
}

// SyncCheckpoint 同步检查点，支撑断点续传
// ProcessedTables 只增不减
type SyncCheckpoint struct {
	LastTable       string     `json:"last_table"`
	LastRowID       string     `json:"last_row_id"` // 主键值（JSON格式），与 DataConflict.PrimaryKey 编码一致
	LastUpdatedAt   *time.Time `json:"last_updated_at,omitempty"`
	ProcessedTables []string   `json:"processed_tables"`
}

// Processed 判断表是否已完整处理
func (cp *SyncCheckpoint) Processed(table string) bool {
	for _, t := range cp.ProcessedTables {
		if t == table {
			return true
		}
	}
	return false
}

// MarkProcessed 记录表已完整处理
func (cp *SyncCheckpoint) MarkProcessed(table string) {
	if !cp.Processed(table) {
		cp.ProcessedTables = append(cp.ProcessedTables, table)
	}
	cp.LastTable = table
	cp.LastRowID = ""
}
