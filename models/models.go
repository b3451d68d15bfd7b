package models

import (
	"time"
)

// User 用户模型
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"` // 不返回给前端
	Email     string    `gorm:"type:varchar(255);not null" json:"email"`
	Role      string    `gorm:"type:varchar(50);default:user" json:"role"`     // admin, user
	Status    string    `gorm:"type:varchar(50);default:active" json:"status"` // active, inactive
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DatabaseConnection 数据库连接配置
// ConnString 使用 AES-GCM 加密存储，只在建立连接时临时解密，用完即丢
type DatabaseConnection struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"` // 连接名称
	Environment string    `gorm:"type:varchar(50);default:development" json:"environment"` // production, development
	ConnString  string    `gorm:"type:text;not null" json:"-"` // 加密后的连接串，不返回给前端
	Description string    `json:"description"`
	Status      string    `gorm:"default:active" json:"status"` // active, inactive
	CreatedBy   uint      `gorm:"not null;index" json:"created_by"`
	Creator     User      `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// 同步任务状态
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusPaused    = "paused"
)

// 同步方向
const (
	DirectionOneWay = "one_way"
	DirectionTwoWay = "two_way"
)

// 协作控制标志，由执行器在批次边界检查
const (
	ControlNone   = ""
	ControlPause  = "pause"
	ControlCancel = "cancel"
)

// SyncJob 同步任务
// TablesConfig、Progress、Checkpoint 以 JSON 格式存储在 text 列中
type SyncJob struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	Name         string             `gorm:"type:varchar(255);not null" json:"name"`
	SourceDBID   uint               `gorm:"not null" json:"source_db_id"` // 源数据库连接ID
	TargetDBID   uint               `gorm:"not null" json:"target_db_id"` // 目标数据库连接ID
	SourceDB     DatabaseConnection `gorm:"foreignKey:SourceDBID" json:"source_db,omitempty"`
	TargetDB     DatabaseConnection `gorm:"foreignKey:TargetDBID" json:"target_db,omitempty"`
	Direction    string             `gorm:"type:varchar(50);not null" json:"direction"` // one_way, two_way
	TablesConfig string             `gorm:"type:text" json:"tables_config"`             // JSON: []TableSyncConfig
	Status       string             `gorm:"type:varchar(50);default:pending" json:"status"`
	Control      string             `gorm:"type:varchar(50);default:''" json:"control"` // pause, cancel
	Confirmed    bool               `gorm:"default:false" json:"confirmed"`             // 生产环境写入确认
	Progress     string             `gorm:"type:text" json:"progress"`                  // JSON: SyncProgress
	Checkpoint   string             `gorm:"type:text" json:"checkpoint"`                // JSON: SyncCheckpoint
	Attempts     int                `gorm:"default:0" json:"attempts"`                  // 队列重试次数
	LastError    string             `gorm:"type:text" json:"last_error"`
	StartedAt    *time.Time         `json:"started_at"`
	CompletedAt  *time.Time         `json:"completed_at"`
	LastSyncAt   *time.Time         `json:"last_sync_at"` // 冲突检测的参考时间点
	CreatedBy    uint               `gorm:"not null;index" json:"created_by"`
	Creator      User               `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// 冲突解决策略
const (
	StrategySourceWins    = "source_wins"
	StrategyTargetWins    = "target_wins"
	StrategyLastWriteWins = "last_write_wins"
	StrategyMerge         = "merge"
	StrategyManual        = "manual"
)

// DataConflict 数据冲突记录
type DataConflict struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	JobID      uint       `gorm:"not null;index" json:"job_id"`
	Job        SyncJob    `gorm:"foreignKey:JobID" json:"job,omitempty"`
	TableName  string     `gorm:"type:varchar(255);not null" json:"table_name"`
	PrimaryKey string     `gorm:"type:varchar(500);not null;index" json:"primary_key"` // 主键值（JSON格式）
	SourceData string     `gorm:"type:text" json:"source_data"` // 源数据库数据（JSON格式）
	TargetData string     `gorm:"type:text" json:"target_data"` // 目标数据库数据（JSON格式）
	SourceTime *time.Time `json:"source_time"` // 源行 updated_at
	TargetTime *time.Time `json:"target_time"` // 目标行 updated_at
	Status     string     `gorm:"type:varchar(50);default:pending" json:"status"` // pending, resolved
	Resolution string     `gorm:"type:varchar(50)" json:"resolution"`             // source, target, merged
	ResolvedBy *uint      `json:"resolved_by,omitempty"`
	Resolver   *User      `gorm:"foreignKey:ResolvedBy" json:"resolver,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SyncLog 同步日志
type SyncLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     uint      `gorm:"not null;index" json:"job_id"`
	Job       SyncJob   `gorm:"foreignKey:JobID" json:"job,omitempty"`
	LogType   string    `gorm:"type:varchar(50);not null" json:"log_type"` // info, warning, error
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details"` // JSON格式的详细信息
	CreatedAt time.Time `json:"created_at"`
}

// RateLimitEntry 限流窗口条目
// 每个被放行的请求写入一条，过期后由限流脚本和清理任务删除
type RateLimitEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Bucket    string    `gorm:"type:varchar(255);not null;index" json:"bucket"` // userID:requestClass
	EntryKey  string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"entry_key"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
