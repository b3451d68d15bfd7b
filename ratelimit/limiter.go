package ratelimit

import (
	"fmt"
	"time"

	"zh.xyz/dv/pgsync/config"
)

// 请求类别，每类有独立的限流预算
const (
	ClassSync    = "sync"
	ClassSchema  = "schema"
	ClassExecute = "execute"
	ClassRead    = "read"
	ClassAdmin   = "admin"
)

// Result 单次限流判定结果
// Source 记录判定走的是共享存储还是本地回退，只用于观测，不影响正确性
type Result struct {
	Allowed           bool   `json:"allowed"`
	Remaining         int    `json:"remaining"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	Source            string `json:"source"` // database, local
}

// Store 滑动窗口计数存储
// Check 必须原子地完成：清理过期条目、计数、放行时写入唯一条目
type Store interface {
	Check(bucket string, max int, window time.Duration) (*Result, error)
}

// Limiter 分布式限流器
// 共享存储不可用时回退到进程内近似实现，牺牲跨实例精度换可用性
type Limiter struct {
	store    Store
	fallback Store
}

var Default *Limiter

// InitLimiter 初始化默认限流器：共享存储 + 本地回退
func InitLimiter() {
	Default = &Limiter{
		store:    NewDBStore(),
		fallback: NewLocalStore(),
	}
}

// CheckLimit 检查并记账一次请求
func (l *Limiter) CheckLimit(userID uint, class string) *Result {
	budget := budgetFor(class)
	bucket := fmt.Sprintf("%d:%s", userID, class)
	window := time.Duration(budget.WindowMS) * time.Millisecond

	result, err := l.store.Check(bucket, budget.Max, window)
	if err != nil {
		result, _ = l.fallback.Check(bucket, budget.Max, window)
		result.Source = "local"
		return result
	}

	result.Source = "database"
	return result
}

func budgetFor(class string) config.RateLimitBudget {
	cfg := config.GlobalConfig.RateLimit
	switch class {
	case ClassSync:
		return cfg.Sync
	case ClassSchema:
		return cfg.Schema
	case ClassExecute:
		return cfg.Execute
	case ClassAdmin:
		return cfg.Admin
	default:
		return cfg.Read
	}
}
