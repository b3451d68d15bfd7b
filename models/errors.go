package models

import (
	"fmt"
)

// ConnectionError 数据库不可达或认证失败
// Timeout 区分超时与明确拒绝
type ConnectionError struct {
	Message string
	Timeout bool
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SchemaError 结构问题（缺表、缺主键、元数据异常）
type SchemaError struct {
	Table   string
	Message string
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("表 %s: %s", e.Table, e.Message)
	}
	return e.Message
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ConflictUnresolvedError manual 策略下冲突未解决，该行被搁置
type ConflictUnresolvedError struct {
	Table      string
	PrimaryKey string
}

func (e *ConflictUnresolvedError) Error() string {
	return fmt.Sprintf("表 %s 主键 %s 存在未解决的冲突，等待人工处理", e.Table, e.PrimaryKey)
}

// RateLimitedError 请求被限流，调用方应按 RetryAfterSeconds 退避
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("请求过于频繁，请 %d 秒后重试", e.RetryAfterSeconds)
}

// ExecutionError 同步执行中的写入失败，任务转为 failed 并保留检查点
type ExecutionError struct {
	Table   string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("表 %s 同步失败: %s: %v", e.Table, e.Message, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConfirmationRequiredError 目标为生产环境且未确认，直接拒绝（不入队）
type ConfirmationRequiredError struct {
	Reason string
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("需要确认后才能执行: %s", e.Reason)
}
