package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"zh.xyz/dv/pgsync/config"
	"zh.xyz/dv/pgsync/models"
	"zh.xyz/dv/pgsync/utils"
)

// OpenConnection 打开数据面连接
// 连接串在这里临时解密，传给驱动后即丢弃，不落日志
func OpenConnection(conn *models.DatabaseConnection) (*sql.DB, error) {
	dsn, err := utils.DecryptString(conn.ConnString, config.GlobalConfig.Encryption.Key)
	if err != nil {
		return nil, &models.ConnectionError{Message: "解密连接串失败", Err: err}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &models.ConnectionError{Message: "打开数据库连接失败", Err: err}
	}

	if err := pingWithTimeout(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// TestDSN 用明文连接串做连通性测试（创建连接前的校验）
func TestDSN(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return &models.ConnectionError{Message: "连接串格式错误", Err: err}
	}
	defer db.Close()

	return pingWithTimeout(db)
}

// pingWithTimeout 带超时的连通性测试，超时与明确拒绝是不同的失败类型
func pingWithTimeout(db *sql.DB) error {
	timeout := time.Duration(config.GlobalConfig.Sync.ConnectTimeoutMS) * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &models.ConnectionError{Message: "数据库连接超时", Timeout: true, Err: err}
		}
		if strings.Contains(err.Error(), "authentication") || strings.Contains(err.Error(), "password") {
			return &models.ConnectionError{Message: "数据库认证失败", Err: err}
		}
		return &models.ConnectionError{Message: "数据库连接不可用", Err: err}
	}

	return nil
}
