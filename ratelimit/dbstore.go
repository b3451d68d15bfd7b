package ratelimit

import (
	"crypto/rand"
	"encoding/hex"
	"hash/fnv"
	"math"
	"time"

	"gorm.io/gorm"
	"zh.xyz/dv/pgsync/database"
)

// DBStore 基于控制库的共享滑动窗口存储
// 清理、计数、条件写入由一条数据修改 CTE 语句在数据库侧完成，
// 多实例共享同一份计数
type DBStore struct{}

func NewDBStore() *DBStore {
	return &DBStore{}
}

// checkQuery 在一条语句里完成：删除过期条目、统计窗口内条目数、
// 未超限时写入一条唯一键条目；返回计数、是否放行、最早条目的剩余时间
const checkQuery = `
WITH purged AS (
	DELETE FROM rate_limit_entries
	WHERE bucket = $1 AND expires_at <= NOW()
), current AS (
	SELECT COUNT(*) AS cnt, MIN(expires_at) AS oldest
	FROM rate_limit_entries
	WHERE bucket = $1 AND expires_at > NOW()
), admitted AS (
	INSERT INTO rate_limit_entries (bucket, entry_key, expires_at, created_at)
	SELECT $1, $2, NOW() + ($3 * INTERVAL '1 millisecond'), NOW()
	FROM current WHERE current.cnt < $4
	RETURNING id
)
SELECT current.cnt,
	(SELECT COUNT(*) FROM admitted),
	COALESCE(EXTRACT(EPOCH FROM (current.oldest - NOW())), 0)
FROM current
`

// Check 判定一次请求。READ COMMITTED 下两个并发的 CTE 语句会读到同一份
// 计数然后各自放行，所以先按桶拿事务级咨询锁，把同一个桶的判定串行化
func (s *DBStore) Check(bucket string, max int, window time.Duration) (*Result, error) {
	result := &Result{}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock($1)", bucketLockKey(bucket)).Error; err != nil {
			return err
		}

		var count, admitted int
		var oldestSeconds float64
		row := tx.Raw(checkQuery, bucket, randomEntryKey(), window.Milliseconds(), max).Row()
		if err := row.Scan(&count, &admitted, &oldestSeconds); err != nil {
			return err
		}

		if admitted == 0 {
			retryAfter := int(math.Ceil(oldestSeconds))
			if retryAfter < 1 {
				retryAfter = 1
			}
			*result = Result{Allowed: false, Remaining: 0, RetryAfterSeconds: retryAfter}
			return nil
		}

		*result = Result{Allowed: true, Remaining: max - count - 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// bucketLockKey 桶名到咨询锁键的映射，同一个桶恒定落在同一把锁上
func bucketLockKey(bucket string) int64 {
	h := fnv.New64a()
	h.Write([]byte(bucket))
	return int64(h.Sum64())
}

func randomEntryKey() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
