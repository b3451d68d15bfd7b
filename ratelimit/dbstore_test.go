package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 咨询锁键把同一个桶的判定串到同一把锁上：
// 同桶键恒定，不同桶落在不同的锁上
func TestBucketLockKey(t *testing.T) {
	assert.Equal(t, bucketLockKey("1:sync"), bucketLockKey("1:sync"))
	assert.NotEqual(t, bucketLockKey("1:sync"), bucketLockKey("2:sync"))
	assert.NotEqual(t, bucketLockKey("1:sync"), bucketLockKey("1:read"))
	assert.NotEqual(t, bucketLockKey("1:sync"), bucketLockKey("sync:1"))
}

// 条目键保证唯一写入，重复键会撞唯一索引
func TestRandomEntryKey(t *testing.T) {
	key1 := randomEntryKey()
	key2 := randomEntryKey()

	assert.Len(t, key1, 32)
	assert.NotEqual(t, key1, key2)
}
