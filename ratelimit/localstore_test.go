package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/pgsync/config"
)

// 窗口内第 max+1 个请求被拒绝，且带有重试时间
func TestLocalStore_RejectsOverBudget(t *testing.T) {
	store := NewLocalStore()

	for i := 0; i < 5; i++ {
		result, err := store.Check("1:sync", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "第%d个请求应放行", i+1)
		assert.Equal(t, 5-i-1, result.Remaining)
	}

	result, err := store.Check("1:sync", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.GreaterOrEqual(t, result.RetryAfterSeconds, 1)
	assert.LessOrEqual(t, result.RetryAfterSeconds, 60)
}

// 不同桶互不影响：预算按 用户:操作类别 维度独立
func TestLocalStore_BucketsIndependent(t *testing.T) {
	store := NewLocalStore()

	for i := 0; i < 3; i++ {
		result, err := store.Check("1:execute", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	blocked, err := store.Check("1:execute", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	// 另一个用户同类别的桶不受影响
	other, err := store.Check("2:execute", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

// 条目滑出窗口后配额恢复
func TestLocalStore_WindowSlides(t *testing.T) {
	store := NewLocalStore()
	window := 50 * time.Millisecond

	for i := 0; i < 2; i++ {
		result, err := store.Check("1:read", 2, window)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	blocked, err := store.Check("1:read", 2, window)
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	time.Sleep(window + 10*time.Millisecond)

	result, err := store.Check("1:read", 2, window)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// 请求分散在窗口之外时永远不会被误拒
func TestLocalStore_SpreadRequestsNeverRejected(t *testing.T) {
	store := NewLocalStore()
	window := 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		result, err := store.Check("1:schema", 1, window)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "间隔超过窗口的请求不应被拒绝")
		time.Sleep(window + 5*time.Millisecond)
	}
}

func TestLocalStore_Concurrent(t *testing.T) {
	store := NewLocalStore()
	const max = 10

	allowed := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() {
			result, err := store.Check("1:sync", max, time.Minute)
			if err != nil {
				allowed <- false
				return
			}
			allowed <- result.Allowed
		}()
	}

	count := 0
	for i := 0; i < 50; i++ {
		if <-allowed {
			count++
		}
	}
	// 并发下放行数量精确等于预算
	assert.Equal(t, max, count)
}

func TestBudgetFor(t *testing.T) {
	// 加载默认配置（文件不存在时 LoadConfig 会退回默认值）
	_ = config.LoadConfig("")

	classes := []string{ClassSync, ClassSchema, ClassExecute, ClassRead, ClassAdmin}
	for _, class := range classes {
		budget := budgetFor(class)
		assert.Greater(t, budget.Max, 0, fmt.Sprintf("类别 %s 的预算无效", class))
		assert.Greater(t, budget.WindowMS, 0)
	}
}
