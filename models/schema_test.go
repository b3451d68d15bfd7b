package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 检查点的已处理集合只增不减，标记完成后清空行位置
func TestSyncCheckpoint_MarkProcessed(t *testing.T) {
	cp := &SyncCheckpoint{}

	assert.False(t, cp.Processed("users"))

	cp.LastRowID = `{"id":100}`
	cp.MarkProcessed("users")

	assert.True(t, cp.Processed("users"))
	assert.Equal(t, "users", cp.LastTable)
	assert.Empty(t, cp.LastRowID)

	// 重复标记不产生重复条目
	cp.MarkProcessed("users")
	assert.Len(t, cp.ProcessedTables, 1)

	cp.MarkProcessed("orders")
	assert.True(t, cp.Processed("users"))
	assert.True(t, cp.Processed("orders"))
	assert.Len(t, cp.ProcessedTables, 2)
}

// 检查点序列化往返：任务记录里存的就是这个JSON
func TestSyncCheckpoint_JSONRoundTrip(t *testing.T) {
	cp := &SyncCheckpoint{
		LastTable:       "orders",
		LastRowID:       `{"tenant_id":3,"order_no":"A-1001"}`,
		ProcessedTables: []string{"users"},
	}

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var restored SyncCheckpoint
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, cp.LastTable, restored.LastTable)
	assert.Equal(t, cp.LastRowID, restored.LastRowID)
	assert.Equal(t, cp.ProcessedTables, restored.ProcessedTables)
}
