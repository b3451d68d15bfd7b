package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/pgsync/models"
)

func conflictRows(sourceAt, targetAt time.Time) (models.RowData, models.RowData) {
	sourceRow := models.RowData{
		"id":         int64(1),
		"name":       "源侧名称",
		"email":      "a@example.com",
		"updated_at": sourceAt,
	}
	targetRow := models.RowData{
		"id":         int64(1),
		"name":       "目标侧名称",
		"email":      "b@example.com",
		"updated_at": targetAt,
	}
	return sourceRow, targetRow
}

// 两侧都在上次同步点之后修改过才算冲突
func TestDetectConflict(t *testing.T) {
	svc := &ConflictService{}
	lastSync := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	sourceRow, targetRow := conflictRows(
		lastSync.Add(time.Hour), lastSync.Add(2*time.Hour))
	assert.True(t, svc.DetectConflict(sourceRow, targetRow, &lastSync))

	// 只有源侧改过：不是冲突，正常覆盖
	sourceRow, targetRow = conflictRows(
		lastSync.Add(time.Hour), lastSync.Add(-time.Hour))
	assert.False(t, svc.DetectConflict(sourceRow, targetRow, &lastSync))
}

// 没有上次同步点时退化为：两侧updated_at不一致即冲突
func TestDetectConflict_NoLastSync(t *testing.T) {
	svc := &ConflictService{}
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	sourceRow, targetRow := conflictRows(at, at)
	assert.False(t, svc.DetectConflict(sourceRow, targetRow, nil))

	sourceRow, targetRow = conflictRows(at, at.Add(time.Minute))
	assert.True(t, svc.DetectConflict(sourceRow, targetRow, nil))
}

// 缺少updated_at列时无法判定，不报冲突
func TestDetectConflict_MissingUpdatedAt(t *testing.T) {
	svc := &ConflictService{}
	lastSync := time.Now().Add(-time.Hour)

	sourceRow := models.RowData{"id": int64(1), "name": "a"}
	targetRow := models.RowData{"id": int64(1), "name": "b", "updated_at": time.Now()}

	assert.False(t, svc.DetectConflict(sourceRow, targetRow, &lastSync))
}

func TestResolveConflict_SourceWins(t *testing.T) {
	svc := &ConflictService{}
	sourceRow, targetRow := conflictRows(time.Now(), time.Now())

	row, origin, err := svc.ResolveConflict(sourceRow, targetRow, models.StrategySourceWins)

	require.NoError(t, err)
	assert.Equal(t, "source", origin)
	assert.Equal(t, "源侧名称", row["name"])
}

func TestResolveConflict_TargetWins(t *testing.T) {
	svc := &ConflictService{}
	sourceRow, targetRow := conflictRows(time.Now(), time.Now())

	row, origin, err := svc.ResolveConflict(sourceRow, targetRow, models.StrategyTargetWins)

	require.NoError(t, err)
	assert.Equal(t, "target", origin)
	assert.Equal(t, "目标侧名称", row["name"])
}

// last_write_wins 取较新一侧，updated_at相等时以源侧为准
func TestResolveConflict_LastWriteWins(t *testing.T) {
	svc := &ConflictService{}
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	sourceRow, targetRow := conflictRows(at, at.Add(time.Hour))
	row, origin, err := svc.ResolveConflict(sourceRow, targetRow, models.StrategyLastWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "target", origin)
	assert.Equal(t, "目标侧名称", row["name"])

	sourceRow, targetRow = conflictRows(at.Add(time.Hour), at)
	row, origin, err = svc.ResolveConflict(sourceRow, targetRow, models.StrategyLastWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "source", origin)

	// 平局归源侧
	sourceRow, targetRow = conflictRows(at, at)
	_, origin, err = svc.ResolveConflict(sourceRow, targetRow, models.StrategyLastWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "source", origin)
}

// manual 策略不产生结果，调用方必须搁置该行
func TestResolveConflict_Manual(t *testing.T) {
	svc := &ConflictService{}
	sourceRow, targetRow := conflictRows(time.Now(), time.Now())

	row, _, err := svc.ResolveConflict(sourceRow, targetRow, models.StrategyManual)

	assert.Nil(t, row)
	var unresolved *models.ConflictUnresolvedError
	assert.True(t, errors.As(err, &unresolved))
}

func TestResolveConflict_UnknownStrategy(t *testing.T) {
	svc := &ConflictService{}
	sourceRow, targetRow := conflictRows(time.Now(), time.Now())

	_, _, err := svc.ResolveConflict(sourceRow, targetRow, "coin_flip")
	assert.Error(t, err)
}

// merge：id恒取源侧，其余字段取较新一侧，较新一侧缺值时回退
func TestResolveConflict_Merge(t *testing.T) {
	svc := &ConflictService{}
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	sourceRow := models.RowData{
		"id":         int64(1),
		"name":       "旧名称",
		"phone":      "13800000000",
		"updated_at": at,
	}
	targetRow := models.RowData{
		"id":         int64(2),
		"name":       "新名称",
		"phone":      nil,
		"updated_at": at.Add(time.Hour),
	}

	row, origin, err := svc.ResolveConflict(sourceRow, targetRow, models.StrategyMerge)

	require.NoError(t, err)
	assert.Equal(t, "merged", origin)
	// id 恒取源侧
	assert.Equal(t, int64(1), row["id"])
	// name 取较新的目标侧
	assert.Equal(t, "新名称", row["name"])
	// 目标侧 phone 为空，回退到源侧
	assert.Equal(t, "13800000000", row["phone"])
	// updated_at 取较新一侧
	assert.Equal(t, at.Add(time.Hour), row["updated_at"])
}

// merge 结果包含两侧字段的并集
func TestMergeRows_FieldUnion(t *testing.T) {
	svc := &ConflictService{}
	at := time.Now()

	sourceRow := models.RowData{"id": int64(1), "only_source": "s", "updated_at": at.Add(time.Hour)}
	targetRow := models.RowData{"id": int64(1), "only_target": "t", "updated_at": at}

	merged := svc.mergeRows(sourceRow, targetRow)

	assert.Equal(t, "s", merged["only_source"])
	assert.Equal(t, "t", merged["only_target"])
}

// 非冲突分支的写入方向：只有目标侧在同步点之后修改过时，
// 必须以目标为准写回源库，不能让过期的源行覆盖更新的目标行
func TestNonConflictDirection(t *testing.T) {
	svc := &ConflictService{}
	lastSync := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// 目标侧更新、源侧停在同步点之前：不是冲突，方向是目标→源
	sourceRow, targetRow := conflictRows(
		lastSync.Add(-time.Hour), lastSync.Add(time.Hour))
	require.False(t, svc.DetectConflict(sourceRow, targetRow, &lastSync))
	assert.False(t, sourceNewerOrEqual(sourceRow, targetRow))

	// 只有源侧更新：方向是源→目标
	sourceRow, targetRow = conflictRows(
		lastSync.Add(time.Hour), lastSync.Add(-time.Hour))
	require.False(t, svc.DetectConflict(sourceRow, targetRow, &lastSync))
	assert.True(t, sourceNewerOrEqual(sourceRow, targetRow))

	// 时间相等算源侧胜，保持确定性
	at := lastSync.Add(time.Hour)
	sourceRow, targetRow = conflictRows(at, at)
	assert.True(t, sourceNewerOrEqual(sourceRow, targetRow))
}
