package service

import (
	"fmt"
	"time"

	"zh.xyz/dv/pgsync/models"
)

// ConflictService 冲突检测与解决，纯函数，不产生副作用
type ConflictService struct{}

// updatedAtColumn 冲突检测依赖的行级修改时间列
const updatedAtColumn = "updated_at"

// DetectConflict 判断两侧是否在上次同步点之后都被修改过
// lastSyncTime 为 nil 时退化为：两侧 updated_at 不一致即视为冲突
func (s *ConflictService) DetectConflict(sourceRow, targetRow models.RowData, lastSyncTime *time.Time) bool {
	sourceTime, sourceOK := rowUpdatedAt(sourceRow)
	targetTime, targetOK := rowUpdatedAt(targetRow)

	if !sourceOK || !targetOK {
		// 缺少修改时间无法判定冲突
		return false
	}

	if lastSyncTime == nil {
		return sourceTime.Unix() != targetTime.Unix()
	}

	return sourceTime.After(*lastSyncTime) && targetTime.After(*lastSyncTime)
}

// ResolveConflict 按策略解决冲突，返回最终行和采用的来源
// manual 策略不产生结果，该行必须搁置等待人工处理
func (s *ConflictService) ResolveConflict(sourceRow, targetRow models.RowData, strategy string) (models.RowData, string, error) {
	switch strategy {
	case models.StrategySourceWins:
		return sourceRow, "source", nil

	case models.StrategyTargetWins:
		return targetRow, "target", nil

	case models.StrategyLastWriteWins:
		// 比较 updated_at，相等时以源侧为准
		if sourceNewerOrEqual(sourceRow, targetRow) {
			return sourceRow, "source", nil
		}
		return targetRow, "target", nil

	case models.StrategyMerge:
		return s.mergeRows(sourceRow, targetRow), "merged", nil

	case models.StrategyManual:
		return nil, "", &models.ConflictUnresolvedError{}

	default:
		return nil, "", fmt.Errorf("未知的冲突解决策略: %s", strategy)
	}
}

// mergeRows 逐字段合并
// id 恒取源侧；updated_at 取较新一侧；其余字段取较新一侧的值，
// 较新一侧缺值时回退到另一侧
func (s *ConflictService) mergeRows(sourceRow, targetRow models.RowData) models.RowData {
	sourceNewer := sourceNewerOrEqual(sourceRow, targetRow)

	merged := make(models.RowData, len(sourceRow))

	fields := make(map[string]bool, len(sourceRow)+len(targetRow))
	for k := range sourceRow {
		fields[k] = true
	}
	for k := range targetRow {
		fields[k] = true
	}

	for field := range fields {
		switch field {
		case "id":
			merged[field] = sourceRow[field]
		case updatedAtColumn:
			if sourceNewer {
				merged[field] = sourceRow[field]
			} else {
				merged[field] = targetRow[field]
			}
		default:
			var winner, loser interface{}
			if sourceNewer {
				winner, loser = sourceRow[field], targetRow[field]
			} else {
				winner, loser = targetRow[field], sourceRow[field]
			}
			if winner != nil {
				merged[field] = winner
			} else {
				merged[field] = loser
			}
		}
	}

	return merged
}

// sourceNewerOrEqual 源侧 updated_at 是否不早于目标侧（相等算源侧胜）
func sourceNewerOrEqual(sourceRow, targetRow models.RowData) bool {
	sourceTime, sourceOK := rowUpdatedAt(sourceRow)
	targetTime, targetOK := rowUpdatedAt(targetRow)

	if !targetOK {
		return true
	}
	if !sourceOK {
		return false
	}
	return !sourceTime.Before(targetTime)
}

func rowUpdatedAt(row models.RowData) (time.Time, bool) {
	val, ok := row[updatedAtColumn]
	if !ok || val == nil {
		return time.Time{}, false
	}
	return parseTimeValue(val)
}
