package service

import (
	"context"
	"encoding/json"
	"fmt"

	"zh.xyz/dv/pgsync/dbconn"
	"zh.xyz/dv/pgsync/models"
)

// ApplyResolution 把人工裁决结果写回数据库
// source: 源行写入目标库；target: 目标行写回源库；merged: 合并行写入两边
// conflict 需预加载 Job.SourceDB 和 Job.TargetDB
func (s *ConflictService) ApplyResolution(ctx context.Context, conflict *models.DataConflict, resolution string) error {
	var sourceRow, targetRow models.RowData
	if err := json.Unmarshal([]byte(conflict.SourceData), &sourceRow); err != nil {
		return fmt.Errorf("解析冲突源数据失败: %w", err)
	}
	if err := json.Unmarshal([]byte(conflict.TargetData), &targetRow); err != nil {
		return fmt.Errorf("解析冲突目标数据失败: %w", err)
	}

	sourceDB, err := dbconn.OpenConnection(&conflict.Job.SourceDB)
	if err != nil {
		return err
	}
	defer sourceDB.Close()

	targetDB, err := dbconn.OpenConnection(&conflict.Job.TargetDB)
	if err != nil {
		return err
	}
	defer targetDB.Close()

	inspector := &InspectorService{}
	table, err := inspector.inspectTable(ctx, targetDB, conflict.TableName)
	if err != nil {
		return fmt.Errorf("读取表 %s 结构失败: %w", conflict.TableName, err)
	}
	if len(table.PrimaryKeys) == 0 {
		return fmt.Errorf("表 %s 没有主键，无法写回裁决结果", conflict.TableName)
	}

	switch resolution {
	case "source":
		return upsertRows(ctx, targetDB, table, []models.RowData{sourceRow})
	case "target":
		return upsertRows(ctx, sourceDB, table, []models.RowData{targetRow})
	case "merged":
		merged := s.mergeRows(sourceRow, targetRow)
		if err := upsertRows(ctx, targetDB, table, []models.RowData{merged}); err != nil {
			return err
		}
		return upsertRows(ctx, sourceDB, table, []models.RowData{merged})
	default:
		return fmt.Errorf("无效的裁决方式: %s", resolution)
	}
}
