package service

import (
	"context"
	"database/sql"
	"fmt"

	"zh.xyz/dv/pgsync/models"
)

// 试运行的吞吐估算基数（行/秒），只用于给出粗略的时长预期
const estimatedRowsPerSecond = 500

// DryRun 试运行：结构校验 + 行级差异预览，完全只读
// 没有主键的表不参与行级比较，每张这样的表产生一条 schemaIssue
func (s *DiffService) DryRun(ctx context.Context, sourceDB, targetDB *sql.DB, tables []string, targetEnv string, batchSize, sampleLimit int) (*models.DryRunResult, *models.SchemaValidationResult, error) {
	inspector := &InspectorService{}
	validator := &ValidatorService{}

	sourceSchema, err := inspector.InspectDatabase(ctx, sourceDB)
	if err != nil {
		return nil, nil, err
	}
	targetSchema, err := inspector.InspectDatabase(ctx, targetDB)
	if err != nil {
		return nil, nil, err
	}

	validation := validator.ValidateSchemas(sourceSchema, targetSchema, tables, targetEnv)

	result := &models.DryRunResult{
		TableDiffs:   []*models.TableDiff{},
		SchemaIssues: []string{},
		Warnings:     []string{},
	}

	candidates := tables
	if len(candidates) == 0 {
		candidates = unionTables(sourceSchema, targetSchema)
	}

	var totalChanges int64
	for _, tableName := range candidates {
		if issue, ok := classifyCandidate(tableName, sourceSchema, targetSchema); !ok {
			result.SchemaIssues = append(result.SchemaIssues, issue)
			continue
		}

		diff, err := s.DiffTable(ctx, sourceDB, targetDB, sourceSchema.Tables[tableName], batchSize, sampleLimit)
		if err != nil {
			return nil, nil, err
		}
		result.TableDiffs = append(result.TableDiffs, diff)
		totalChanges += diff.InsertCount + diff.UpdateCount
	}

	if totalChanges > 0 {
		result.EstimatedDurationSeconds = totalChanges / estimatedRowsPerSecond
		if result.EstimatedDurationSeconds == 0 {
			result.EstimatedDurationSeconds = 1
		}
	}

	if targetEnv == models.EnvProduction {
		result.Warnings = append(result.Warnings, "目标连接是生产环境，执行前需要确认")
	}
	if !validation.CanProceed {
		result.Warnings = append(result.Warnings, "存在 CRITICAL 级别的结构问题，无法执行同步")
	}

	return result, validation, nil
}

// classifyCandidate 判断表能否参与行级比较，不能参与时返回对应的提示
func classifyCandidate(tableName string, source, target *models.DatabaseSchema) (string, bool) {
	sourceTable, inSource := source.Tables[tableName]
	if !inSource {
		return fmt.Sprintf("表 %s 在源库不存在，已跳过", tableName), false
	}
	if _, inTarget := target.Tables[tableName]; !inTarget {
		return fmt.Sprintf("表 %s 在目标库不存在，需要先执行迁移计划", tableName), false
	}
	if len(sourceTable.PrimaryKeys) == 0 {
		// 没有稳定键时 update 语义无定义，该表排除在行级比较之外
		return fmt.Sprintf("表 %s 没有主键，已排除在行级比较之外", tableName), false
	}
	return "", true
}
