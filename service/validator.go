package service

import (
	"fmt"
	"sort"
	"strings"

	"zh.xyz/dv/pgsync/models"
)

// ValidatorService 结构校验服务
type ValidatorService struct{}

// ValidateSchemas 比较两侧结构，输出按级别归类的问题列表
// tables 为空时取两侧表名的并集，只在一侧存在的表不会被悄悄排除
// CanProceed 为 false 当且仅当存在 CRITICAL 问题；这是所有写入路径的安全闸门
func (s *ValidatorService) ValidateSchemas(source, target *models.DatabaseSchema, tables []string, targetEnv string) *models.SchemaValidationResult {
	result := &models.SchemaValidationResult{
		Issues:         []models.ValidationIssue{},
		SeverityCounts: make(map[string]int),
	}

	candidates := tables
	if len(candidates) == 0 {
		candidates = unionTables(source, target)
	}

	for _, tableName := range candidates {
		sourceTable, inSource := source.Tables[tableName]
		targetTable, inTarget := target.Tables[tableName]

		switch {
		case !inSource && !inTarget:
			s.addIssue(result, models.ValidationIssue{
				Severity:    models.SeverityCritical,
				Category:    models.CategoryMissingTable,
				Table:       tableName,
				Message:     "表在源库和目标库都不存在",
				Remediation: "检查表名是否正确",
			})
		case !inSource:
			s.addIssue(result, models.ValidationIssue{
				Severity:    models.SeverityCritical,
				Category:    models.CategoryMissingTable,
				Table:       tableName,
				Message:     "表在源库不存在",
				Detail:      "missing_in_source",
				Remediation: "从同步范围移除该表，或在源库创建",
			})
		case !inTarget:
			s.addIssue(result, models.ValidationIssue{
				Severity:    models.SeverityCritical,
				Category:    models.CategoryMissingTable,
				Table:       tableName,
				Message:     "表在目标库不存在",
				Detail:      "missing_in_target",
				Remediation: "使用迁移计划在目标库创建该表",
			})
		default:
			s.validateTable(result, sourceTable, targetTable)
		}
	}

	result.CanProceed = result.SeverityCounts[models.SeverityCritical] == 0
	result.RequiresConfirmation = result.SeverityCounts[models.SeverityHigh] > 0 ||
		targetEnv == models.EnvProduction

	return result
}

// validateTable 比较两侧都存在的表：列、主键、外键、索引
func (s *ValidatorService) validateTable(result *models.SchemaValidationResult, source, target *models.DetailedTableSchema) {
	s.validatePrimaryKeys(result, source, target)
	s.validateColumns(result, source, target)
	s.validateForeignKeys(result, source, target)
	s.validateIndexes(result, source, target)
}

func (s *ValidatorService) validatePrimaryKeys(result *models.SchemaValidationResult, source, target *models.DetailedTableSchema) {
	if len(source.PrimaryKeys) == 0 {
		s.addIssue(result, models.ValidationIssue{
			Severity:    models.SeverityCritical,
			Category:    models.CategoryPrimaryKey,
			Table:       source.Name,
			Message:     "源表没有主键",
			Detail:      "没有稳定键无法做行级同步",
			Remediation: "为该表添加主键，或将其排除在同步之外",
		})
		return
	}

	if len(target.PrimaryKeys) == 0 {
		s.addIssue(result, models.ValidationIssue{
			Severity:    models.SeverityCritical,
			Category:    models.CategoryPrimaryKey,
			Table:       target.Name,
			Message:     "目标表没有主键",
			Remediation: "为目标表添加与源表一致的主键",
		})
		return
	}

	if strings.Join(source.PrimaryKeys, ",") != strings.Join(target.PrimaryKeys, ",") {
		s.addIssue(result, models.ValidationIssue{
			Severity:    models.SeverityCritical,
			Category:    models.CategoryPrimaryKey,
			Table:       source.Name,
			Message:     "两侧主键定义不一致",
			Detail:      fmt.Sprintf("源: (%s) 目标: (%s)", strings.Join(source.PrimaryKeys, ","), strings.Join(target.PrimaryKeys, ",")),
			Remediation: "统一两侧主键后重试",
		})
	}
}

func (s *ValidatorService) validateColumns(result *models.SchemaValidationResult, source, target *models.DetailedTableSchema) {
	targetCols := make(map[string]*models.DetailedColumn)
	for i := range target.Columns {
		targetCols[target.Columns[i].Name] = &target.Columns[i]
	}
	sourceCols := make(map[string]*models.DetailedColumn)
	for i := range source.Columns {
		sourceCols[source.Columns[i].Name] = &source.Columns[i]
	}

	for i := range source.Columns {
		sc := &source.Columns[i]
		tc, ok := targetCols[sc.Name]
		if !ok {
			// 目标缺列：非空列缺失会让插入失败
			severity := models.SeverityLow
			if !sc.IsNullable {
				severity = models.SeverityHigh
			}
			s.addIssue(result, models.ValidationIssue{
				Severity:    severity,
				Category:    models.CategoryColumn,
				Table:       source.Name,
				Column:      sc.Name,
				Message:     "列在目标表不存在",
				Detail:      fmt.Sprintf("源类型: %s", sc.DataType),
				Remediation: "使用迁移计划在目标表添加该列",
			})
			continue
		}

		if sc.UnderlyingType != tc.UnderlyingType {
			// 非空列的类型不一致风险更高
			severity := models.SeverityMedium
			if !sc.IsNullable {
				severity = models.SeverityHigh
			}
			s.addIssue(result, models.ValidationIssue{
				Severity:    severity,
				Category:    models.CategoryColumnType,
				Table:       source.Name,
				Column:      sc.Name,
				Message:     "列类型不一致",
				Detail:      fmt.Sprintf("源: %s 目标: %s", sc.UnderlyingType, tc.UnderlyingType),
				Remediation: "确认两侧类型可以兼容转换",
			})
		}

		if sc.IsNullable != tc.IsNullable {
			s.addIssue(result, models.ValidationIssue{
				Severity:    models.SeverityMedium,
				Category:    models.CategoryColumn,
				Table:       source.Name,
				Column:      sc.Name,
				Message:     "列的可空性不一致",
				Detail:      fmt.Sprintf("源可空: %v 目标可空: %v", sc.IsNullable, tc.IsNullable),
				Remediation: "统一可空性，避免写入约束冲突",
			})
		}
	}

	// 目标多出的列：可空的只是提示，非空且无默认值会阻塞插入
	for i := range target.Columns {
		tc := &target.Columns[i]
		if _, ok := sourceCols[tc.Name]; ok {
			continue
		}
		severity := models.SeverityInfo
		if !tc.IsNullable && tc.Default == "" {
			severity = models.SeverityHigh
		}
		s.addIssue(result, models.ValidationIssue{
			Severity:    severity,
			Category:    models.CategoryColumn,
			Table:       target.Name,
			Column:      tc.Name,
			Message:     "目标表存在源表没有的列",
			Detail:      fmt.Sprintf("目标类型: %s", tc.DataType),
			Remediation: "确认该列可空或有默认值",
		})
	}
}

func (s *ValidatorService) validateForeignKeys(result *models.SchemaValidationResult, source, target *models.DetailedTableSchema) {
	targetFKs := make(map[string]models.ForeignKey)
	for _, fk := range target.ForeignKeys {
		targetFKs[fkSignature(fk)] = fk
	}

	for _, fk := range source.ForeignKeys {
		if _, ok := targetFKs[fkSignature(fk)]; !ok {
			s.addIssue(result, models.ValidationIssue{
				Severity:    models.SeverityMedium,
				Category:    models.CategoryForeignKey,
				Table:       source.Name,
				Column:      fk.Column,
				Message:     "外键在目标表不存在或定义不同",
				Detail:      fmt.Sprintf("%s -> %s(%s)", fk.Column, fk.ReferencedTable, fk.ReferencedColumn),
				Remediation: "同步前确认外键依赖的表已存在",
			})
		}
	}
}

func (s *ValidatorService) validateIndexes(result *models.SchemaValidationResult, source, target *models.DetailedTableSchema) {
	targetIdx := make(map[string]models.TableIndex)
	for _, idx := range target.Indexes {
		targetIdx[idxSignature(idx)] = idx
	}

	for _, idx := range source.Indexes {
		if _, ok := targetIdx[idxSignature(idx)]; !ok {
			s.addIssue(result, models.ValidationIssue{
				Severity:    models.SeverityMedium,
				Category:    models.CategoryIndex,
				Table:       source.Name,
				Message:     "索引在目标表不存在或定义不同",
				Detail:      fmt.Sprintf("%s (%s)", idx.Name, strings.Join(idx.Columns, ",")),
				Remediation: "大表同步后查询性能可能下降，建议补齐索引",
			})
		}
	}
}

func (s *ValidatorService) addIssue(result *models.SchemaValidationResult, issue models.ValidationIssue) {
	issue.ID = fmt.Sprintf("%s-%s-%s-%d", issue.Category, issue.Table, issue.Column, len(result.Issues))
	result.Issues = append(result.Issues, issue)
	result.SeverityCounts[issue.Severity]++
}

// fkSignature 外键的比较签名（忽略约束名，按结构比较）
func fkSignature(fk models.ForeignKey) string {
	return fmt.Sprintf("%s>%s.%s|%s|%s", fk.Column, fk.ReferencedTable, fk.ReferencedColumn, fk.OnDelete, fk.OnUpdate)
}

// idxSignature 索引的比较签名（忽略索引名）
func idxSignature(idx models.TableIndex) string {
	return fmt.Sprintf("%s|%v|%s", strings.Join(idx.Columns, ","), idx.IsUnique, idx.Method)
}

// unionTables 两侧表名的并集，排序保证输出稳定
func unionTables(source, target *models.DatabaseSchema) []string {
	seen := make(map[string]bool)
	var tables []string
	for name := range source.Tables {
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	for name := range target.Tables {
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables
}
