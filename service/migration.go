package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"zh.xyz/dv/pgsync/models"
)

// MigrationService 迁移计划生成服务
type MigrationService struct{}

// GenerateMigrationPlan 根据校验结果生成迁移脚本和回滚脚本
// 新增类语句排在前面，破坏类语句永远排在最后并附带风险说明
// 只有在另一侧确实不存在的对象才会生成 DROP
func (s *MigrationService) GenerateMigrationPlan(result *models.SchemaValidationResult, source, target *models.DatabaseSchema, direction string) *models.MigrationPlan {
	plan := &models.MigrationPlan{
		Direction:   direction,
		GeneratedAt: time.Now(),
	}

	var safe, caution, dangerous []models.MigrationStatement

	for _, issue := range result.Issues {
		stmt := s.statementForIssue(issue, source, target)
		if stmt == nil {
			continue
		}
		stmt.IssueID = issue.ID
		switch stmt.Risk {
		case models.RiskSafe:
			safe = append(safe, *stmt)
		case models.RiskCaution:
			caution = append(caution, *stmt)
		default:
			dangerous = append(dangerous, *stmt)
		}
	}

	plan.Statements = append(plan.Statements, safe...)
	plan.Statements = append(plan.Statements, caution...)
	plan.Statements = append(plan.Statements, dangerous...)

	// 回滚脚本按逆序拼装
	var rollback []string
	for i := len(plan.Statements) - 1; i >= 0; i-- {
		if plan.Statements[i].Rollback != "" {
			rollback = append(rollback, plan.Statements[i].Rollback)
		}
	}
	plan.RollbackScript = strings.Join(rollback, "\n")

	return plan
}

// GenerateQuickFix 为单个问题生成快速修复语句
// 无法得出安全修复（比如不兼容的类型转换、源表缺主键）时返回 nil，由调用方转人工处理
func (s *MigrationService) GenerateQuickFix(result *models.SchemaValidationResult, source, target *models.DatabaseSchema, issueID string) *models.MigrationStatement {
	for _, issue := range result.Issues {
		if issue.ID != issueID {
			continue
		}
		stmt := s.statementForIssue(issue, source, target)
		if stmt == nil || stmt.Risk == models.RiskDangerous {
			// 破坏性修复不作为快速修复提供
			return nil
		}
		stmt.IssueID = issue.ID
		return stmt
	}
	return nil
}

// statementForIssue 把单个校验问题翻译为迁移语句，不可安全修复时返回 nil
func (s *MigrationService) statementForIssue(issue models.ValidationIssue, source, target *models.DatabaseSchema) *models.MigrationStatement {
	switch issue.Category {
	case models.CategoryMissingTable:
		return s.missingTableStatement(issue, source, target)
	case models.CategoryColumn:
		return s.columnStatement(issue, source, target)
	case models.CategoryColumnType:
		return s.columnTypeStatement(issue, source, target)
	case models.CategoryPrimaryKey:
		return s.primaryKeyStatement(issue, source)
	case models.CategoryForeignKey:
		return s.foreignKeyStatement(issue, source, target)
	case models.CategoryIndex:
		return s.indexStatement(issue, source, target)
	default:
		return nil
	}
}

func (s *MigrationService) missingTableStatement(issue models.ValidationIssue, source, target *models.DatabaseSchema) *models.MigrationStatement {
	switch issue.Detail {
	case "missing_in_target":
		table, ok := source.Tables[issue.Table]
		if !ok {
			return nil
		}
		return &models.MigrationStatement{
			SQL:      buildCreateTable(table),
			Rollback: fmt.Sprintf("DROP TABLE %s;", pq.QuoteIdentifier(issue.Table)),
			Risk:     models.RiskSafe,
		}
	case "missing_in_source":
		// 表只在目标库存在：删除是破坏性操作，排在最后
		if _, ok := source.Tables[issue.Table]; ok {
			return nil
		}
		table, ok := target.Tables[issue.Table]
		if !ok {
			return nil
		}
		return &models.MigrationStatement{
			SQL:      fmt.Sprintf("-- 危险：将删除目标库独有的表 %s 及其全部数据\nDROP TABLE %s;", issue.Table, pq.QuoteIdentifier(issue.Table)),
			Rollback: buildCreateTable(table),
			Risk:     models.RiskDangerous,
			Comment:  "该表仅存在于目标库，删除后数据不可恢复",
		}
	default:
		return nil
	}
}

func (s *MigrationService) columnStatement(issue models.ValidationIssue, source, target *models.DatabaseSchema) *models.MigrationStatement {
	sourceCol := findColumn(source, issue.Table, issue.Column)
	targetCol := findColumn(target, issue.Table, issue.Column)

	switch {
	case sourceCol != nil && targetCol == nil:
		// 目标缺列：新增是安全操作
		return &models.MigrationStatement{
			SQL:      fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", pq.QuoteIdentifier(issue.Table), buildColumnDef(sourceCol)),
			Rollback: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column)),
			Risk:     models.RiskSafe,
		}
	case sourceCol == nil && targetCol != nil:
		// 目标多出的列：只有源侧确实没有才允许删除，且标记为危险
		return &models.MigrationStatement{
			SQL:      fmt.Sprintf("-- 危险：将删除目标表 %s 独有的列 %s\nALTER TABLE %s DROP COLUMN %s;", issue.Table, issue.Column, pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column)),
			Rollback: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", pq.QuoteIdentifier(issue.Table), buildColumnDef(targetCol)),
			Risk:     models.RiskDangerous,
			Comment:  "该列仅存在于目标表，删除后列数据不可恢复",
		}
	case sourceCol != nil && targetCol != nil && sourceCol.IsNullable != targetCol.IsNullable:
		if sourceCol.IsNullable {
			return &models.MigrationStatement{
				SQL:      fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column)),
				Rollback: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column)),
				Risk:     models.RiskSafe,
			}
		}
		return &models.MigrationStatement{
			SQL:      fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column)),
			Rollback: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column)),
			Risk:     models.RiskCaution,
			Comment:  "已有 NULL 值时该语句会失败，需要先清理数据",
		}
	default:
		return nil
	}
}

func (s *MigrationService) columnTypeStatement(issue models.ValidationIssue, source, target *models.DatabaseSchema) *models.MigrationStatement {
	sourceCol := findColumn(source, issue.Table, issue.Column)
	targetCol := findColumn(target, issue.Table, issue.Column)
	if sourceCol == nil || targetCol == nil {
		return nil
	}

	if !compatibleCast(targetCol.UnderlyingType, sourceCol.UnderlyingType) {
		// 不兼容的类型转换没有安全修复
		return nil
	}

	return &models.MigrationStatement{
		SQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
			pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column),
			sourceCol.DataType, pq.QuoteIdentifier(issue.Column), sourceCol.DataType),
		Rollback: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
			pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Column),
			targetCol.DataType, pq.QuoteIdentifier(issue.Column), targetCol.DataType),
		Risk:    models.RiskCaution,
		Comment: "类型转换会重写整张表，大表上会长时间持锁",
	}
}

func (s *MigrationService) primaryKeyStatement(issue models.ValidationIssue, source *models.DatabaseSchema) *models.MigrationStatement {
	table, ok := source.Tables[issue.Table]
	if !ok || len(table.PrimaryKeys) == 0 {
		// 源表自身缺主键时无法推导修复
		return nil
	}

	quoted := make([]string, len(table.PrimaryKeys))
	for i, pk := range table.PrimaryKeys {
		quoted[i] = pq.QuoteIdentifier(pk)
	}

	return &models.MigrationStatement{
		SQL: fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s);",
			pq.QuoteIdentifier(issue.Table), strings.Join(quoted, ", ")),
		Rollback: fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;",
			pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(issue.Table+"_pkey")),
		Risk:    models.RiskCaution,
		Comment: "已有重复值或 NULL 时该语句会失败",
	}
}

func (s *MigrationService) foreignKeyStatement(issue models.ValidationIssue, source, target *models.DatabaseSchema) *models.MigrationStatement {
	sourceTable, ok := source.Tables[issue.Table]
	if !ok {
		return nil
	}

	for _, fk := range sourceTable.ForeignKeys {
		if fk.Column != issue.Column {
			continue
		}
		return &models.MigrationStatement{
			SQL: fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s;",
				pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(fk.Name),
				pq.QuoteIdentifier(fk.Column), pq.QuoteIdentifier(fk.ReferencedTable),
				pq.QuoteIdentifier(fk.ReferencedColumn), fk.OnDelete, fk.OnUpdate),
			Rollback: fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;",
				pq.QuoteIdentifier(issue.Table), pq.QuoteIdentifier(fk.Name)),
			Risk:    models.RiskCaution,
			Comment: "已有不满足引用约束的数据时该语句会失败",
		}
	}
	return nil
}

func (s *MigrationService) indexStatement(issue models.ValidationIssue, source, target *models.DatabaseSchema) *models.MigrationStatement {
	sourceTable, ok := source.Tables[issue.Table]
	if !ok {
		return nil
	}

	for _, idx := range sourceTable.Indexes {
		if !strings.Contains(issue.Detail, idx.Name) {
			continue
		}
		unique := ""
		if idx.IsUnique {
			unique = "UNIQUE "
		}
		quoted := make([]string, len(idx.Columns))
		for i, col := range idx.Columns {
			quoted[i] = pq.QuoteIdentifier(col)
		}
		return &models.MigrationStatement{
			SQL: fmt.Sprintf("CREATE %sINDEX %s ON %s USING %s (%s);",
				unique, pq.QuoteIdentifier(idx.Name), pq.QuoteIdentifier(issue.Table),
				idx.Method, strings.Join(quoted, ", ")),
			Rollback: fmt.Sprintf("DROP INDEX %s;", pq.QuoteIdentifier(idx.Name)),
			Risk:     models.RiskSafe,
		}
	}
	return nil
}

// buildCreateTable 从源表结构生成建表语句
func buildCreateTable(table *models.DetailedTableSchema) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", pq.QuoteIdentifier(table.Name)))

	var defs []string
	for i := range table.Columns {
		defs = append(defs, "    "+buildColumnDef(&table.Columns[i]))
	}

	if len(table.PrimaryKeys) > 0 {
		quoted := make([]string, len(table.PrimaryKeys))
		for i, pk := range table.PrimaryKeys {
			quoted[i] = pq.QuoteIdentifier(pk)
		}
		defs = append(defs, fmt.Sprintf("    PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	sb.WriteString(strings.Join(defs, ",\n"))
	sb.WriteString("\n);")
	return sb.String()
}

func buildColumnDef(col *models.DetailedColumn) string {
	var sb strings.Builder
	sb.WriteString(pq.QuoteIdentifier(col.Name))
	sb.WriteString(" ")
	sb.WriteString(col.DataType)
	if !col.IsNullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Default != "" {
		sb.WriteString(" DEFAULT " + col.Default)
	}
	return sb.String()
}

func findColumn(schema *models.DatabaseSchema, tableName, columnName string) *models.DetailedColumn {
	table, ok := schema.Tables[tableName]
	if !ok {
		return nil
	}
	for i := range table.Columns {
		if table.Columns[i].Name == columnName {
			return &table.Columns[i]
		}
	}
	return nil
}

// compatibleCast 判断类型转换是否有安全的隐式/显式路径
func compatibleCast(from, to string) bool {
	if from == to {
		return true
	}

	widening := map[string][]string{
		"int2":    {"int4", "int8", "numeric", "float4", "float8"},
		"int4":    {"int8", "numeric", "float8"},
		"int8":    {"numeric"},
		"float4":  {"float8"},
		"varchar": {"text"},
		"bpchar":  {"varchar", "text"},
		"text":    {"varchar"},
	}

	for _, t := range widening[from] {
		if t == to {
			return true
		}
	}
	return false
}
