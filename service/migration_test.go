package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/pgsync/models"
)

// 目标缺表：生成CREATE TABLE（safe），回滚是DROP TABLE
func TestGenerateMigrationPlan_CreateMissingTable(t *testing.T) {
	validator := &ValidatorService{}
	migration := &MigrationService{}

	source := buildSchema(usersTable())
	target := buildSchema()
	result := validator.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	plan := migration.GenerateMigrationPlan(result, source, target, models.DirectionOneWay)

	require.Len(t, plan.Statements, 1)
	stmt := plan.Statements[0]
	assert.Equal(t, models.RiskSafe, stmt.Risk)
	assert.Contains(t, stmt.SQL, `CREATE TABLE "users"`)
	assert.Contains(t, stmt.SQL, `PRIMARY KEY ("id")`)
	assert.Contains(t, stmt.SQL, `"name" character varying NOT NULL`)
	assert.Equal(t, `DROP TABLE "users";`, stmt.Rollback)
	assert.Equal(t, stmt.Rollback, plan.RollbackScript)
}

// 目标库独有的表：DROP 标记为dangerous并附带风险说明
func TestGenerateMigrationPlan_DropIsDangerous(t *testing.T) {
	validator := &ValidatorService{}
	migration := &MigrationService{}

	source := buildSchema()
	target := buildSchema(usersTable())
	result := validator.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	plan := migration.GenerateMigrationPlan(result, source, target, models.DirectionOneWay)

	require.Len(t, plan.Statements, 1)
	stmt := plan.Statements[0]
	assert.Equal(t, models.RiskDangerous, stmt.Risk)
	assert.Contains(t, stmt.SQL, "-- 危险")
	assert.Contains(t, stmt.SQL, `DROP TABLE "users";`)
	// 回滚能重建该表
	assert.Contains(t, stmt.Rollback, `CREATE TABLE "users"`)
}

// 语句按风险排序：新增类在前，破坏类在最后；回滚脚本按逆序拼装
func TestGenerateMigrationPlan_Ordering(t *testing.T) {
	validator := &ValidatorService{}
	migration := &MigrationService{}

	orders := usersTable()
	orders.Name = "orders"
	source := buildSchema(usersTable())
	target := buildSchema(orders) // users 缺失（CREATE），orders 多余（DROP）

	result := validator.ValidateSchemas(source, target, nil, models.EnvDevelopment)
	plan := migration.GenerateMigrationPlan(result, source, target, models.DirectionOneWay)

	require.Len(t, plan.Statements, 2)
	assert.Equal(t, models.RiskSafe, plan.Statements[0].Risk)
	assert.Equal(t, models.RiskDangerous, plan.Statements[1].Risk)

	// 回滚脚本逆序：先重建被删的表，再删掉新建的表
	lines := strings.Split(plan.RollbackScript, "\n")
	assert.Contains(t, lines[0], `CREATE TABLE "orders"`)
	assert.Contains(t, plan.RollbackScript, `DROP TABLE "users";`)
}

// 目标缺列：ADD COLUMN 是safe，带NOT NULL和DEFAULT
func TestGenerateMigrationPlan_AddColumn(t *testing.T) {
	validator := &ValidatorService{}
	migration := &MigrationService{}

	source := buildSchema(usersTable())
	targetTable := usersTable()
	targetTable.Columns = targetTable.Columns[:3] // 去掉 updated_at
	target := buildSchema(targetTable)

	result := validator.ValidateSchemas(source, target, nil, models.EnvDevelopment)
	plan := migration.GenerateMigrationPlan(result, source, target, models.DirectionOneWay)

	require.Len(t, plan.Statements, 1)
	stmt := plan.Statements[0]
	assert.Equal(t, models.RiskSafe, stmt.Risk)
	assert.Contains(t, stmt.SQL, `ALTER TABLE "users" ADD COLUMN "updated_at"`)
	assert.Contains(t, stmt.Rollback, `DROP COLUMN "updated_at"`)
}

// 可加宽的类型不一致：ALTER TYPE ... USING，caution
func TestGenerateMigrationPlan_CompatibleTypeChange(t *testing.T) {
	validator := &ValidatorService{}
	migration := &MigrationService{}

	sourceTable := usersTable()
	sourceTable.Columns[2].DataType = "text"
	sourceTable.Columns[2].UnderlyingType = "text"
	source := buildSchema(sourceTable)

	targetTable := usersTable()
	targetTable.Columns[2].DataType = "character varying"
	targetTable.Columns[2].UnderlyingType = "varchar"
	target := buildSchema(targetTable)

	result := validator.ValidateSchemas(source, target, nil, models.EnvDevelopment)
	plan := migration.GenerateMigrationPlan(result, source, target, models.DirectionOneWay)

	require.Len(t, plan.Statements, 1)
	stmt := plan.Statements[0]
	assert.Equal(t, models.RiskCaution, stmt.Risk)
	assert.Contains(t, stmt.SQL, `ALTER COLUMN "email" TYPE text USING "email"::text`)
}

// 不兼容的类型转换没有安全修复，不生成语句
func TestGenerateMigrationPlan_IncompatibleTypeSkipped(t *testing.T) {
	validator := &ValidatorService{}
	migration := &MigrationService{}

	sourceTable := usersTable()
	sourceTable.Columns[2].DataType = "integer"
	sourceTable.Columns[2].UnderlyingType = "int4"
	source := buildSchema(sourceTable)
	target := buildSchema(usersTable()) // email 是 text

	result := validator.ValidateSchemas(source, target, nil, models.EnvDevelopment)
	plan := migration.GenerateMigrationPlan(result, source, target, models.DirectionOneWay)

	assert.Empty(t, plan.Statements)
}

// 快速修复：safe/caution 可以生成，dangerous 一律返回nil
func TestGenerateQuickFix(t *testing.T) {
	validator := &ValidatorService{}
	migration := &MigrationService{}

	source := buildSchema(usersTable())
	target := buildSchema()
	result := validator.ValidateSchemas(source, target, nil, models.EnvDevelopment)
	require.Len(t, result.Issues, 1)

	stmt := migration.GenerateQuickFix(result, source, target, result.Issues[0].ID)
	require.NotNil(t, stmt)
	assert.Equal(t, result.Issues[0].ID, stmt.IssueID)
	assert.Contains(t, stmt.SQL, "CREATE TABLE")

	// 破坏性修复不提供
	result2 := validator.ValidateSchemas(target, source, nil, models.EnvDevelopment)
	require.Len(t, result2.Issues, 1)
	assert.Nil(t, migration.GenerateQuickFix(result2, target, source, result2.Issues[0].ID))

	// 不存在的问题ID
	assert.Nil(t, migration.GenerateQuickFix(result, source, target, "no-such-issue"))
}

func TestCompatibleCast(t *testing.T) {
	assert.True(t, compatibleCast("int4", "int8"))
	assert.True(t, compatibleCast("varchar", "text"))
	assert.True(t, compatibleCast("text", "text"))
	assert.False(t, compatibleCast("int8", "int4"))
	assert.False(t, compatibleCast("text", "int4"))
}
