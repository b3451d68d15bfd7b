package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/pgsync/models"
)

func buildSchema(tables ...*models.DetailedTableSchema) *models.DatabaseSchema {
	schema := &models.DatabaseSchema{
		Tables:        make(map[string]*models.DetailedTableSchema),
		ServerVersion: "PostgreSQL 15.4",
		InspectedAt:   time.Now(),
	}
	for _, t := range tables {
		schema.Tables[t.Name] = t
		if len(t.PrimaryKeys) > 0 {
			schema.SyncableTables = append(schema.SyncableTables, t.Name)
		}
	}
	return schema
}

func usersTable() *models.DetailedTableSchema {
	return &models.DetailedTableSchema{
		Name: "users",
		Columns: []models.DetailedColumn{
			{Name: "id", DataType: "integer", UnderlyingType: "int4", IsNullable: false, IsPrimaryKey: true, OrdinalPosition: 1},
			{Name: "name", DataType: "character varying", UnderlyingType: "varchar", IsNullable: false, OrdinalPosition: 2},
			{Name: "email", DataType: "text", UnderlyingType: "text", IsNullable: true, OrdinalPosition: 3},
			{Name: "updated_at", DataType: "timestamp without time zone", UnderlyingType: "timestamp", IsNullable: true, OrdinalPosition: 4},
		},
		PrimaryKeys: []string{"id"},
	}
}

// 两侧结构完全一致时不应报任何问题
func TestValidateSchemas_Identical(t *testing.T) {
	svc := &ValidatorService{}
	schema := buildSchema(usersTable())

	result := svc.ValidateSchemas(schema, schema, nil, models.EnvDevelopment)

	assert.Empty(t, result.Issues)
	assert.True(t, result.CanProceed)
	assert.False(t, result.RequiresConfirmation)
}

// 目标是生产环境时，即使没有任何问题也必须确认
func TestValidateSchemas_ProductionRequiresConfirmation(t *testing.T) {
	svc := &ValidatorService{}
	schema := buildSchema(usersTable())

	result := svc.ValidateSchemas(schema, schema, nil, models.EnvProduction)

	assert.True(t, result.CanProceed)
	assert.True(t, result.RequiresConfirmation)
}

// 表只在源库存在：CRITICAL，阻止执行
func TestValidateSchemas_MissingTableInTarget(t *testing.T) {
	svc := &ValidatorService{}
	source := buildSchema(usersTable())
	target := buildSchema()

	result := svc.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, models.SeverityCritical, result.Issues[0].Severity)
	assert.Equal(t, models.CategoryMissingTable, result.Issues[0].Category)
	assert.Equal(t, "missing_in_target", result.Issues[0].Detail)
	assert.False(t, result.CanProceed)
}

// tables 为空时取并集：目标库独有的表也要出现在结果里
func TestValidateSchemas_UnionIncludesTargetOnly(t *testing.T) {
	svc := &ValidatorService{}
	source := buildSchema(usersTable())
	extra := usersTable()
	extra.Name = "orders"
	target := buildSchema(usersTable(), extra)

	result := svc.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, "orders", result.Issues[0].Table)
	assert.Equal(t, "missing_in_source", result.Issues[0].Detail)
}

// 主键定义不一致是CRITICAL
func TestValidateSchemas_PrimaryKeyMismatch(t *testing.T) {
	svc := &ValidatorService{}
	source := buildSchema(usersTable())
	targetTable := usersTable()
	targetTable.PrimaryKeys = []string{"id", "email"}
	target := buildSchema(targetTable)

	result := svc.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	require.NotEmpty(t, result.Issues)
	assert.Equal(t, models.SeverityCritical, result.Issues[0].Severity)
	assert.Equal(t, models.CategoryPrimaryKey, result.Issues[0].Category)
	assert.False(t, result.CanProceed)
}

// 目标缺非空列是HIGH，可以继续但需要确认；缺可空列只是LOW
func TestValidateSchemas_MissingColumnSeverity(t *testing.T) {
	svc := &ValidatorService{}
	source := buildSchema(usersTable())

	targetTable := usersTable()
	// 去掉非空的name和可空的email
	targetTable.Columns = []models.DetailedColumn{
		targetTable.Columns[0], targetTable.Columns[3],
	}
	target := buildSchema(targetTable)

	result := svc.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	assert.Equal(t, 1, result.SeverityCounts[models.SeverityHigh])
	assert.Equal(t, 1, result.SeverityCounts[models.SeverityLow])
	assert.True(t, result.CanProceed)
	assert.True(t, result.RequiresConfirmation)
}

// 非空列的类型不一致是HIGH，可空列是MEDIUM
func TestValidateSchemas_ColumnTypeMismatch(t *testing.T) {
	svc := &ValidatorService{}
	source := buildSchema(usersTable())

	targetTable := usersTable()
	targetTable.Columns[1].UnderlyingType = "text" // name 非空
	targetTable.Columns[2].UnderlyingType = "varchar" // email 可空
	target := buildSchema(targetTable)

	result := svc.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	assert.Equal(t, 1, result.SeverityCounts[models.SeverityHigh])
	assert.Equal(t, 1, result.SeverityCounts[models.SeverityMedium])
	assert.True(t, result.CanProceed)
}

// 目标多出的列：可空只是INFO，非空且无默认值会阻塞插入，是HIGH
func TestValidateSchemas_ExtraTargetColumn(t *testing.T) {
	svc := &ValidatorService{}
	source := buildSchema(usersTable())

	targetTable := usersTable()
	targetTable.Columns = append(targetTable.Columns,
		models.DetailedColumn{Name: "nickname", DataType: "text", UnderlyingType: "text", IsNullable: true, OrdinalPosition: 5},
		models.DetailedColumn{Name: "tenant_id", DataType: "integer", UnderlyingType: "int4", IsNullable: false, OrdinalPosition: 6},
	)
	target := buildSchema(targetTable)

	result := svc.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	assert.Equal(t, 1, result.SeverityCounts[models.SeverityInfo])
	assert.Equal(t, 1, result.SeverityCounts[models.SeverityHigh])
}

// 外键和索引差异都是MEDIUM，按结构签名比较，忽略名字
func TestValidateSchemas_ForeignKeyAndIndex(t *testing.T) {
	svc := &ValidatorService{}

	sourceTable := usersTable()
	sourceTable.ForeignKeys = []models.ForeignKey{
		{Name: "fk_users_org", Column: "org_id", ReferencedTable: "orgs", ReferencedColumn: "id", OnDelete: "CASCADE", OnUpdate: "NO ACTION"},
	}
	sourceTable.Indexes = []models.TableIndex{
		{Name: "idx_users_email", Columns: []string{"email"}, IsUnique: true, Method: "btree"},
	}
	source := buildSchema(sourceTable)
	target := buildSchema(usersTable())

	result := svc.ValidateSchemas(source, target, nil, models.EnvDevelopment)

	assert.Equal(t, 2, result.SeverityCounts[models.SeverityMedium])
	assert.True(t, result.CanProceed)
}

// 每个问题都要有唯一ID，供快速修复引用
func TestValidateSchemas_IssueIDsUnique(t *testing.T) {
	svc := &ValidatorService{}
	source := buildSchema(usersTable())
	target := buildSchema()

	result := svc.ValidateSchemas(source, target, []string{"users", "orders"}, models.EnvDevelopment)

	seen := make(map[string]bool)
	for _, issue := range result.Issues {
		require.NotEmpty(t, issue.ID)
		assert.False(t, seen[issue.ID], "问题ID重复: %s", issue.ID)
		seen[issue.ID] = true
	}
}
