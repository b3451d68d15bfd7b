package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/pgsync/models"
)

// 没有主键的表排除在行级比较之外，且恰好产生一条提示
func TestClassifyCandidate_NoPrimaryKey(t *testing.T) {
	events := &models.DetailedTableSchema{
		Name: "events",
		Columns: []models.DetailedColumn{
			{Name: "payload", DataType: "text", UnderlyingType: "text", OrdinalPosition: 1},
		},
	}
	source := buildSchema(usersTable(), events)
	target := buildSchema(usersTable(), events)

	var issues []string
	var diffable []string
	for _, name := range []string{"users", "events"} {
		if issue, ok := classifyCandidate(name, source, target); !ok {
			issues = append(issues, issue)
		} else {
			diffable = append(diffable, name)
		}
	}

	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "events")
	assert.Contains(t, issues[0], "没有主键")
	assert.Equal(t, []string{"users"}, diffable)
}

// 缺表的两个方向给出不同的提示
func TestClassifyCandidate_MissingTables(t *testing.T) {
	source := buildSchema(usersTable())
	target := buildSchema()

	issue, ok := classifyCandidate("users", source, target)
	require.False(t, ok)
	assert.Contains(t, issue, "目标库不存在")

	issue, ok = classifyCandidate("orders", source, target)
	require.False(t, ok)
	assert.Contains(t, issue, "源库不存在")
}

func TestClassifyCandidate_Diffable(t *testing.T) {
	source := buildSchema(usersTable())
	target := buildSchema(usersTable())

	issue, ok := classifyCandidate("users", source, target)
	assert.True(t, ok)
	assert.Empty(t, issue)
}

// 直接对没有主键的表做行级比较应报结构错误，不触碰数据库
func TestDiffTable_NoPrimaryKey(t *testing.T) {
	noPK := usersTable()
	noPK.Name = "events"
	noPK.PrimaryKeys = nil

	svc := &DiffService{}
	_, err := svc.DiffTable(context.Background(), nil, nil, noPK, 100, 10)

	var schemaErr *models.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "events", schemaErr.Table)
}
