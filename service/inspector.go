package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"zh.xyz/dv/pgsync/models"
)

// InspectorService 结构检查服务
type InspectorService struct{}

// InspectDatabase 读取数据库的完整结构信息
// 每次调用都重新读取，结构可能随时变化，不做缓存
// 行数和存储大小来自 pg_class 统计信息，是估算值
func (s *InspectorService) InspectDatabase(ctx context.Context, db *sql.DB) (*models.DatabaseSchema, error) {
	schema := &models.DatabaseSchema{
		Tables:      make(map[string]*models.DetailedTableSchema),
		InspectedAt: time.Now(),
	}

	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&schema.ServerVersion); err != nil {
		return nil, &models.ConnectionError{Message: "读取服务器版本失败", Err: err}
	}

	tables, err := s.getTables(ctx, db)
	if err != nil {
		return nil, &models.SchemaError{Message: "读取表列表失败", Err: err}
	}

	for _, tableName := range tables {
		table, err := s.inspectTable(ctx, db, tableName)
		if err != nil {
			return nil, err
		}
		schema.Tables[tableName] = table

		// 有主键的表才可参与行级同步
		if len(table.PrimaryKeys) > 0 {
			schema.SyncableTables = append(schema.SyncableTables, tableName)
		}
	}

	return schema, nil
}

// inspectTable 读取单张表的详细结构
func (s *InspectorService) inspectTable(ctx context.Context, db *sql.DB, tableName string) (*models.DetailedTableSchema, error) {
	table := &models.DetailedTableSchema{Name: tableName}

	primaryKeys, err := s.getPrimaryKeys(ctx, db, tableName)
	if err != nil {
		return nil, &models.SchemaError{Table: tableName, Message: "读取主键失败", Err: err}
	}
	table.PrimaryKeys = primaryKeys

	pkSet := make(map[string]bool)
	for _, pk := range primaryKeys {
		pkSet[pk] = true
	}

	columns, err := s.getColumns(ctx, db, tableName, pkSet)
	if err != nil {
		return nil, &models.SchemaError{Table: tableName, Message: "读取列信息失败", Err: err}
	}
	table.Columns = columns

	foreignKeys, err := s.getForeignKeys(ctx, db, tableName)
	if err != nil {
		return nil, &models.SchemaError{Table: tableName, Message: "读取外键失败", Err: err}
	}
	table.ForeignKeys = foreignKeys

	indexes, err := s.getIndexes(ctx, db, tableName)
	if err != nil {
		return nil, &models.SchemaError{Table: tableName, Message: "读取索引失败", Err: err}
	}
	table.Indexes = indexes

	if err := s.getTableStats(ctx, db, table); err != nil {
		return nil, &models.SchemaError{Table: tableName, Message: "读取统计信息失败", Err: err}
	}

	return table, nil
}

func (s *InspectorService) getTables(ctx context.Context, db *sql.DB) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}

	return tables, rows.Err()
}

func (s *InspectorService) getColumns(ctx context.Context, db *sql.DB, tableName string, pkSet map[string]bool) ([]models.DetailedColumn, error) {
	query := `
		SELECT
			column_name,
			data_type,
			udt_name,
			is_nullable = 'YES',
			column_default,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []models.DetailedColumn
	for rows.Next() {
		var col models.DetailedColumn
		var defaultValue sql.NullString

		if err := rows.Scan(&col.Name, &col.DataType, &col.UnderlyingType, &col.IsNullable, &defaultValue, &col.OrdinalPosition); err != nil {
			return nil, err
		}

		col.Default = defaultValue.String
		col.IsPrimaryKey = pkSet[col.Name]
		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (s *InspectorService) getPrimaryKeys(ctx context.Context, db *sql.DB, tableName string) ([]string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.table_constraints tc
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = 'public' AND tc.table_name = $1
			AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
	`

	rows, err := db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *InspectorService) getForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]models.ForeignKey, error) {
	query := `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		WHERE tc.table_schema = 'public' AND tc.table_name = $1
			AND tc.constraint_type = 'FOREIGN KEY'
		ORDER BY tc.constraint_name
	`

	rows, err := db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var foreignKeys []models.ForeignKey
	for rows.Next() {
		var fk models.ForeignKey
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.OnDelete, &fk.OnUpdate); err != nil {
			return nil, err
		}
		foreignKeys = append(foreignKeys, fk)
	}

	return foreignKeys, rows.Err()
}

func (s *InspectorService) getIndexes(ctx context.Context, db *sql.DB, tableName string) ([]models.TableIndex, error) {
	query := `
		SELECT
			i.relname,
			array_to_string(array_agg(a.attname ORDER BY array_position(ix.indkey, a.attnum)), ','),
			ix.indisunique,
			am.amname
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = 'public' AND t.relname = $1 AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique, am.amname
		ORDER BY i.relname
	`

	rows, err := db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []models.TableIndex
	for rows.Next() {
		var idx models.TableIndex
		var columns string
		if err := rows.Scan(&idx.Name, &columns, &idx.IsUnique, &idx.Method); err != nil {
			return nil, err
		}
		if columns != "" {
			idx.Columns = strings.Split(columns, ",")
		}
		indexes = append(indexes, idx)
	}

	return indexes, rows.Err()
}

// getTableStats 读取估算行数和存储大小
// reltuples 由 ANALYZE 周期性刷新，不保证精确
func (s *InspectorService) getTableStats(ctx context.Context, db *sql.DB, table *models.DetailedTableSchema) error {
	query := `
		SELECT
			GREATEST(c.reltuples::bigint, 0),
			pg_total_relation_size(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = 'public' AND c.relname = $1
	`

	return db.QueryRowContext(ctx, query, table.Name).Scan(&table.RowCount, &table.SizeBytes)
}
