package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"zh.xyz/dv/pgsync/models"
)

// DiffService 行级差异计算服务
type DiffService struct{}

// 行变更类型
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
)

// RowChange 一行的变更：目标缺失为 insert，存在但字段不同为 update
type RowChange struct {
	Kind      string
	Row       models.RowData // 源行
	TargetRow models.RowData // update 时的目标行
	Key       []interface{}  // 主键值，按主键列顺序
	KeyJSON   string         // 主键值（JSON格式）
}

// DiffTable 计算单表的行级差异
// 按主键序分批流式比较，不会把整张表拉到内存里
func (s *DiffService) DiffTable(ctx context.Context, sourceDB, targetDB *sql.DB, table *models.DetailedTableSchema, batchSize, sampleLimit int) (*models.TableDiff, error) {
	if len(table.PrimaryKeys) == 0 {
		return nil, &models.SchemaError{Table: table.Name, Message: "表没有主键，无法计算行级差异"}
	}

	diff := &models.TableDiff{TableName: table.Name}

	var err error
	if diff.SourceRowCount, err = countRows(ctx, sourceDB, table.Name); err != nil {
		return nil, &models.ConnectionError{Message: "统计源表行数失败", Err: err}
	}
	if diff.TargetRowCount, err = countRows(ctx, targetDB, table.Name); err != nil {
		return nil, &models.ConnectionError{Message: "统计目标表行数失败", Err: err}
	}

	err = s.ScanChanges(ctx, sourceDB, targetDB, table, nil, batchSize, func(changes []RowChange, lastKey []interface{}) error {
		for _, change := range changes {
			switch change.Kind {
			case ChangeInsert:
				diff.InsertCount++
				if len(diff.InsertSamples) < sampleLimit {
					diff.InsertSamples = append(diff.InsertSamples, normalizeRow(change.Row))
				}
			case ChangeUpdate:
				diff.UpdateCount++
				if len(diff.UpdateSamples) < sampleLimit {
					diff.UpdateSamples = append(diff.UpdateSamples, normalizeRow(change.Row))
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return diff, nil
}

// ScanChanges 按主键序分批扫描源表，与目标表做归并比较，逐批回调变更
// startAfter 非空时从该主键之后继续（断点续传）
// 每批回调携带本批最后一行的主键，供调用方记录检查点
func (s *DiffService) ScanChanges(ctx context.Context, sourceDB, targetDB *sql.DB, table *models.DetailedTableSchema, startAfter []interface{}, batchSize int, fn func(changes []RowChange, lastKey []interface{}) error) error {
	pkCols := table.PrimaryKeys
	cursor := startAfter

	for {
		batch, err := s.fetchBatch(ctx, sourceDB, table, cursor, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		targetRows, err := s.fetchTargetRows(ctx, targetDB, table, batch)
		if err != nil {
			return err
		}

		changes := make([]RowChange, 0, len(batch))
		for _, row := range batch {
			keyJSON := encodePrimaryKey(row, pkCols)
			change := RowChange{
				Row:     row,
				Key:     keyValues(row, pkCols),
				KeyJSON: keyJSON,
			}

			targetRow, exists := targetRows[keyJSON]
			if !exists {
				change.Kind = ChangeInsert
			} else if !rowsEqual(row, targetRow, table.Columns) {
				change.Kind = ChangeUpdate
				change.TargetRow = targetRow
			} else {
				continue // 两侧一致，无需变更
			}

			changes = append(changes, change)
		}

		lastKey := keyValues(batch[len(batch)-1], pkCols)
		if err := fn(changes, lastKey); err != nil {
			return err
		}

		if len(batch) < batchSize {
			return nil
		}
		cursor = lastKey
	}
}

// fetchBatch 按主键序取一批源行（keyset 分页，不用 OFFSET）
func (s *DiffService) fetchBatch(ctx context.Context, db *sql.DB, table *models.DetailedTableSchema, after []interface{}, batchSize int) ([]models.RowData, error) {
	pkList := quoteColumns(table.PrimaryKeys)

	var sb strings.Builder
	var args []interface{}

	sb.WriteString(fmt.Sprintf("SELECT * FROM %s", pq.QuoteIdentifier(table.Name)))
	if len(after) > 0 {
		placeholders := make([]string, len(after))
		for i := range after {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, after[i])
		}
		sb.WriteString(fmt.Sprintf(" WHERE (%s) > (%s)", strings.Join(pkList, ","), strings.Join(placeholders, ",")))
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY %s LIMIT %d", strings.Join(pkList, ","), batchSize))

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, &models.ConnectionError{Message: "查询源表数据失败", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var batch []models.RowData
	for rows.Next() {
		row, err := scanRowData(columns, rows.Scan)
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}

	return batch, rows.Err()
}

// fetchTargetRows 取出目标表中与本批主键对应的行，按主键JSON索引
func (s *DiffService) fetchTargetRows(ctx context.Context, db *sql.DB, table *models.DetailedTableSchema, batch []models.RowData) (map[string]models.RowData, error) {
	pkCols := table.PrimaryKeys
	pkList := quoteColumns(pkCols)

	var tuples []string
	var args []interface{}
	argIndex := 1
	for _, row := range batch {
		placeholders := make([]string, len(pkCols))
		for i, pk := range pkCols {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, row[pk])
			argIndex++
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ",")+")")
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE (%s) IN (%s)",
		pq.QuoteIdentifier(table.Name), strings.Join(pkList, ","), strings.Join(tuples, ","))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.ConnectionError{Message: "查询目标表数据失败", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make(map[string]models.RowData, len(batch))
	for rows.Next() {
		row, err := scanRowData(columns, rows.Scan)
		if err != nil {
			return nil, err
		}
		result[encodePrimaryKey(row, pkCols)] = row
	}

	return result, rows.Err()
}

func countRows(ctx context.Context, db *sql.DB, tableName string) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(tableName))).Scan(&count)
	return count, err
}

func keyValues(row models.RowData, primaryKeys []string) []interface{} {
	values := make([]interface{}, len(primaryKeys))
	for i, pk := range primaryKeys {
		values[i] = row[pk]
	}
	return values
}

func quoteColumns(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	return quoted
}
