package service

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"zh.xyz/dv/pgsync/models"
)

// normalizeValue 把值转成可比较、可展示的形式
// 只用于比较和预览样本，写回路径必须使用驱动返回的原始值
func normalizeValue(val interface{}) interface{} {
	if val == nil {
		return nil
	}

	// 处理字节数组
	if b, ok := val.([]byte); ok {
		if utf8.Valid(b) {
			return ensureUTF8(string(b))
		}
		// 二进制数据转换为十六进制字符串
		return hex.EncodeToString(b)
	}

	if str, ok := val.(string); ok {
		return ensureUTF8(str)
	}

	return val
}

// valuesEqual 比较两个值是否相等，处理时间类型等特殊情况
func valuesEqual(v1, v2 interface{}) bool {
	v1 = normalizeValue(v1)
	v2 = normalizeValue(v2)
	if v1 == nil && v2 == nil {
		return true
	}
	if v1 == nil || v2 == nil {
		return false
	}

	// 两个值都能解析为时间时按时间比较（忽略纳秒精度差异，只比较到秒）
	t1, ok1 := parseTimeValue(v1)
	t2, ok2 := parseTimeValue(v2)
	if ok1 && ok2 {
		return t1.Unix() == t2.Unix()
	}
	if ok1 || ok2 {
		return false
	}

	// 数值类型跨驱动可能以不同宽度返回，统一转 float64 比较
	f1, ok1 := toFloat(v1)
	f2, ok2 := toFloat(v2)
	if ok1 && ok2 {
		return f1 == f2
	}
	if ok1 || ok2 {
		return false
	}

	return v1 == v2
}

// normalizeRow 规范化整行数据，只用于预览样本和冲突记录展示
func normalizeRow(row models.RowData) models.RowData {
	out := make(models.RowData, len(row))
	for col, val := range row {
		out[col] = normalizeValue(val)
	}
	return out
}

// rowsEqual 按列比较两行数据是否一致
func rowsEqual(row1, row2 models.RowData, columns []models.DetailedColumn) bool {
	for i := range columns {
		name := columns[i].Name
		if !valuesEqual(row1[name], row2[name]) {
			return false
		}
	}
	return true
}

// parseTimeValue 尝试将值解析为时间类型
func parseTimeValue(v interface{}) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t.UTC(), true
	}

	str, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}

	timeFormats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05-07",
		"2006-01-02 15:04:05.000000-07",
	}

	for _, format := range timeFormats {
		if t, err := time.Parse(format, str); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// ensureUTF8 清理字符串中的无效 UTF-8 字节
func ensureUTF8(str string) string {
	if utf8.ValidString(str) {
		return str
	}

	var sb strings.Builder
	for i := 0; i < len(str); {
		r, size := utf8.DecodeRuneInString(str[i:])
		if r == utf8.RuneError && size == 1 {
			// 无效字节，用替换字符代替（U+FFFD）
			sb.WriteRune('�')
			i++
		} else {
			sb.WriteRune(r)
			i += size
		}
	}
	return sb.String()
}

// encodePrimaryKey 构建主键值字符串（JSON格式），用于检查点和冲突记录
func encodePrimaryKey(row models.RowData, primaryKeys []string) string {
	pkMap := make(map[string]interface{})
	for _, key := range primaryKeys {
		if val, ok := row[key]; ok {
			// 文本主键可能以 []byte 返回，规范化后才能稳定 JSON 编码和解码
			pkMap[key] = normalizeValue(val)
		}
	}
	data, _ := json.Marshal(pkMap)
	return string(data)
}

// decodePrimaryKey 解析主键值字符串，按主键列顺序返回值切片
func decodePrimaryKey(encoded string, primaryKeys []string) ([]interface{}, error) {
	var pkMap map[string]interface{}
	if err := json.Unmarshal([]byte(encoded), &pkMap); err != nil {
		return nil, err
	}

	values := make([]interface{}, len(primaryKeys))
	for i, key := range primaryKeys {
		values[i] = pkMap[key]
	}
	return values, nil
}

// scanRowData 把结果集的当前行读成 RowData，保留驱动返回的原始值
// 字节列写回目标时必须原样传递，不能转成字符串
func scanRowData(columns []string, scan func(...interface{}) error) (models.RowData, error) {
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := scan(valuePtrs...); err != nil {
		return nil, err
	}

	rowData := make(models.RowData, len(columns))
	for i, col := range columns {
		// 驱动会在行间复用字节缓冲区，必须复制一份
		if b, ok := values[i].([]byte); ok {
			buf := make([]byte, len(b))
			copy(buf, b)
			rowData[col] = buf
		} else {
			rowData[col] = values[i]
		}
	}
	return rowData, nil
}
