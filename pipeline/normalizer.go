package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/penwyp/peakcat/models"
)

// FieldType is the canonical type a raw value is coerced to.
type FieldType string

const (
	FieldTime   FieldType = "time"
	FieldFloat  FieldType = "float"
	FieldInt    FieldType = "int"
	FieldString FieldType = "string"
	FieldBool   FieldType = "bool"
)

// Field describes one column of a schema. Aliases are alternative column
// names tried in order after Name. Default, when non-nil, stands in for an
// absent column and is coerced like a raw value.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Aliases  []string
	Default  any
}

// Filter keeps only rows whose field equals one of the values. Rows dropped
// by a filter are not counted as rejected.
type Filter struct {
	Field   string
	Aliases []string
	Values  []string
}

// Schema describes how raw rows become records. Exactly one field must have
// type FieldTime; it becomes Record.Timestamp. IDField, when set, names a
// string field moved into Record.ID.
type Schema struct {
	Fields  []Field
	IDField string
	Filters []Filter
}

// Validate checks the schema itself.
func (s Schema) Validate() error {
	times := 0
	seen := map[string]bool{}
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema field without a name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case FieldTime:
			times++
		case FieldFloat, FieldInt, FieldString, FieldBool:
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
	}
	if times != 1 {
		return fmt.Errorf("schema needs exactly one time field, has %d", times)
	}
	if s.IDField != "" && !seen[s.IDField] {
		return fmt.Errorf("id field %q is not in the schema", s.IDField)
	}
	return nil
}

// Normalize coerces rows into records. A row missing a required field, or
// whose required field cannot be coerced (including NaN and Inf), is
// rejected and counted; it never causes an error. Optional fields that fail
// coercion are left out of the record.
func Normalize(rows []models.RawRow, schema Schema) (records []models.Record, rejected int) {
	records = make([]models.Record, 0, len(rows))
	for _, row := range rows {
		if !schema.matches(row) {
			continue
		}
		rec, ok := normalizeRow(row, schema)
		if !ok {
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func (s Schema) matches(row models.RawRow) bool {
	for _, f := range s.Filters {
		raw, ok := lookup(row, f.Field, f.Aliases)
		if !ok {
			return false
		}
		str, ok := coerceString(raw)
		if !ok {
			return false
		}
		hit := false
		for _, v := range f.Values {
			if strings.EqualFold(str, v) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func normalizeRow(row models.RawRow, schema Schema) (models.Record, bool) {
	var rec models.Record
	for _, f := range schema.Fields {
		raw, present := lookup(row, f.Name, f.Aliases)
		if !present && f.Default != nil {
			raw, present = f.Default, true
		}
		if !present {
			if f.Required {
				return models.Record{}, false
			}
			continue
		}

		switch f.Type {
		case FieldTime:
			ts, ok := CoerceTime(raw)
			if !ok {
				return models.Record{}, false
			}
			rec.Timestamp = ts
		case FieldFloat, FieldInt:
			v, ok := coerceFloat(raw)
			if ok && f.Type == FieldInt && v != math.Trunc(v) {
				ok = false
			}
			if !ok {
				if f.Required {
					return models.Record{}, false
				}
				continue
			}
			if rec.Values == nil {
				rec.Values = make(map[string]float64)
			}
			rec.Values[f.Name] = v
		case FieldString:
			v, ok := coerceString(raw)
			if !ok {
				if f.Required {
					return models.Record{}, false
				}
				continue
			}
			if f.Name == schema.IDField {
				rec.ID = v
				continue
			}
			if rec.Dims == nil {
				rec.Dims = make(map[string]string)
			}
			rec.Dims[f.Name] = v
		case FieldBool:
			v, ok := coerceBool(raw)
			if !ok {
				if f.Required {
					return models.Record{}, false
				}
				continue
			}
			if rec.Flags == nil {
				rec.Flags = make(map[string]bool)
			}
			rec.Flags[f.Name] = v
		}
	}
	if rec.Timestamp.IsZero() {
		return models.Record{}, false
	}
	return rec, true
}

// lookup returns the first non-empty value under name or an alias.
func lookup(row models.RawRow, name string, aliases []string) (any, bool) {
	if v, ok := row[name]; ok && !isBlank(v) {
		return v, true
	}
	for _, a := range aliases {
		if v, ok := row[a]; ok && !isBlank(v) {
			return v, true
		}
	}
	return nil, false
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CoerceTime parses a timestamp. Strings without a zone are taken as UTC;
// integers between 1e9 and 1e10 are unix seconds, between 1e12 and 1e13 unix
// milliseconds.
func CoerceTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case float64:
		return unixTime(v)
	case int64:
		return unixTime(float64(v))
	case int:
		return unixTime(float64(v))
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(n)
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func unixTime(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	switch {
	case n > 1e9 && n < 1e10:
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case n > 1e12 && n < 1e13:
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Time{}, false
}

func coerceFloat(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func coerceString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

func coerceBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case float64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case int:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}
