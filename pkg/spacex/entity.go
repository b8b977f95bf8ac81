// Package spacex describes the SpaceX API entities and fetches them into
// the warehouse.
//
// Every entity is a declarative mapping from source fields to destination
// columns. A single Fetcher drives all of them.
package spacex

import (
	"sort"
	"strings"
	"time"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/singer"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/warehouse"
)

// FieldType is the declared JSON-schema type of a column
type FieldType string

// Field types
const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// Audit columns present on every record
const (
	ColumnCreatedAt = "CREATED_AT"
	ColumnUpdatedAt = "UPDATED_AT"
	ColumnRawData   = "RAW_DATA"
)

// Field maps one source value to one column
type Field struct {
	Column string
	// Source is a dotted path into the source item, e.g. "height.meters"
	Source string
	Type   FieldType
	// Empty replaces a missing object or array value, nil keeps it NULL
	Empty       interface{}
	Format      string
	Description string
}

// JSON reports whether the column stores serialized JSON
func (f Field) JSON() bool {
	return f.Type == TypeObject || f.Type == TypeArray
}

// Numeric reports whether the column is numeric
func (f Field) Numeric() bool {
	return warehouse.IsNumericType(string(f.Type))
}

// Entity describes one API resource and its destination table
type Entity struct {
	// Name is the lower-case entity name, also the bookmark key
	Name string
	// Path is the endpoint relative to the base URL
	Path string
	// Singleton endpoints return one object rather than an array
	Singleton bool
	Fields    []Field
}

// Key returns the primary key column, the column mapped from "id"
func (e *Entity) Key() string {
	for _, f := range e.Fields {
		if f.Source == "id" {
			return f.Column
		}
	}
	return ""
}

// Columns returns every column of the entity's records in sorted order
func (e *Entity) Columns() []string {
	cols := make([]string, 0, len(e.Fields)+3)
	for _, f := range e.Fields {
		cols = append(cols, f.Column)
	}
	cols = append(cols, ColumnCreatedAt, ColumnUpdatedAt, ColumnRawData)
	sort.Strings(cols)
	return cols
}

// NumericColumns returns the integer and number columns
func (e *Entity) NumericColumns() []string {
	var cols []string
	for _, f := range e.Fields {
		if f.Numeric() {
			cols = append(cols, f.Column)
		}
	}
	return cols
}

// Schema returns the JSON schema of the entity's records
func (e *Entity) Schema() *singer.Schema {
	props := make(map[string]*singer.Schema, len(e.Fields)+3)
	for _, f := range e.Fields {
		s := singer.Nullable(string(f.Type))
		s.Format = f.Format
		s.Description = f.Description
		props[f.Column] = s
	}

	ts := singer.Nullable(string(TypeString))
	ts.Format = "date-time"
	props[ColumnCreatedAt] = ts
	ts2 := *ts
	props[ColumnUpdatedAt] = &ts2
	raw := singer.Nullable(string(TypeObject))
	raw.Description = "Source item as received"
	props[ColumnRawData] = raw

	return &singer.Schema{Type: []string{"object"}, Properties: props}
}

// Map transforms one raw source item into a record stamped with now. It
// fails with a transform error when the item is not an object, lacks "id",
// or holds a value of the wrong type for a column.
func (e *Entity) Map(raw []byte, now time.Time) (warehouse.Record, error) {
	var item map[string]interface{}
	if err := json.UnmarshalNumber(raw, &item); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransform, "item is not a JSON object")
	}
	if item == nil {
		return nil, errors.New(errors.ErrorTypeTransform, "item is null")
	}
	if id, ok := item["id"]; !ok || id == nil {
		return nil, errors.New(errors.ErrorTypeTransform, "missing required field id")
	}

	rec := make(warehouse.Record, len(e.Fields)+3)
	for _, f := range e.Fields {
		v, err := lookup(item, f.Source)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeTransform, "field %s", f.Source)
		}
		cv, err := convert(f, v)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeTransform, "field %s", f.Source)
		}
		rec[f.Column] = cv
	}

	stamp := now.UTC().Format(time.RFC3339)
	rec[ColumnCreatedAt] = stamp
	rec[ColumnUpdatedAt] = stamp
	rec[ColumnRawData] = warehouse.JSON(append([]byte(nil), raw...))
	return rec, nil
}

// lookup walks a dotted path. A missing or null step yields nil.
func lookup(item map[string]interface{}, path string) (interface{}, error) {
	var cur interface{} = item
	for _, part := range strings.Split(path, ".") {
		if cur == nil {
			return nil, nil
		}
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeTransform, "expected object at %q", part)
		}
		cur = obj[part]
	}
	return cur, nil
}

func convert(f Field, v interface{}) (interface{}, error) {
	if f.JSON() {
		if v == nil {
			if f.Empty == nil {
				return nil, nil
			}
			v = f.Empty
		}
		return warehouse.ToJSON(v)
	}
	if v == nil {
		return nil, nil
	}

	switch f.Type {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		}
	case TypeInteger, TypeNumber:
		if n, ok := v.(json.Number); ok {
			return n, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeTransform, "expected %s, got %T", f.Type, v)
}
